package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryVectorStore is a brute-force cosine VectorStore.
type MemoryVectorStore struct {
	mu        sync.RWMutex
	dimension int
	records   map[uuid.UUID]Record
}

// NewMemoryVectorStore creates an empty store. The first upserted vector
// fixes the dimension.
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{records: make(map[uuid.UUID]Record)}
}

var _ VectorStore = (*MemoryVectorStore)(nil)

// Upsert implements VectorStore.
func (s *MemoryVectorStore) Upsert(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dim := s.dimension
	for _, r := range records {
		if dim == 0 {
			dim = len(r.Vector)
		}
		if len(r.Vector) != dim || dim == 0 {
			return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(r.Vector), dim)
		}
	}
	s.dimension = dim
	for _, r := range records {
		s.records[r.ChunkID] = r
	}
	return nil
}

// Search implements VectorStore.
func (s *MemoryVectorStore) Search(_ context.Context, vector []float32, topK int, floor float64, filter Filter) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dimension != 0 && len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), s.dimension)
	}

	var hits []Hit
	for _, r := range s.records {
		if !filter.allows(r) {
			continue
		}
		if score := Cosine(vector, r.Vector); score >= floor {
			hits = append(hits, Hit{ChunkID: r.ChunkID, Score: score})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return s.records[hits[i].ChunkID].Index < s.records[hits[j].ChunkID].Index
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// DeleteDocument implements VectorStore.
func (s *MemoryVectorStore) DeleteDocument(_ context.Context, documentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.records {
		if r.DocumentID == documentID {
			delete(s.records, id)
		}
	}
	return nil
}
