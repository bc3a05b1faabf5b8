package retrieval

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/google/uuid"
)

// ErrDimensionMismatch is returned when a vector does not match the store's
// dimensionality.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Record is one chunk vector in a VectorStore.
type Record struct {
	ChunkID    uuid.UUID
	DocumentID uuid.UUID
	Index      int
	Vector     []float32
}

// Hit is a VectorStore match.
type Hit struct {
	ChunkID uuid.UUID
	Score   float64
}

// Filter restricts a search.
type Filter struct {
	DocumentID      uuid.UUID
	ExcludeChunkIDs []uuid.UUID
}

func (f Filter) allows(r Record) bool {
	if f.DocumentID != uuid.Nil && r.DocumentID != f.DocumentID {
		return false
	}
	return !slices.Contains(f.ExcludeChunkIDs, r.ChunkID)
}

// VectorStore persists chunk vectors and answers nearest-neighbour queries.
type VectorStore interface {
	// Upsert stores records, replacing any with the same chunk id.
	Upsert(ctx context.Context, records []Record) error

	// Search returns at most topK hits scoring at least floor, best first.
	Search(ctx context.Context, vector []float32, topK int, floor float64, filter Filter) ([]Hit, error)

	// DeleteDocument removes every vector of the document.
	DeleteDocument(ctx context.Context, documentID uuid.UUID) error
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// EncodeVector packs v as little-endian float32s.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector unpacks a vector written by EncodeVector.
func DecodeVector(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector of %d bytes", len(raw))
	}
	v := make([]float32, len(raw)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return v, nil
}
