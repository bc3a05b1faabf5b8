// Package qdrant implements retrieval.VectorStore on a Qdrant collection
// over gRPC.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/config"
	"github.com/phrazzld/questgen/internal/retrieval"
	"github.com/qdrant/go-client/qdrant"
)

// Payload keys stored with every point.
const (
	payloadDocumentID = "document_id"
	payloadChunkID    = "chunk_id"
	payloadIndex      = "index"
)

// Store is a Qdrant-backed VectorStore. The collection is created with
// cosine distance on first write.
type Store struct {
	client     *qdrant.Client
	collection string
	dimension  uint64
	logger     *slog.Logger

	ensureOnce sync.Once
	ensureErr  error
}

// New connects to Qdrant using the index configuration.
func New(cfg config.IndexConfig, dimension int, logger *slog.Logger) (*Store, error) {
	if cfg.QdrantCollection == "" {
		return nil, errors.New("qdrant collection name cannot be empty")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dimension)
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.QdrantHost,
		Port:   cfg.QdrantPort,
		APIKey: cfg.QdrantAPIKey,
		UseTLS: cfg.QdrantUseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client:     client,
		collection: cfg.QdrantCollection,
		dimension:  uint64(dimension),
		logger:     logger.With(slog.String("component", "qdrant")),
	}, nil
}

var _ retrieval.VectorStore = (*Store)(nil)

// Close releases the gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) ensureCollection(ctx context.Context) error {
	s.ensureOnce.Do(func() {
		exists, err := s.client.CollectionExists(ctx, s.collection)
		if err != nil {
			s.ensureErr = fmt.Errorf("check collection %s: %w", s.collection, err)
			return
		}
		if exists {
			return
		}
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.dimension,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			s.ensureErr = fmt.Errorf("create collection %s: %w", s.collection, err)
			return
		}
		s.logger.InfoContext(ctx, "created qdrant collection",
			slog.String("collection", s.collection),
			slog.Uint64("dimension", s.dimension))
	})
	return s.ensureErr
}

// Upsert implements retrieval.VectorStore.
func (s *Store) Upsert(ctx context.Context, records []retrieval.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		if uint64(len(r.Vector)) != s.dimension {
			return fmt.Errorf("%w: got %d, want %d", retrieval.ErrDimensionMismatch, len(r.Vector), s.dimension)
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(r.ChunkID.String()),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadDocumentID: r.DocumentID.String(),
				payloadChunkID:    r.ChunkID.String(),
				payloadIndex:      r.Index,
			}),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}
	return nil
}

// Search implements retrieval.VectorStore. The floor is passed to Qdrant as
// the score threshold.
func (s *Store) Search(ctx context.Context, vector []float32, topK int, floor float64, filter retrieval.Filter) ([]retrieval.Hit, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	result, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         buildFilter(filter),
		Limit:          qdrant.PtrOf(uint64(topK)),
		ScoreThreshold: qdrant.PtrOf(float32(floor)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query failed: %w", err)
	}

	hits := make([]retrieval.Hit, 0, len(result))
	for _, p := range result {
		id, err := uuid.Parse(p.GetPayload()[payloadChunkID].GetStringValue())
		if err != nil {
			s.logger.WarnContext(ctx, "skipping point without chunk id", slog.String("error", err.Error()))
			continue
		}
		hits = append(hits, retrieval.Hit{ChunkID: id, Score: float64(p.GetScore())})
	}
	return hits, nil
}

// DeleteDocument implements retrieval.VectorStore.
func (s *Store) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(payloadDocumentID, documentID.String())},
		}),
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant delete failed: %w", err)
	}
	return nil
}

func buildFilter(f retrieval.Filter) *qdrant.Filter {
	var out qdrant.Filter
	if f.DocumentID != uuid.Nil {
		out.Must = append(out.Must, qdrant.NewMatch(payloadDocumentID, f.DocumentID.String()))
	}
	if len(f.ExcludeChunkIDs) > 0 {
		ids := make([]*qdrant.PointId, len(f.ExcludeChunkIDs))
		for i, id := range f.ExcludeChunkIDs {
			ids[i] = qdrant.NewID(id.String())
		}
		out.MustNot = append(out.MustNot, qdrant.NewHasID(ids...))
	}
	if len(out.Must) == 0 && len(out.MustNot) == 0 {
		return nil
	}
	return &out
}
