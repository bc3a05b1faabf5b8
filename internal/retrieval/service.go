// Package retrieval embeds chunks, stores their vectors and answers
// nearest-neighbour context queries.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/generation"
	"github.com/phrazzld/questgen/internal/platform/logger"
	"github.com/phrazzld/questgen/internal/store"
	"github.com/sourcegraph/conc/pool"
)

// Defaults for a Service.
const (
	DefaultSimilarityFloor = 0.7
	DefaultTopK            = 5
	DefaultConcurrency     = 4
)

// ErrIndexFailed is returned when a chunk could not be embedded.
var ErrIndexFailed = errors.New("indexing failed")

// Options tune a Service.
type Options struct {
	SimilarityFloor float64
	TopK            int
	Concurrency     int
}

func (o Options) withDefaults() Options {
	if o.SimilarityFloor <= 0 {
		o.SimilarityFloor = DefaultSimilarityFloor
	}
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	return o
}

// Service is the vector index over document chunks.
type Service struct {
	embedder generation.Embedder
	vectors  VectorStore
	chunks   store.ChunkStore
	opts     Options
	logger   *slog.Logger
}

// NewService creates a Service. embedder is normally a CachedEmbedder.
func NewService(embedder generation.Embedder, vectors VectorStore, chunks store.ChunkStore, opts Options, log *slog.Logger) (*Service, error) {
	if embedder == nil {
		return nil, errors.New("embedder cannot be nil")
	}
	if vectors == nil {
		return nil, errors.New("vector store cannot be nil")
	}
	if chunks == nil {
		return nil, errors.New("chunk store cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		embedder: embedder,
		vectors:  vectors,
		chunks:   chunks,
		opts:     opts.withDefaults(),
		logger:   log.With(slog.String("component", "retrieval")),
	}, nil
}

// Index embeds every chunk concurrently and upserts the vectors. On success
// each chunk carries its Embedding; on failure none does and nothing is
// upserted.
func (s *Service) Index(ctx context.Context, chunks []*domain.Chunk) error {
	log := logger.FromContextOrDefault(ctx, s.logger)
	if len(chunks) == 0 {
		return nil
	}

	vectors := make([][]float32, len(chunks))
	p := pool.New().
		WithMaxGoroutines(s.opts.Concurrency).
		WithErrors().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()
	for i, c := range chunks {
		p.Go(func(ctx context.Context) error {
			v, err := s.embedder.Embed(ctx, c.Content)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", c.Index, err)
			}
			vectors[i] = v
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		log.ErrorContext(ctx, "failed to embed chunks",
			slog.Int("chunks", len(chunks)),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", ErrIndexFailed, err)
	}

	records := make([]Record, len(chunks))
	for i, c := range chunks {
		records[i] = Record{ChunkID: c.ID, DocumentID: c.DocumentID, Index: c.Index, Vector: vectors[i]}
	}
	if err := s.vectors.Upsert(ctx, records); err != nil {
		return fmt.Errorf("%w: upsert vectors: %w", ErrIndexFailed, err)
	}
	for i, c := range chunks {
		c.Embedding = vectors[i]
	}

	log.DebugContext(ctx, "chunks indexed", slog.Int("chunks", len(chunks)))
	return nil
}

// Search returns up to topK chunks similar to query, best first. Results
// under the similarity floor are excluded; an empty result is not an error.
// A topK of zero uses the configured default.
func (s *Service) Search(ctx context.Context, query string, topK int, filter Filter) ([]domain.RankedChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = s.opts.TopK
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.vectors.Search(ctx, vector, topK, s.opts.SimilarityFloor, filter)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	found, err := s.chunks.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*domain.Chunk, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}

	ranked := make([]domain.RankedChunk, 0, len(hits))
	for _, h := range hits {
		// vectors of replaced chunks may outlive them
		if c, ok := byID[h.ChunkID]; ok {
			ranked = append(ranked, domain.RankedChunk{Chunk: c, Score: h.Score})
		}
	}
	return ranked, nil
}

// Forget removes a document's vectors, before re-indexing it.
func (s *Service) Forget(ctx context.Context, documentID uuid.UUID) error {
	return s.vectors.DeleteDocument(ctx, documentID)
}
