package retrieval

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/generation"
	"github.com/phrazzld/questgen/internal/platform/metrics"
)

// EmbeddingCache stores vectors by key. A miss is (nil, false, nil).
type EmbeddingCache interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vector []float32) error
}

// MemoryCache is an unbounded in-process EmbeddingCache.
type MemoryCache struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{vectors: make(map[string][]float32)}
}

// Get implements EmbeddingCache.
func (c *MemoryCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vectors[key]
	return slices.Clone(v), ok, nil
}

// Set implements EmbeddingCache.
func (c *MemoryCache) Set(_ context.Context, key string, vector []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vectors[key] = slices.Clone(vector)
	return nil
}

// Len returns the number of cached vectors.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vectors)
}

// CachedEmbedder wraps an Embedder with a content-hash cache and transient
// retry. Cache failures are logged and fall through to the embedder.
type CachedEmbedder struct {
	next      generation.Embedder
	cache     EmbeddingCache
	namespace string
	policy    generation.RetryPolicy
	logger    *slog.Logger
}

// NewCachedEmbedder creates a CachedEmbedder. namespace separates vectors of
// different models in a shared cache.
func NewCachedEmbedder(next generation.Embedder, cache EmbeddingCache, namespace string, policy generation.RetryPolicy, logger *slog.Logger) *CachedEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedEmbedder{
		next:      next,
		cache:     cache,
		namespace: namespace,
		policy:    policy,
		logger:    logger.With(slog.String("component", "embedding_cache")),
	}
}

var _ generation.Embedder = (*CachedEmbedder)(nil)

// Key returns the cache key of text.
func (e *CachedEmbedder) Key(text string) string {
	return e.namespace + ":" + domain.ContentHash(text)
}

// Embed implements generation.Embedder.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.Key(text)

	v, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.WarnContext(ctx, "embedding cache read failed", slog.String("error", err.Error()))
	}
	if ok {
		metrics.EmbeddingCache.WithLabelValues("hit").Inc()
		return v, nil
	}
	metrics.EmbeddingCache.WithLabelValues("miss").Inc()

	var vector []float32
	err = e.policy.Do(ctx, e.logger, "embed", func(ctx context.Context) error {
		var err error
		vector, err = e.next.Embed(ctx, text)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := e.cache.Set(ctx, key, vector); err != nil {
		e.logger.WarnContext(ctx, "embedding cache write failed", slog.String("error", err.Error()))
	}
	return vector, nil
}
