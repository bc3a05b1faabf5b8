package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/questgen/internal/retrieval"
	"github.com/redis/go-redis/v9"
)

// EmbeddingCache stores vectors as little-endian float32 strings.
type EmbeddingCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewEmbeddingCache creates a cache whose entries expire after ttl; zero
// keeps them forever.
func NewEmbeddingCache(client *redis.Client, ttl time.Duration) *EmbeddingCache {
	return &EmbeddingCache{client: client, ttl: ttl}
}

var _ retrieval.EmbeddingCache = (*EmbeddingCache)(nil)

func cacheKey(key string) string {
	return keyPrefix + "emb:" + key
}

// Get implements retrieval.EmbeddingCache.
func (c *EmbeddingCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read embedding: %w", err)
	}
	v, err := retrieval.DecodeVector(raw)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set implements retrieval.EmbeddingCache.
func (c *EmbeddingCache) Set(ctx context.Context, key string, vector []float32) error {
	if err := c.client.Set(ctx, cacheKey(key), retrieval.EncodeVector(vector), c.ttl).Err(); err != nil {
		return fmt.Errorf("write embedding: %w", err)
	}
	return nil
}
