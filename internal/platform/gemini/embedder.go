package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/phrazzld/questgen/internal/generation"
	"github.com/phrazzld/questgen/internal/platform/metrics"
	"google.golang.org/genai"
)

// Embed implements generation.Embedder. Retries are left to the caller,
// which caches and retries around it.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, generation.ErrEmptyInput
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	cfg := &genai.EmbedContentConfig{TaskType: "SEMANTIC_SIMILARITY"}
	if c.cfg.EmbeddingDimensions > 0 {
		cfg.OutputDimensionality = genai.Ptr(int32(c.cfg.EmbeddingDimensions))
	}

	start := time.Now()
	resp, err := c.models.EmbedContent(ctx, c.cfg.EmbeddingModel, genai.Text(text), cfg)
	if err != nil {
		err = mapError(err)
		metrics.ObserveLLM("embed", start, err)
		return nil, err
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		err = fmt.Errorf("%w: empty embedding", generation.ErrInvalidResponse)
		metrics.ObserveLLM("embed", start, err)
		return nil, err
	}
	values := resp.Embeddings[0].Values
	if c.cfg.EmbeddingDimensions > 0 && len(values) != c.cfg.EmbeddingDimensions {
		err = fmt.Errorf("%w: embedding has %d dimensions, want %d",
			generation.ErrInvalidResponse, len(values), c.cfg.EmbeddingDimensions)
		metrics.ObserveLLM("embed", start, err)
		return nil, err
	}
	metrics.ObserveLLM("embed", start, nil)
	return values, nil
}
