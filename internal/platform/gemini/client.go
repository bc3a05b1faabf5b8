package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/phrazzld/questgen/internal/config"
	"github.com/phrazzld/questgen/internal/generation"
	"github.com/phrazzld/questgen/internal/platform/metrics"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// models is the subset of *genai.Models the client calls.
type models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Client talks to Gemini. One Client serves every capability so they share
// a single rate limit.
type Client struct {
	models  models
	cfg     config.LLMConfig
	limiter *rate.Limiter
	retry   generation.RetryPolicy
	prompts *prompts
	logger  *slog.Logger
}

var (
	_ generation.Embedder             = (*Client)(nil)
	_ generation.QuestionGenerator    = (*Client)(nil)
	_ generation.AnswerabilityChecker = (*Client)(nil)
	_ generation.PlanAdvisor          = (*Client)(nil)
)

// New creates a Client for the Gemini API.
func New(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*Client, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}
	return newClient(gc.Models, cfg, logger)
}

func newClient(m models, cfg config.LLMConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GenerationModel == "" || cfg.CheckerModel == "" || cfg.EmbeddingModel == "" {
		return nil, fmt.Errorf("%w: generation, checker and embedding models are required", generation.ErrInvalidConfig)
	}
	p, err := loadPrompts()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generation.ErrInvalidConfig, err)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	policy := generation.DefaultRetryPolicy()
	if cfg.MaxRetries >= 0 {
		policy.MaxRetries = uint64(cfg.MaxRetries)
	}
	if cfg.BaseDelay > 0 {
		policy.BaseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		policy.MaxDelay = cfg.MaxDelay
	}

	return &Client{
		models:  m,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		retry:   policy,
		prompts: p,
		logger:  logger.With("component", "gemini"),
	}, nil
}

// call is one JSON-mode generation request.
type call struct {
	op          string
	model       string
	system      string
	prompt      string
	temperature float32
}

// generateJSON sends the prompt, retrying transient failures, and returns
// the JSON text of the first candidate.
func (c *Client) generateJSON(ctx context.Context, in call) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(in.temperature),
		ResponseMIMEType: "application/json",
	}
	if in.system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(in.system, genai.RoleUser)
	}

	var text string
	err := c.retry.Do(ctx, c.logger, in.op, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		start := time.Now()
		resp, err := c.models.GenerateContent(ctx, in.model, genai.Text(in.prompt), cfg)
		if err != nil {
			err = mapError(err)
			metrics.ObserveLLM(in.op, start, err)
			return err
		}
		text, err = responseText(resp)
		metrics.ObserveLLM(in.op, start, err)
		return err
	})
	if err != nil {
		c.logger.WarnContext(ctx, "Gemini call failed",
			"operation", in.op,
			"model", in.model,
			"error", err)
		return "", err
	}
	return extractJSON(text), nil
}

// responseText returns the text of the first candidate, or the error that
// explains why there is none.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked (%s)", generation.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: content blocked by safety filters", generation.ErrContentBlocked)
	}
	if cand.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", fmt.Errorf("%w: empty text in response", generation.ErrInvalidResponse)
	}
	return b.String(), nil
}
