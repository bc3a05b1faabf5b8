package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/config"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	generate func(model string, prompt string, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	embed    func(model string, text string, cfg *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
	calls    int
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	return f.generate(model, contents[0].Parts[0].Text, cfg)
}

func (f *fakeModels) EmbedContent(_ context.Context, model string, contents []*genai.Content, cfg *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.calls++
	return f.embed(model, contents[0].Parts[0].Text, cfg)
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      genai.NewContentFromText(text, genai.RoleModel),
			FinishReason: genai.FinishReasonStop,
		}},
	}
}

func testConfig() config.LLMConfig {
	return config.LLMConfig{
		GeminiAPIKey:        "test",
		GenerationModel:     "gen-model",
		CheckerModel:        "check-model",
		EmbeddingModel:      "embed-model",
		EmbeddingDimensions: 3,
		Temperature:         0.4,
		RequestsPerSecond:   1000,
		Burst:               100,
		MaxRetries:          2,
		BaseDelay:           time.Millisecond,
		MaxDelay:            2 * time.Millisecond,
	}
}

func newTestClient(t *testing.T, m *fakeModels) *Client {
	t.Helper()
	c, err := newClient(m, testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c
}

func testChunks() []*domain.Chunk {
	return []*domain.Chunk{
		{ID: uuid.New(), Content: "Mitochondria produce ATP.", SectionPath: []string{"Cells", "Organelles"}},
		{ID: uuid.New(), Content: "Ribosomes build proteins."},
	}
}

func TestNewClientRequiresModels(t *testing.T) {
	cfg := testConfig()
	cfg.CheckerModel = ""
	_, err := newClient(&fakeModels{}, cfg, slog.Default())
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	_, err = newClient(&fakeModels{}, testConfig(), nil)
	assert.Error(t, err)
}

func TestGenerateQuestion(t *testing.T) {
	chunks := testChunks()
	var gotPrompt string
	var gotCfg *genai.GenerateContentConfig
	m := &fakeModels{generate: func(model, prompt string, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		assert.Equal(t, "gen-model", model)
		gotPrompt, gotCfg = prompt, cfg
		return textResponse("```json\n" + `{"stem":"What produces ATP?","options":["Mitochondria","Ribosomes","Nucleus","Golgi"],"answer":"Mitochondria","citations":["C1","[C1]","C9"]}` + "\n```"), nil
	}}
	c := newTestClient(t, m)

	draft, err := c.GenerateQuestion(context.Background(), generation.Request{
		Type:       domain.QuestionTypeMCQ,
		Difficulty: domain.DifficultyEasy,
		Spec:       domain.MCQSpec{OptionCount: 4},
		Topic:      "cell biology",
		Context:    chunks,
		PreviousIssues: []domain.ValidationIssue{
			{Code: "duplicate_options", Message: "options repeat"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "What produces ATP?", draft.Stem)
	assert.Len(t, draft.Options, 4)
	assert.Equal(t, []uuid.UUID{chunks[0].ID}, draft.CitedChunkIDs, "labels map to chunk ids, unknown ones are dropped")

	assert.Contains(t, gotPrompt, "multiple choice")
	assert.Contains(t, gotPrompt, "exactly 4 distinct options")
	assert.Contains(t, gotPrompt, "[C1] (Cells > Organelles)")
	assert.Contains(t, gotPrompt, "duplicate_options: options repeat")
	assert.Contains(t, gotPrompt, `"cell biology"`)
	assert.Equal(t, "application/json", gotCfg.ResponseMIMEType)
	require.NotNil(t, gotCfg.SystemInstruction)
	assert.InDelta(t, 0.4, *gotCfg.Temperature, 1e-6)
}

func TestGenerateQuestionRejectsBadDrafts(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "I cannot help with that"},
		{"no stem", `{"stem":"","answer":"x","citations":["C1"]}`},
		{"no known citation", `{"stem":"Q?","answer":"x","citations":["C7"]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := &fakeModels{generate: func(string, string, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
				return textResponse(tc.body), nil
			}}
			_, err := newTestClient(t, m).GenerateQuestion(context.Background(), generation.Request{
				Type:    domain.QuestionTypeShortAnswer,
				Spec:    domain.ShortAnswerSpec{MaxAnswerWords: 5},
				Context: testChunks(),
			})
			assert.ErrorIs(t, err, generation.ErrInvalidResponse)
			assert.Equal(t, domain.FailureMalformed, generation.Classify(err))
			assert.Equal(t, 1, m.calls, "malformed output is not retried")
		})
	}
}

func TestGenerateQuestionRequiresContext(t *testing.T) {
	_, err := newTestClient(t, &fakeModels{}).GenerateQuestion(context.Background(), generation.Request{Type: domain.QuestionTypeEssay})
	assert.ErrorIs(t, err, generation.ErrEmptyInput)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	m := &fakeModels{}
	m.generate = func(string, string, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		if m.calls < 3 {
			return nil, genai.APIError{Code: 503, Message: "overloaded"}
		}
		return textResponse(`{"topics":["cells"],"difficulty":"hard"}`), nil
	}
	a, err := newTestClient(t, m).AnalyzeDocument(context.Background(), "Cells are the unit of life.")
	require.NoError(t, err)
	assert.Equal(t, 3, m.calls)
	assert.Equal(t, []string{"cells"}, a.Topics)
	assert.Equal(t, domain.DifficultyHard, a.Difficulty)
}

func TestResponseBlocked(t *testing.T) {
	m := &fakeModels{generate: func(string, string, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}}}, nil
	}}
	_, err := newTestClient(t, m).AnalyzeDocument(context.Background(), "text")
	assert.ErrorIs(t, err, generation.ErrContentBlocked)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rate limited", genai.APIError{Code: 429}, generation.ErrTransientFailure},
		{"server", genai.APIError{Code: 500}, generation.ErrTransientFailure},
		{"bad key", genai.APIError{Code: 403}, generation.ErrInvalidConfig},
		{"bad request", genai.APIError{Code: 400}, generation.ErrInvalidResponse},
		{"network", errors.New("connection reset"), generation.ErrTransientFailure},
		{"deadline", context.DeadlineExceeded, context.DeadlineExceeded},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tc.err), tc.want)
		})
	}
}

func TestCheckAnswerability(t *testing.T) {
	m := &fakeModels{generate: func(model, prompt string, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		assert.Equal(t, "check-model", model)
		assert.Contains(t, prompt, "Answer: Mitochondria")
		return textResponse(`{"answerable":true,"confidence":1.7,"reason":"stated in C1"}`), nil
	}}
	v, err := newTestClient(t, m).CheckAnswerability(context.Background(),
		&domain.Draft{Stem: "What produces ATP?", Answer: "Mitochondria"}, testChunks())
	require.NoError(t, err)
	assert.True(t, v.Answerable)
	assert.Equal(t, 1.0, v.Confidence, "confidence is clamped")
}

func TestProposeDistributionReturnsRawJSON(t *testing.T) {
	raw := `[{"type":"mcq","difficulty":"easy","count":3}]`
	m := &fakeModels{generate: func(_ string, prompt string, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
		assert.Contains(t, prompt, "Split 3 questions across these question types: mcq, essay.")
		assert.Contains(t, prompt, "Focus on: enzymes.")
		return textResponse(raw), nil
	}}
	got, err := newTestClient(t, m).ProposeDistribution(context.Background(), generation.DistributionRequest{
		Total:       3,
		Types:       []domain.QuestionType{domain.QuestionTypeMCQ, domain.QuestionTypeEssay},
		Constraints: domain.PlanConstraints{Topics: []string{"enzymes"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(got))
	assert.True(t, json.Valid(got))
}

func TestEmbed(t *testing.T) {
	m := &fakeModels{embed: func(model, text string, cfg *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
		assert.Equal(t, "embed-model", model)
		require.NotNil(t, cfg.OutputDimensionality)
		assert.Equal(t, int32(3), *cfg.OutputDimensionality)
		if strings.Contains(text, "short") {
			return &genai.EmbedContentResponse{Embeddings: []*genai.ContentEmbedding{{Values: []float32{1}}}}, nil
		}
		return &genai.EmbedContentResponse{Embeddings: []*genai.ContentEmbedding{{Values: []float32{0.1, 0.2, 0.3}}}}, nil
	}}
	c := newTestClient(t, m)

	v, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)

	_, err = c.Embed(context.Background(), "short vector")
	assert.ErrorIs(t, err, generation.ErrInvalidResponse)

	_, err = c.Embed(context.Background(), "  ")
	assert.ErrorIs(t, err, generation.ErrEmptyInput)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, extractJSON(" {\"a\":1} "))
}
