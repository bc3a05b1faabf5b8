package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/generation"
)

// draftSchema is the JSON shape the question prompt asks for.
type draftSchema struct {
	Stem      string   `json:"stem"`
	Options   []string `json:"options"`
	Answer    string   `json:"answer"`
	Rationale string   `json:"rationale"`
	Citations []string `json:"citations"`
}

// GenerateQuestion implements generation.QuestionGenerator.
func (c *Client) GenerateQuestion(ctx context.Context, req generation.Request) (*domain.Draft, error) {
	if len(req.Context) == 0 {
		return nil, fmt.Errorf("%w: no context chunks", generation.ErrEmptyInput)
	}
	passages, ids := labelChunks(req.Context)

	data := questionPrompt{
		Type:           string(req.Type),
		TypeLabel:      typeLabels[req.Type],
		Difficulty:     req.Difficulty,
		Topic:          req.Topic,
		Language:       req.Language,
		MaxStemLength:  req.MaxStemLength,
		Passages:       passages,
		PreviousIssues: req.PreviousIssues,
	}
	if data.Language == "" {
		data.Language = "English"
	}
	if data.MaxStemLength <= 0 {
		data.MaxStemLength = 500
	}
	switch s := req.Spec.(type) {
	case domain.MCQSpec:
		data.OptionCount = s.OptionCount
	case domain.TrueFalseSpec:
		data.RequireJustification = s.RequireJustification
	case domain.ShortAnswerSpec:
		data.MaxAnswerWords = s.MaxAnswerWords
	case domain.EssaySpec:
		data.MinWords = s.MinWords
		data.RubricPoints = s.RubricPoints
	}

	prompt, err := render(c.prompts.question, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generation.ErrInvalidConfig, err)
	}

	text, err := c.generateJSON(ctx, call{
		op:          "generate_question",
		model:       c.cfg.GenerationModel,
		system:      c.prompts.system,
		prompt:      prompt,
		temperature: c.cfg.Temperature,
	})
	if err != nil {
		return nil, err
	}

	var out draftSchema
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON response: %v", generation.ErrInvalidResponse, err)
	}
	if strings.TrimSpace(out.Stem) == "" {
		return nil, fmt.Errorf("%w: draft has no stem", generation.ErrInvalidResponse)
	}

	cited := make([]uuid.UUID, 0, len(out.Citations))
	seen := make(map[uuid.UUID]bool, len(out.Citations))
	for _, label := range out.Citations {
		id, ok := ids[strings.Trim(strings.TrimSpace(label), "[]")]
		if !ok {
			c.logger.DebugContext(ctx, "dropping citation outside the context", "label", label)
			continue
		}
		if !seen[id] {
			seen[id] = true
			cited = append(cited, id)
		}
	}
	if len(cited) == 0 {
		return nil, fmt.Errorf("%w: draft cites none of the supplied passages", generation.ErrInvalidResponse)
	}

	return &domain.Draft{
		Stem:          out.Stem,
		Options:       out.Options,
		Answer:        out.Answer,
		Rationale:     out.Rationale,
		CitedChunkIDs: cited,
	}, nil
}

// CheckAnswerability implements generation.AnswerabilityChecker. It runs
// on the checker model at zero temperature.
func (c *Client) CheckAnswerability(ctx context.Context, draft *domain.Draft, chunks []*domain.Chunk) (generation.Verdict, error) {
	if draft == nil || len(chunks) == 0 {
		return generation.Verdict{}, generation.ErrEmptyInput
	}
	passages, _ := labelChunks(chunks)
	prompt, err := render(c.prompts.answerability, answerabilityPrompt{
		Passages: passages,
		Stem:     draft.Stem,
		Options:  draft.Options,
		Answer:   draft.Answer,
	})
	if err != nil {
		return generation.Verdict{}, fmt.Errorf("%w: %v", generation.ErrInvalidConfig, err)
	}

	text, err := c.generateJSON(ctx, call{
		op:     "check_answerability",
		model:  c.cfg.CheckerModel,
		prompt: prompt,
	})
	if err != nil {
		return generation.Verdict{}, err
	}

	var v generation.Verdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return generation.Verdict{}, fmt.Errorf("%w: failed to parse verdict: %v", generation.ErrInvalidResponse, err)
	}
	v.Confidence = min(max(v.Confidence, 0), 1)
	return v, nil
}
