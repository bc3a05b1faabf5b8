package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/generation"
)

// AnalyzeDocument implements generation.PlanAdvisor.
func (c *Client) AnalyzeDocument(ctx context.Context, excerpt string) (generation.DocumentAnalysis, error) {
	if strings.TrimSpace(excerpt) == "" {
		return generation.DocumentAnalysis{}, generation.ErrEmptyInput
	}
	prompt, err := render(c.prompts.analysis, analysisPrompt{Excerpt: excerpt})
	if err != nil {
		return generation.DocumentAnalysis{}, fmt.Errorf("%w: %v", generation.ErrInvalidConfig, err)
	}
	text, err := c.generateJSON(ctx, call{
		op:     "analyze_document",
		model:  c.cfg.GenerationModel,
		prompt: prompt,
	})
	if err != nil {
		return generation.DocumentAnalysis{}, err
	}

	var a generation.DocumentAnalysis
	if err := json.Unmarshal([]byte(text), &a); err != nil {
		return generation.DocumentAnalysis{}, fmt.Errorf("%w: failed to parse analysis: %v", generation.ErrInvalidResponse, err)
	}
	if !a.Difficulty.Valid() {
		a.Difficulty = domain.DifficultyMedium
	}
	return a, nil
}

// ProposeDistribution implements generation.PlanAdvisor. The model's JSON
// is returned as is; the planner repairs whatever it finds.
func (c *Client) ProposeDistribution(ctx context.Context, req generation.DistributionRequest) (json.RawMessage, error) {
	types := make([]string, len(req.Types))
	for i, t := range req.Types {
		types[i] = string(t)
	}
	data := distributionPrompt{
		Total:      req.Total,
		Types:      types,
		Topics:     req.Analysis.Topics,
		Focus:      req.Constraints.Topics,
		Difficulty: req.Analysis.Difficulty,
	}
	if !data.Difficulty.Valid() {
		data.Difficulty = domain.DifficultyMedium
	}
	prompt, err := render(c.prompts.distribution, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", generation.ErrInvalidConfig, err)
	}
	text, err := c.generateJSON(ctx, call{
		op:     "propose_distribution",
		model:  c.cfg.GenerationModel,
		prompt: prompt,
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(text), nil
}
