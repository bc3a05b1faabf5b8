package generation

import (
	"context"
	"encoding/json"

	"github.com/phrazzld/questgen/internal/domain"
)

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Request describes one question to generate.
type Request struct {
	Type          domain.QuestionType
	Difficulty    domain.Difficulty
	Spec          domain.QuestionSpec
	Topic         string
	Language      string
	MaxStemLength int
	Context       []*domain.Chunk
	// PreviousIssues lists the defects of the prior rejected draft.
	PreviousIssues []domain.ValidationIssue
}

// QuestionGenerator drafts one question grounded in the request context.
// The draft must cite chunk ids taken from the context.
type QuestionGenerator interface {
	GenerateQuestion(ctx context.Context, req Request) (*domain.Draft, error)
}

// Verdict is the answerability checker's judgement of a draft.
type Verdict struct {
	Answerable bool    `json:"answerable"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// AnswerabilityChecker decides whether the draft's answer follows from the
// supplied context alone.
type AnswerabilityChecker interface {
	CheckAnswerability(ctx context.Context, draft *domain.Draft, context []*domain.Chunk) (Verdict, error)
}

// DocumentAnalysis summarises a document for planning.
type DocumentAnalysis struct {
	Topics     []string          `json:"topics"`
	Difficulty domain.Difficulty `json:"difficulty"`
	Summary    string            `json:"summary,omitempty"`
}

// DistributionRequest is what the planner asks the advisor to split.
type DistributionRequest struct {
	Total       int
	Types       []domain.QuestionType
	Analysis    DocumentAnalysis
	Constraints domain.PlanConstraints
}

// PlanAdvisor analyses documents and proposes question distributions.
// ProposeDistribution returns the model's raw JSON; callers must tolerate
// anything in it.
type PlanAdvisor interface {
	AnalyzeDocument(ctx context.Context, excerpt string) (DocumentAnalysis, error)
	ProposeDistribution(ctx context.Context, req DistributionRequest) (json.RawMessage, error)
}
