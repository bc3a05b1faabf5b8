package api

import (
	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
)

// IngestDocumentRequest carries already-extracted document text.
type IngestDocumentRequest struct {
	ID       string            `json:"id,omitempty" validate:"omitempty,uuid"`
	Text     string            `json:"text" validate:"required"`
	Metadata map[string]string `json:"metadata,omitempty" validate:"max=32"`
}

// ConstraintsRequest narrows generated questions.
type ConstraintsRequest struct {
	Topics        []string `json:"topics,omitempty" validate:"max=20,dive,required,max=200"`
	Language      string   `json:"language,omitempty" validate:"omitempty,bcp47_language_tag"`
	MaxStemLength int      `json:"max_stem_length,omitempty" validate:"gte=0,lte=2000"`
}

// CreatePlanRequest asks for Total questions of the given types.
type CreatePlanRequest struct {
	Total       int                `json:"total" validate:"gt=0,lte=1000"`
	Types       []string           `json:"types" validate:"required,min=1,max=4,dive,oneof=mcq true_false short_answer essay"`
	Constraints ConstraintsRequest `json:"constraints"`
}

// StartGenerationRequest adjusts a single run. The body is optional.
type StartGenerationRequest struct {
	MaxRetries *int `json:"max_retries,omitempty" validate:"omitempty,gte=0,lte=10"`
}

// DocumentResponse is the view of an ingested document.
type DocumentResponse struct {
	*domain.Document
}

// PlanResponse is the view of a created plan.
type PlanResponse struct {
	*domain.Plan
}

// StartGenerationResponse lists the queued jobs.
type StartGenerationResponse struct {
	PlanID uuid.UUID   `json:"plan_id"`
	JobIDs []uuid.UUID `json:"job_ids"`
}

// QuestionsResponse is one page of stored questions.
type QuestionsResponse struct {
	PlanID    uuid.UUID              `json:"plan_id"`
	Count     int                    `json:"count"`
	Questions []*domain.QuestionItem `json:"questions"`
}
