package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PlanStatus represents the lifecycle state of a plan
type PlanStatus string

// Possible plan status values
const (
	PlanStatusDraft     PlanStatus = "draft"
	PlanStatusReady     PlanStatus = "ready"
	PlanStatusExecuting PlanStatus = "executing"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusFailed    PlanStatus = "failed"
	PlanStatusCancelled PlanStatus = "cancelled"
)

// Plan validation errors
var (
	ErrEmptyPlanID       = errors.New("plan ID cannot be empty")
	ErrInvalidPlanStatus = errors.New("invalid plan status")
	ErrEmptyDistribution = errors.New("plan distribution cannot be empty")
)

// DistributionEntry asks for Count questions of one type and difficulty.
type DistributionEntry struct {
	Type       QuestionType `json:"type"`
	Difficulty Difficulty   `json:"difficulty"`
	Count      int          `json:"count"`
}

// PlanConstraints narrow what generated questions may look like.
type PlanConstraints struct {
	Topics        []string `json:"topics,omitempty"`
	Language      string   `json:"language,omitempty"`
	MaxStemLength int      `json:"max_stem_length,omitempty"`
}

// Plan is a structured request for TotalRequested questions from one
// document. The sum of Distribution counts always equals TotalRequested.
type Plan struct {
	ID             uuid.UUID           `json:"id"`
	DocumentID     uuid.UUID           `json:"document_id"`
	Distribution   []DistributionEntry `json:"distribution"`
	TotalRequested int                 `json:"total_requested"`
	Constraints    PlanConstraints     `json:"constraints"`
	Topics         []string            `json:"topics,omitempty"`
	Status         PlanStatus          `json:"status"`
	Diagnostics    []string            `json:"diagnostics,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// NewPlan creates a draft plan and checks conservation.
func NewPlan(documentID uuid.UUID, total int, dist []DistributionEntry, constraints PlanConstraints) (*Plan, error) {
	now := time.Now().UTC()
	p := &Plan{
		ID:             uuid.New(),
		DocumentID:     documentID,
		Distribution:   dist,
		TotalRequested: total,
		Constraints:    constraints,
		Status:         PlanStatusDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks ids, status, entry values and count conservation.
func (p *Plan) Validate() error {
	if p.ID == uuid.Nil {
		return ErrEmptyPlanID
	}
	if p.DocumentID == uuid.Nil {
		return ErrEmptyDocumentID
	}
	if !isValidPlanStatus(p.Status) {
		return ErrInvalidPlanStatus
	}
	if len(p.Distribution) == 0 {
		return ErrEmptyDistribution
	}
	for _, e := range p.Distribution {
		if !e.Type.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidQuestionType, e.Type)
		}
		if !e.Difficulty.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidDifficulty, e.Difficulty)
		}
		if e.Count <= 0 {
			return fmt.Errorf("%w: entry %s/%s has count %d", ErrValidation, e.Type, e.Difficulty, e.Count)
		}
	}
	return p.CheckConservation()
}

// CheckConservation verifies sum(distribution counts) == TotalRequested.
func (p *Plan) CheckConservation() error {
	if sum := DistributionTotal(p.Distribution); sum != p.TotalRequested {
		return fmt.Errorf("%w: sum %d, requested %d", ErrConservation, sum, p.TotalRequested)
	}
	return nil
}

// DistributionTotal sums the counts of all entries.
func DistributionTotal(dist []DistributionEntry) int {
	total := 0
	for _, e := range dist {
		total += e.Count
	}
	return total
}

// IsTerminal reports whether the plan can no longer change status.
func (p *Plan) IsTerminal() bool {
	switch p.Status {
	case PlanStatusCompleted, PlanStatusFailed, PlanStatusCancelled:
		return true
	}
	return false
}

// Transition moves the plan to status, rejecting moves out of a terminal
// state and moves the lifecycle does not allow.
func (p *Plan) Transition(status PlanStatus) error {
	if !isValidPlanStatus(status) {
		return ErrInvalidPlanStatus
	}
	if !planTransitionAllowed(p.Status, status) {
		return fmt.Errorf("%w: plan %s -> %s", ErrInvalidTransition, p.Status, status)
	}
	p.Status = status
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func planTransitionAllowed(from, to PlanStatus) bool {
	switch from {
	case PlanStatusDraft:
		return to == PlanStatusReady || to == PlanStatusFailed || to == PlanStatusCancelled
	case PlanStatusReady:
		return to == PlanStatusExecuting || to == PlanStatusCancelled
	case PlanStatusExecuting:
		return to == PlanStatusCompleted || to == PlanStatusFailed || to == PlanStatusCancelled
	}
	return false
}

func isValidPlanStatus(status PlanStatus) bool {
	switch status {
	case PlanStatusDraft, PlanStatusReady, PlanStatusExecuting,
		PlanStatusCompleted, PlanStatusFailed, PlanStatusCancelled:
		return true
	}
	return false
}
