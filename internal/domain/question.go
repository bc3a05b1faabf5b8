package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Question validation errors
var (
	ErrEmptyQuestionStem   = errors.New("question stem cannot be empty")
	ErrEmptyQuestionAnswer = errors.New("question answer cannot be empty")
)

// QuestionItem is a stored question. It is created only when its task
// succeeds and passes validation, and it always cites at least one chunk.
// TaskID is unique across the store.
type QuestionItem struct {
	ID              uuid.UUID    `json:"id"`
	PlanID          uuid.UUID    `json:"plan_id"`
	JobID           uuid.UUID    `json:"job_id"`
	TaskID          uuid.UUID    `json:"task_id"`
	Type            QuestionType `json:"type"`
	Difficulty      Difficulty   `json:"difficulty"`
	Stem            string       `json:"stem"`
	Options         []string     `json:"options,omitempty"`
	Answer          string       `json:"answer"`
	Rationale       string       `json:"rationale,omitempty"`
	ValidationScore int          `json:"validation_score"`
	CitedChunkIDs   []uuid.UUID  `json:"cited_chunk_ids"`
	CreatedAt       time.Time    `json:"created_at"`
}

// NewQuestionItem builds a question for task from an accepted draft.
func NewQuestionItem(task *Task, draft Draft, score int) (*QuestionItem, error) {
	q := &QuestionItem{
		ID:              uuid.New(),
		PlanID:          task.PlanID,
		JobID:           task.JobID,
		TaskID:          task.ID,
		Type:            task.TargetType,
		Difficulty:      task.TargetDifficulty,
		Stem:            strings.TrimSpace(draft.Stem),
		Options:         draft.Options,
		Answer:          strings.TrimSpace(draft.Answer),
		Rationale:       draft.Rationale,
		ValidationScore: score,
		CitedChunkIDs:   draft.CitedChunkIDs,
		CreatedAt:       time.Now().UTC(),
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

// Validate checks required fields and the citation invariant.
func (q *QuestionItem) Validate() error {
	if q.ID == uuid.Nil {
		return ErrInvalidID
	}
	if q.PlanID == uuid.Nil {
		return ErrEmptyPlanID
	}
	if q.TaskID == uuid.Nil {
		return ErrEmptyTaskID
	}
	if !q.Type.Valid() {
		return ErrInvalidQuestionType
	}
	if q.Stem == "" {
		return ErrEmptyQuestionStem
	}
	if q.Answer == "" {
		return ErrEmptyQuestionAnswer
	}
	if len(q.CitedChunkIDs) == 0 {
		return ErrMissingCitation
	}
	return nil
}

// Draft is an unvalidated question produced by the generator.
type Draft struct {
	Stem          string      `json:"stem"`
	Options       []string    `json:"options,omitempty"`
	Answer        string      `json:"answer"`
	Rationale     string      `json:"rationale,omitempty"`
	CitedChunkIDs []uuid.UUID `json:"cited_chunk_ids"`
}

// QuestionFilter narrows a question listing.
type QuestionFilter struct {
	Type       QuestionType
	Difficulty Difficulty
	MinScore   int
	Limit      int
	Offset     int
}

// Matches reports whether q passes the filter, ignoring paging.
func (f QuestionFilter) Matches(q *QuestionItem) bool {
	if f.Type != "" && q.Type != f.Type {
		return false
	}
	if f.Difficulty != "" && q.Difficulty != f.Difficulty {
		return false
	}
	return q.ValidationScore >= f.MinScore
}

// ValidationIssue is one defect found by the quality gate. Blocking issues
// fail the draft regardless of score.
type ValidationIssue struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Blocking bool   `json:"blocking"`
}
