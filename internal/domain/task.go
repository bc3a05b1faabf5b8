package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the pipeline stage of one desired question
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusRetrieving TaskStatus = "retrieving"
	TaskStatusGenerating TaskStatus = "generating"
	TaskStatusValidating TaskStatus = "validating"
	TaskStatusStored     TaskStatus = "stored"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// ErrEmptyTaskID is returned when a task has no identifier.
var ErrEmptyTaskID = errors.New("task ID cannot be empty")

// Task is the unit of work producing one QuestionItem.
type Task struct {
	ID               uuid.UUID    `json:"id"`
	JobID            uuid.UUID    `json:"job_id"`
	PlanID           uuid.UUID    `json:"plan_id"`
	Sequence         int          `json:"sequence"`
	TargetType       QuestionType `json:"target_type"`
	TargetDifficulty Difficulty   `json:"target_difficulty"`
	Status           TaskStatus   `json:"status"`
	Attempts         int          `json:"attempts"`
	FailureKind      FailureKind  `json:"failure_kind,omitempty"`
	LastError        string       `json:"last_error,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// NewTask creates a pending task belonging to job.
func NewTask(job *Job, sequence int) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:               uuid.New(),
		JobID:            job.ID,
		PlanID:           job.PlanID,
		Sequence:         sequence,
		TargetType:       job.QuestionType,
		TargetDifficulty: job.Difficulty,
		Status:           TaskStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// NewTasksForJob creates BatchSize tasks in submission order.
func NewTasksForJob(job *Job) []*Task {
	tasks := make([]*Task, job.BatchSize)
	for i := range tasks {
		tasks[i] = NewTask(job, i)
	}
	return tasks
}

// IsTerminal reports whether s is a final task state.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusStored, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the task can no longer change status.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// BeginRetrieval starts work on a pending task by fetching context.
func (t *Task) BeginRetrieval() error {
	return t.transition(TaskStatusRetrieving, TaskStatusPending)
}

// BeginGeneration starts one model attempt. Regeneration after a failed
// attempt re-enters this state; every entry counts as an attempt.
func (t *Task) BeginGeneration() error {
	if err := t.transition(TaskStatusGenerating, TaskStatusRetrieving, TaskStatusGenerating, TaskStatusValidating); err != nil {
		return err
	}
	t.Attempts++
	return nil
}

// BeginValidation moves a generated draft into the quality gate.
func (t *Task) BeginValidation() error {
	return t.transition(TaskStatusValidating, TaskStatusGenerating)
}

// MarkStored records that the question was persisted.
func (t *Task) MarkStored() error {
	if err := t.transition(TaskStatusStored, TaskStatusValidating); err != nil {
		return err
	}
	t.FailureKind = ""
	t.LastError = ""
	return nil
}

// MarkFailed records a failure of the given kind.
func (t *Task) MarkFailed(kind FailureKind, reason string) error {
	if err := t.transition(TaskStatusFailed,
		TaskStatusPending, TaskStatusRetrieving, TaskStatusGenerating, TaskStatusValidating); err != nil {
		return err
	}
	t.FailureKind = kind
	t.LastError = reason
	return nil
}

// Cancel stops a task that has not reached a terminal state.
func (t *Task) Cancel() error {
	if err := t.transition(TaskStatusCancelled,
		TaskStatusPending, TaskStatusRetrieving, TaskStatusGenerating, TaskStatusValidating); err != nil {
		return err
	}
	t.FailureKind = FailureCancelled
	return nil
}

// Reset returns a failed or interrupted task to pending for a whole-job
// retry. Duplicates are never retried and stay failed.
func (t *Task) Reset() error {
	if t.FailureKind == FailureDuplicate {
		return fmt.Errorf("%w: duplicate tasks are not retried", ErrInvalidTransition)
	}
	if err := t.transition(TaskStatusPending,
		TaskStatusFailed, TaskStatusRetrieving, TaskStatusGenerating, TaskStatusValidating); err != nil {
		return err
	}
	t.FailureKind = ""
	t.LastError = ""
	return nil
}

func (t *Task) transition(to TaskStatus, from ...TaskStatus) error {
	for _, f := range from {
		if t.Status == f {
			t.Status = to
			t.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("%w: task %s -> %s", ErrInvalidTransition, t.Status, to)
}
