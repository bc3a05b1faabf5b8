package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a batch of same-type tasks
type JobStatus string

// Possible job status values
const (
	JobStatusQueued       JobStatus = "queued"
	JobStatusActive       JobStatus = "active"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
	JobStatusDeadLettered JobStatus = "dead_lettered"
	JobStatusCancelled    JobStatus = "cancelled"
)

// Job validation errors
var (
	ErrEmptyJobID        = errors.New("job ID cannot be empty")
	ErrInvalidJobStatus  = errors.New("invalid job status")
	ErrInvalidBatchSize  = errors.New("job batch size must be positive")
	ErrRetriesExhausted  = errors.New("job retries exhausted")
	ErrJobNotCompletable = errors.New("job outcome does not pass the success ratio gate")
)

// Job is a batch of same-type tasks dispatched together to a worker.
// Status changes go through the named transition methods only.
type Job struct {
	ID              uuid.UUID    `json:"id"`
	PlanID          uuid.UUID    `json:"plan_id"`
	QuestionType    QuestionType `json:"question_type"`
	Difficulty      Difficulty   `json:"difficulty"`
	BatchSize       int          `json:"batch_size"`
	Priority        int          `json:"priority"`
	Payload         JobPayload   `json:"payload"`
	Status          JobStatus    `json:"status"`
	RetryCount      int          `json:"retry_count"`
	MaxRetries      int          `json:"max_retries"`
	SuccessfulTasks int          `json:"successful_tasks"`
	FailedTasks     int          `json:"failed_tasks"`
	CancelledTasks  int          `json:"cancelled_tasks"`
	LastError       string       `json:"last_error,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// NewJob creates a queued job for one payload.
func NewJob(planID uuid.UUID, payload JobPayload, batchSize, priority, maxRetries int) (*Job, error) {
	now := time.Now().UTC()
	j := &Job{
		ID:           uuid.New(),
		PlanID:       planID,
		QuestionType: payload.Type,
		Difficulty:   payload.Difficulty,
		BatchSize:    batchSize,
		Priority:     priority,
		Payload:      payload,
		Status:       JobStatusQueued,
		MaxRetries:   maxRetries,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return j, nil
}

// Validate checks identifiers, status, batch size and the payload variant.
func (j *Job) Validate() error {
	if j.ID == uuid.Nil {
		return ErrEmptyJobID
	}
	if j.PlanID == uuid.Nil {
		return ErrEmptyPlanID
	}
	if !isValidJobStatus(j.Status) {
		return ErrInvalidJobStatus
	}
	if j.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}
	if j.MaxRetries < 0 {
		return fmt.Errorf("%w: negative max retries", ErrValidation)
	}
	return j.Payload.Validate()
}

// IsTerminal reports whether the job can no longer change status.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// IsTerminal reports whether s is a final job state.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusDeadLettered, JobStatusCancelled:
		return true
	}
	return false
}

// CanRetry reports whether another whole-job attempt is allowed.
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// Activate moves a queued job to active when a worker claims it.
func (j *Job) Activate() error {
	return j.transition(JobStatusActive, JobStatusQueued)
}

// Complete records a passing outcome. The tally must satisfy the success
// ratio gate; a job with zero stored questions can never complete.
func (j *Job) Complete(tally TaskTally, minRatio float64) error {
	if EvaluateJob(tally, minRatio) != JobStatusCompleted {
		return fmt.Errorf("%w: %d/%d succeeded", ErrJobNotCompletable, tally.Successful, tally.Counted())
	}
	if err := j.transition(JobStatusCompleted, JobStatusActive); err != nil {
		return err
	}
	j.applyTally(tally)
	j.LastError = ""
	return nil
}

// Fail records a failed attempt.
func (j *Job) Fail(tally TaskTally, reason string) error {
	if err := j.transition(JobStatusFailed, JobStatusActive); err != nil {
		return err
	}
	j.applyTally(tally)
	j.LastError = reason
	return nil
}

// Requeue schedules another whole-job attempt after a failure.
func (j *Job) Requeue() error {
	if !j.CanRetry() {
		return fmt.Errorf("%w: %d of %d used", ErrRetriesExhausted, j.RetryCount, j.MaxRetries)
	}
	if err := j.transition(JobStatusQueued, JobStatusFailed); err != nil {
		return err
	}
	j.RetryCount++
	return nil
}

// DeadLetter parks a job that exhausted its retries or hit a fatal error.
func (j *Job) DeadLetter(reason string) error {
	if err := j.transition(JobStatusDeadLettered, JobStatusFailed, JobStatusActive); err != nil {
		return err
	}
	if reason != "" {
		j.LastError = reason
	}
	return nil
}

// Cancel stops a job that has not reached a terminal state.
func (j *Job) Cancel() error {
	return j.transition(JobStatusCancelled, JobStatusQueued, JobStatusActive, JobStatusFailed)
}

func (j *Job) applyTally(t TaskTally) {
	j.SuccessfulTasks = t.Successful
	j.FailedTasks = t.Failed
	j.CancelledTasks = t.Cancelled
}

func (j *Job) transition(to JobStatus, from ...JobStatus) error {
	for _, f := range from {
		if j.Status == f {
			j.Status = to
			j.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("%w: job %s -> %s", ErrInvalidTransition, j.Status, to)
}

func isValidJobStatus(status JobStatus) bool {
	switch status {
	case JobStatusQueued, JobStatusActive, JobStatusCompleted,
		JobStatusFailed, JobStatusDeadLettered, JobStatusCancelled:
		return true
	}
	return false
}
