package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType names a progress event.
type EventType string

// Progress event types. Every plan, job and task transition has one.
const (
	EventPlanCreated   EventType = "plan.created"
	EventPlanExecuting EventType = "plan.executing"
	EventPlanCompleted EventType = "plan.completed"
	EventPlanFailed    EventType = "plan.failed"
	EventPlanCancelled EventType = "plan.cancelled"

	EventJobQueued         EventType = "job.queued"
	EventJobActive         EventType = "job.active"
	EventJobCompleted      EventType = "job.completed"
	EventJobFailed         EventType = "job.failed"
	EventJobRetryScheduled EventType = "job.retry_scheduled"
	EventJobDeadLettered   EventType = "job.dead_lettered"
	EventJobCancelled      EventType = "job.cancelled"

	EventTaskStatus    EventType = "task.status"
	EventTaskDuplicate EventType = "task.duplicate"
	EventTaskStored    EventType = "task.stored"
	EventTaskFailed    EventType = "task.failed"

	// EventHeartbeat is sent to idle subscribers and never persisted.
	EventHeartbeat EventType = "heartbeat"
)

// IsTerminal reports whether the event closes out a plan.
func (t EventType) IsTerminal() bool {
	switch t {
	case EventPlanCompleted, EventPlanFailed, EventPlanCancelled:
		return true
	}
	return false
}

// ProgressEvent is an immutable entry of a plan's append-only progress
// log. Sequence is assigned by the log on append.
type ProgressEvent struct {
	ID        uuid.UUID       `json:"id"`
	Sequence  int64           `json:"sequence"`
	PlanID    uuid.UUID       `json:"plan_id"`
	JobID     *uuid.UUID      `json:"job_id,omitempty"`
	TaskID    *uuid.UUID      `json:"task_id,omitempty"`
	Type      EventType       `json:"type"`
	Status    string          `json:"status,omitempty"`
	Progress  float64         `json:"progress"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewPlanEvent creates an event about a plan.
func NewPlanEvent(planID uuid.UUID, typ EventType, status PlanStatus) *ProgressEvent {
	return &ProgressEvent{
		ID:        uuid.New(),
		PlanID:    planID,
		Type:      typ,
		Status:    string(status),
		Timestamp: time.Now().UTC(),
	}
}

// NewJobEvent creates an event about a job.
func NewJobEvent(job *Job, typ EventType) *ProgressEvent {
	jobID := job.ID
	return &ProgressEvent{
		ID:        uuid.New(),
		PlanID:    job.PlanID,
		JobID:     &jobID,
		Type:      typ,
		Status:    string(job.Status),
		Timestamp: time.Now().UTC(),
	}
}

// NewTaskEvent creates an event about a task.
func NewTaskEvent(task *Task, typ EventType) *ProgressEvent {
	jobID, taskID := task.JobID, task.ID
	return &ProgressEvent{
		ID:        uuid.New(),
		PlanID:    task.PlanID,
		JobID:     &jobID,
		TaskID:    &taskID,
		Type:      typ,
		Status:    string(task.Status),
		Timestamp: time.Now().UTC(),
	}
}

// WithPayload attaches a JSON payload, ignoring values that cannot be encoded.
func (e *ProgressEvent) WithPayload(v any) *ProgressEvent {
	if b, err := json.Marshal(v); err == nil {
		e.Payload = b
	}
	return e
}

// WithProgress sets the plan completion percentage.
func (e *ProgressEvent) WithProgress(pct float64) *ProgressEvent {
	e.Progress = pct
	return e
}
