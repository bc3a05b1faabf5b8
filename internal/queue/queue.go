// Package queue defines the durable, priority-aware job queue with
// per-dequeue visibility timeouts, and an in-memory implementation.
//
// Messages are ordered by priority class (lower first) and then by enqueue
// time. A dequeued message is invisible to other consumers until it is
// acknowledged or its visibility timeout elapses, after which it can be
// claimed again. Delivery is therefore at-least-once.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
)

var (
	// ErrEmpty is returned by Dequeue when no message is visible.
	ErrEmpty = errors.New("queue is empty")

	// ErrLeaseLost is returned when a delivery's receipt is no longer
	// current: the message was acknowledged, removed or claimed again.
	ErrLeaseLost = errors.New("delivery lease lost")

	// ErrInvalidMessage is returned when a message fails validation at
	// enqueue time.
	ErrInvalidMessage = errors.New("invalid queue message")
)

// Message is the queued reference to a job.
type Message struct {
	JobID    uuid.UUID         `json:"job_id"`
	PlanID   uuid.UUID         `json:"plan_id"`
	Priority int               `json:"priority"`
	Payload  domain.JobPayload `json:"payload"`
}

// NewMessage builds the message for job.
func NewMessage(job *domain.Job) Message {
	return Message{JobID: job.ID, PlanID: job.PlanID, Priority: job.Priority, Payload: job.Payload}
}

// Validate checks identifiers and the payload variant.
func (m Message) Validate() error {
	if m.JobID == uuid.Nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, domain.ErrEmptyJobID)
	}
	if m.PlanID == uuid.Nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, domain.ErrEmptyPlanID)
	}
	if err := m.Payload.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return nil
}

// Delivery is a dequeued message with the receipt that proves ownership.
type Delivery struct {
	Message
	Receipt    string
	Deliveries int
	EnqueuedAt time.Time
}

// IsRedelivery reports whether the message was handed out before.
func (d *Delivery) IsRedelivery() bool {
	return d.Deliveries > 1
}

// Queue is the job queue.
type Queue interface {
	// Enqueue adds msg, visible after delay. Enqueueing a job that is
	// already queued is a no-op.
	Enqueue(ctx context.Context, msg Message, delay time.Duration) error

	// Dequeue claims the next visible message for the visibility timeout.
	// It does not block; ErrEmpty means nothing is visible.
	Dequeue(ctx context.Context, visibility time.Duration) (*Delivery, error)

	// Ack removes a delivered message.
	Ack(ctx context.Context, d *Delivery) error

	// Nack releases a delivered message, visible again after delay.
	Nack(ctx context.Context, d *Delivery, delay time.Duration) error

	// Extend pushes the visibility deadline of a delivery to now+visibility.
	Extend(ctx context.Context, d *Delivery, visibility time.Duration) error

	// Remove drops a job's message whatever its state.
	Remove(ctx context.Context, jobID uuid.UUID) error

	// Contains reports whether a job has a message, visible or not.
	Contains(ctx context.Context, jobID uuid.UUID) (bool, error)

	// Depth returns the number of messages, visible or not.
	Depth(ctx context.Context) (int, error)
}
