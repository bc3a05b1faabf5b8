package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	msg        Message
	seq        uint64
	enqueuedAt time.Time
	visibleAt  time.Time
	receipt    string
	deliveries int
}

// MemoryQueue is a Queue held in process memory. It is not durable and
// backs tests and single-process runs.
type MemoryQueue struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
	seq     uint64
	now     func() time.Time
}

// MemoryOption configures a MemoryQueue.
type MemoryOption func(*MemoryQueue)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(q *MemoryQueue) { q.now = now }
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue(opts ...MemoryOption) *MemoryQueue {
	q := &MemoryQueue{entries: make(map[uuid.UUID]*entry), now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

var _ Queue = (*MemoryQueue)(nil)

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(_ context.Context, msg Message, delay time.Duration) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[msg.JobID]; ok {
		return nil
	}
	now := q.now()
	q.seq++
	q.entries[msg.JobID] = &entry{
		msg:        msg,
		seq:        q.seq,
		enqueuedAt: now,
		visibleAt:  now.Add(delay),
	}
	return nil
}

// Dequeue implements Queue.
func (q *MemoryQueue) Dequeue(ctx context.Context, visibility time.Duration) (*Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var next *entry
	for _, e := range q.entries {
		if e.visibleAt.After(now) {
			continue
		}
		if next == nil || e.msg.Priority < next.msg.Priority ||
			(e.msg.Priority == next.msg.Priority && e.seq < next.seq) {
			next = e
		}
	}
	if next == nil {
		return nil, ErrEmpty
	}

	next.receipt = uuid.NewString()
	next.visibleAt = now.Add(visibility)
	next.deliveries++
	return &Delivery{
		Message:    next.msg,
		Receipt:    next.receipt,
		Deliveries: next.deliveries,
		EnqueuedAt: next.enqueuedAt,
	}, nil
}

func (q *MemoryQueue) owned(d *Delivery) (*entry, error) {
	e, ok := q.entries[d.JobID]
	if !ok || e.receipt != d.Receipt {
		return nil, ErrLeaseLost
	}
	return e, nil
}

// Ack implements Queue.
func (q *MemoryQueue) Ack(_ context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, err := q.owned(d); err != nil {
		return err
	}
	delete(q.entries, d.JobID)
	return nil
}

// Nack implements Queue.
func (q *MemoryQueue) Nack(_ context.Context, d *Delivery, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, err := q.owned(d)
	if err != nil {
		return err
	}
	e.receipt = ""
	e.visibleAt = q.now().Add(delay)
	return nil
}

// Extend implements Queue.
func (q *MemoryQueue) Extend(_ context.Context, d *Delivery, visibility time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, err := q.owned(d)
	if err != nil {
		return err
	}
	e.visibleAt = q.now().Add(visibility)
	return nil
}

// Remove implements Queue.
func (q *MemoryQueue) Remove(_ context.Context, jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, jobID)
	return nil
}

// Contains implements Queue.
func (q *MemoryQueue) Contains(_ context.Context, jobID uuid.UUID) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.entries[jobID]
	return ok, nil
}

// Depth implements Queue.
func (q *MemoryQueue) Depth(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries), nil
}
