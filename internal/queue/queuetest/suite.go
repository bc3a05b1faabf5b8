// Package queuetest is a conformance suite run against every queue.Queue
// implementation.
package queuetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Factory builds an empty queue reading time from clock.
type Factory func(t *testing.T, clock *Clock) queue.Queue

// Message builds a valid message with the given priority.
func Message(t *testing.T, priority int) queue.Message {
	t.Helper()
	payload, err := domain.NewJobPayload(domain.QuestionTypeMCQ, domain.DifficultyMedium, []string{"cells"})
	require.NoError(t, err)
	return queue.Message{JobID: uuid.New(), PlanID: uuid.New(), Priority: priority, Payload: payload}
}

// Run executes the suite.
func Run(t *testing.T, factory Factory) {
	t.Run("priority then FIFO", func(t *testing.T) {
		ctx := context.Background()
		clock := NewClock()
		q := factory(t, clock)

		low1, high, low2 := Message(t, 20), Message(t, 5), Message(t, 20)
		for _, m := range []queue.Message{low1, high, low2} {
			require.NoError(t, q.Enqueue(ctx, m, 0))
			clock.Advance(time.Millisecond)
		}

		var order []uuid.UUID
		for range 3 {
			d, err := q.Dequeue(ctx, time.Minute)
			require.NoError(t, err)
			order = append(order, d.JobID)
		}
		assert.Equal(t, []uuid.UUID{high.JobID, low1.JobID, low2.JobID}, order)

		_, err := q.Dequeue(ctx, time.Minute)
		assert.ErrorIs(t, err, queue.ErrEmpty)
	})

	t.Run("enqueue is idempotent and validated", func(t *testing.T) {
		ctx := context.Background()
		q := factory(t, NewClock())

		m := Message(t, 10)
		require.NoError(t, q.Enqueue(ctx, m, 0))
		require.NoError(t, q.Enqueue(ctx, m, 0))
		depth, err := q.Depth(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, depth)

		bad := Message(t, 10)
		bad.Payload.Spec = domain.EssaySpec{MinWords: 10, RubricPoints: 1}
		assert.ErrorIs(t, q.Enqueue(ctx, bad, 0), queue.ErrInvalidMessage)
	})

	t.Run("delayed messages become visible", func(t *testing.T) {
		ctx := context.Background()
		clock := NewClock()
		q := factory(t, clock)

		m := Message(t, 10)
		require.NoError(t, q.Enqueue(ctx, m, 30*time.Second))
		_, err := q.Dequeue(ctx, time.Minute)
		assert.ErrorIs(t, err, queue.ErrEmpty)

		clock.Advance(31 * time.Second)
		d, err := q.Dequeue(ctx, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, m.JobID, d.JobID)
		assert.Equal(t, m.Payload, d.Payload)
	})

	t.Run("visibility timeout re-claim", func(t *testing.T) {
		ctx := context.Background()
		clock := NewClock()
		q := factory(t, clock)

		m := Message(t, 10)
		require.NoError(t, q.Enqueue(ctx, m, 0))

		first, err := q.Dequeue(ctx, 10*time.Second)
		require.NoError(t, err)
		assert.False(t, first.IsRedelivery())

		_, err = q.Dequeue(ctx, 10*time.Second)
		assert.ErrorIs(t, err, queue.ErrEmpty, "in-flight message is invisible")

		clock.Advance(11 * time.Second)
		second, err := q.Dequeue(ctx, 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, m.JobID, second.JobID)
		assert.True(t, second.IsRedelivery())
		assert.Equal(t, 2, second.Deliveries)

		assert.ErrorIs(t, q.Ack(ctx, first), queue.ErrLeaseLost, "stale receipt is rejected")
		require.NoError(t, q.Ack(ctx, second))

		ok, err := q.Contains(ctx, m.JobID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("extend keeps the lease", func(t *testing.T) {
		ctx := context.Background()
		clock := NewClock()
		q := factory(t, clock)

		require.NoError(t, q.Enqueue(ctx, Message(t, 10), 0))
		d, err := q.Dequeue(ctx, 10*time.Second)
		require.NoError(t, err)

		clock.Advance(8 * time.Second)
		require.NoError(t, q.Extend(ctx, d, 10*time.Second))
		clock.Advance(8 * time.Second)

		_, err = q.Dequeue(ctx, 10*time.Second)
		assert.ErrorIs(t, err, queue.ErrEmpty)
		require.NoError(t, q.Ack(ctx, d))
	})

	t.Run("nack with delay", func(t *testing.T) {
		ctx := context.Background()
		clock := NewClock()
		q := factory(t, clock)

		m := Message(t, 10)
		require.NoError(t, q.Enqueue(ctx, m, 0))
		d, err := q.Dequeue(ctx, time.Minute)
		require.NoError(t, err)

		require.NoError(t, q.Nack(ctx, d, 5*time.Second))
		assert.ErrorIs(t, q.Ack(ctx, d), queue.ErrLeaseLost)

		_, err = q.Dequeue(ctx, time.Minute)
		assert.ErrorIs(t, err, queue.ErrEmpty)

		clock.Advance(6 * time.Second)
		again, err := q.Dequeue(ctx, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, m.JobID, again.JobID)
		assert.Equal(t, 2, again.Deliveries)
	})

	t.Run("remove and contains", func(t *testing.T) {
		ctx := context.Background()
		q := factory(t, NewClock())

		a, b := Message(t, 10), Message(t, 10)
		require.NoError(t, q.Enqueue(ctx, a, 0))
		require.NoError(t, q.Enqueue(ctx, b, time.Hour))

		ok, err := q.Contains(ctx, b.JobID)
		require.NoError(t, err)
		assert.True(t, ok, "delayed messages are contained")

		d, err := q.Dequeue(ctx, time.Minute)
		require.NoError(t, err)
		require.NoError(t, q.Remove(ctx, a.JobID))
		require.NoError(t, q.Remove(ctx, b.JobID))
		assert.ErrorIs(t, q.Ack(ctx, d), queue.ErrLeaseLost)

		depth, err := q.Depth(ctx)
		require.NoError(t, err)
		assert.Zero(t, depth)
	})
}
