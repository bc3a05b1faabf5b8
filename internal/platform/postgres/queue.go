package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/queue"
)

// Queue is the job queue on the job_queue table. A message is visible when
// visible_at has passed; claiming it moves visible_at to the lease deadline
// and sets a fresh receipt. Concurrent consumers skip each other's locked
// rows, so no message is handed to two consumers at once.
type Queue struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueClock replaces time.Now. Timestamps are computed in Go and passed
// to every statement.
func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

// NewQueue creates a Queue on db.
func NewQueue(db *sql.DB, logger *slog.Logger, opts ...QueueOption) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{db: db, now: time.Now, logger: logger.With("component", "postgres_queue")}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

var _ queue.Queue = (*Queue)(nil)

// Enqueue implements queue.Queue.
func (q *Queue) Enqueue(ctx context.Context, msg queue.Message, delay time.Duration) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("encode queue payload: %w", err)
	}
	now := q.now().UTC()
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO job_queue (job_id, plan_id, priority, payload, enqueued_at, visible_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id) DO NOTHING`,
		msg.JobID, msg.PlanID, msg.Priority, payload, now, now.Add(delay))
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", msg.JobID, MapError(err))
	}
	return nil
}

// Dequeue implements queue.Queue.
func (q *Queue) Dequeue(ctx context.Context, visibility time.Duration) (*queue.Delivery, error) {
	now := q.now().UTC()
	receipt := uuid.New()

	var d queue.Delivery
	var payload []byte
	err := q.db.QueryRowContext(ctx, `
		UPDATE job_queue SET receipt = $1, visible_at = $3, deliveries = deliveries + 1
		WHERE job_id = (
			SELECT job_id FROM job_queue
			WHERE visible_at <= $2
			ORDER BY priority, seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING job_id, plan_id, priority, payload, deliveries, enqueued_at`,
		receipt, now, now.Add(visibility),
	).Scan(&d.JobID, &d.PlanID, &d.Priority, &payload, &d.Deliveries, &d.EnqueuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", MapError(err))
	}

	var p domain.JobPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		q.logger.ErrorContext(ctx, "dropping undecodable queue message", "job_id", d.JobID, "error", err)
		_ = q.Remove(ctx, d.JobID)
		return nil, fmt.Errorf("%w: %v", queue.ErrInvalidMessage, err)
	}
	d.Payload = p
	d.Receipt = receipt.String()
	return &d, nil
}

func (q *Queue) owned(ctx context.Context, op string, d *queue.Delivery, stmt string, args ...any) error {
	receipt, err := uuid.Parse(d.Receipt)
	if err != nil {
		return queue.ErrLeaseLost
	}
	res, err := q.db.ExecContext(ctx, stmt, append([]any{d.JobID, receipt}, args...)...)
	if err != nil {
		return fmt.Errorf("%s job %s: %w", op, d.JobID, MapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s job %s: %w", op, d.JobID, err)
	}
	if n == 0 {
		return queue.ErrLeaseLost
	}
	return nil
}

// Ack implements queue.Queue.
func (q *Queue) Ack(ctx context.Context, d *queue.Delivery) error {
	return q.owned(ctx, "ack", d, `DELETE FROM job_queue WHERE job_id = $1 AND receipt = $2`)
}

// Nack implements queue.Queue.
func (q *Queue) Nack(ctx context.Context, d *queue.Delivery, delay time.Duration) error {
	return q.owned(ctx, "nack", d,
		`UPDATE job_queue SET receipt = NULL, visible_at = $3 WHERE job_id = $1 AND receipt = $2`,
		q.now().UTC().Add(delay))
}

// Extend implements queue.Queue.
func (q *Queue) Extend(ctx context.Context, d *queue.Delivery, visibility time.Duration) error {
	return q.owned(ctx, "extend", d,
		`UPDATE job_queue SET visible_at = $3 WHERE job_id = $1 AND receipt = $2`,
		q.now().UTC().Add(visibility))
}

// Remove implements queue.Queue.
func (q *Queue) Remove(ctx context.Context, jobID uuid.UUID) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM job_queue WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("remove job %s: %w", jobID, MapError(err))
	}
	return nil
}

// Contains implements queue.Queue.
func (q *Queue) Contains(ctx context.Context, jobID uuid.UUID) (bool, error) {
	var ok bool
	err := q.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM job_queue WHERE job_id = $1)`, jobID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check job %s: %w", jobID, MapError(err))
	}
	return ok, nil
}

// Depth implements queue.Queue.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue depth: %w", MapError(err))
	}
	return n, nil
}
