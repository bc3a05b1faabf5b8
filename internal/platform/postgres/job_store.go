package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/platform/logger"
	"github.com/phrazzld/questgen/internal/store"
)

// JobStore implements store.JobStore.
type JobStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewJobStore creates a JobStore on db.
func NewJobStore(db store.DBTX, logger *slog.Logger) *JobStore {
	return &JobStore{db: db, logger: logger.With(slog.String("component", "job_store"))}
}

var _ store.JobStore = (*JobStore)(nil)

const jobColumns = `id, plan_id, question_type, difficulty, batch_size, priority, payload, status,
	retry_count, max_retries, successful_tasks, failed_tasks, cancelled_tasks, last_error, created_at, updated_at`

// CreateMultiple implements store.JobStore.
func (s *JobStore) CreateMultiple(ctx context.Context, jobs []*domain.Job) error {
	log := logger.FromContextOrDefault(ctx, s.logger)
	for _, j := range jobs {
		if err := j.Validate(); err != nil {
			return err
		}
		payload, err := marshalJSON(j.Payload)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `INSERT INTO jobs (`+jobColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			j.ID, j.PlanID, j.QuestionType, j.Difficulty, j.BatchSize, j.Priority, payload, j.Status,
			j.RetryCount, j.MaxRetries, j.SuccessfulTasks, j.FailedTasks, j.CancelledTasks, j.LastError,
			j.CreatedAt, j.UpdatedAt)
		if err != nil {
			log.Error("failed to create job",
				slog.String("job_id", j.ID.String()),
				slog.String("plan_id", j.PlanID.String()),
				slog.String("error", err.Error()))
			return MapError(err)
		}
	}
	return nil
}

// GetByID implements store.JobStore.
func (s *JobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, store.ErrJobNotFound)
	}
	return j, nil
}

// Update implements store.JobStore.
func (s *JobStore) Update(ctx context.Context, job *domain.Job, expected domain.JobStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = $3, retry_count = $4, successful_tasks = $5, failed_tasks = $6,
			cancelled_tasks = $7, last_error = $8, updated_at = $9
		WHERE id = $1 AND status = $2`,
		job.ID, expected, job.Status, job.RetryCount, job.SuccessfulTasks, job.FailedTasks,
		job.CancelledTasks, job.LastError, time.Now().UTC())
	if err != nil {
		return MapError(err)
	}
	return casResult(ctx, s.db, res, "jobs", job.ID, store.ErrJobNotFound)
}

// ListByPlan implements store.JobStore.
func (s *JobStore) ListByPlan(ctx context.Context, planID uuid.UUID) ([]*domain.Job, error) {
	return s.query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE plan_id = $1 ORDER BY priority, created_at, id`, planID)
}

// ListByStatus implements store.JobStore.
func (s *JobStore) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.Job, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	return s.query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY updated_at, id LIMIT $2`, status, lim)
}

func (s *JobStore) query(ctx context.Context, q string, args ...any) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, MapError(err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return out, nil
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	var payload []byte
	if err := row.Scan(&j.ID, &j.PlanID, &j.QuestionType, &j.Difficulty, &j.BatchSize, &j.Priority, &payload,
		&j.Status, &j.RetryCount, &j.MaxRetries, &j.SuccessfulTasks, &j.FailedTasks, &j.CancelledTasks,
		&j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(payload, &j.Payload); err != nil {
		return nil, err
	}
	return &j, nil
}
