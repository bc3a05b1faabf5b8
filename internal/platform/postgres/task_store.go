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

// TaskStore implements store.TaskStore.
type TaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewTaskStore creates a TaskStore on db.
func NewTaskStore(db store.DBTX, logger *slog.Logger) *TaskStore {
	return &TaskStore{db: db, logger: logger.With(slog.String("component", "task_store"))}
}

var _ store.TaskStore = (*TaskStore)(nil)

const taskColumns = `id, job_id, plan_id, sequence, target_type, target_difficulty, status, attempts,
	failure_kind, last_error, created_at, updated_at`

// CreateMultiple implements store.TaskStore.
func (s *TaskStore) CreateMultiple(ctx context.Context, tasks []*domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)
	for _, t := range tasks {
		_, err := s.db.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			t.ID, t.JobID, t.PlanID, t.Sequence, t.TargetType, t.TargetDifficulty, t.Status, t.Attempts,
			t.FailureKind, t.LastError, t.CreatedAt, t.UpdatedAt)
		if err != nil {
			log.Error("failed to create task",
				slog.String("task_id", t.ID.String()),
				slog.String("job_id", t.JobID.String()),
				slog.String("error", err.Error()))
			return MapError(err)
		}
	}
	return nil
}

// GetByID implements store.TaskStore.
func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, store.ErrTaskNotFound)
	}
	return t, nil
}

// Update implements store.TaskStore.
func (s *TaskStore) Update(ctx context.Context, task *domain.Task, expected domain.TaskStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = $3, attempts = $4, failure_kind = $5, last_error = $6, updated_at = $7
		WHERE id = $1 AND status = $2`,
		task.ID, expected, task.Status, task.Attempts, task.FailureKind, task.LastError, time.Now().UTC())
	if err != nil {
		return MapError(err)
	}
	return casResult(ctx, s.db, res, "tasks", task.ID, store.ErrTaskNotFound)
}

// ListByJob implements store.TaskStore.
func (s *TaskStore) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*domain.Task, error) {
	return s.query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE job_id = $1 ORDER BY sequence`, jobID)
}

// ListByPlan implements store.TaskStore.
func (s *TaskStore) ListByPlan(ctx context.Context, planID uuid.UUID) ([]*domain.Task, error) {
	return s.query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE plan_id = $1 ORDER BY created_at, job_id, sequence`, planID)
}

func (s *TaskStore) query(ctx context.Context, q string, args ...any) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, MapError(err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return out, nil
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	if err := row.Scan(&t.ID, &t.JobID, &t.PlanID, &t.Sequence, &t.TargetType, &t.TargetDifficulty, &t.Status,
		&t.Attempts, &t.FailureKind, &t.LastError, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}
