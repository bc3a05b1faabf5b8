package postgres

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/platform/logger"
	"github.com/phrazzld/questgen/internal/store"
)

// QuestionStore implements store.QuestionStore. A unique index on task_id
// backs the one-question-per-task rule.
type QuestionStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewQuestionStore creates a QuestionStore on db.
func NewQuestionStore(db store.DBTX, logger *slog.Logger) *QuestionStore {
	return &QuestionStore{db: db, logger: logger.With(slog.String("component", "question_store"))}
}

var _ store.QuestionStore = (*QuestionStore)(nil)

const questionColumns = `id, plan_id, job_id, task_id, question_type, difficulty, stem, options, answer,
	rationale, validation_score, cited_chunk_ids, created_at`

// Create implements store.QuestionStore.
func (s *QuestionStore) Create(ctx context.Context, q *domain.QuestionItem) error {
	log := logger.FromContextOrDefault(ctx, s.logger)
	if err := q.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	options, err := marshalJSON(q.Options)
	if err != nil {
		return err
	}
	cited, err := marshalJSON(q.CitedChunkIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO questions (`+questionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		q.ID, q.PlanID, q.JobID, q.TaskID, q.Type, q.Difficulty, q.Stem, options, q.Answer,
		q.Rationale, q.ValidationScore, cited, q.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", store.ErrQuestionExists, q.TaskID)
		}
		log.Error("failed to create question",
			slog.String("task_id", q.TaskID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	return nil
}

// GetByTaskID implements store.QuestionStore.
func (s *QuestionStore) GetByTaskID(ctx context.Context, taskID uuid.UUID) (*domain.QuestionItem, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx, `SELECT `+questionColumns+` FROM questions WHERE task_id = $1`, taskID))
	if err != nil {
		return nil, notFoundOr(err, store.ErrQuestionNotFound)
	}
	return q, nil
}

// ListByPlan implements store.QuestionStore.
func (s *QuestionStore) ListByPlan(ctx context.Context, planID uuid.UUID, filter domain.QuestionFilter) ([]*domain.QuestionItem, error) {
	var limit any
	if filter.Limit > 0 {
		limit = filter.Limit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+questionColumns+` FROM questions
		WHERE plan_id = $1
			AND ($2 = '' OR question_type = $2)
			AND ($3 = '' OR difficulty = $3)
			AND validation_score >= $4
		ORDER BY created_at, id
		LIMIT $5 OFFSET $6`,
		planID, string(filter.Type), string(filter.Difficulty), filter.MinScore, limit, max(filter.Offset, 0))
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.QuestionItem
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, MapError(err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return out, nil
}

// CountByPlan implements store.QuestionStore.
func (s *QuestionStore) CountByPlan(ctx context.Context, planID uuid.UUID) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions WHERE plan_id = $1`, planID).Scan(&n); err != nil {
		return 0, MapError(err)
	}
	return n, nil
}

// LockPlan implements store.QuestionStore with a transaction scoped
// advisory lock keyed on the plan id.
func (s *QuestionStore) LockPlan(ctx context.Context, planID uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, planLockKey(planID)); err != nil {
		return MapError(err)
	}
	return nil
}

func planLockKey(id uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(id[:8]))
}

func scanQuestion(row rowScanner) (*domain.QuestionItem, error) {
	var q domain.QuestionItem
	var options, cited []byte
	if err := row.Scan(&q.ID, &q.PlanID, &q.JobID, &q.TaskID, &q.Type, &q.Difficulty, &q.Stem, &options,
		&q.Answer, &q.Rationale, &q.ValidationScore, &cited, &q.CreatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(options, &q.Options); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(cited, &q.CitedChunkIDs); err != nil {
		return nil, err
	}
	return &q, nil
}
