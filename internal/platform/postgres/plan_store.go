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

// PlanStore implements store.PlanStore. Distribution, constraints, topics
// and diagnostics are JSONB columns.
type PlanStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPlanStore creates a PlanStore on db.
func NewPlanStore(db store.DBTX, logger *slog.Logger) *PlanStore {
	return &PlanStore{db: db, logger: logger.With(slog.String("component", "plan_store"))}
}

var _ store.PlanStore = (*PlanStore)(nil)

type planColumns struct {
	distribution, constraints, topics, diagnostics []byte
}

func encodePlan(p *domain.Plan) (planColumns, error) {
	var c planColumns
	var err error
	if c.distribution, err = marshalJSON(p.Distribution); err != nil {
		return c, err
	}
	if c.constraints, err = marshalJSON(p.Constraints); err != nil {
		return c, err
	}
	if c.topics, err = marshalJSON(p.Topics); err != nil {
		return c, err
	}
	c.diagnostics, err = marshalJSON(p.Diagnostics)
	return c, err
}

// Create implements store.PlanStore.
func (s *PlanStore) Create(ctx context.Context, plan *domain.Plan) error {
	log := logger.FromContextOrDefault(ctx, s.logger)
	if err := plan.Validate(); err != nil {
		return err
	}
	c, err := encodePlan(plan)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plans (id, document_id, distribution, total_requested, constraints, topics, status, diagnostics, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		plan.ID, plan.DocumentID, c.distribution, plan.TotalRequested, c.constraints, c.topics,
		plan.Status, c.diagnostics, plan.CreatedAt, plan.UpdatedAt)
	if err != nil {
		log.Error("failed to create plan",
			slog.String("plan_id", plan.ID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	return nil
}

// GetByID implements store.PlanStore.
func (s *PlanStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Plan, error) {
	var p domain.Plan
	var c planColumns
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, distribution, total_requested, constraints, topics, status, diagnostics, created_at, updated_at
		FROM plans WHERE id = $1`, id).Scan(
		&p.ID, &p.DocumentID, &c.distribution, &p.TotalRequested, &c.constraints, &c.topics,
		&p.Status, &c.diagnostics, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, store.ErrPlanNotFound)
	}
	for _, f := range []struct {
		raw []byte
		v   any
	}{
		{c.distribution, &p.Distribution},
		{c.constraints, &p.Constraints},
		{c.topics, &p.Topics},
		{c.diagnostics, &p.Diagnostics},
	} {
		if err := unmarshalJSON(f.raw, f.v); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// Update implements store.PlanStore.
func (s *PlanStore) Update(ctx context.Context, plan *domain.Plan, expected domain.PlanStatus) error {
	c, err := encodePlan(plan)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE plans SET distribution = $3, topics = $4, status = $5, diagnostics = $6, updated_at = $7
		WHERE id = $1 AND status = $2`,
		plan.ID, expected, c.distribution, c.topics, plan.Status, c.diagnostics, time.Now().UTC())
	if err != nil {
		return MapError(err)
	}
	return casResult(ctx, s.db, res, "plans", plan.ID, store.ErrPlanNotFound)
}
