package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/store"
)

// EventStore implements store.EventStore on the progress_events table. The
// BIGSERIAL primary key is the event sequence.
type EventStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewEventStore creates an EventStore on db.
func NewEventStore(db store.DBTX, logger *slog.Logger) *EventStore {
	return &EventStore{db: db, logger: logger.With(slog.String("component", "event_store"))}
}

var _ store.EventStore = (*EventStore)(nil)

// Append implements store.EventStore.
func (s *EventStore) Append(ctx context.Context, e *domain.ProgressEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	var payload any
	if len(e.Payload) > 0 {
		payload = []byte(e.Payload)
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO progress_events (id, plan_id, job_id, task_id, event_type, status, progress, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING sequence`,
		e.ID, e.PlanID, nullUUID(e.JobID), nullUUID(e.TaskID), e.Type, e.Status, e.Progress, payload, e.Timestamp,
	).Scan(&e.Sequence)
	if err != nil {
		return MapError(err)
	}
	return nil
}

// ListAfter implements store.EventStore.
func (s *EventStore) ListAfter(ctx context.Context, planID uuid.UUID, afterSequence int64, since time.Time) ([]*domain.ProgressEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, id, plan_id, job_id, task_id, event_type, status, progress, payload, created_at
		FROM progress_events
		WHERE plan_id = $1 AND sequence > $2 AND created_at >= $3
		ORDER BY sequence`, planID, afterSequence, since.UTC())
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.ProgressEvent
	for rows.Next() {
		var e domain.ProgressEvent
		var jobID, taskID uuid.NullUUID
		var payload []byte
		if err := rows.Scan(&e.Sequence, &e.ID, &e.PlanID, &jobID, &taskID, &e.Type, &e.Status, &e.Progress,
			&payload, &e.Timestamp); err != nil {
			return nil, MapError(err)
		}
		if jobID.Valid {
			e.JobID = &jobID.UUID
		}
		if taskID.Valid {
			e.TaskID = &taskID.UUID
		}
		if len(payload) > 0 {
			e.Payload = payload
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return out, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
