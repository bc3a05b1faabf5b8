package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/store"
)

// NewStores binds every store to db, which may be a pool or a transaction.
func NewStores(db store.DBTX, logger *slog.Logger) store.Stores {
	if logger == nil {
		logger = slog.Default()
	}
	return store.Stores{
		Documents: NewDocumentStore(db, logger),
		Chunks:    NewChunkStore(db, logger),
		Plans:     NewPlanStore(db, logger),
		Jobs:      NewJobStore(db, logger),
		Tasks:     NewTaskStore(db, logger),
		Questions: NewQuestionStore(db, logger),
		Events:    NewEventStore(db, logger),
	}
}

// TxManager runs functions against stores bound to one transaction.
type TxManager struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTxManager creates a TxManager for db.
func NewTxManager(db *sql.DB, logger *slog.Logger) *TxManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TxManager{db: db, logger: logger}
}

var _ store.TxManager = (*TxManager)(nil)

// WithinTx implements store.TxManager.
func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Stores) error) error {
	return store.RunInTransaction(ctx, m.db, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, NewStores(tx, m.logger))
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func marshalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	return b, nil
}

func unmarshalJSON(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: corrupt column: %v", store.ErrInternal, err)
	}
	return nil
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// casResult turns the outcome of a compare-and-set UPDATE into a store
// error: notFound when the row is gone, ErrConflict when its status moved.
func casResult(ctx context.Context, db store.DBTX, res sql.Result, table string, id uuid.UUID, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists bool
	err = db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM "+table+" WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return MapError(err)
	}
	if !exists {
		return notFound
	}
	return fmt.Errorf("%w: %s %s", store.ErrConflict, table, id)
}

func notFoundOr(err error, notFound error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return MapError(err)
}
