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

// DocumentStore implements store.DocumentStore.
type DocumentStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewDocumentStore creates a DocumentStore on db.
func NewDocumentStore(db store.DBTX, logger *slog.Logger) *DocumentStore {
	return &DocumentStore{db: db, logger: logger.With(slog.String("component", "document_store"))}
}

var _ store.DocumentStore = (*DocumentStore)(nil)

// Create implements store.DocumentStore.
func (s *DocumentStore) Create(ctx context.Context, doc *domain.Document) error {
	log := logger.FromContextOrDefault(ctx, s.logger)
	if err := doc.Validate(); err != nil {
		return err
	}
	meta, err := marshalJSON(doc.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, text, fingerprint, status, metadata, failure_reason, chunk_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		doc.ID, doc.Text, doc.Fingerprint, doc.Status, meta, doc.FailureReason, doc.ChunkCount,
		doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		log.Error("failed to create document",
			slog.String("document_id", doc.ID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	return nil
}

// GetByID implements store.DocumentStore.
func (s *DocumentStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	var doc domain.Document
	var meta []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, text, fingerprint, status, metadata, failure_reason, chunk_count, created_at, updated_at
		FROM documents WHERE id = $1`, id).Scan(
		&doc.ID, &doc.Text, &doc.Fingerprint, &doc.Status, &meta, &doc.FailureReason, &doc.ChunkCount,
		&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, store.ErrDocumentNotFound)
	}
	if err := unmarshalJSON(meta, &doc.Metadata); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Update implements store.DocumentStore.
func (s *DocumentStore) Update(ctx context.Context, doc *domain.Document) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = $2, chunk_count = $3, failure_reason = $4, updated_at = $5
		WHERE id = $1`,
		doc.ID, doc.Status, doc.ChunkCount, doc.FailureReason, time.Now().UTC())
	if err != nil {
		return MapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return MapError(err)
	}
	if n == 0 {
		return store.ErrDocumentNotFound
	}
	return nil
}
