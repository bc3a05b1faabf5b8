package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/platform/logger"
	"github.com/phrazzld/questgen/internal/retrieval"
	"github.com/phrazzld/questgen/internal/store"
)

// ChunkStore implements store.ChunkStore. Embeddings are stored as packed
// float32 bytes.
type ChunkStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewChunkStore creates a ChunkStore on db.
func NewChunkStore(db store.DBTX, logger *slog.Logger) *ChunkStore {
	return &ChunkStore{db: db, logger: logger.With(slog.String("component", "chunk_store"))}
}

var _ store.ChunkStore = (*ChunkStore)(nil)

const chunkColumns = `id, document_id, chunk_index, content, content_hash, token_count, embedding,
	section_path, page_start, page_end, start_offset, end_offset, overlap, created_at`

// CreateMultiple implements store.ChunkStore.
func (s *ChunkStore) CreateMultiple(ctx context.Context, documentID uuid.UUID, chunks []*domain.Chunk) error {
	log := logger.FromContextOrDefault(ctx, s.logger)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return MapError(err)
	}
	for _, c := range chunks {
		path, err := marshalJSON(c.SectionPath)
		if err != nil {
			return err
		}
		var embedding []byte
		if c.IsEmbedded() {
			embedding = retrieval.EncodeVector(c.Embedding)
		}
		created := c.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		_, err = s.db.ExecContext(ctx, `INSERT INTO chunks (`+chunkColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			c.ID, documentID, c.Index, c.Content, c.ContentHash, c.TokenCount, embedding,
			path, c.PageStart, c.PageEnd, c.Start, c.End, c.Overlap, created)
		if err != nil {
			log.Error("failed to insert chunk",
				slog.String("document_id", documentID.String()),
				slog.Int("index", c.Index),
				slog.String("error", err.Error()))
			return MapError(err)
		}
	}
	log.Debug("stored chunks", slog.String("document_id", documentID.String()), slog.Int("count", len(chunks)))
	return nil
}

// ListByDocument implements store.ChunkStore.
func (s *ChunkStore) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*domain.Chunk, error) {
	return s.query(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE document_id = $1 ORDER BY chunk_index`, documentID)
}

// GetByIDs implements store.ChunkStore.
func (s *ChunkStore) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.query(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = ANY($1::uuid[]) ORDER BY document_id, chunk_index`,
		idStrings(ids))
}

func (s *ChunkStore) query(ctx context.Context, q string, args ...any) ([]*domain.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return out, nil
}

func scanChunk(row rowScanner) (*domain.Chunk, error) {
	var c domain.Chunk
	var embedding, path []byte
	if err := row.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Content, &c.ContentHash, &c.TokenCount, &embedding,
		&path, &c.PageStart, &c.PageEnd, &c.Start, &c.End, &c.Overlap, &c.CreatedAt); err != nil {
		return nil, MapError(err)
	}
	if len(embedding) > 0 {
		v, err := retrieval.DecodeVector(embedding)
		if err != nil {
			return nil, err
		}
		c.Embedding = v
	}
	if err := unmarshalJSON(path, &c.SectionPath); err != nil {
		return nil, err
	}
	return &c, nil
}
