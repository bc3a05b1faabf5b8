package domain

import (
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// DocumentStatus represents the indexing state of a document
type DocumentStatus string

// Possible document status values
const (
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusReady      DocumentStatus = "ready"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Document validation errors
var (
	ErrEmptyDocumentID       = errors.New("document ID cannot be empty")
	ErrInvalidDocumentStatus = errors.New("invalid document status")
)

// Document is the already-extracted text handed over by the ingestion
// collaborator. The text is immutable once stored; Fingerprint identifies it.
type Document struct {
	ID            uuid.UUID         `json:"id"`
	Text          string            `json:"-"`
	Fingerprint   string            `json:"fingerprint"`
	Status        DocumentStatus    `json:"status"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	ChunkCount    int               `json:"chunk_count"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// NewDocument creates a document in the processing state. A nil id gets a
// fresh UUID. Empty text is accepted here; the chunker reports it.
func NewDocument(id uuid.UUID, text string, metadata map[string]string) (*Document, error) {
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := time.Now().UTC()
	doc := &Document{
		ID:          id,
		Text:        text,
		Fingerprint: ContentHash(text),
		Status:      DocumentStatusProcessing,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Validate checks if the Document has valid data.
func (d *Document) Validate() error {
	if d.ID == uuid.Nil {
		return ErrEmptyDocumentID
	}
	switch d.Status {
	case DocumentStatusProcessing, DocumentStatusReady, DocumentStatusFailed:
	default:
		return ErrInvalidDocumentStatus
	}
	return nil
}

// IsBlank reports whether the document has no usable text.
func (d *Document) IsBlank() bool {
	return strings.TrimSpace(d.Text) == ""
}

// MarkReady records that every chunk has been embedded.
func (d *Document) MarkReady(chunkCount int) {
	d.Status = DocumentStatusReady
	d.ChunkCount = chunkCount
	d.FailureReason = ""
	d.UpdatedAt = time.Now().UTC()
}

// MarkFailed records why the document cannot be used.
func (d *Document) MarkFailed(reason string) {
	d.Status = DocumentStatusFailed
	d.FailureReason = reason
	d.UpdatedAt = time.Now().UTC()
}

// ContentHash returns the hex blake2b-256 digest of s. It is used both as
// the document fingerprint and as the embedding cache key for chunks.
func ContentHash(s string) string {
	sum := blake2b.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
