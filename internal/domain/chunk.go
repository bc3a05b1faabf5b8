package domain

import (
	"time"

	"github.com/google/uuid"
)

// Chunk is a bounded, overlapping segment of a document used as retrieval
// and generation context.
//
// Start and End are byte offsets into the document text, so Content equals
// text[Start:End]. The first Overlap bytes of Content repeat the tail of the
// previous chunk; Core returns the remainder, and the cores of all chunks of a
// document concatenate back to the source text.
type Chunk struct {
	ID          uuid.UUID `json:"id"`
	DocumentID  uuid.UUID `json:"document_id"`
	Index       int       `json:"index"`
	Content     string    `json:"content"`
	ContentHash string    `json:"content_hash"`
	TokenCount  int       `json:"token_count"`
	Embedding   []float32 `json:"-"`
	SectionPath []string  `json:"section_path,omitempty"`
	PageStart   int       `json:"page_start"`
	PageEnd     int       `json:"page_end"`
	Start       int       `json:"start"`
	End         int       `json:"end"`
	Overlap     int       `json:"overlap"`
	CreatedAt   time.Time `json:"created_at"`
}

// Core returns the part of the chunk not shared with its predecessor.
func (c *Chunk) Core() string {
	if c.Overlap <= 0 || c.Overlap > len(c.Content) {
		return c.Content
	}
	return c.Content[c.Overlap:]
}

// OverlapText returns the prefix shared with the previous chunk.
func (c *Chunk) OverlapText() string {
	if c.Overlap <= 0 || c.Overlap > len(c.Content) {
		return ""
	}
	return c.Content[:c.Overlap]
}

// IsEmbedded reports whether indexing produced a vector for this chunk.
func (c *Chunk) IsEmbedded() bool {
	return len(c.Embedding) > 0
}

// RankedChunk is a search hit with its cosine similarity.
type RankedChunk struct {
	Chunk *Chunk  `json:"chunk"`
	Score float64 `json:"score"`
}
