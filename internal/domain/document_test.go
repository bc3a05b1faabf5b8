package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDocument(t *testing.T) {
	t.Parallel()

	doc, err := NewDocument(uuid.Nil, "Cells are the basic unit of life.", map[string]string{"title": "Biology"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, doc.ID)
	assert.Equal(t, DocumentStatusProcessing, doc.Status)
	assert.Equal(t, ContentHash("Cells are the basic unit of life."), doc.Fingerprint)
	assert.Len(t, doc.Fingerprint, 64)
	assert.False(t, doc.IsBlank())

	doc.MarkReady(3)
	assert.Equal(t, DocumentStatusReady, doc.Status)
	assert.Equal(t, 3, doc.ChunkCount)

	blank, err := NewDocument(uuid.New(), " \n\t", nil)
	require.NoError(t, err)
	assert.True(t, blank.IsBlank())
}

func TestChunkCoreAndOverlap(t *testing.T) {
	t.Parallel()

	c := &Chunk{Content: "tail words new content", Overlap: 11}
	assert.Equal(t, "tail words ", c.OverlapText())
	assert.Equal(t, "new content", c.Core())

	c.Overlap = 0
	assert.Equal(t, c.Content, c.Core())
	assert.Empty(t, c.OverlapText())
}
