package chunker

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/config"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDoc(t *testing.T, text string) *domain.Document {
	t.Helper()
	doc, err := domain.NewDocument(uuid.Nil, text, nil)
	require.NoError(t, err)
	return doc
}

// paragraph returns n words grouped into ten-word sentences.
func paragraph(tag string, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s%d", tag, i)
		if i%10 == 9 {
			b.WriteByte('.')
		}
	}
	return b.String()
}

func assertCoverage(t *testing.T, text string, chunks []*domain.Chunk) {
	t.Helper()
	var rebuilt strings.Builder
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, text[c.Start:c.End], c.Content)
		rebuilt.WriteString(c.Core())
	}
	assert.Equal(t, text, rebuilt.String())
}

func TestNewClampsSizes(t *testing.T) {
	t.Parallel()

	c := New(WithTargetTokens(50), WithOverlapTokens(500), WithForceSplitFactor(0))
	assert.Equal(t, MinTargetTokens, c.target)
	assert.Equal(t, MaxOverlapTokens, c.overlap)
	assert.Equal(t, DefaultForceSplitFactor, c.forceFactor)

	c = NewFromConfig(config.ChunkerConfig{TargetTokens: 5000, OverlapTokens: 90, ForceSplitFactor: 2}, testLogger())
	assert.Equal(t, MaxTargetTokens, c.target)
	assert.Equal(t, 90, c.overlap)
	assert.Equal(t, 2.0, c.forceFactor)
}

func TestChunkEmptyInput(t *testing.T) {
	t.Parallel()

	c := New(WithLogger(testLogger()))
	for _, text := range []string{"", "   ", "\n\n\t\n"} {
		assert.Empty(t, c.Chunk(newDoc(t, text)))
	}
}

func TestChunkShortDocument(t *testing.T) {
	t.Parallel()

	text := "# Cells\n\nThe cell is the basic unit of life.\nIt has a membrane.\n"
	chunks := New(WithLogger(testLogger())).Chunk(newDoc(t, text))

	require.Len(t, chunks, 1)
	c := chunks[0]
	assert.Equal(t, text, c.Content)
	assert.Equal(t, 0, c.Overlap)
	assert.Equal(t, []string{"Cells"}, c.SectionPath)
	assert.Equal(t, 1, c.PageStart)
	assert.Equal(t, 1, c.PageEnd)
	assert.Equal(t, len(strings.Fields(text)), c.TokenCount)
	assert.Equal(t, domain.ContentHash(text), c.ContentHash)
}

func TestChunkCoverageAndOverlap(t *testing.T) {
	t.Parallel()

	var parts []string
	for i := 0; i < 12; i++ {
		parts = append(parts, paragraph(fmt.Sprintf("p%d-", i), 300))
	}
	text := "  " + strings.Join(parts, "\n\n") + "\n\n"

	c := New(WithTargetTokens(800), WithOverlapTokens(100), WithLogger(testLogger()))
	chunks := c.Chunk(newDoc(t, text))
	require.Greater(t, len(chunks), 3)
	assertCoverage(t, text, chunks)

	for i, ch := range chunks {
		assert.LessOrEqual(t, ch.TokenCount, 800+100, "chunk %d", i)
		if i == 0 {
			assert.Zero(t, ch.Overlap)
			continue
		}
		overlapWords := len(strings.Fields(ch.OverlapText()))
		assert.Equal(t, 100, overlapWords, "chunk %d", i)
		prev := chunks[i-1]
		assert.True(t, strings.HasSuffix(strings.TrimRight(prev.Content, " \n"), strings.TrimRight(ch.OverlapText(), " \n")),
			"chunk %d overlap must repeat the tail of its predecessor", i)
	}
}

func TestChunkCutsAtHeadings(t *testing.T) {
	t.Parallel()

	text := strings.Join([]string{
		"1. Introduction",
		paragraph("intro", 400),
		"1.1 Background",
		paragraph("bg", 400),
		"2. Methods",
		paragraph("m", 400),
	}, "\n\n")

	chunks := New(WithTargetTokens(700), WithLogger(testLogger())).Chunk(newDoc(t, text))
	require.Len(t, chunks, 3)
	assertCoverage(t, text, chunks)

	assert.Equal(t, []string{"1. Introduction"}, chunks[0].SectionPath)
	assert.Equal(t, []string{"1. Introduction", "1.1 Background"}, chunks[1].SectionPath)
	assert.Equal(t, []string{"2. Methods"}, chunks[2].SectionPath)
	assert.True(t, strings.HasPrefix(chunks[2].Core(), "2. Methods"))
}

func TestChunkForceSplitsLongParagraph(t *testing.T) {
	t.Parallel()

	text := paragraph("w", 3000)
	chunks := New(WithTargetTokens(700), WithLogger(testLogger())).Chunk(newDoc(t, text))

	require.GreaterOrEqual(t, len(chunks), 4)
	assertCoverage(t, text, chunks)
	for _, ch := range chunks[:len(chunks)-1] {
		core := strings.TrimSpace(ch.Core())
		assert.True(t, strings.HasSuffix(core, "."), "cut must fall on a sentence boundary")
	}
}

func TestChunkKeepsLeadingHeadingWithBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		path  []string
		first string
	}{
		{
			name:  "heading before a long paragraph",
			text:  "# Title\n\n" + paragraph("w", 1000) + "\n\n" + paragraph("x", 300),
			path:  []string{"Title"},
			first: "# Title",
		},
		{
			name:  "stacked headings",
			text:  "# Part\n\n## Cells\n\n" + paragraph("w", 1000) + "\n\n" + paragraph("x", 300),
			path:  []string{"Part"},
			first: "# Part",
		},
		{
			name:  "short opening paragraph",
			text:  "A brief opening.\n\n" + paragraph("w", 1000) + "\n\n" + paragraph("x", 300),
			path:  []string{},
			first: "A brief opening.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			chunks := New(WithLogger(testLogger())).Chunk(newDoc(t, tt.text))
			require.Len(t, chunks, 2)
			assertCoverage(t, tt.text, chunks)

			assert.True(t, strings.HasPrefix(chunks[0].Core(), tt.first))
			assert.Contains(t, chunks[0].Core(), "w999")
			assert.Equal(t, tt.path, chunks[0].SectionPath)
			assert.Equal(t, DefaultOverlapTokens, len(strings.Fields(chunks[1].OverlapText())))
		})
	}
}

func TestChunkBoundsHeadedLongParagraph(t *testing.T) {
	t.Parallel()

	text := "# Cell biology\n\n" + paragraph("w", 1300) + "\n\n" + paragraph("x", 500)
	chunks := New(WithLogger(testLogger())).Chunk(newDoc(t, text))
	require.Greater(t, len(chunks), 1)
	assertCoverage(t, text, chunks)

	assert.Greater(t, chunks[0].TokenCount, 3, "the heading is not a chunk of its own")
	for i, ch := range chunks {
		assert.LessOrEqual(t, ch.TokenCount, MaxTargetTokens, "chunk %d", i)
		if i == 0 {
			continue
		}
		overlap := len(strings.Fields(ch.OverlapText()))
		assert.GreaterOrEqual(t, overlap, MinOverlapTokens, "chunk %d", i)
		assert.LessOrEqual(t, overlap, MaxOverlapTokens, "chunk %d", i)
	}
}

func TestChunkPages(t *testing.T) {
	t.Parallel()

	text := paragraph("a", 500) + "\n\f\n" + paragraph("b", 500) + "\n\f\n" + paragraph("c", 500)
	chunks := New(WithTargetTokens(700), WithLogger(testLogger())).Chunk(newDoc(t, text))

	require.Len(t, chunks, 3)
	assertCoverage(t, text, chunks)
	assert.Equal(t, 1, chunks[0].PageStart)
	assert.Equal(t, 1, chunks[0].PageEnd)
	assert.Equal(t, 1, chunks[1].PageStart, "overlap reaches back into page one")
	assert.Equal(t, 2, chunks[1].PageEnd)
	assert.Equal(t, 3, chunks[2].PageEnd)
}

func TestParseHeading(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line  string
		level int
		title string
	}{
		{"## Cell Biology", 2, "Cell Biology"},
		{"# Title #", 1, "Title"},
		{"2.3.1 Light Reactions", 3, "2.3.1 Light Reactions"},
		{"IV. Results", 1, "IV. Results"},
		{"Chapter 7: Genetics", 1, "Chapter 7: Genetics"},
		{"1. This is a list item that ends like a sentence.", 0, ""},
		{"Plain text line", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			h := parseHeading(tt.line)
			if tt.level == 0 {
				assert.Nil(t, h)
				return
			}
			require.NotNil(t, h)
			assert.Equal(t, tt.level, h.level)
			assert.Equal(t, tt.title, h.title)
		})
	}
}
