// Package chunker splits document text into bounded, overlapping chunks that
// follow the document's structure.
package chunker

import (
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/config"
	"github.com/phrazzld/questgen/internal/domain"
)

// Token bounds. Sizes outside these ranges are clamped.
const (
	DefaultTargetTokens     = 900
	MinTargetTokens         = 700
	MaxTargetTokens         = 1200
	DefaultOverlapTokens    = 100
	MinOverlapTokens        = 80
	MaxOverlapTokens        = 120
	DefaultForceSplitFactor = 1.5
)

// Chunker splits documents on headings, paragraphs and sentences. Tokens
// are whitespace-delimited words.
type Chunker struct {
	target      int
	overlap     int
	forceFactor float64
	logger      *slog.Logger
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithTargetTokens sets the target chunk size.
func WithTargetTokens(n int) Option {
	return func(c *Chunker) { c.target = n }
}

// WithOverlapTokens sets how many trailing words of a chunk open the next.
func WithOverlapTokens(n int) Option {
	return func(c *Chunker) { c.overlap = n }
}

// WithForceSplitFactor sets the multiple of the target above which a
// paragraph is split at sentence boundaries.
func WithForceSplitFactor(f float64) Option {
	return func(c *Chunker) { c.forceFactor = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Chunker) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Chunker. Out-of-range sizes are clamped.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		target:      DefaultTargetTokens,
		overlap:     DefaultOverlapTokens,
		forceFactor: DefaultForceSplitFactor,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.target = clamp(c.target, MinTargetTokens, MaxTargetTokens)
	c.overlap = clamp(c.overlap, MinOverlapTokens, MaxOverlapTokens)
	if c.forceFactor < 1 {
		c.forceFactor = DefaultForceSplitFactor
	}
	c.logger = c.logger.With(slog.String("component", "chunker"))
	return c
}

// NewFromConfig creates a Chunker from the chunker configuration section.
func NewFromConfig(cfg config.ChunkerConfig, logger *slog.Logger) *Chunker {
	return New(
		WithTargetTokens(cfg.TargetTokens),
		WithOverlapTokens(cfg.OverlapTokens),
		WithForceSplitFactor(cfg.ForceSplitFactor),
		WithLogger(logger),
	)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// Chunk splits doc into index-ordered chunks. Empty or whitespace-only text
// yields no chunks and a warning.
//
// Chunk cores (content minus overlap) partition the text: concatenated in
// order they reproduce it byte for byte.
func (c *Chunker) Chunk(doc *domain.Document) []*domain.Chunk {
	text := doc.Text
	units := splitOversized(text, blocks(text), c.splitLimit(), c.target)
	if len(units) == 0 {
		c.logger.Warn("document has no content to chunk",
			slog.String("document_id", doc.ID.String()),
			slog.Int("bytes", len(text)))
		return nil
	}

	firstUnits := c.pack(units)
	paths := sectionPaths(units)

	var allWords []span
	for _, u := range units {
		allWords = append(allWords, u.words...)
	}
	pages := formFeeds(text)
	now := time.Now().UTC()

	chunks := make([]*domain.Chunk, len(firstUnits))
	for i, first := range firstUnits {
		coreStart := 0
		if i > 0 {
			coreStart = units[first].start
		}
		coreEnd, last := len(text), len(units)-1
		if i+1 < len(firstUnits) {
			coreEnd = units[firstUnits[i+1]].start
			last = firstUnits[i+1] - 1
		}

		start := coreStart
		if i > 0 {
			start = c.overlapStart(allWords, chunks[i-1].Start, coreStart)
		}
		content := text[start:coreEnd]

		chunks[i] = &domain.Chunk{
			ID:          uuid.New(),
			DocumentID:  doc.ID,
			Index:       i,
			Content:     content,
			ContentHash: domain.ContentHash(content),
			TokenCount:  len(strings.Fields(content)),
			SectionPath: slices.Clone(paths[first]),
			PageStart:   pageAt(pages, start),
			PageEnd:     pageAt(pages, units[last].end-1),
			Start:       start,
			End:         coreEnd,
			Overlap:     coreStart - start,
			CreatedAt:   now,
		}
	}

	c.logger.Debug("document chunked",
		slog.String("document_id", doc.ID.String()),
		slog.Int("chunks", len(chunks)),
		slog.Int("words", len(allWords)))
	return chunks
}

// splitLimit is the paragraph size above which a paragraph is split at
// sentences: the force split factor times the target, but never so large
// that the paragraph and a full overlap exceed MaxTargetTokens.
func (c *Chunker) splitLimit() int {
	return min(int(float64(c.target)*c.forceFactor), MaxTargetTokens-c.overlap)
}

// pack greedily assigns units to chunks and returns the index of each
// chunk's first unit. A chunk is closed before a unit that would push it
// past the target, or before a heading once it holds half the target. A
// chunk holding only headings, or fewer words than the overlap, is never
// closed: its successor could not repeat a full overlap from it.
func (c *Chunker) pack(units []unit) []int {
	firsts := []int{0}
	words, body := 0, false
	for i, u := range units {
		if body && words >= c.overlap {
			atHeading := u.heading != nil && words >= c.target/2
			if atHeading || words+len(u.words) > c.target {
				firsts = append(firsts, i)
				words, body = 0, false
			}
		}
		words += len(u.words)
		if u.heading == nil {
			body = true
		}
	}
	return firsts
}

// overlapStart finds where the overlap of a chunk whose core begins at
// coreStart starts: the last c.overlap words before it, never reaching
// before the predecessor's start.
func (c *Chunker) overlapStart(words []span, prevStart, coreStart int) int {
	firstCore := sort.Search(len(words), func(i int) bool { return words[i].start >= coreStart })
	lowest := sort.Search(len(words), func(i int) bool { return words[i].start >= prevStart })
	from := max(firstCore-c.overlap, lowest)
	if from >= firstCore {
		return coreStart
	}
	return words[from].start
}

// sectionPaths returns, for every unit, the heading path in effect once the
// unit has been read.
func sectionPaths(units []unit) [][]string {
	type entry struct {
		level int
		title string
	}
	var stack []entry
	paths := make([][]string, len(units))
	for i, u := range units {
		if h := u.heading; h != nil {
			for len(stack) > 0 && stack[len(stack)-1].level >= h.level {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, entry{h.level, h.title})
		}
		path := make([]string, len(stack))
		for j, e := range stack {
			path[j] = e.title
		}
		paths[i] = path
	}
	return paths
}

// formFeeds returns the offsets of page breaks.
func formFeeds(text string) []int {
	var out []int
	for i := 0; i < len(text); i++ {
		if text[i] == '\f' {
			out = append(out, i)
		}
	}
	return out
}

// pageAt returns the 1-based page holding byte offset.
func pageAt(feeds []int, offset int) int {
	return 1 + sort.SearchInts(feeds, offset)
}
