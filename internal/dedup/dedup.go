// Package dedup detects near-duplicate questions within a plan.
//
// Detection runs in two stages. A cheap lexical pass compares the stems'
// content words with the Dice coefficient; stems that clear it are
// confirmed by the cosine similarity of their embeddings. Exact matches
// after normalization skip the second stage.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/generation"
	"github.com/phrazzld/questgen/internal/platform/logger"
	"github.com/phrazzld/questgen/internal/platform/metrics"
	"github.com/phrazzld/questgen/internal/retrieval"
)

// Defaults
const (
	DefaultLexicalThreshold  = 0.85
	DefaultSemanticThreshold = 0.92
)

// Stages reported on a Result and on the duplicates metric.
const (
	StageExact    = "exact"
	StageLexical  = "lexical"
	StageSemantic = "semantic"
)

// Options configure the thresholds.
type Options struct {
	LexicalThreshold  float64
	SemanticThreshold float64
	// CrossType compares against questions of every type, not only the
	// candidate's own.
	CrossType bool
}

// Candidate is the draft under test.
type Candidate struct {
	Type domain.QuestionType
	Stem string
}

// Result of a duplicate check.
type Result struct {
	IsDuplicate bool
	MatchedID   uuid.UUID
	Confidence  float64
	Stage       string
}

// Deduplicator checks candidates against questions already stored.
type Deduplicator struct {
	embedder generation.Embedder
	opts     Options
	logger   *slog.Logger
}

// New creates a Deduplicator. A nil embedder makes the lexical stage final.
func New(embedder generation.Embedder, opts Options, log *slog.Logger) *Deduplicator {
	if opts.LexicalThreshold <= 0 {
		opts.LexicalThreshold = DefaultLexicalThreshold
	}
	if opts.SemanticThreshold <= 0 {
		opts.SemanticThreshold = DefaultSemanticThreshold
	}
	if log == nil {
		log = slog.Default()
	}
	return &Deduplicator{embedder: embedder, opts: opts, logger: log.With("component", "dedup")}
}

// CheckDuplicate compares candidate with existing and returns the
// strongest confirmed match. Embedding errors are returned; the caller
// decides whether they are worth a retry.
func (d *Deduplicator) CheckDuplicate(ctx context.Context, candidate Candidate, existing []*domain.QuestionItem) (Result, error) {
	words := contentWords(candidate.Stem)
	if len(words) == 0 {
		return Result{}, errors.New("candidate stem has no content words")
	}
	key := strings.Join(words, " ")

	var survivors []match
	for _, q := range existing {
		if q == nil || (!d.opts.CrossType && q.Type != candidate.Type) {
			continue
		}
		other := contentWords(q.Stem)
		if strings.Join(other, " ") == key {
			return d.found(ctx, Result{IsDuplicate: true, MatchedID: q.ID, Confidence: 1, Stage: StageExact}), nil
		}
		if score := dice(words, other); score >= d.opts.LexicalThreshold {
			survivors = append(survivors, match{question: q, lexical: score})
		}
	}
	if len(survivors) == 0 {
		return Result{}, nil
	}

	if d.embedder == nil {
		best := survivors[0]
		for _, s := range survivors[1:] {
			if s.lexical > best.lexical {
				best = s
			}
		}
		return d.found(ctx, Result{IsDuplicate: true, MatchedID: best.question.ID, Confidence: best.lexical, Stage: StageLexical}), nil
	}

	vec, err := d.embedder.Embed(ctx, candidate.Stem)
	if err != nil {
		return Result{}, fmt.Errorf("embed candidate: %w", err)
	}
	best := Result{}
	for _, s := range survivors {
		other, err := d.embedder.Embed(ctx, s.question.Stem)
		if err != nil {
			return Result{}, fmt.Errorf("embed question %s: %w", s.question.ID, err)
		}
		sim := retrieval.Cosine(vec, other)
		if sim >= d.opts.SemanticThreshold && sim > best.Confidence {
			best = Result{IsDuplicate: true, MatchedID: s.question.ID, Confidence: sim, Stage: StageSemantic}
		}
	}
	if best.IsDuplicate {
		return d.found(ctx, best), nil
	}
	return Result{}, nil
}

type match struct {
	question *domain.QuestionItem
	lexical  float64
}

func (d *Deduplicator) found(ctx context.Context, r Result) Result {
	metrics.Duplicates.WithLabelValues(r.Stage).Inc()
	logger.FromContextOrDefault(ctx, d.logger).InfoContext(ctx, "duplicate question detected",
		"matched_id", r.MatchedID,
		"stage", r.Stage,
		"confidence", r.Confidence)
	return r
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "to": true, "in": true, "on": true,
	"and": true, "or": true, "is": true, "are": true, "was": true, "were": true, "be": true,
	"by": true, "for": true, "with": true, "as": true, "at": true, "from": true, "that": true,
	"this": true, "these": true, "those": true, "it": true, "its": true, "which": true,
	"what": true, "who": true, "whom": true, "does": true, "do": true, "did": true,
	"how": true, "why": true, "when": true, "where": true, "following": true,
}

// contentWords lowercases s, strips punctuation and drops stopwords.
// Order is preserved so the joined form can serve as an exact-match key.
func contentWords(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

// dice is 2|A∩B| / (|A|+|B|) over the word sets.
func dice(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA)+len(setB) == 0 {
		return 0
	}
	shared := 0
	for w := range setA {
		if setB[w] {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(setA)+len(setB))
}

func toSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
