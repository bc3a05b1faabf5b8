// Package validator scores generated question drafts and decides whether
// they may be stored.
//
// A draft earns up to 40 points for structure, 20 for content quality and
// 40 for answerability, judged by a second model pass. It passes when the
// score reaches the threshold and no blocking issue was found. The issues
// are returned to the generator so a retry can fix them.
package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/generation"
	"github.com/phrazzld/questgen/internal/platform/logger"
	"github.com/phrazzld/questgen/internal/platform/metrics"
)

// Defaults
const (
	DefaultThreshold     = 70
	DefaultMaxStemLength = 500
)

const (
	structuralCheckPoints = 10 // four checks
	contentCheckPoints    = 4  // five checks
	answerabilityPoints   = 40
)

// Issue codes
const (
	IssueEmptyStem         = "empty_stem"
	IssueStemTooLong       = "stem_too_long"
	IssueOptionCount       = "option_count"
	IssueDuplicateOptions  = "duplicate_options"
	IssueMissingAnswer     = "missing_answer"
	IssueAnswerMismatch    = "answer_mismatch"
	IssueCatchAllOption    = "catch_all_option"
	IssueDoubleNegative    = "double_negative"
	IssueAbsoluteQualifier = "absolute_qualifier"
	IssueLoadedPhrasing    = "loaded_phrasing"
	IssueMissingCitation   = "missing_citation"
	IssueUnknownCitation   = "unknown_citation"
	IssueUnanswerable      = "unanswerable"
)

// Options configure the gate.
type Options struct {
	Threshold     int
	MaxStemLength int
}

// Target describes what the draft was supposed to be.
type Target struct {
	Type domain.QuestionType
	Spec domain.QuestionSpec
	// MaxStemLength overrides the validator default when positive.
	MaxStemLength int
}

// Result is the verdict on one draft.
type Result struct {
	Score   int                      `json:"score"`
	Issues  []domain.ValidationIssue `json:"issues,omitempty"`
	Pass    bool                     `json:"pass"`
	Verdict *generation.Verdict      `json:"verdict,omitempty"`
}

// Blocking reports whether any issue blocks the draft.
func (r Result) Blocking() bool {
	for _, i := range r.Issues {
		if i.Blocking {
			return true
		}
	}
	return false
}

// Validator is the quality gate.
type Validator struct {
	checker generation.AnswerabilityChecker
	opts    Options
	logger  *slog.Logger
}

// New creates a Validator.
func New(checker generation.AnswerabilityChecker, opts Options, log *slog.Logger) (*Validator, error) {
	if checker == nil {
		return nil, errors.New("answerability checker cannot be nil")
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MaxStemLength <= 0 {
		opts.MaxStemLength = DefaultMaxStemLength
	}
	if log == nil {
		log = slog.Default()
	}
	return &Validator{checker: checker, opts: opts, logger: log.With("component", "validator")}, nil
}

// Validate scores draft against target using the supplied context. The
// answerability pass is skipped when a blocking issue was already found.
// A checker failure is returned as an error, not as a low score.
func (v *Validator) Validate(ctx context.Context, target Target, draft *domain.Draft, contextChunks []*domain.Chunk) (Result, error) {
	if draft == nil {
		return Result{}, errors.New("draft cannot be nil")
	}
	maxStem := v.opts.MaxStemLength
	if target.MaxStemLength > 0 {
		maxStem = target.MaxStemLength
	}

	c := &collector{}
	structural(c, target, draft, maxStem)
	content(c, target, draft, contextChunks)

	res := Result{Score: c.score}
	if !c.blocking() {
		cited := citedChunks(draft, contextChunks)
		verdict, err := v.checker.CheckAnswerability(ctx, draft, cited)
		if err != nil {
			return Result{}, fmt.Errorf("answerability check: %w", err)
		}
		res.Verdict = &verdict
		if verdict.Answerable {
			res.Score += int(math.Round(answerabilityPoints * math.Min(math.Max(verdict.Confidence, 0), 1)))
		} else {
			msg := "the answer does not follow from the cited passages"
			if verdict.Reason != "" {
				msg += ": " + verdict.Reason
			}
			c.add(IssueUnanswerable, msg, true)
		}
	}

	res.Issues = c.issues
	res.Pass = res.Score >= v.opts.Threshold && !res.Blocking()
	metrics.ValidationScores.Observe(float64(res.Score))

	logger.FromContextOrDefault(ctx, v.logger).DebugContext(ctx, "draft validated",
		"score", res.Score,
		"pass", res.Pass,
		"issues", len(res.Issues))
	return res, nil
}

type collector struct {
	score  int
	issues []domain.ValidationIssue
}

func (c *collector) add(code, msg string, blocking bool) {
	c.issues = append(c.issues, domain.ValidationIssue{Code: code, Message: msg, Blocking: blocking})
}

func (c *collector) blocking() bool {
	for _, i := range c.issues {
		if i.Blocking {
			return true
		}
	}
	return false
}

func structural(c *collector, target Target, d *domain.Draft, maxStem int) {
	stem := strings.TrimSpace(d.Stem)
	switch {
	case stem == "":
		c.add(IssueEmptyStem, "the stem is empty", true)
	case len([]rune(stem)) > maxStem:
		c.add(IssueStemTooLong, fmt.Sprintf("the stem has %d characters, the limit is %d", len([]rune(stem)), maxStem), true)
	default:
		c.score += structuralCheckPoints
	}

	options := trimmed(d.Options)
	if want, ok := expectedOptions(target, len(options)); ok {
		c.score += structuralCheckPoints
	} else {
		c.add(IssueOptionCount, fmt.Sprintf("%s needs %s, got %d", target.Type, want, len(options)), true)
	}

	if dup := firstDuplicate(options); dup != "" {
		c.add(IssueDuplicateOptions, fmt.Sprintf("option %q appears more than once", dup), true)
	} else {
		c.score += structuralCheckPoints
	}

	answer := strings.TrimSpace(d.Answer)
	switch {
	case answer == "":
		c.add(IssueMissingAnswer, "the answer is empty", true)
	case !answerConsistent(target.Type, answer, options):
		c.add(IssueAnswerMismatch, answerHint(target.Type), true)
	default:
		c.score += structuralCheckPoints
	}
}

// expectedOptions reports whether n options fit the target and describes
// what would.
func expectedOptions(target Target, n int) (string, bool) {
	switch target.Type {
	case domain.QuestionTypeMCQ:
		want := 4
		if s, ok := target.Spec.(domain.MCQSpec); ok && s.OptionCount > 0 {
			want = s.OptionCount
		}
		return fmt.Sprintf("exactly %d options", want), n == want
	case domain.QuestionTypeTrueFalse:
		return "no options or exactly 2", n == 0 || n == 2
	default:
		return "no options", n == 0
	}
}

func answerConsistent(t domain.QuestionType, answer string, options []string) bool {
	switch t {
	case domain.QuestionTypeMCQ:
		norm := normalize(answer)
		for _, o := range options {
			if normalize(o) == norm {
				return true
			}
		}
		idx, ok := letterIndex(answer)
		return ok && idx < len(options)
	case domain.QuestionTypeTrueFalse:
		switch normalize(answer) {
		case "true", "false":
			return true
		}
		return false
	}
	return true
}

func answerHint(t domain.QuestionType) string {
	switch t {
	case domain.QuestionTypeMCQ:
		return "the answer must repeat one of the options or name its letter"
	case domain.QuestionTypeTrueFalse:
		return `the answer must be "true" or "false"`
	}
	return "the answer is inconsistent with the question"
}

var letterAnswer = regexp.MustCompile(`^\(?([a-zA-Z])[\).:]?$`)

func letterIndex(answer string) (int, bool) {
	m := letterAnswer.FindStringSubmatch(strings.TrimSpace(answer))
	if m == nil {
		return 0, false
	}
	return int(strings.ToLower(m[1])[0] - 'a'), true
}

var (
	catchAll       = regexp.MustCompile(`(?i)\b(all|none|both|neither) of (the|these) (above|options)\b`)
	negation       = regexp.MustCompile(`(?i)\b(not|no|never|none|neither|nor|cannot|without)\b|n't\b`)
	absolute       = regexp.MustCompile(`(?i)\b(always|never|all|none|every|only|completely|entirely|impossible)\b`)
	loadedPhrasing = regexp.MustCompile(`(?i)\b(obviously|clearly|of course|everyone knows|as we all know|undeniably|it is common sense)\b`)
)

func content(c *collector, target Target, d *domain.Draft, contextChunks []*domain.Chunk) {
	catchAllFound := catchAll.MatchString(d.Stem)
	for _, o := range d.Options {
		if catchAll.MatchString(o) {
			catchAllFound = true
		}
	}
	if catchAllFound {
		c.add(IssueCatchAllOption, `do not use "all of the above" or "none of the above"`, false)
	} else {
		c.score += contentCheckPoints
	}

	if len(negation.FindAllString(d.Stem, -1)) >= 2 {
		c.add(IssueDoubleNegative, "the stem contains a double negative", false)
	} else {
		c.score += contentCheckPoints
	}

	if target.Type == domain.QuestionTypeTrueFalse && absolute.MatchString(d.Stem) {
		c.add(IssueAbsoluteQualifier, "true/false statements must avoid absolute qualifiers", false)
	} else {
		c.score += contentCheckPoints
	}

	if m := loadedPhrasing.FindString(d.Stem + " " + strings.Join(d.Options, " ")); m != "" {
		c.add(IssueLoadedPhrasing, fmt.Sprintf("remove the loaded phrase %q", m), false)
	} else {
		c.score += contentCheckPoints
	}

	known := make(map[uuid.UUID]bool, len(contextChunks))
	for _, ch := range contextChunks {
		known[ch.ID] = true
	}
	switch {
	case len(d.CitedChunkIDs) == 0:
		c.add(IssueMissingCitation, "cite at least one supplied passage", true)
	default:
		for _, id := range d.CitedChunkIDs {
			if !known[id] {
				c.add(IssueUnknownCitation, fmt.Sprintf("cited passage %s was not supplied", id), true)
				return
			}
		}
		c.score += contentCheckPoints
	}
}

// citedChunks returns the context chunks the draft cites, or the whole
// context when it cites none of them.
func citedChunks(d *domain.Draft, contextChunks []*domain.Chunk) []*domain.Chunk {
	want := make(map[uuid.UUID]bool, len(d.CitedChunkIDs))
	for _, id := range d.CitedChunkIDs {
		want[id] = true
	}
	var out []*domain.Chunk
	for _, c := range contextChunks {
		if want[c.ID] {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return contextChunks
	}
	return out
}

func trimmed(options []string) []string {
	out := make([]string, 0, len(options))
	for _, o := range options {
		if s := strings.TrimSpace(o); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstDuplicate(options []string) string {
	seen := make(map[string]bool, len(options))
	for _, o := range options {
		n := normalize(o)
		if seen[n] {
			return o
		}
		seen[n] = true
	}
	return ""
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimRight(strings.TrimSpace(s), "."))), " ")
}
