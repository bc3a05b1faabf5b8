package validator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	verdict generation.Verdict
	err     error
	calls   int
	got     []*domain.Chunk
}

func (f *fakeChecker) CheckAnswerability(_ context.Context, _ *domain.Draft, chunks []*domain.Chunk) (generation.Verdict, error) {
	f.calls++
	f.got = chunks
	return f.verdict, f.err
}

func newValidator(t *testing.T, checker *fakeChecker) *Validator {
	t.Helper()
	v, err := New(checker, Options{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return v
}

func chunks(n int) []*domain.Chunk {
	out := make([]*domain.Chunk, n)
	for i := range out {
		out[i] = &domain.Chunk{ID: uuid.New(), Index: i, Content: "Chlorophyll absorbs red and blue light."}
	}
	return out
}

func mcqTarget() Target {
	return Target{Type: domain.QuestionTypeMCQ, Spec: domain.MCQSpec{OptionCount: 4}}
}

func goodMCQ(cited ...*domain.Chunk) *domain.Draft {
	d := &domain.Draft{
		Stem:    "Which pigment absorbs red and blue light?",
		Options: []string{"Chlorophyll", "Carotene", "Xanthophyll", "Melanin"},
		Answer:  "Chlorophyll",
	}
	for _, c := range cited {
		d.CitedChunkIDs = append(d.CitedChunkIDs, c.ID)
	}
	return d
}

func codes(r Result) []string {
	var out []string
	for _, i := range r.Issues {
		out = append(out, i.Code)
	}
	return out
}

func TestValidatePerfectDraft(t *testing.T) {
	checker := &fakeChecker{verdict: generation.Verdict{Answerable: true, Confidence: 1}}
	v := newValidator(t, checker)
	ctxChunks := chunks(3)

	res, err := v.Validate(context.Background(), mcqTarget(), goodMCQ(ctxChunks[1]), ctxChunks)
	require.NoError(t, err)
	assert.Equal(t, 100, res.Score)
	assert.True(t, res.Pass)
	assert.Empty(t, res.Issues)
	require.Len(t, checker.got, 1, "only the cited chunk is checked")
	assert.Equal(t, ctxChunks[1].ID, checker.got[0].ID)
}

func TestValidateAnswerabilityScales(t *testing.T) {
	ctxChunks := chunks(1)

	tests := []struct {
		name    string
		verdict generation.Verdict
		score   int
		pass    bool
	}{
		{name: "confident", verdict: generation.Verdict{Answerable: true, Confidence: 0.9}, score: 96, pass: true},
		{name: "borderline", verdict: generation.Verdict{Answerable: true, Confidence: 0.25}, score: 70, pass: true},
		{name: "weak", verdict: generation.Verdict{Answerable: true, Confidence: 0.2}, score: 68, pass: false},
		{name: "unanswerable", verdict: generation.Verdict{Answerable: false, Confidence: 0.9, Reason: "not in text"}, score: 60, pass: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newValidator(t, &fakeChecker{verdict: tt.verdict})
			res, err := v.Validate(context.Background(), mcqTarget(), goodMCQ(ctxChunks[0]), ctxChunks)
			require.NoError(t, err)
			assert.Equal(t, tt.score, res.Score)
			assert.Equal(t, tt.pass, res.Pass)
		})
	}
}

func TestValidateStructuralIssues(t *testing.T) {
	ctxChunks := chunks(1)
	cite := []uuid.UUID{ctxChunks[0].ID}

	tests := []struct {
		name   string
		target Target
		draft  *domain.Draft
		code   string
	}{
		{
			name:   "empty stem",
			target: mcqTarget(),
			draft:  &domain.Draft{Stem: "  ", Options: []string{"a", "b", "c", "d"}, Answer: "a", CitedChunkIDs: cite},
			code:   IssueEmptyStem,
		},
		{
			name:   "stem too long",
			target: Target{Type: domain.QuestionTypeShortAnswer, MaxStemLength: 10},
			draft:  &domain.Draft{Stem: "What does chlorophyll absorb?", Answer: "Light", CitedChunkIDs: cite},
			code:   IssueStemTooLong,
		},
		{
			name:   "three options for mcq",
			target: mcqTarget(),
			draft:  &domain.Draft{Stem: "Which pigment?", Options: []string{"a", "b", "c"}, Answer: "a", CitedChunkIDs: cite},
			code:   IssueOptionCount,
		},
		{
			name:   "options on an essay",
			target: Target{Type: domain.QuestionTypeEssay},
			draft:  &domain.Draft{Stem: "Discuss photosynthesis.", Options: []string{"x"}, Answer: "outline", CitedChunkIDs: cite},
			code:   IssueOptionCount,
		},
		{
			name:   "repeated option",
			target: mcqTarget(),
			draft:  &domain.Draft{Stem: "Which pigment?", Options: []string{"Chlorophyll", "chlorophyll.", "b", "c"}, Answer: "b", CitedChunkIDs: cite},
			code:   IssueDuplicateOptions,
		},
		{
			name:   "answer not among options",
			target: mcqTarget(),
			draft:  &domain.Draft{Stem: "Which pigment?", Options: []string{"a", "b", "c", "d"}, Answer: "Heme", CitedChunkIDs: cite},
			code:   IssueAnswerMismatch,
		},
		{
			name:   "true false answer",
			target: Target{Type: domain.QuestionTypeTrueFalse},
			draft:  &domain.Draft{Stem: "Chlorophyll absorbs green light.", Answer: "maybe", CitedChunkIDs: cite},
			code:   IssueAnswerMismatch,
		},
		{
			name:   "missing answer",
			target: Target{Type: domain.QuestionTypeShortAnswer},
			draft:  &domain.Draft{Stem: "Name the pigment.", CitedChunkIDs: cite},
			code:   IssueMissingAnswer,
		},
		{
			name:   "no citation",
			target: Target{Type: domain.QuestionTypeShortAnswer},
			draft:  &domain.Draft{Stem: "Name the pigment.", Answer: "Chlorophyll"},
			code:   IssueMissingCitation,
		},
		{
			name:   "citation outside context",
			target: Target{Type: domain.QuestionTypeShortAnswer},
			draft:  &domain.Draft{Stem: "Name the pigment.", Answer: "Chlorophyll", CitedChunkIDs: []uuid.UUID{uuid.New()}},
			code:   IssueUnknownCitation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &fakeChecker{verdict: generation.Verdict{Answerable: true, Confidence: 1}}
			v := newValidator(t, checker)
			res, err := v.Validate(context.Background(), tt.target, tt.draft, ctxChunks)
			require.NoError(t, err)
			assert.Contains(t, codes(res), tt.code)
			assert.False(t, res.Pass)
			assert.True(t, res.Blocking())
			assert.Zero(t, checker.calls, "blocked drafts skip the answerability pass")
		})
	}
}

func TestValidateAcceptsLetterAnswers(t *testing.T) {
	ctxChunks := chunks(1)
	v := newValidator(t, &fakeChecker{verdict: generation.Verdict{Answerable: true, Confidence: 1}})
	for _, answer := range []string{"A", "(b)", "c.", "D)"} {
		d := goodMCQ(ctxChunks[0])
		d.Answer = answer
		res, err := v.Validate(context.Background(), mcqTarget(), d, ctxChunks)
		require.NoError(t, err)
		assert.True(t, res.Pass, answer)
	}

	d := goodMCQ(ctxChunks[0])
	d.Answer = "E"
	res, err := v.Validate(context.Background(), mcqTarget(), d, ctxChunks)
	require.NoError(t, err)
	assert.Contains(t, codes(res), IssueAnswerMismatch)
}

func TestValidateContentQuality(t *testing.T) {
	ctxChunks := chunks(1)
	cite := []uuid.UUID{ctxChunks[0].ID}

	tests := []struct {
		name   string
		target Target
		draft  *domain.Draft
		code   string
	}{
		{
			name:   "none of the above",
			target: mcqTarget(),
			draft: &domain.Draft{Stem: "Which pigment absorbs light?",
				Options: []string{"Chlorophyll", "Carotene", "Melanin", "None of the above"}, Answer: "Chlorophyll", CitedChunkIDs: cite},
			code: IssueCatchAllOption,
		},
		{
			name:   "double negative",
			target: Target{Type: domain.QuestionTypeShortAnswer},
			draft:  &domain.Draft{Stem: "Which pigment is not unable to absorb no light?", Answer: "Chlorophyll", CitedChunkIDs: cite},
			code:   IssueDoubleNegative,
		},
		{
			name:   "absolute qualifier",
			target: Target{Type: domain.QuestionTypeTrueFalse},
			draft:  &domain.Draft{Stem: "Chlorophyll always absorbs green light.", Answer: "false", CitedChunkIDs: cite},
			code:   IssueAbsoluteQualifier,
		},
		{
			name:   "loaded phrasing",
			target: Target{Type: domain.QuestionTypeShortAnswer},
			draft:  &domain.Draft{Stem: "Obviously, which pigment absorbs light?", Answer: "Chlorophyll", CitedChunkIDs: cite},
			code:   IssueLoadedPhrasing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newValidator(t, &fakeChecker{verdict: generation.Verdict{Answerable: true, Confidence: 1}})
			res, err := v.Validate(context.Background(), tt.target, tt.draft, ctxChunks)
			require.NoError(t, err)
			assert.Equal(t, []string{tt.code}, codes(res))
			assert.Equal(t, 96, res.Score)
			assert.True(t, res.Pass, "content issues cost points but do not block")
		})
	}
}

func TestValidateReturnsCheckerErrors(t *testing.T) {
	ctxChunks := chunks(1)
	v := newValidator(t, &fakeChecker{err: generation.ErrTransientFailure})
	_, err := v.Validate(context.Background(), mcqTarget(), goodMCQ(ctxChunks[0]), ctxChunks)
	require.Error(t, err)
	assert.True(t, errors.Is(err, generation.ErrTransientFailure))
	assert.True(t, generation.IsTransient(err))
}
