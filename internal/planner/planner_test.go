package planner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/generation"
	"github.com/phrazzld/questgen/internal/retrieval"
	"github.com/phrazzld/questgen/internal/store"
	"github.com/phrazzld/questgen/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdvisor struct {
	analyze func(excerpt string) (generation.DocumentAnalysis, error)
	propose func(req generation.DistributionRequest) (json.RawMessage, error)
}

func (f *fakeAdvisor) AnalyzeDocument(_ context.Context, excerpt string) (generation.DocumentAnalysis, error) {
	if f.analyze == nil {
		return generation.DocumentAnalysis{Topics: []string{"cells"}, Difficulty: domain.DifficultyHard}, nil
	}
	return f.analyze(excerpt)
}

func (f *fakeAdvisor) ProposeDistribution(_ context.Context, req generation.DistributionRequest) (json.RawMessage, error) {
	return f.propose(req)
}

type fakeSearcher struct {
	hits map[string]*domain.Chunk
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ int, _ retrieval.Filter) ([]domain.RankedChunk, error) {
	if c, ok := f.hits[query]; ok {
		return []domain.RankedChunk{{Chunk: c, Score: 0.9}}, nil
	}
	return nil, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []*domain.ProgressEvent
}

func (r *recordingEmitter) Emit(_ context.Context, e *domain.ProgressEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

type fixture struct {
	stores  store.Stores
	doc     *domain.Document
	chunks  []*domain.Chunk
	advisor *fakeAdvisor
	search  *fakeSearcher
	events  *recordingEmitter
	planner *Planner
}

func newFixture(t *testing.T, chunkTexts ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	db := memstore.New()
	s := db.Stores()

	doc, err := domain.NewDocument(uuid.Nil, "text", nil)
	require.NoError(t, err)
	var chunks []*domain.Chunk
	for i, text := range chunkTexts {
		chunks = append(chunks, &domain.Chunk{
			ID: uuid.New(), DocumentID: doc.ID, Index: i, Content: text, TokenCount: 1, Embedding: []float32{1},
		})
	}
	require.NoError(t, s.Documents.Create(ctx, doc))
	if len(chunks) > 0 {
		require.NoError(t, s.Chunks.CreateMultiple(ctx, doc.ID, chunks))
	}
	doc.MarkReady(len(chunks))
	require.NoError(t, s.Documents.Update(ctx, doc))

	f := &fixture{
		stores:  s,
		doc:     doc,
		chunks:  chunks,
		advisor: &fakeAdvisor{},
		search:  &fakeSearcher{hits: map[string]*domain.Chunk{}},
		events:  &recordingEmitter{},
	}
	f.planner, err = New(s.Documents, s.Chunks, s.Plans, f.advisor, f.search, f.events,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return f
}

func TestCreatePlanUsesProposal(t *testing.T) {
	f := newFixture(t, "one", "two", "three", "four", "five")
	f.search.hits["enzymes"] = f.chunks[4]

	var excerpt string
	f.advisor.analyze = func(e string) (generation.DocumentAnalysis, error) {
		excerpt = e
		return generation.DocumentAnalysis{Topics: []string{"cells"}, Difficulty: domain.DifficultyHard}, nil
	}
	f.advisor.propose = func(req generation.DistributionRequest) (json.RawMessage, error) {
		assert.Equal(t, domain.DifficultyHard, req.Analysis.Difficulty)
		return json.RawMessage(`[{"type":"mcq","difficulty":"easy","count":6},{"type":"essay","difficulty":"hard","count":4}]`), nil
	}

	plan, err := f.planner.CreatePlan(context.Background(), f.doc.ID, Request{
		Total:       10,
		Types:       []domain.QuestionType{domain.QuestionTypeMCQ, domain.QuestionTypeEssay, domain.QuestionTypeMCQ},
		Constraints: domain.PlanConstraints{Topics: []string{"enzymes"}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusReady, plan.Status)
	assert.Equal(t, []string{"cells"}, plan.Topics)
	assert.Empty(t, plan.Diagnostics)
	assert.Equal(t, []domain.DistributionEntry{
		{Type: domain.QuestionTypeMCQ, Difficulty: domain.DifficultyEasy, Count: 6},
		{Type: domain.QuestionTypeEssay, Difficulty: domain.DifficultyHard, Count: 4},
	}, plan.Distribution)
	assert.Equal(t, "one\n\ntwo\n\nthree\n\nfive", excerpt, "lead chunks plus the topic hit")

	stored, err := f.stores.Plans.GetByID(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.NoError(t, stored.CheckConservation())

	require.Len(t, f.events.events, 1)
	assert.Equal(t, domain.EventPlanCreated, f.events.events[0].Type)
}

func TestCreatePlanRepairsMalformedProposals(t *testing.T) {
	tests := []struct {
		name     string
		proposal string
		err      error
	}{
		{"garbage", "sure! here is a plan", nil},
		{"wrong sum", `[{"type":"mcq","count":1},{"type":"true_false","count":1}]`, nil},
		{"unrequested types only", `[{"type":"essay","count":7}]`, nil},
		{"advisor error", "", errors.New("boom")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, "a chunk")
			f.advisor.analyze = func(string) (generation.DocumentAnalysis, error) {
				return generation.DocumentAnalysis{}, errors.New("analysis down")
			}
			f.advisor.propose = func(generation.DistributionRequest) (json.RawMessage, error) {
				return json.RawMessage(tc.proposal), tc.err
			}
			plan, err := f.planner.CreatePlan(context.Background(), f.doc.ID, Request{
				Total: 7,
				Types: []domain.QuestionType{domain.QuestionTypeMCQ, domain.QuestionTypeTrueFalse},
			})
			require.NoError(t, err)
			assert.Equal(t, 7, domain.DistributionTotal(plan.Distribution))
			assert.NotEmpty(t, plan.Diagnostics)
			for _, e := range plan.Distribution {
				assert.Contains(t, []domain.QuestionType{domain.QuestionTypeMCQ, domain.QuestionTypeTrueFalse}, e.Type)
				assert.Equal(t, domain.DifficultyMedium, e.Difficulty)
			}
		})
	}
}

func TestCreatePlanRejects(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, "chunk")
	_, err := f.planner.CreatePlan(ctx, f.doc.ID, Request{Total: 0, Types: []domain.QuestionType{domain.QuestionTypeMCQ}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = f.planner.CreatePlan(ctx, f.doc.ID, Request{Total: 3})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = f.planner.CreatePlan(ctx, f.doc.ID, Request{Total: 3, Types: []domain.QuestionType{"riddle"}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = f.planner.CreatePlan(ctx, uuid.New(), Request{Total: 3, Types: []domain.QuestionType{domain.QuestionTypeMCQ}})
	assert.ErrorIs(t, err, store.ErrNotFound)

	empty := newFixture(t)
	_, err = empty.planner.CreatePlan(ctx, empty.doc.ID, Request{Total: 3, Types: []domain.QuestionType{domain.QuestionTypeMCQ}})
	assert.ErrorIs(t, err, ErrNoChunks)

	f.doc.MarkFailed("no content")
	require.NoError(t, f.stores.Documents.Update(ctx, f.doc))
	_, err = f.planner.CreatePlan(ctx, f.doc.ID, Request{Total: 3, Types: []domain.QuestionType{domain.QuestionTypeMCQ}})
	assert.ErrorIs(t, err, ErrDocumentNotReady)
}

func TestRescaleLargestRemainder(t *testing.T) {
	dist := []domain.DistributionEntry{
		{Type: domain.QuestionTypeMCQ, Difficulty: domain.DifficultyEasy, Count: 1},
		{Type: domain.QuestionTypeTrueFalse, Difficulty: domain.DifficultyEasy, Count: 1},
		{Type: domain.QuestionTypeEssay, Difficulty: domain.DifficultyEasy, Count: 1},
	}
	got := Rescale(dist, 10)
	counts := []int{got[0].Count, got[1].Count, got[2].Count}
	assert.Equal(t, []int{4, 3, 3}, counts, "ties go to the earlier entry")

	got = Rescale([]domain.DistributionEntry{
		{Type: domain.QuestionTypeMCQ, Difficulty: domain.DifficultyEasy, Count: 90},
		{Type: domain.QuestionTypeEssay, Difficulty: domain.DifficultyEasy, Count: 10},
	}, 3)
	require.Len(t, got, 1, "entries scaled to zero are removed")
	assert.Equal(t, 3, got[0].Count)
}

func TestRescaleLargeCounts(t *testing.T) {
	got := Rescale([]domain.DistributionEntry{
		{Type: domain.QuestionTypeMCQ, Difficulty: domain.DifficultyEasy, Count: 1 << 62},
		{Type: domain.QuestionTypeTrueFalse, Difficulty: domain.DifficultyHard, Count: 3},
	}, 10)
	require.Len(t, got, 1)
	assert.Equal(t, 10, got[0].Count)

	assert.Nil(t, Rescale([]domain.DistributionEntry{
		{Type: domain.QuestionTypeMCQ, Difficulty: domain.DifficultyEasy, Count: math.MaxInt},
		{Type: domain.QuestionTypeEssay, Difficulty: domain.DifficultyEasy, Count: math.MaxInt},
	}, 10), "counts whose sum overflows are rejected")
	assert.Nil(t, Rescale(nil, 10))
	assert.Nil(t, Rescale([]domain.DistributionEntry{{Type: domain.QuestionTypeMCQ, Count: 4}}, 0))
}

func TestRepairDistributionClampsHugeCounts(t *testing.T) {
	types := []domain.QuestionType{domain.QuestionTypeMCQ, domain.QuestionTypeTrueFalse}
	tests := []struct {
		name  string
		raw   string
		total int
	}{
		{name: "single huge count", raw: `[{"type":"mcq","difficulty":"easy","count":4611686018427387904}]`, total: 5},
		{
			name:  "huge and small",
			raw:   `[{"type":"mcq","difficulty":"easy","count":4611686018427387904},{"type":"true_false","difficulty":"hard","count":3}]`,
			total: 10,
		},
		{
			name:  "sum past max int",
			raw:   `[{"type":"mcq","difficulty":"easy","count":9223372036854775807},{"type":"mcq","difficulty":"easy","count":9223372036854775807},{"type":"true_false","difficulty":"easy","count":9223372036854775807}]`,
			total: 7,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dist, notes := RepairDistribution([]byte(tt.raw), types, tt.total, domain.DifficultyMedium)
			require.NotEmpty(t, dist)
			assert.Equal(t, tt.total, domain.DistributionTotal(dist))
			for _, e := range dist {
				assert.Positive(t, e.Count)
				assert.LessOrEqual(t, e.Count, tt.total)
			}
			assert.Contains(t, strings.Join(notes, "\n"), "clamped")
		})
	}

	dist, _ := RepairDistribution(
		[]byte(`[{"type":"mcq","difficulty":"easy","count":4611686018427387904},{"type":"true_false","difficulty":"hard","count":3}]`),
		types, 10, domain.DifficultyMedium)
	assert.Equal(t, []domain.DistributionEntry{
		{Type: domain.QuestionTypeMCQ, Difficulty: domain.DifficultyEasy, Count: 8},
		{Type: domain.QuestionTypeTrueFalse, Difficulty: domain.DifficultyHard, Count: 2},
	}, dist)
}

func TestUniform(t *testing.T) {
	types := []domain.QuestionType{domain.QuestionTypeMCQ, domain.QuestionTypeTrueFalse, domain.QuestionTypeEssay}
	got := Uniform(types, 8, domain.DifficultyEasy)
	require.Len(t, got, 3)
	assert.Equal(t, []int{3, 3, 2}, []int{got[0].Count, got[1].Count, got[2].Count})

	got = Uniform(types, 2, domain.DifficultyEasy)
	assert.Len(t, got, 2, "zero-count entries are dropped")
	assert.Equal(t, 2, domain.DistributionTotal(got))
}

func TestRepairDistributionAcceptsWrappedObject(t *testing.T) {
	dist, notes := RepairDistribution(
		[]byte(`{"distribution":[{"type":"mcq","difficulty":"insane","count":2},{"type":"mcq","difficulty":"medium","count":1}]}`),
		[]domain.QuestionType{domain.QuestionTypeMCQ}, 3, domain.DifficultyMedium)
	assert.Empty(t, notes)
	assert.Equal(t, []domain.DistributionEntry{
		{Type: domain.QuestionTypeMCQ, Difficulty: domain.DifficultyMedium, Count: 3},
	}, dist, "invalid difficulty falls back and same entries merge")
}
