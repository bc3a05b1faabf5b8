package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPlan(t *testing.T, s store.Stores) *domain.Plan {
	t.Helper()
	ctx := context.Background()

	doc, err := domain.NewDocument(uuid.Nil, "Photosynthesis converts light into chemical energy.", nil)
	require.NoError(t, err)
	require.NoError(t, s.Documents.Create(ctx, doc))

	plan, err := domain.NewPlan(doc.ID, 2,
		[]domain.DistributionEntry{{Type: domain.QuestionTypeMCQ, Difficulty: domain.DifficultyMedium, Count: 2}},
		domain.PlanConstraints{})
	require.NoError(t, err)
	require.NoError(t, s.Plans.Create(ctx, plan))
	return plan
}

func newJob(t *testing.T, planID uuid.UUID) *domain.Job {
	t.Helper()
	payload, err := domain.NewJobPayload(domain.QuestionTypeMCQ, domain.DifficultyMedium, nil)
	require.NoError(t, err)
	job, err := domain.NewJob(planID, payload, 2, 20, 1)
	require.NoError(t, err)
	return job
}

func TestDocumentStore(t *testing.T) {
	ctx := context.Background()
	s := New().Stores()

	doc, err := domain.NewDocument(uuid.Nil, "text", map[string]string{"title": "t"})
	require.NoError(t, err)
	require.NoError(t, s.Documents.Create(ctx, doc))
	assert.ErrorIs(t, s.Documents.Create(ctx, doc), store.ErrDuplicate)

	doc.MarkReady(3)
	doc.Text = "mutated"
	require.NoError(t, s.Documents.Update(ctx, doc))

	got, err := s.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusReady, got.Status)
	assert.Equal(t, 3, got.ChunkCount)
	assert.Equal(t, "text", got.Text, "text is immutable")

	_, err = s.Documents.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrDocumentNotFound)
}

func TestChunkStoreReplacesAndOrders(t *testing.T) {
	ctx := context.Background()
	s := New().Stores()

	doc, err := domain.NewDocument(uuid.Nil, "a b c", nil)
	require.NoError(t, err)
	require.NoError(t, s.Documents.Create(ctx, doc))

	first := []*domain.Chunk{{ID: uuid.New(), DocumentID: doc.ID, Index: 0, Content: "old"}}
	require.NoError(t, s.Chunks.CreateMultiple(ctx, doc.ID, first))

	c1 := &domain.Chunk{ID: uuid.New(), DocumentID: doc.ID, Index: 1, Content: "b c", Embedding: []float32{0, 1}}
	c0 := &domain.Chunk{ID: uuid.New(), DocumentID: doc.ID, Index: 0, Content: "a b", Embedding: []float32{1, 0}}
	require.NoError(t, s.Chunks.CreateMultiple(ctx, doc.ID, []*domain.Chunk{c1, c0}))

	chunks, err := s.Chunks.ListByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, c0.ID, chunks[0].ID)
	assert.Equal(t, []float32{1, 0}, chunks[0].Embedding)

	got, err := s.Chunks.GetByIDs(ctx, []uuid.UUID{c1.ID, first[0].ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c1.ID, got[0].ID)
}

func TestCompareAndSetUpdates(t *testing.T) {
	ctx := context.Background()
	s := New().Stores()
	plan := seedPlan(t, s)

	require.NoError(t, plan.Transition(domain.PlanStatusReady))
	require.NoError(t, s.Plans.Update(ctx, plan, domain.PlanStatusDraft))

	require.NoError(t, plan.Transition(domain.PlanStatusExecuting))
	err := s.Plans.Update(ctx, plan, domain.PlanStatusDraft)
	assert.ErrorIs(t, err, store.ErrConflict)

	job := newJob(t, plan.ID)
	require.NoError(t, s.Jobs.CreateMultiple(ctx, []*domain.Job{job}))
	tasks := domain.NewTasksForJob(job)
	require.NoError(t, s.Tasks.CreateMultiple(ctx, tasks))

	// a concurrent cancel wins; the worker's stale write is rejected
	cancelled := *tasks[0]
	require.NoError(t, cancelled.Cancel())
	require.NoError(t, s.Tasks.Update(ctx, &cancelled, domain.TaskStatusPending))

	require.NoError(t, tasks[0].BeginRetrieval())
	err = s.Tasks.Update(ctx, tasks[0], domain.TaskStatusPending)
	assert.True(t, store.IsConflictError(err))

	listed, err := s.Tasks.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, domain.TaskStatusCancelled, listed[0].Status)
	assert.Equal(t, 1, listed[1].Sequence)
}

func TestJobStoreListByStatus(t *testing.T) {
	ctx := context.Background()
	s := New().Stores()
	plan := seedPlan(t, s)

	a, b := newJob(t, plan.ID), newJob(t, plan.ID)
	require.NoError(t, s.Jobs.CreateMultiple(ctx, []*domain.Job{a, b}))

	require.NoError(t, b.Activate())
	require.NoError(t, s.Jobs.Update(ctx, b, domain.JobStatusQueued))

	queued, err := s.Jobs.ListByStatus(ctx, domain.JobStatusQueued, 0)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, a.ID, queued[0].ID)

	all, err := s.Jobs.ListByPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestQuestionStoreUniquePerTask(t *testing.T) {
	ctx := context.Background()
	s := New().Stores()
	plan := seedPlan(t, s)
	job := newJob(t, plan.ID)
	task := domain.NewTask(job, 0)

	draft := domain.Draft{Stem: "What is ATP?", Answer: "Energy carrier", CitedChunkIDs: []uuid.UUID{uuid.New()}}
	q1, err := domain.NewQuestionItem(task, draft, 80)
	require.NoError(t, err)
	q2, err := domain.NewQuestionItem(task, draft, 90)
	require.NoError(t, err)

	require.NoError(t, s.Questions.Create(ctx, q1))
	assert.ErrorIs(t, s.Questions.Create(ctx, q2), store.ErrQuestionExists)

	got, err := s.Questions.GetByTaskID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, q1.ID, got.ID)

	n, err := s.Questions.CountByPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := s.Questions.ListByPlan(ctx, plan.ID, domain.QuestionFilter{MinScore: 85})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestEventStoreSequenceAndReplay(t *testing.T) {
	ctx := context.Background()
	s := New().Stores()
	planID := uuid.New()
	other := uuid.New()

	start := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Events.Append(ctx, domain.NewPlanEvent(planID, domain.EventPlanExecuting, domain.PlanStatusExecuting)))
	}
	require.NoError(t, s.Events.Append(ctx, domain.NewPlanEvent(other, domain.EventPlanCreated, domain.PlanStatusReady)))

	all, err := s.Events.ListAfter(ctx, planID, 0, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(1), all[0].Sequence)
	assert.Equal(t, int64(3), all[2].Sequence)

	tail, err := s.Events.ListAfter(ctx, planID, 2, time.Time{})
	require.NoError(t, err)
	require.Len(t, tail, 1)

	since, err := s.Events.ListAfter(ctx, planID, 0, start.Add(-time.Second))
	require.NoError(t, err)
	assert.Len(t, since, 3)
}

func TestWithinTxCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	db := New()
	plan := seedPlan(t, db.Stores())

	job := newJob(t, plan.ID)
	err := db.WithinTx(ctx, func(ctx context.Context, tx store.Stores) error {
		if err := tx.Jobs.CreateMultiple(ctx, []*domain.Job{job}); err != nil {
			return err
		}
		return tx.Tasks.CreateMultiple(ctx, domain.NewTasksForJob(job))
	})
	require.NoError(t, err)

	tasks, err := db.Stores().Tasks.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	failing := newJob(t, plan.ID)
	boom := errors.New("boom")
	err = db.WithinTx(ctx, func(ctx context.Context, tx store.Stores) error {
		if err := tx.Jobs.CreateMultiple(ctx, []*domain.Job{failing}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = db.Stores().Jobs.GetByID(ctx, failing.ID)
	assert.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestWithinTxDetectsConflictOnCommit(t *testing.T) {
	ctx := context.Background()
	db := New()
	plan := seedPlan(t, db.Stores())

	err := db.WithinTx(ctx, func(ctx context.Context, tx store.Stores) error {
		p := *plan
		require.NoError(t, p.Transition(domain.PlanStatusReady))
		if err := tx.Plans.Update(ctx, &p, domain.PlanStatusDraft); err != nil {
			return err
		}
		// a concurrent writer moves the plan first
		outside := *plan
		require.NoError(t, outside.Transition(domain.PlanStatusCancelled))
		return db.Stores().Plans.Update(ctx, &outside, domain.PlanStatusDraft)
	})
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := db.Stores().Plans.GetByID(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusCancelled, got.Status)
}
