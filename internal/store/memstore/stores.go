package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/store"
)

// DocumentStore implements store.DocumentStore.
type DocumentStore struct{ b backend }

var _ store.DocumentStore = (*DocumentStore)(nil)

func (s *DocumentStore) Create(ctx context.Context, doc *domain.Document) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	v := *doc
	return s.b.write(func(st *state) error {
		if _, ok := st.docs[v.ID]; ok {
			return fmt.Errorf("%w: document %s", store.ErrDuplicate, v.ID)
		}
		st.docs[v.ID] = v
		return nil
	})
}

func (s *DocumentStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	var (
		doc domain.Document
		ok  bool
	)
	s.b.read(func(st *state) { doc, ok = st.docs[id] })
	if !ok {
		return nil, store.ErrDocumentNotFound
	}
	return &doc, nil
}

func (s *DocumentStore) Update(ctx context.Context, doc *domain.Document) error {
	v := *doc
	return s.b.write(func(st *state) error {
		cur, ok := st.docs[v.ID]
		if !ok {
			return store.ErrDocumentNotFound
		}
		v.Text = cur.Text
		v.Fingerprint = cur.Fingerprint
		st.docs[v.ID] = v
		return nil
	})
}

// ChunkStore implements store.ChunkStore.
type ChunkStore struct{ b backend }

var _ store.ChunkStore = (*ChunkStore)(nil)

func (s *ChunkStore) CreateMultiple(ctx context.Context, documentID uuid.UUID, chunks []*domain.Chunk) error {
	copies := make([]domain.Chunk, len(chunks))
	for i, c := range chunks {
		copies[i] = *c
		copies[i].Embedding = slices.Clone(c.Embedding)
	}
	return s.b.write(func(st *state) error {
		if _, ok := st.docs[documentID]; !ok {
			return fmt.Errorf("%w: document %s not found", store.ErrInvalidEntity, documentID)
		}
		for _, id := range st.docChunks[documentID] {
			delete(st.chunks, id)
		}
		ids := make([]uuid.UUID, 0, len(copies))
		for _, c := range copies {
			st.chunks[c.ID] = c
			ids = append(ids, c.ID)
		}
		st.docChunks[documentID] = ids
		return nil
	})
}

func (s *ChunkStore) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*domain.Chunk, error) {
	var out []*domain.Chunk
	s.b.read(func(st *state) {
		for _, id := range st.docChunks[documentID] {
			c := st.chunks[id]
			out = append(out, &c)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *ChunkStore) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.Chunk, error) {
	var out []*domain.Chunk
	s.b.read(func(st *state) {
		for _, id := range ids {
			if c, ok := st.chunks[id]; ok {
				out = append(out, &c)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// PlanStore implements store.PlanStore.
type PlanStore struct{ b backend }

var _ store.PlanStore = (*PlanStore)(nil)

func (s *PlanStore) Create(ctx context.Context, plan *domain.Plan) error {
	if err := plan.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	v := clonePlan(plan)
	return s.b.write(func(st *state) error {
		if _, ok := st.plans[v.ID]; ok {
			return fmt.Errorf("%w: plan %s", store.ErrDuplicate, v.ID)
		}
		if _, ok := st.docs[v.DocumentID]; !ok {
			return fmt.Errorf("%w: document %s not found", store.ErrInvalidEntity, v.DocumentID)
		}
		st.plans[v.ID] = v
		return nil
	})
}

func (s *PlanStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Plan, error) {
	var (
		p  domain.Plan
		ok bool
	)
	s.b.read(func(st *state) { p, ok = st.plans[id] })
	if !ok {
		return nil, store.ErrPlanNotFound
	}
	p = clonePlan(&p)
	return &p, nil
}

func (s *PlanStore) Update(ctx context.Context, plan *domain.Plan, expected domain.PlanStatus) error {
	v := clonePlan(plan)
	return s.b.write(func(st *state) error {
		cur, ok := st.plans[v.ID]
		if !ok {
			return store.ErrPlanNotFound
		}
		if cur.Status != expected {
			return fmt.Errorf("%w: plan %s is %s, expected %s", store.ErrConflict, v.ID, cur.Status, expected)
		}
		st.plans[v.ID] = v
		return nil
	})
}

func clonePlan(p *domain.Plan) domain.Plan {
	v := *p
	v.Distribution = slices.Clone(p.Distribution)
	v.Topics = slices.Clone(p.Topics)
	v.Diagnostics = slices.Clone(p.Diagnostics)
	return v
}

// JobStore implements store.JobStore.
type JobStore struct{ b backend }

var _ store.JobStore = (*JobStore)(nil)

func (s *JobStore) CreateMultiple(ctx context.Context, jobs []*domain.Job) error {
	copies := make([]domain.Job, len(jobs))
	for i, j := range jobs {
		if err := j.Validate(); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}
		copies[i] = *j
	}
	return s.b.write(func(st *state) error {
		for _, j := range copies {
			if _, ok := st.jobs[j.ID]; ok {
				return fmt.Errorf("%w: job %s", store.ErrDuplicate, j.ID)
			}
			if _, ok := st.plans[j.PlanID]; !ok {
				return fmt.Errorf("%w: plan %s not found", store.ErrInvalidEntity, j.PlanID)
			}
		}
		for _, j := range copies {
			st.jobs[j.ID] = j
		}
		return nil
	})
}

func (s *JobStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	var (
		j  domain.Job
		ok bool
	)
	s.b.read(func(st *state) { j, ok = st.jobs[id] })
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return &j, nil
}

func (s *JobStore) Update(ctx context.Context, job *domain.Job, expected domain.JobStatus) error {
	v := *job
	return s.b.write(func(st *state) error {
		cur, ok := st.jobs[v.ID]
		if !ok {
			return store.ErrJobNotFound
		}
		if cur.Status != expected {
			return fmt.Errorf("%w: job %s is %s, expected %s", store.ErrConflict, v.ID, cur.Status, expected)
		}
		st.jobs[v.ID] = v
		return nil
	})
}

func (s *JobStore) ListByPlan(ctx context.Context, planID uuid.UUID) ([]*domain.Job, error) {
	var out []*domain.Job
	s.b.read(func(st *state) {
		for _, j := range st.jobs {
			if j.PlanID == planID {
				out = append(out, &j)
			}
		}
	})
	sort.Slice(out, func(i, k int) bool {
		if out[i].Priority != out[k].Priority {
			return out[i].Priority < out[k].Priority
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out, nil
}

func (s *JobStore) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.Job, error) {
	var out []*domain.Job
	s.b.read(func(st *state) {
		for _, j := range st.jobs {
			if j.Status == status {
				out = append(out, &j)
			}
		}
	})
	sort.Slice(out, func(i, k int) bool { return out[i].UpdatedAt.Before(out[k].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TaskStore implements store.TaskStore.
type TaskStore struct{ b backend }

var _ store.TaskStore = (*TaskStore)(nil)

func (s *TaskStore) CreateMultiple(ctx context.Context, tasks []*domain.Task) error {
	copies := make([]domain.Task, len(tasks))
	for i, t := range tasks {
		copies[i] = *t
	}
	return s.b.write(func(st *state) error {
		for _, t := range copies {
			if _, ok := st.tasks[t.ID]; ok {
				return fmt.Errorf("%w: task %s", store.ErrDuplicate, t.ID)
			}
			if _, ok := st.jobs[t.JobID]; !ok {
				return fmt.Errorf("%w: job %s not found", store.ErrInvalidEntity, t.JobID)
			}
		}
		for _, t := range copies {
			st.tasks[t.ID] = t
		}
		return nil
	})
}

func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	var (
		t  domain.Task
		ok bool
	)
	s.b.read(func(st *state) { t, ok = st.tasks[id] })
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return &t, nil
}

func (s *TaskStore) Update(ctx context.Context, task *domain.Task, expected domain.TaskStatus) error {
	v := *task
	return s.b.write(func(st *state) error {
		cur, ok := st.tasks[v.ID]
		if !ok {
			return store.ErrTaskNotFound
		}
		if cur.Status != expected {
			return fmt.Errorf("%w: task %s is %s, expected %s", store.ErrConflict, v.ID, cur.Status, expected)
		}
		st.tasks[v.ID] = v
		return nil
	})
}

func (s *TaskStore) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*domain.Task, error) {
	out := s.list(func(t *domain.Task) bool { return t.JobID == jobID })
	sort.Slice(out, func(i, k int) bool { return out[i].Sequence < out[k].Sequence })
	return out, nil
}

func (s *TaskStore) ListByPlan(ctx context.Context, planID uuid.UUID) ([]*domain.Task, error) {
	out := s.list(func(t *domain.Task) bool { return t.PlanID == planID })
	sort.Slice(out, func(i, k int) bool {
		if out[i].JobID != out[k].JobID {
			return out[i].JobID.String() < out[k].JobID.String()
		}
		return out[i].Sequence < out[k].Sequence
	})
	return out, nil
}

func (s *TaskStore) list(match func(*domain.Task) bool) []*domain.Task {
	var out []*domain.Task
	s.b.read(func(st *state) {
		for _, t := range st.tasks {
			if match(&t) {
				out = append(out, &t)
			}
		}
	})
	return out
}

// QuestionStore implements store.QuestionStore.
type QuestionStore struct{ b backend }

var _ store.QuestionStore = (*QuestionStore)(nil)

func (s *QuestionStore) Create(ctx context.Context, q *domain.QuestionItem) error {
	if err := q.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	v := *q
	v.Options = slices.Clone(q.Options)
	v.CitedChunkIDs = slices.Clone(q.CitedChunkIDs)
	return s.b.write(func(st *state) error {
		if _, ok := st.byTask[v.TaskID]; ok {
			return store.ErrQuestionExists
		}
		if _, ok := st.plans[v.PlanID]; !ok {
			return fmt.Errorf("%w: plan %s not found", store.ErrInvalidEntity, v.PlanID)
		}
		st.questions[v.ID] = v
		st.byTask[v.TaskID] = v.ID
		return nil
	})
}

func (s *QuestionStore) GetByTaskID(ctx context.Context, taskID uuid.UUID) (*domain.QuestionItem, error) {
	var (
		q  domain.QuestionItem
		ok bool
	)
	s.b.read(func(st *state) {
		var id uuid.UUID
		if id, ok = st.byTask[taskID]; ok {
			q = st.questions[id]
		}
	})
	if !ok {
		return nil, store.ErrQuestionNotFound
	}
	return &q, nil
}

func (s *QuestionStore) ListByPlan(ctx context.Context, planID uuid.UUID, filter domain.QuestionFilter) ([]*domain.QuestionItem, error) {
	var out []*domain.QuestionItem
	s.b.read(func(st *state) {
		for _, q := range st.questions {
			if q.PlanID == planID && filter.Matches(&q) {
				out = append(out, &q)
			}
		}
	})
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.Before(out[k].CreatedAt)
		}
		return out[i].ID.String() < out[k].ID.String()
	})
	return page(out, filter.Offset, filter.Limit), nil
}

func (s *QuestionStore) CountByPlan(ctx context.Context, planID uuid.UUID) (int, error) {
	n := 0
	s.b.read(func(st *state) {
		for _, q := range st.questions {
			if q.PlanID == planID {
				n++
			}
		}
	})
	return n, nil
}

// LockPlan is a no-op. A memstore lives in one process, where the worker
// already serializes question writes per plan.
func (s *QuestionStore) LockPlan(context.Context, uuid.UUID) error {
	return nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// EventStore implements store.EventStore.
type EventStore struct{ b backend }

var _ store.EventStore = (*EventStore)(nil)

func (s *EventStore) Append(ctx context.Context, e *domain.ProgressEvent) error {
	return s.b.write(func(st *state) error {
		st.lastSeqNum++
		e.Sequence = st.lastSeqNum
		v := *e
		v.Payload = slices.Clone(e.Payload)
		st.events = append(st.events, v)
		return nil
	})
}

func (s *EventStore) ListAfter(ctx context.Context, planID uuid.UUID, afterSequence int64, since time.Time) ([]*domain.ProgressEvent, error) {
	var out []*domain.ProgressEvent
	s.b.read(func(st *state) {
		for _, e := range st.events {
			if e.PlanID != planID || e.Sequence <= afterSequence {
				continue
			}
			if !since.IsZero() && e.Timestamp.Before(since) {
				continue
			}
			out = append(out, &e)
		}
	})
	return out, nil
}
