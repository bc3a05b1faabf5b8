package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/dedup"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/generation"
	"github.com/phrazzld/questgen/internal/platform/metrics"
	"github.com/phrazzld/questgen/internal/retrieval"
	"github.com/phrazzld/questgen/internal/store"
	"github.com/phrazzld/questgen/internal/validator"
)

// errNoContext is returned when a plan's document has nothing to cite.
var errNoContext = fmt.Errorf("%w: document has no chunks", store.ErrNotFound)

// processTask drives one task through retrieve, generate, validate, dedup
// and persist. Task level failures are recorded on the task and return
// nil, except fatal ones which return a *fatalError.
func (p *Processor) processTask(ctx context.Context, r *run, t *domain.Task) error {
	log := r.log.With("task_id", t.ID, "sequence", t.Sequence)
	// writes must land even when the visibility window closes mid-call
	save := context.WithoutCancel(ctx)

	if t.Status != domain.TaskStatusPending {
		// interrupted mid-pipeline by an earlier delivery
		if err := p.advance(save, t, t.Reset); err != nil {
			return err
		}
	}
	if err := p.advance(save, t, t.BeginRetrieval); err != nil {
		return err
	}
	p.emit(save, domain.NewTaskEvent(t, domain.EventTaskStatus))

	taskCtx, cancel := context.WithTimeout(ctx, p.cfg.TaskTimeout)
	defer cancel()

	chunks, err := p.retrieve(taskCtx, r, t, log)
	if err != nil {
		return p.failTask(save, r, t, generation.Classify(err), err)
	}

	job := r.job
	req := generation.Request{
		Type:          job.QuestionType,
		Difficulty:    job.Difficulty,
		Spec:          job.Payload.Spec,
		Topic:         taskTopic(job, t),
		Language:      r.plan.Constraints.Language,
		MaxStemLength: r.plan.Constraints.MaxStemLength,
		Context:       chunks,
	}
	target := validator.Target{Type: job.QuestionType, Spec: job.Payload.Spec, MaxStemLength: r.plan.Constraints.MaxStemLength}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxTaskAttempts; attempt++ {
		if err := p.advance(save, t, t.BeginGeneration); err != nil {
			return err
		}
		p.emit(save, domain.NewTaskEvent(t, domain.EventTaskStatus).WithPayload(map[string]any{"attempt": t.Attempts}))

		res, draft, err := p.draft(taskCtx, save, t, req, target, chunks)
		switch {
		case err == nil && !res.Pass:
			lastErr = fmt.Errorf("%w: %s", errRejected, describeIssues(res))
			req.PreviousIssues = res.Issues
			log.InfoContext(ctx, "draft rejected", "score", res.Score, "issues", len(res.Issues), "attempt", attempt)
			continue
		case err == nil:
			return p.accept(taskCtx, save, r, t, draft, res, log)
		case errors.Is(err, errPreempted), errors.Is(ctx.Err(), context.Canceled):
			return err
		}

		lastErr = err
		kind := generation.Classify(err)
		log.WarnContext(ctx, "generation attempt failed", "attempt", attempt, "kind", kind, "error", err)
		if kind == domain.FailureFatal || !kind.Retryable() || taskCtx.Err() != nil {
			break
		}
	}
	return p.failTask(save, r, t, failureKind(lastErr), lastErr)
}

// errRejected marks a draft that did not pass the quality gate.
var errRejected = errors.New("draft rejected by validation")

func failureKind(err error) domain.FailureKind {
	if errors.Is(err, errRejected) {
		return domain.FailureValidation
	}
	return generation.Classify(err)
}

// draft generates and validates one attempt.
func (p *Processor) draft(ctx, save context.Context, t *domain.Task, req generation.Request, target validator.Target, chunks []*domain.Chunk) (validator.Result, *domain.Draft, error) {
	draft, err := p.Generator.GenerateQuestion(ctx, req)
	if err != nil {
		return validator.Result{}, nil, err
	}
	if err := p.advance(save, t, t.BeginValidation); err != nil {
		return validator.Result{}, nil, err
	}
	res, err := p.Validator.Validate(ctx, target, draft, chunks)
	if err != nil {
		return validator.Result{}, nil, err
	}
	return res, draft, nil
}

// accept runs the duplicate check and stores the question. The check and
// the write happen under the plan's lock, against the questions stored at
// that moment.
func (p *Processor) accept(ctx, save context.Context, r *run, t *domain.Task, draft *domain.Draft, res validator.Result, log *slog.Logger) error {
	unlock := p.locks.lock(r.plan.ID)
	defer unlock()

	existing, err := p.Stores.Questions.ListByPlan(ctx, r.plan.ID, domain.QuestionFilter{})
	if err != nil {
		return p.failTask(save, r, t, generation.Classify(err), fmt.Errorf("load plan questions: %w", err))
	}
	// a question already stored for this task is not a rival
	existing = slices.DeleteFunc(existing, func(q *domain.QuestionItem) bool { return q.TaskID == t.ID })
	candidate := dedup.Candidate{Type: t.TargetType, Stem: draft.Stem}
	dup, err := p.Dedup.CheckDuplicate(ctx, candidate, existing)
	if err != nil {
		return p.failTask(save, r, t, generation.Classify(err), fmt.Errorf("duplicate check: %w", err))
	}
	if dup.IsDuplicate {
		return p.rejectDuplicate(ctx, save, r, t, dup, log)
	}

	q, err := domain.NewQuestionItem(t, *draft, res.Score)
	if err != nil {
		return p.failTask(save, r, t, domain.FailureMalformed, err)
	}
	stored, err := p.persist(save, t, q, func(ctx context.Context, current []*domain.QuestionItem) (dedup.Result, error) {
		return p.Dedup.CheckDuplicate(ctx, candidate, addedSince(existing, current))
	})
	var de *duplicateError
	switch {
	case errors.As(err, &de):
		return p.rejectDuplicate(ctx, save, r, t, de.result, log)
	case store.IsConflictError(err):
		return fmt.Errorf("%w: task %s", errPreempted, t.ID)
	case err != nil:
		return p.failTask(save, r, t, generation.Classify(err), err)
	}

	metrics.TasksProcessed.WithLabelValues(string(t.TargetType), string(domain.TaskStatusStored)).Inc()
	p.emit(save, domain.NewTaskEvent(t, domain.EventTaskStored).WithPayload(map[string]any{
		"question_id": stored.ID,
		"score":       stored.ValidationScore,
		"attempts":    t.Attempts,
	}))
	log.DebugContext(ctx, "question stored", "question_id", stored.ID, "score", stored.ValidationScore)
	return nil
}

func (p *Processor) rejectDuplicate(ctx, save context.Context, r *run, t *domain.Task, dup dedup.Result, log *slog.Logger) error {
	log.InfoContext(ctx, "draft is a near-duplicate",
		"matched_id", dup.MatchedID,
		"stage", dup.Stage,
		"confidence", dup.Confidence)
	return p.failTask(save, r, t, domain.FailureDuplicate,
		fmt.Errorf("near-duplicate of question %s (%s, %.2f)", dup.MatchedID, dup.Stage, dup.Confidence))
}

// duplicateError reports a near-duplicate found inside the persist
// transaction.
type duplicateError struct{ result dedup.Result }

func (e *duplicateError) Error() string {
	return fmt.Sprintf("near-duplicate of question %s", e.result.MatchedID)
}

// addedSince returns the questions in current that are not in seen.
func addedSince(seen, current []*domain.QuestionItem) []*domain.QuestionItem {
	known := make(map[uuid.UUID]bool, len(seen))
	for _, q := range seen {
		known[q.ID] = true
	}
	var out []*domain.QuestionItem
	for _, q := range current {
		if !known[q.ID] {
			out = append(out, q)
		}
	}
	return out
}

// recheckFunc compares the draft with the plan's questions as seen inside
// the persist transaction.
type recheckFunc func(ctx context.Context, current []*domain.QuestionItem) (dedup.Result, error)

// persist marks the task stored and saves its question in one transaction
// that holds the plan's question lock. Questions stored by other processes
// since the duplicate check are rechecked first. A question already stored
// for the task counts as success and is returned instead of q.
func (p *Processor) persist(ctx context.Context, t *domain.Task, q *domain.QuestionItem, recheck recheckFunc) (*domain.QuestionItem, error) {
	before := *t
	var stored *domain.QuestionItem
	err := p.Tx.WithinTx(ctx, func(ctx context.Context, tx store.Stores) error {
		if err := tx.Questions.LockPlan(ctx, q.PlanID); err != nil {
			return err
		}
		prev, err := tx.Questions.GetByTaskID(ctx, t.ID)
		switch {
		case err == nil:
			stored = prev
		case !errors.Is(err, store.ErrQuestionNotFound):
			return err
		default:
			current, err := tx.Questions.ListByPlan(ctx, q.PlanID, domain.QuestionFilter{})
			if err != nil {
				return err
			}
			dup, err := recheck(ctx, current)
			if err != nil {
				return fmt.Errorf("duplicate check: %w", err)
			}
			if dup.IsDuplicate {
				return &duplicateError{result: dup}
			}
			if err := tx.Questions.Create(ctx, q); err != nil {
				if errors.Is(err, store.ErrQuestionExists) {
					// a concurrent delivery stored it first
					return fmt.Errorf("%w: %w", store.ErrConflict, err)
				}
				return err
			}
			stored = q
		}
		if err := t.MarkStored(); err != nil {
			return err
		}
		return tx.Tasks.Update(ctx, t, before.Status)
	})
	if err != nil {
		*t = before
		return nil, err
	}
	return stored, nil
}

// retrieve finds the task's context. When search yields nothing the
// document chunk at sequence times stride is used, so every question has
// something to cite.
func (p *Processor) retrieve(ctx context.Context, r *run, t *domain.Task, log *slog.Logger) ([]*domain.Chunk, error) {
	if query := taskTopic(r.job, t); query != "" {
		ranked, err := p.Retriever.Search(ctx, query, p.cfg.TopK, retrieval.Filter{DocumentID: r.plan.DocumentID})
		if err != nil {
			log.WarnContext(ctx, "search failed, using fallback chunk", "error", err)
		}
		if len(ranked) > 0 {
			out := make([]*domain.Chunk, len(ranked))
			for i, rc := range ranked {
				out[i] = rc.Chunk
			}
			return out, nil
		}
	}

	if r.docChunks == nil {
		chunks, err := p.Stores.Chunks.ListByDocument(ctx, r.plan.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("load document chunks: %w", err)
		}
		r.docChunks = chunks
	}
	if len(r.docChunks) == 0 {
		return nil, errNoContext
	}
	return []*domain.Chunk{r.docChunks[fallbackIndex(t.Sequence, r.job.BatchSize, len(r.docChunks))]}, nil
}

func fallbackIndex(sequence, batchSize, chunks int) int {
	stride := max(1, chunks/max(1, batchSize))
	return (sequence * stride) % chunks
}

// taskTopic spreads a job's topics over its tasks.
func taskTopic(job *domain.Job, t *domain.Task) string {
	topics := job.Payload.Topics
	if len(topics) == 0 {
		return ""
	}
	return topics[t.Sequence%len(topics)]
}

// failTask records a terminal task failure.
func (p *Processor) failTask(ctx context.Context, r *run, t *domain.Task, kind domain.FailureKind, cause error) error {
	if kind == "" || kind == domain.FailureCancelled {
		kind = domain.FailureTransient
	}
	if err := p.advance(ctx, t, func() error { return t.MarkFailed(kind, cause.Error()) }); err != nil {
		return err
	}
	metrics.TasksProcessed.WithLabelValues(string(t.TargetType), string(kind)).Inc()

	typ := domain.EventTaskFailed
	if kind == domain.FailureDuplicate {
		typ = domain.EventTaskDuplicate
	}
	p.emit(ctx, domain.NewTaskEvent(t, typ).WithPayload(map[string]any{
		"kind":     kind,
		"reason":   cause.Error(),
		"attempts": t.Attempts,
	}))
	r.log.WarnContext(ctx, "task failed", "task_id", t.ID, "kind", kind, "error", cause)

	if kind == domain.FailureFatal {
		return &fatalError{err: cause}
	}
	return nil
}

// advance applies step and writes the task if nobody changed it since.
func (p *Processor) advance(ctx context.Context, t *domain.Task, step func() error) error {
	prev := t.Status
	if err := step(); err != nil {
		return err
	}
	if err := p.Stores.Tasks.Update(ctx, t, prev); err != nil {
		if store.IsConflictError(err) {
			return fmt.Errorf("%w: task %s", errPreempted, t.ID)
		}
		return err
	}
	return nil
}

func describeIssues(res validator.Result) string {
	parts := make([]string, 0, len(res.Issues))
	for _, i := range res.Issues {
		parts = append(parts, i.Code)
	}
	return fmt.Sprintf("score %d: %s", res.Score, strings.Join(parts, ", "))
}
