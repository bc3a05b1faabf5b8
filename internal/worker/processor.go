package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/dedup"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/generation"
	"github.com/phrazzld/questgen/internal/platform/logger"
	"github.com/phrazzld/questgen/internal/platform/metrics"
	"github.com/phrazzld/questgen/internal/progress"
	"github.com/phrazzld/questgen/internal/queue"
	"github.com/phrazzld/questgen/internal/retrieval"
	"github.com/phrazzld/questgen/internal/store"
	"github.com/phrazzld/questgen/internal/validator"
)

// errPreempted means another writer moved a task or job first, which
// happens when the plan is cancelled or a stale delivery races a fresh one.
// The current delivery stops and discards its results.
var errPreempted = errors.New("work preempted by a concurrent update")

// Retriever finds context chunks for a query.
type Retriever interface {
	Search(ctx context.Context, query string, topK int, filter retrieval.Filter) ([]domain.RankedChunk, error)
}

// Gate scores drafts.
type Gate interface {
	Validate(ctx context.Context, target validator.Target, draft *domain.Draft, contextChunks []*domain.Chunk) (validator.Result, error)
}

// DuplicateChecker compares a draft with the plan's stored questions.
type DuplicateChecker interface {
	CheckDuplicate(ctx context.Context, candidate dedup.Candidate, existing []*domain.QuestionItem) (dedup.Result, error)
}

// Coordinator owns plan level state. The orchestrator implements it.
type Coordinator interface {
	FinalizePlan(ctx context.Context, planID uuid.UUID) error
	Reconcile(ctx context.Context) (int, error)
	Progress(ctx context.Context, planID uuid.UUID) (float64, error)
}

// Deps are the collaborators of a Processor.
type Deps struct {
	Stores    store.Stores
	Tx        store.TxManager
	Queue     queue.Queue
	Retriever Retriever
	Generator generation.QuestionGenerator
	Validator Gate
	Dedup     DuplicateChecker
	Events    progress.Emitter
	Plans     Coordinator
}

func (d Deps) validate() error {
	switch {
	case d.Tx == nil:
		return errors.New("transaction manager cannot be nil")
	case d.Queue == nil:
		return errors.New("queue cannot be nil")
	case d.Retriever == nil:
		return errors.New("retriever cannot be nil")
	case d.Generator == nil:
		return errors.New("generator cannot be nil")
	case d.Validator == nil:
		return errors.New("validator cannot be nil")
	case d.Dedup == nil:
		return errors.New("deduplicator cannot be nil")
	case d.Events == nil:
		return errors.New("event emitter cannot be nil")
	case d.Plans == nil:
		return errors.New("plan coordinator cannot be nil")
	}
	return nil
}

// Processor runs one delivered job to an outcome.
type Processor struct {
	Deps
	cfg    Config
	logger *slog.Logger
	locks  *planLocks
}

// NewProcessor creates a Processor.
func NewProcessor(deps Deps, cfg Config, log *slog.Logger) (*Processor, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		Deps:   deps,
		cfg:    cfg.withDefaults(),
		logger: log.With("component", "worker"),
		locks:  newPlanLocks(),
	}, nil
}

// run carries the state of one delivery.
type run struct {
	plan     *domain.Plan
	job      *domain.Job
	delivery *queue.Delivery
	log      *slog.Logger

	docChunks []*domain.Chunk
}

// Handle processes one delivery. The returned error is for logging only;
// the message has already been acked or nacked where that was possible.
func (p *Processor) Handle(ctx context.Context, d *queue.Delivery) error {
	log := logger.FromContextOrDefault(ctx, p.logger).With(
		"job_id", d.JobID,
		"plan_id", d.PlanID,
		"delivery", d.Deliveries)
	ctx = logger.WithContext(ctx, log)

	job, err := p.Stores.Jobs.GetByID(ctx, d.JobID)
	if errors.Is(err, store.ErrJobNotFound) {
		log.WarnContext(ctx, "dropping message for unknown job")
		p.ack(ctx, d)
		return nil
	}
	if err != nil {
		// the message resurfaces after the visibility timeout
		return fmt.Errorf("load job: %w", err)
	}
	if job.IsTerminal() {
		log.InfoContext(ctx, "job already finished, acknowledging", "status", job.Status)
		p.ack(ctx, d)
		return nil
	}

	plan, err := p.Stores.Plans.GetByID(ctx, job.PlanID)
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	r := &run{plan: plan, job: job, delivery: d, log: log}

	switch job.Status {
	case domain.JobStatusActive:
		// a previous delivery outlived its visibility timeout
		return p.failStale(ctx, r, "visibility timeout expired before the job finished")
	case domain.JobStatusFailed:
		// a previous delivery stopped between failing and requeueing
		return p.retryOrDeadLetter(ctx, r, job.LastError)
	}

	if err := p.saveJob(ctx, job, job.Activate); err != nil {
		return p.preempted(ctx, r, err)
	}
	p.emit(ctx, domain.NewJobEvent(job, domain.EventJobActive).
		WithPayload(map[string]any{"attempt": job.RetryCount + 1}))
	log.InfoContext(ctx, "job started",
		"question_type", job.QuestionType,
		"batch_size", job.BatchSize,
		"retry", job.RetryCount)

	err = p.processTasks(ctx, r)
	var fe *fatalError
	switch {
	case err == nil:
		return p.settle(ctx, r, nil)
	case errors.As(err, &fe):
		return p.settle(ctx, r, fe.err)
	case errors.Is(err, errPreempted):
		return p.preempted(ctx, r, err)
	}
	// shutdown or storage trouble: the lease runs out and the redelivery
	// counts as a failed attempt
	return err
}

// errUnsettled means the job still has non-terminal tasks and cannot be
// judged yet.
var errUnsettled = errors.New("job has unfinished tasks")

func outstanding(tasks []*domain.Task) int {
	n := 0
	for _, t := range tasks {
		if !t.IsTerminal() {
			n++
		}
	}
	return n
}

// fatalError carries a task failure that dead-letters the whole job.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// processTasks works through the job's tasks in sequence order. The lease
// is renewed before each task, so the visibility window bounds a single
// task rather than the whole job. A *fatalError ends the job; any other
// error aborts the delivery without settling it.
func (p *Processor) processTasks(ctx context.Context, r *run) error {
	tasks, err := p.Stores.Tasks.ListByJob(ctx, r.job.ID)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	for _, t := range tasks {
		if t.IsTerminal() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("stopped with task %s outstanding: %w", t.ID, err)
		}
		if err := p.extendLease(ctx, r); err != nil {
			return err
		}
		if err := p.processWithinWindow(ctx, r, t); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) processWithinWindow(ctx context.Context, r *run, t *domain.Task) error {
	windowCtx, cancel := context.WithTimeout(ctx, p.cfg.VisibilityTimeout)
	defer cancel()
	return p.processTask(windowCtx, r, t)
}

// extendLease pushes the delivery's visibility deadline out by a full
// window.
func (p *Processor) extendLease(ctx context.Context, r *run) error {
	err := p.Queue.Extend(ctx, r.delivery, p.cfg.VisibilityTimeout)
	if errors.Is(err, queue.ErrLeaseLost) {
		r.log.WarnContext(ctx, "lease lost while tasks were outstanding")
		return fmt.Errorf("%w: job %s", errPreempted, r.job.ID)
	}
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	return nil
}

// settle applies the success ratio gate to the job's tasks.
func (p *Processor) settle(ctx context.Context, r *run, fatal error) error {
	tasks, err := p.Stores.Tasks.ListByJob(ctx, r.job.ID)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	tally := domain.TallyTasks(tasks)
	job := r.job

	if fatal == nil {
		if n := outstanding(tasks); n > 0 {
			// the next delivery resumes the remaining tasks
			r.log.WarnContext(ctx, "job has unfinished tasks, not settling", "outstanding", n)
			return fmt.Errorf("%w: %d tasks outstanding", errUnsettled, n)
		}
	}

	if fatal != nil {
		reason := "fatal: " + fatal.Error()
		if err := p.saveJob(ctx, job, func() error { return job.Fail(tally, reason) }); err != nil {
			return p.preempted(ctx, r, err)
		}
		return p.deadLetter(ctx, r, reason)
	}

	switch domain.EvaluateJob(tally, p.cfg.MinSuccessRatio) {
	case domain.JobStatusCompleted:
		if err := p.saveJob(ctx, job, func() error { return job.Complete(tally, p.cfg.MinSuccessRatio) }); err != nil {
			return p.preempted(ctx, r, err)
		}
		metrics.JobsProcessed.WithLabelValues(string(job.QuestionType), string(job.Status)).Inc()
		p.emit(ctx, domain.NewJobEvent(job, domain.EventJobCompleted).WithPayload(tally))
		r.log.InfoContext(ctx, "job completed", "successful", tally.Successful, "failed", tally.Failed)
		p.ack(ctx, r.delivery)
		p.finalize(ctx, r)
		return nil

	case domain.JobStatusCancelled:
		if err := p.saveJob(ctx, job, job.Cancel); err != nil {
			return p.preempted(ctx, r, err)
		}
		p.emit(ctx, domain.NewJobEvent(job, domain.EventJobCancelled))
		p.ack(ctx, r.delivery)
		p.finalize(ctx, r)
		return nil
	}

	reason := failureSummary(tasks, tally, p.cfg.MinSuccessRatio)
	if err := p.saveJob(ctx, job, func() error { return job.Fail(tally, reason) }); err != nil {
		return p.preempted(ctx, r, err)
	}
	metrics.JobsProcessed.WithLabelValues(string(job.QuestionType), string(job.Status)).Inc()
	p.emit(ctx, domain.NewJobEvent(job, domain.EventJobFailed).WithPayload(tally))
	return p.retryOrDeadLetter(ctx, r, reason)
}

// failStale fails an active job whose previous delivery expired.
func (p *Processor) failStale(ctx context.Context, r *run, reason string) error {
	tasks, err := p.Stores.Tasks.ListByJob(ctx, r.job.ID)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	tally := domain.TallyTasks(tasks)
	job := r.job
	if err := p.saveJob(ctx, job, func() error { return job.Fail(tally, reason) }); err != nil {
		return p.preempted(ctx, r, err)
	}
	r.log.WarnContext(ctx, "previous delivery of job expired", "retry", job.RetryCount)
	metrics.JobsProcessed.WithLabelValues(string(job.QuestionType), string(job.Status)).Inc()
	p.emit(ctx, domain.NewJobEvent(job, domain.EventJobFailed).WithPayload(map[string]any{"reason": reason}))
	return p.retryOrDeadLetter(ctx, r, reason)
}

// retryOrDeadLetter moves a failed job back to the queue with backoff, or
// parks it once its retries are spent.
func (p *Processor) retryOrDeadLetter(ctx context.Context, r *run, reason string) error {
	job := r.job
	if !job.CanRetry() {
		return p.deadLetter(ctx, r, fmt.Sprintf("retries exhausted after %d attempts: %s", job.RetryCount+1, reason))
	}

	err := p.Tx.WithinTx(ctx, func(ctx context.Context, tx store.Stores) error {
		tasks, err := tx.Tasks.ListByJob(ctx, job.ID)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if t.Status == domain.TaskStatusStored || t.Status == domain.TaskStatusCancelled ||
				t.FailureKind == domain.FailureDuplicate || t.Status == domain.TaskStatusPending {
				continue
			}
			prev := t.Status
			if err := t.Reset(); err != nil {
				return err
			}
			if err := tx.Tasks.Update(ctx, t, prev); err != nil {
				return err
			}
		}
		if err := job.Requeue(); err != nil {
			return err
		}
		return tx.Jobs.Update(ctx, job, domain.JobStatusFailed)
	})
	if err != nil {
		return p.preempted(ctx, r, err)
	}

	delay := domain.RetryBackoff(job.RetryCount, p.cfg.RetryBaseDelay, p.cfg.RetryMaxDelay)
	metrics.JobRetries.WithLabelValues(string(job.QuestionType)).Inc()
	p.emit(ctx, domain.NewJobEvent(job, domain.EventJobRetryScheduled).
		WithPayload(map[string]any{"retry": job.RetryCount, "delay_seconds": delay.Seconds(), "reason": reason}))
	r.log.InfoContext(ctx, "job retry scheduled", "retry", job.RetryCount, "delay", delay)

	if err := p.Queue.Nack(ctx, r.delivery, delay); err != nil {
		if errors.Is(err, queue.ErrLeaseLost) {
			// the message is gone, so enqueue a fresh one
			return p.Queue.Enqueue(ctx, queue.NewMessage(job), delay)
		}
		return fmt.Errorf("nack job: %w", err)
	}
	return nil
}

func (p *Processor) deadLetter(ctx context.Context, r *run, reason string) error {
	job := r.job
	if err := p.saveJob(ctx, job, func() error { return job.DeadLetter(reason) }); err != nil {
		return p.preempted(ctx, r, err)
	}
	metrics.DeadLetters.WithLabelValues(string(job.QuestionType)).Inc()
	p.emit(ctx, domain.NewJobEvent(job, domain.EventJobDeadLettered).
		WithPayload(map[string]any{"reason": reason, "retries": job.RetryCount}))
	r.log.ErrorContext(ctx, "job dead-lettered", "reason", reason, "retries", job.RetryCount)
	p.ack(ctx, r.delivery)
	p.finalize(ctx, r)
	return nil
}

// preempted handles losing a race on the job or one of its tasks. A job
// cancelled meanwhile keeps its cancelled status and its message is
// dropped; anything else is left for the next delivery.
func (p *Processor) preempted(ctx context.Context, r *run, cause error) error {
	if !store.IsConflictError(cause) && !errors.Is(cause, errPreempted) {
		return cause
	}
	current, err := p.Stores.Jobs.GetByID(ctx, r.job.ID)
	if err != nil {
		return fmt.Errorf("reload job: %w", err)
	}
	r.log.InfoContext(ctx, "job changed under the worker", "status", current.Status)
	if current.IsTerminal() {
		p.ack(ctx, r.delivery)
		p.finalize(ctx, r)
		return nil
	}
	return cause
}

// saveJob applies step and writes the job if its stored status still
// matches the one step started from.
func (p *Processor) saveJob(ctx context.Context, job *domain.Job, step func() error) error {
	prev := job.Status
	if err := step(); err != nil {
		return err
	}
	return p.Stores.Jobs.Update(ctx, job, prev)
}

func (p *Processor) ack(ctx context.Context, d *queue.Delivery) {
	if err := p.Queue.Ack(ctx, d); err != nil {
		log := logger.FromContextOrDefault(ctx, p.logger)
		if errors.Is(err, queue.ErrLeaseLost) {
			log.DebugContext(ctx, "message already released", "job_id", d.JobID)
			return
		}
		log.ErrorContext(ctx, "failed to acknowledge message", "job_id", d.JobID, "error", err)
	}
}

func (p *Processor) finalize(ctx context.Context, r *run) {
	if err := p.Plans.FinalizePlan(ctx, r.plan.ID); err != nil {
		r.log.ErrorContext(ctx, "failed to finalize plan", "error", err)
	}
}

func (p *Processor) emit(ctx context.Context, e *domain.ProgressEvent) {
	if e.Progress == 0 {
		if pct, err := p.Plans.Progress(ctx, e.PlanID); err == nil {
			e.WithProgress(pct)
		}
	}
	if err := p.Events.Emit(ctx, e); err != nil {
		logger.FromContextOrDefault(ctx, p.logger).ErrorContext(ctx, "failed to record progress event",
			"event_type", e.Type,
			"error", err)
	}
}

// failureSummary explains a failed job: its ratio and the most common
// failure kinds.
func failureSummary(tasks []*domain.Task, tally domain.TaskTally, minRatio float64) string {
	kinds := map[domain.FailureKind]int{}
	var order []domain.FailureKind
	for _, t := range tasks {
		if t.Status != domain.TaskStatusFailed {
			continue
		}
		if kinds[t.FailureKind] == 0 {
			order = append(order, t.FailureKind)
		}
		kinds[t.FailureKind]++
	}
	parts := make([]string, 0, len(order))
	for _, k := range order {
		parts = append(parts, fmt.Sprintf("%s=%d", k, kinds[k]))
	}
	msg := fmt.Sprintf("%d of %d tasks succeeded, %.0f%% required", tally.Successful, tally.Counted(), minRatio*100)
	if len(parts) > 0 {
		msg += " (" + strings.Join(parts, ", ") + ")"
	}
	return msg
}
