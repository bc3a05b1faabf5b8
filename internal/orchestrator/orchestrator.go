// Package orchestrator turns ready plans into persisted, queued jobs and
// owns the plan level transitions: start, cancel, reconcile and finalize.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/platform/logger"
	"github.com/phrazzld/questgen/internal/progress"
	"github.com/phrazzld/questgen/internal/queue"
	"github.com/phrazzld/questgen/internal/store"
)

// Orchestrator errors
var (
	ErrPlanNotReady = errors.New("plan is not ready for generation")
	ErrPlanTerminal = errors.New("plan already finished")
)

// cancelAttempts bounds how often Cancel re-reads state after losing a
// compare-and-set race with a worker.
const cancelAttempts = 3

// StartOptions adjust a single generation run.
type StartOptions struct {
	// MaxRetries overrides the configured whole-job retry budget when set.
	MaxRetries *int `json:"max_retries,omitempty" validate:"omitempty,gte=0,lte=10"`
}

// Orchestrator coordinates plans, jobs and the queue.
type Orchestrator struct {
	stores store.Stores
	tx     store.TxManager
	queue  queue.Queue
	events progress.Emitter
	opts   Options
	logger *slog.Logger
}

// New creates an Orchestrator.
func New(stores store.Stores, tx store.TxManager, q queue.Queue, events progress.Emitter, opts Options, log *slog.Logger) (*Orchestrator, error) {
	if tx == nil {
		return nil, errors.New("transaction manager cannot be nil")
	}
	if q == nil {
		return nil, errors.New("queue cannot be nil")
	}
	if events == nil {
		return nil, errors.New("event emitter cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		stores: stores,
		tx:     tx,
		queue:  q,
		events: events,
		opts:   opts,
		logger: log.With("component", "orchestrator"),
	}, nil
}

// StartGeneration persists the plan's jobs and tasks, moves the plan to
// executing in the same transaction and enqueues every job. A job that
// cannot be enqueued stays queued in storage for Reconcile to pick up.
func (o *Orchestrator) StartGeneration(ctx context.Context, planID uuid.UUID, opts StartOptions) ([]uuid.UUID, error) {
	log := logger.FromContextOrDefault(ctx, o.logger).With("plan_id", planID)

	plan, err := o.stores.Plans.GetByID(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Status != domain.PlanStatusReady {
		return nil, fmt.Errorf("%w: status is %s", ErrPlanNotReady, plan.Status)
	}

	decompose := o.opts
	if opts.MaxRetries != nil {
		decompose.MaxRetries = *opts.MaxRetries
	}
	batches, err := Decompose(plan, decompose)
	if err != nil {
		return nil, err
	}

	err = o.tx.WithinTx(ctx, func(ctx context.Context, tx store.Stores) error {
		jobs := make([]*domain.Job, 0, len(batches))
		var tasks []*domain.Task
		for _, b := range batches {
			jobs = append(jobs, b.Job)
			tasks = append(tasks, b.Tasks...)
		}
		if err := tx.Jobs.CreateMultiple(ctx, jobs); err != nil {
			return fmt.Errorf("persist jobs: %w", err)
		}
		if err := tx.Tasks.CreateMultiple(ctx, tasks); err != nil {
			return fmt.Errorf("persist tasks: %w", err)
		}
		if err := plan.Transition(domain.PlanStatusExecuting); err != nil {
			return err
		}
		return tx.Plans.Update(ctx, plan, domain.PlanStatusReady)
	})
	if err != nil {
		if store.IsConflictError(err) {
			return nil, fmt.Errorf("%w: generation already started", ErrPlanNotReady)
		}
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(batches))
	for _, b := range batches {
		ids = append(ids, b.Job.ID)
		if err := o.queue.Enqueue(ctx, queue.NewMessage(b.Job), 0); err != nil {
			log.WarnContext(ctx, "failed to enqueue job, leaving it for reconciliation",
				"job_id", b.Job.ID,
				"error", err)
			continue
		}
		o.emit(ctx, domain.NewJobEvent(b.Job, domain.EventJobQueued).
			WithPayload(map[string]any{"batch_size": b.Job.BatchSize, "priority": b.Job.Priority}))
	}
	o.emit(ctx, domain.NewPlanEvent(plan.ID, domain.EventPlanExecuting, plan.Status).
		WithPayload(map[string]any{"jobs": len(batches), "tasks": plan.TotalRequested}))

	log.InfoContext(ctx, "generation started", "jobs", len(ids), "tasks", plan.TotalRequested)
	return ids, nil
}

// Reconcile re-enqueues queued jobs whose queue message is missing, as
// left behind by a crash between commit and enqueue. It returns how many
// jobs were re-enqueued.
func (o *Orchestrator) Reconcile(ctx context.Context) (int, error) {
	log := logger.FromContextOrDefault(ctx, o.logger)

	jobs, err := o.stores.Jobs.ListByStatus(ctx, domain.JobStatusQueued, 0)
	if err != nil {
		return 0, fmt.Errorf("list queued jobs: %w", err)
	}

	restored := 0
	for _, job := range jobs {
		ok, err := o.queue.Contains(ctx, job.ID)
		if err != nil {
			return restored, fmt.Errorf("check queue for job %s: %w", job.ID, err)
		}
		if ok {
			continue
		}
		if err := o.queue.Enqueue(ctx, queue.NewMessage(job), 0); err != nil {
			return restored, fmt.Errorf("re-enqueue job %s: %w", job.ID, err)
		}
		restored++
		log.InfoContext(ctx, "re-enqueued orphaned job", "job_id", job.ID, "plan_id", job.PlanID)
	}
	return restored, nil
}

// Cancel stops a plan. Every job and task not yet terminal becomes
// cancelled, queued messages are removed and in-flight work is left to
// finish; workers discard its results. Cancelling a cancelled plan is a
// no-op.
func (o *Orchestrator) Cancel(ctx context.Context, planID uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, o.logger).With("plan_id", planID)

	var (
		plan      *domain.Plan
		cancelled []*domain.Job
		err       error
	)
	for attempt := 1; attempt <= cancelAttempts; attempt++ {
		plan, cancelled, err = o.cancelOnce(ctx, planID)
		if !store.IsConflictError(err) {
			break
		}
		log.DebugContext(ctx, "cancel raced with a worker, retrying", "attempt", attempt)
	}
	if err != nil {
		return err
	}
	if plan == nil {
		return nil
	}

	for _, job := range cancelled {
		if err := o.queue.Remove(ctx, job.ID); err != nil {
			log.WarnContext(ctx, "failed to remove cancelled job from queue", "job_id", job.ID, "error", err)
		}
		o.emit(ctx, domain.NewJobEvent(job, domain.EventJobCancelled))
	}
	pct, _ := o.Progress(ctx, planID)
	o.emit(ctx, domain.NewPlanEvent(planID, domain.EventPlanCancelled, plan.Status).
		WithProgress(pct).
		WithPayload(map[string]any{"cancelled_jobs": len(cancelled)}))

	log.InfoContext(ctx, "plan cancelled", "cancelled_jobs", len(cancelled))
	return nil
}

// cancelOnce returns a nil plan when it was already cancelled.
func (o *Orchestrator) cancelOnce(ctx context.Context, planID uuid.UUID) (*domain.Plan, []*domain.Job, error) {
	var (
		plan      *domain.Plan
		cancelled []*domain.Job
	)
	err := o.tx.WithinTx(ctx, func(ctx context.Context, tx store.Stores) error {
		cancelled = nil
		var err error
		plan, err = tx.Plans.GetByID(ctx, planID)
		if err != nil {
			return err
		}
		if plan.Status == domain.PlanStatusCancelled {
			plan = nil
			return nil
		}
		if plan.IsTerminal() {
			return fmt.Errorf("%w: status is %s", ErrPlanTerminal, plan.Status)
		}

		prev := plan.Status
		if err := plan.Transition(domain.PlanStatusCancelled); err != nil {
			return err
		}
		if err := tx.Plans.Update(ctx, plan, prev); err != nil {
			return err
		}

		jobs, err := tx.Jobs.ListByPlan(ctx, planID)
		if err != nil {
			return err
		}
		for _, job := range jobs {
			if job.IsTerminal() {
				continue
			}
			tasks, err := tx.Tasks.ListByJob(ctx, job.ID)
			if err != nil {
				return err
			}
			for _, task := range tasks {
				if task.IsTerminal() {
					continue
				}
				taskPrev := task.Status
				if err := task.Cancel(); err != nil {
					return err
				}
				if err := tx.Tasks.Update(ctx, task, taskPrev); err != nil {
					return err
				}
			}

			jobPrev := job.Status
			if err := job.Cancel(); err != nil {
				return err
			}
			tally := domain.TallyTasks(tasks)
			job.SuccessfulTasks, job.FailedTasks, job.CancelledTasks = tally.Successful, tally.Failed, tally.Cancelled
			if err := tx.Jobs.Update(ctx, job, jobPrev); err != nil {
				return err
			}
			cancelled = append(cancelled, job)
		}
		return nil
	})
	return plan, cancelled, err
}

// FinalizePlan resolves an executing plan once all its jobs are terminal:
// completed when at least one question was stored, failed with per-job
// diagnostics otherwise. Plans in any other state are left alone, so a
// cancelled plan stays cancelled. Concurrent calls are safe.
func (o *Orchestrator) FinalizePlan(ctx context.Context, planID uuid.UUID) error {
	log := logger.FromContextOrDefault(ctx, o.logger).With("plan_id", planID)

	plan, err := o.stores.Plans.GetByID(ctx, planID)
	if err != nil {
		return err
	}
	if plan.Status != domain.PlanStatusExecuting {
		return nil
	}

	jobs, err := o.stores.Jobs.ListByPlan(ctx, planID)
	if err != nil {
		return err
	}
	statuses := make([]domain.JobStatus, len(jobs))
	for i, j := range jobs {
		statuses[i] = j.Status
	}
	questions, err := o.stores.Questions.CountByPlan(ctx, planID)
	if err != nil {
		return err
	}

	status := domain.ResolvePlanStatus(statuses, questions)
	if status == domain.PlanStatusExecuting {
		return nil
	}
	if status == domain.PlanStatusFailed {
		plan.Diagnostics = append(plan.Diagnostics, jobDiagnostics(jobs)...)
	}
	if err := plan.Transition(status); err != nil {
		return err
	}
	if err := o.stores.Plans.Update(ctx, plan, domain.PlanStatusExecuting); err != nil {
		if store.IsConflictError(err) {
			return nil
		}
		return err
	}

	typ := domain.EventPlanCompleted
	if status == domain.PlanStatusFailed {
		typ = domain.EventPlanFailed
	}
	o.emit(ctx, domain.NewPlanEvent(planID, typ, status).
		WithProgress(100).
		WithPayload(map[string]any{"questions": questions, "jobs": len(jobs), "diagnostics": plan.Diagnostics}))

	log.InfoContext(ctx, "plan finished", "status", status, "questions", questions)
	return nil
}

// Progress returns the share of the plan's tasks that reached a terminal
// state, as a percentage.
func (o *Orchestrator) Progress(ctx context.Context, planID uuid.UUID) (float64, error) {
	tasks, err := o.stores.Tasks.ListByPlan(ctx, planID)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, t := range tasks {
		if t.IsTerminal() {
			done++
		}
	}
	return progress.Percent(done, len(tasks)), nil
}

func jobDiagnostics(jobs []*domain.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		msg := fmt.Sprintf("job %s (%s/%s): %s, %d stored, %d failed, %d retries",
			j.ID, j.QuestionType, j.Difficulty, j.Status, j.SuccessfulTasks, j.FailedTasks, j.RetryCount)
		if j.LastError != "" {
			msg += ": " + j.LastError
		}
		out = append(out, msg)
	}
	return out
}

func (o *Orchestrator) emit(ctx context.Context, e *domain.ProgressEvent) {
	if err := o.events.Emit(ctx, e); err != nil {
		logger.FromContextOrDefault(ctx, o.logger).ErrorContext(ctx, "failed to record progress event",
			"event_type", e.Type,
			"plan_id", e.PlanID,
			"error", err)
	}
}
