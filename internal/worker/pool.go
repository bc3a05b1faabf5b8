// Package worker consumes jobs from the queue and drives their tasks
// through the generation pipeline.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/questgen/internal/config"
	"github.com/phrazzld/questgen/internal/platform/metrics"
	"github.com/phrazzld/questgen/internal/queue"
	"github.com/sourcegraph/conc"
)

// Config tunes the pool and the per-job pipeline.
type Config struct {
	// Concurrency is the number of jobs processed at once.
	Concurrency int
	// PollInterval is the wait after finding the queue empty.
	PollInterval time.Duration
	// ReconcileInterval is how often queued jobs missing from the queue
	// are re-enqueued. Zero disables the monitor.
	ReconcileInterval time.Duration
	// VisibilityTimeout bounds the processing of one delivery.
	VisibilityTimeout time.Duration
	TaskTimeout       time.Duration
	MaxTaskAttempts   int
	MinSuccessRatio   float64
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	TopK              int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       8,
		PollInterval:      time.Second,
		ReconcileInterval: time.Minute,
		VisibilityTimeout: 15 * time.Minute,
		TaskTimeout:       180 * time.Second,
		MaxTaskAttempts:   2,
		MinSuccessRatio:   0.5,
		RetryBaseDelay:    5 * time.Second,
		RetryMaxDelay:     5 * time.Minute,
		TopK:              5,
	}
}

// ConfigFromSettings builds a Config from the loaded configuration.
func ConfigFromSettings(cfg *config.Config) Config {
	return Config{
		Concurrency:       cfg.Worker.Concurrency,
		PollInterval:      cfg.Worker.PollInterval,
		ReconcileInterval: cfg.Worker.ReconcileInterval,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		TaskTimeout:       cfg.Worker.TaskTimeout,
		MaxTaskAttempts:   cfg.Worker.MaxTaskAttempts,
		MinSuccessRatio:   cfg.Worker.MinSuccessRatio,
		RetryBaseDelay:    cfg.Queue.RetryBaseDelay,
		RetryMaxDelay:     cfg.Queue.RetryMaxDelay,
		TopK:              cfg.Index.TopK,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = d.VisibilityTimeout
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = d.TaskTimeout
	}
	if c.MaxTaskAttempts <= 0 {
		c.MaxTaskAttempts = d.MaxTaskAttempts
	}
	if c.MinSuccessRatio <= 0 {
		c.MinSuccessRatio = d.MinSuccessRatio
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = d.RetryBaseDelay
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		c.RetryMaxDelay = max(d.RetryMaxDelay, c.RetryBaseDelay)
	}
	if c.TopK <= 0 {
		c.TopK = d.TopK
	}
	return c
}

// Pool manages the worker goroutines and the reconcile monitor.
type Pool struct {
	processor *Processor
	cfg       Config
	logger    *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      *conc.WaitGroup
	running bool
}

// NewPool creates a pool around processor.
func NewPool(processor *Processor, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		processor: processor,
		cfg:       processor.cfg,
		logger:    log.With("component", "worker_pool"),
	}
}

// Start launches the workers. They run until Stop is called or ctx ends.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg = conc.NewWaitGroup()
	p.running = true

	for i := range p.cfg.Concurrency {
		p.wg.Go(func() { p.worker(ctx, i) })
	}
	if p.cfg.ReconcileInterval > 0 {
		p.wg.Go(func() { p.reconcileMonitor(ctx) })
	}
	p.logger.Info("worker pool started",
		"workers", p.cfg.Concurrency,
		"poll_interval", p.cfg.PollInterval)
}

// Stop cancels the workers and waits for them to return. Jobs in flight
// are abandoned and come back once their visibility timeout passes.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.cancel()
	wg := p.wg
	p.running = false
	p.mu.Unlock()

	if r := wg.WaitAndRecover(); r != nil {
		p.logger.Error("worker panicked", "panic", r.Value, "stack", string(r.Stack))
	}
	p.logger.Info("worker pool stopped")
}

// Run starts the pool and blocks until ctx ends.
func (p *Pool) Run(ctx context.Context) error {
	p.Start(ctx)
	<-ctx.Done()
	p.Stop()
	return nil
}

// worker loops on dequeue and waits PollInterval when nothing is visible.
func (p *Pool) worker(ctx context.Context, id int) {
	log := p.logger.With("worker_id", id)
	log.Debug("starting worker")

	for {
		if ctx.Err() != nil {
			log.Debug("stopping worker")
			return
		}
		handled, err := p.Step(ctx)
		if err != nil && ctx.Err() == nil {
			log.Error("job processing failed", "error", err)
		}
		if handled {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// Step dequeues and processes at most one job. It reports whether a job
// was found.
func (p *Pool) Step(ctx context.Context) (bool, error) {
	d, err := p.processor.Queue.Dequeue(ctx, p.cfg.VisibilityTimeout)
	if errors.Is(err, queue.ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()
	return true, p.processor.Handle(ctx, d)
}

// reconcileMonitor periodically re-enqueues jobs that lost their message
// and samples the queue depth.
func (p *Pool) reconcileMonitor(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.processor.Plans.Reconcile(ctx)
			if err != nil {
				p.logger.Error("failed to reconcile queued jobs", "error", err)
			} else if n > 0 {
				p.logger.Info("re-enqueued orphaned jobs", "count", n)
			}
			if depth, err := p.processor.Queue.Depth(ctx); err == nil {
				metrics.QueueDepth.Set(float64(depth))
			}
		}
	}
}
