// Package progress records pipeline progress events and streams them to
// subscribers.
//
// The append-only EventLog is the source of truth; every event is written
// there before it is offered to the best-effort Fanout. Subscribers that
// miss live events recover them by replaying the log.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/platform/logger"
)

// DefaultHeartbeat is the idle interval after which subscribers receive a
// heartbeat event.
const DefaultHeartbeat = 15 * time.Second

// EventLog is the persisted progress log.
type EventLog interface {
	Append(ctx context.Context, e *domain.ProgressEvent) error
	ListAfter(ctx context.Context, planID uuid.UUID, afterSequence int64, since time.Time) ([]*domain.ProgressEvent, error)
}

// Emitter records progress events.
type Emitter interface {
	Emit(ctx context.Context, e *domain.ProgressEvent) error
}

// SubscribeOptions filter and position a subscription.
type SubscribeOptions struct {
	// Types limits delivery to these event types. Empty means all.
	Types []domain.EventType
	// MinDelta drops events whose progress advanced less than this since
	// the last delivered event. Plan terminal events always pass.
	MinDelta float64
	// Since replays events at or after this time.
	Since time.Time
	// AfterSequence replays events after this sequence.
	AfterSequence int64
	// Heartbeat overrides the broadcaster's idle interval.
	Heartbeat time.Duration
}

// Broadcaster writes events to the log and fans them out.
type Broadcaster struct {
	log       EventLog
	fanout    Fanout
	heartbeat time.Duration
	buffer    int
	logger    *slog.Logger
}

// NewBroadcaster creates a Broadcaster.
func NewBroadcaster(log EventLog, fanout Fanout, heartbeat time.Duration, buffer int, lg *slog.Logger) (*Broadcaster, error) {
	if log == nil {
		return nil, errors.New("event log cannot be nil")
	}
	if fanout == nil {
		return nil, errors.New("fanout cannot be nil")
	}
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if lg == nil {
		lg = slog.Default()
	}
	return &Broadcaster{
		log:       log,
		fanout:    fanout,
		heartbeat: heartbeat,
		buffer:    buffer,
		logger:    lg.With("component", "progress_broadcaster"),
	}, nil
}

var _ Emitter = (*Broadcaster)(nil)

// Emit appends e to the log and then publishes it. A log failure is
// returned; a publish failure is only logged.
func (b *Broadcaster) Emit(ctx context.Context, e *domain.ProgressEvent) error {
	if err := b.log.Append(ctx, e); err != nil {
		return fmt.Errorf("append progress event: %w", err)
	}
	if err := b.fanout.Publish(ctx, e); err != nil {
		logger.FromContextOrDefault(ctx, b.logger).WarnContext(ctx, "failed to publish progress event",
			"plan_id", e.PlanID,
			"event_type", e.Type,
			"sequence", e.Sequence,
			"error", err)
	}
	return nil
}

// Subscribe streams a plan's events: first the logged events after the
// requested position, then live ones, with heartbeats while idle. The
// channel closes when ctx ends or after a plan terminal event, and right
// after the replay when that event precedes the requested position.
func (b *Broadcaster) Subscribe(ctx context.Context, planID uuid.UUID, opts SubscribeOptions) (<-chan *domain.ProgressEvent, error) {
	// Subscribe live before reading the log so nothing falls between them.
	sub, err := b.fanout.Subscribe(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("subscribe to fanout: %w", err)
	}
	replay, err := b.log.ListAfter(ctx, planID, opts.AfterSequence, opts.Since)
	if err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("replay progress log: %w", err)
	}
	finished, err := b.finishedBefore(ctx, planID, replay, opts)
	if err != nil {
		_ = sub.Close()
		return nil, err
	}

	heartbeat := opts.Heartbeat
	if heartbeat <= 0 {
		heartbeat = b.heartbeat
	}
	out := make(chan *domain.ProgressEvent, b.buffer)
	s := &stream{planID: planID, opts: opts, out: out, lastProgress: -1}

	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()

		var replayed int64
		for _, e := range replay {
			replayed = max(replayed, e.Sequence)
			if done := s.deliver(ctx, e); done {
				return
			}
		}
		if finished {
			// the terminal event lies before the requested position
			return
		}

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-sub.Events():
				if !ok {
					return
				}
				if e.Sequence <= replayed {
					continue
				}
				if done := s.deliver(ctx, e); done {
					return
				}
			case <-ticker.C:
				if time.Since(s.lastSent) < heartbeat {
					continue
				}
				s.send(ctx, &domain.ProgressEvent{
					ID:        uuid.New(),
					PlanID:    planID,
					Type:      domain.EventHeartbeat,
					Progress:  max(s.lastProgress, 0),
					Timestamp: time.Now().UTC(),
				})
			}
		}
	}()
	return out, nil
}

// finishedBefore reports whether the plan reached a terminal event that
// the replay skipped because it lies before the subscription's position.
func (b *Broadcaster) finishedBefore(ctx context.Context, planID uuid.UUID, replay []*domain.ProgressEvent, opts SubscribeOptions) (bool, error) {
	if hasTerminal(replay) || (opts.AfterSequence <= 0 && opts.Since.IsZero()) {
		return false, nil
	}
	all, err := b.log.ListAfter(ctx, planID, 0, time.Time{})
	if err != nil {
		return false, fmt.Errorf("read progress log: %w", err)
	}
	if !hasTerminal(all) {
		return false, nil
	}
	logger.FromContextOrDefault(ctx, b.logger).DebugContext(ctx, "plan already finished, closing stream",
		"plan_id", planID,
		"after_sequence", opts.AfterSequence)
	return true, nil
}

func hasTerminal(events []*domain.ProgressEvent) bool {
	return slices.ContainsFunc(events, func(e *domain.ProgressEvent) bool { return e.Type.IsTerminal() })
}

type stream struct {
	planID       uuid.UUID
	opts         SubscribeOptions
	out          chan<- *domain.ProgressEvent
	lastProgress float64
	lastSent     time.Time
}

// deliver filters and sends e, reporting whether the stream is finished.
func (s *stream) deliver(ctx context.Context, e *domain.ProgressEvent) bool {
	terminal := e.Type.IsTerminal()
	if s.accepts(e) {
		if !s.send(ctx, e) {
			return true
		}
		s.lastProgress = max(s.lastProgress, e.Progress)
	}
	return terminal
}

func (s *stream) accepts(e *domain.ProgressEvent) bool {
	if e.Type.IsTerminal() {
		return true
	}
	if len(s.opts.Types) > 0 && !slices.Contains(s.opts.Types, e.Type) {
		return false
	}
	if s.opts.MinDelta > 0 && s.lastProgress >= 0 && e.Progress-s.lastProgress < s.opts.MinDelta {
		return false
	}
	return true
}

func (s *stream) send(ctx context.Context, e *domain.ProgressEvent) bool {
	select {
	case s.out <- e:
		s.lastSent = time.Now()
		return true
	case <-ctx.Done():
		return false
	}
}
