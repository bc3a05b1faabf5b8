package progress

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
)

// Subscription is a live feed of one plan's events.
type Subscription interface {
	// Events yields live events. The channel is closed by Close.
	Events() <-chan *domain.ProgressEvent
	Close() error
}

// Fanout delivers published events to live subscribers. Delivery is best
// effort: slow or disconnected subscribers miss events.
type Fanout interface {
	Publish(ctx context.Context, e *domain.ProgressEvent) error
	Subscribe(ctx context.Context, planID uuid.UUID) (Subscription, error)
}

// DefaultSubscriberBuffer is the channel capacity of a live subscription.
const DefaultSubscriberBuffer = 64

// MemoryHub is an in-process Fanout.
type MemoryHub struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]map[*hubSubscription]struct{}
	buffer int
	logger *slog.Logger
}

// NewMemoryHub creates a hub whose subscriptions buffer up to buffer events.
func NewMemoryHub(buffer int, logger *slog.Logger) *MemoryHub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryHub{
		subs:   make(map[uuid.UUID]map[*hubSubscription]struct{}),
		buffer: buffer,
		logger: logger.With("component", "progress_hub"),
	}
}

var _ Fanout = (*MemoryHub)(nil)

// Publish sends e to every subscriber of its plan without blocking.
func (h *MemoryHub) Publish(_ context.Context, e *domain.ProgressEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[e.PlanID] {
		select {
		case sub.ch <- e:
		default:
			h.logger.Debug("dropping event for slow subscriber",
				"plan_id", e.PlanID,
				"event_type", e.Type,
				"sequence", e.Sequence)
		}
	}
	return nil
}

// Subscribe registers a live subscription for planID.
func (h *MemoryHub) Subscribe(_ context.Context, planID uuid.UUID) (Subscription, error) {
	sub := &hubSubscription{hub: h, planID: planID, ch: make(chan *domain.ProgressEvent, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[planID] == nil {
		h.subs[planID] = make(map[*hubSubscription]struct{})
	}
	h.subs[planID][sub] = struct{}{}
	h.logger.Debug("registered subscriber", "plan_id", planID, "subscriber_count", len(h.subs[planID]))
	return sub, nil
}

// Subscribers returns the number of live subscriptions to planID.
func (h *MemoryHub) Subscribers(planID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[planID])
}

type hubSubscription struct {
	hub    *MemoryHub
	planID uuid.UUID
	ch     chan *domain.ProgressEvent
	once   sync.Once
}

func (s *hubSubscription) Events() <-chan *domain.ProgressEvent { return s.ch }

func (s *hubSubscription) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		delete(s.hub.subs[s.planID], s)
		if len(s.hub.subs[s.planID]) == 0 {
			delete(s.hub.subs, s.planID)
		}
		close(s.ch)
	})
	return nil
}
