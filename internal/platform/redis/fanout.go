package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/progress"
	"github.com/redis/go-redis/v9"
)

// Fanout publishes progress events on one pub/sub channel per plan, so
// every server instance can stream any plan.
type Fanout struct {
	client *redis.Client
	buffer int
	logger *slog.Logger
}

// NewFanout creates a Fanout whose subscriptions buffer up to buffer events.
func NewFanout(client *redis.Client, buffer int, logger *slog.Logger) *Fanout {
	if buffer <= 0 {
		buffer = progress.DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{client: client, buffer: buffer, logger: logger.With("component", "redis_fanout")}
}

var _ progress.Fanout = (*Fanout)(nil)

func channelFor(planID uuid.UUID) string {
	return keyPrefix + "progress:" + planID.String()
}

// Publish implements progress.Fanout.
func (f *Fanout) Publish(ctx context.Context, e *domain.ProgressEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode progress event: %w", err)
	}
	if err := f.client.Publish(ctx, channelFor(e.PlanID), body).Err(); err != nil {
		return fmt.Errorf("publish progress event: %w", err)
	}
	return nil
}

// Subscribe implements progress.Fanout. It returns once Redis has confirmed
// the subscription.
func (f *Fanout) Subscribe(ctx context.Context, planID uuid.UUID) (progress.Subscription, error) {
	ps := f.client.Subscribe(ctx, channelFor(planID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe to plan %s: %w", planID, err)
	}

	sub := &pubsubSubscription{
		ps:   ps,
		out:  make(chan *domain.ProgressEvent, f.buffer),
		done: make(chan struct{}),
	}
	go sub.pump(f.logger.With("plan_id", planID))
	return sub, nil
}

type pubsubSubscription struct {
	ps   *redis.PubSub
	out  chan *domain.ProgressEvent
	done chan struct{}
	once sync.Once
}

func (s *pubsubSubscription) pump(log *slog.Logger) {
	defer close(s.done)
	defer close(s.out)
	for msg := range s.ps.Channel() {
		var e domain.ProgressEvent
		if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
			log.Warn("skipping undecodable progress event", "error", err)
			continue
		}
		select {
		case s.out <- &e:
		default:
			log.Debug("dropping event for slow subscriber", "event_type", e.Type, "sequence", e.Sequence)
		}
	}
}

func (s *pubsubSubscription) Events() <-chan *domain.ProgressEvent { return s.out }

func (s *pubsubSubscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
		<-s.done
	})
	return err
}
