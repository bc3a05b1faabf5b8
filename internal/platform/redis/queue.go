package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/queue"
	"github.com/redis/go-redis/v9"
)

// Queue keeps messages in a hash and their state in three sorted sets:
// ready (scored by priority class then enqueue order), delayed (scored by
// visibility time) and inflight (scored by lease deadline). Every state
// change is a Lua script, so moves are atomic.
type Queue struct {
	client *redis.Client
	keys   queueKeys
	now    func() time.Time
	logger *slog.Logger
}

type queueKeys struct {
	msg, order, ready, delayed, inflight, receipt, deliveries, seq string
}

func (k queueKeys) all() []string {
	return []string{k.msg, k.order, k.ready, k.delayed, k.inflight, k.receipt, k.deliveries, k.seq}
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithClock replaces time.Now; the scripts take the time as an argument.
func WithClock(now func() time.Time) QueueOption {
	return func(q *Queue) { q.now = now }
}

// NewQueue creates a queue stored under the given name.
func NewQueue(client *redis.Client, name string, logger *slog.Logger, opts ...QueueOption) *Queue {
	base := keyPrefix + "queue:" + name + ":"
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		client: client,
		keys: queueKeys{
			msg:        base + "msg",
			order:      base + "order",
			ready:      base + "ready",
			delayed:    base + "delayed",
			inflight:   base + "inflight",
			receipt:    base + "receipt",
			deliveries: base + "deliveries",
			seq:        base + "seq",
		},
		now:    time.Now,
		logger: logger.With("component", "redis_queue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

var _ queue.Queue = (*Queue)(nil)

// KEYS: msg order ready delayed inflight receipt deliveries seq
var enqueueScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then return 0 end
local seq = redis.call('INCR', KEYS[8])
local score = tonumber(ARGV[3]) * 1e12 + seq
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[2], ARGV[1], score)
if tonumber(ARGV[5]) > tonumber(ARGV[4]) then
  redis.call('ZADD', KEYS[4], ARGV[5], ARGV[1])
else
  redis.call('ZADD', KEYS[3], score, ARGV[1])
end
return 1
`)

var dequeueScript = redis.NewScript(`
local now = tonumber(ARGV[1])
for _, set in ipairs({KEYS[4], KEYS[5]}) do
  local due = redis.call('ZRANGEBYSCORE', set, '-inf', now)
  for _, id in ipairs(due) do
    redis.call('ZREM', set, id)
    redis.call('ZADD', KEYS[3], redis.call('HGET', KEYS[2], id), id)
  end
end
local first = redis.call('ZRANGE', KEYS[3], 0, 0)
if #first == 0 then return false end
local id = first[1]
redis.call('ZREM', KEYS[3], id)
redis.call('ZADD', KEYS[5], now + tonumber(ARGV[2]), id)
redis.call('HSET', KEYS[6], id, ARGV[3])
local n = redis.call('HINCRBY', KEYS[7], id, 1)
return {id, redis.call('HGET', KEYS[1], id), n}
`)

var ackScript = redis.NewScript(`
if redis.call('HGET', KEYS[6], ARGV[1]) ~= ARGV[2] then return 0 end
for i = 3, 5 do redis.call('ZREM', KEYS[i], ARGV[1]) end
for _, i in ipairs({1, 2, 6, 7}) do redis.call('HDEL', KEYS[i], ARGV[1]) end
return 1
`)

var nackScript = redis.NewScript(`
if redis.call('HGET', KEYS[6], ARGV[1]) ~= ARGV[2] then return 0 end
redis.call('HDEL', KEYS[6], ARGV[1])
redis.call('ZREM', KEYS[5], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
if tonumber(ARGV[4]) > 0 then
  redis.call('ZADD', KEYS[4], tonumber(ARGV[3]) + tonumber(ARGV[4]), ARGV[1])
else
  redis.call('ZADD', KEYS[3], redis.call('HGET', KEYS[2], ARGV[1]), ARGV[1])
end
return 1
`)

var extendScript = redis.NewScript(`
if redis.call('HGET', KEYS[6], ARGV[1]) ~= ARGV[2] then return 0 end
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZADD', KEYS[5], tonumber(ARGV[3]) + tonumber(ARGV[4]), ARGV[1])
return 1
`)

var removeScript = redis.NewScript(`
for i = 3, 5 do redis.call('ZREM', KEYS[i], ARGV[1]) end
for _, i in ipairs({1, 2, 6, 7}) do redis.call('HDEL', KEYS[i], ARGV[1]) end
return 1
`)

type storedMessage struct {
	Message    queue.Message `json:"message"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}

func (q *Queue) nowMillis() int64 {
	return q.now().UnixMilli()
}

// Enqueue implements queue.Queue.
func (q *Queue) Enqueue(ctx context.Context, msg queue.Message, delay time.Duration) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	now := q.now()
	body, err := json.Marshal(storedMessage{Message: msg, EnqueuedAt: now.UTC()})
	if err != nil {
		return fmt.Errorf("encode queue message: %w", err)
	}
	visibleAt := now.Add(delay).UnixMilli()
	if err := enqueueScript.Run(ctx, q.client, q.keys.all(),
		msg.JobID.String(), body, msg.Priority, now.UnixMilli(), visibleAt).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", msg.JobID, err)
	}
	return nil
}

// Dequeue implements queue.Queue.
func (q *Queue) Dequeue(ctx context.Context, visibility time.Duration) (*queue.Delivery, error) {
	receipt := uuid.NewString()
	res, err := dequeueScript.Run(ctx, q.client, q.keys.all(),
		q.nowMillis(), visibility.Milliseconds(), receipt).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, queue.ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("dequeue: unexpected reply of %d elements", len(res))
	}

	body, _ := res[1].(string)
	var stored storedMessage
	if err := json.Unmarshal([]byte(body), &stored); err != nil {
		// A corrupt message would be redelivered forever; drop it.
		q.logger.ErrorContext(ctx, "dropping undecodable queue message",
			"job_id", res[0], "error", err)
		_ = removeScript.Run(ctx, q.client, q.keys.all(), res[0]).Err()
		return nil, fmt.Errorf("%w: %v", queue.ErrInvalidMessage, err)
	}
	deliveries, _ := res[2].(int64)
	return &queue.Delivery{
		Message:    stored.Message,
		Receipt:    receipt,
		Deliveries: int(deliveries),
		EnqueuedAt: stored.EnqueuedAt,
	}, nil
}

func (q *Queue) runOwned(ctx context.Context, script *redis.Script, op string, d *queue.Delivery, args ...any) error {
	n, err := script.Run(ctx, q.client, q.keys.all(), append([]any{d.JobID.String(), d.Receipt}, args...)...).Int()
	if err != nil {
		return fmt.Errorf("%s job %s: %w", op, d.JobID, err)
	}
	if n == 0 {
		return queue.ErrLeaseLost
	}
	return nil
}

// Ack implements queue.Queue.
func (q *Queue) Ack(ctx context.Context, d *queue.Delivery) error {
	return q.runOwned(ctx, ackScript, "ack", d)
}

// Nack implements queue.Queue.
func (q *Queue) Nack(ctx context.Context, d *queue.Delivery, delay time.Duration) error {
	return q.runOwned(ctx, nackScript, "nack", d, q.nowMillis(), delay.Milliseconds())
}

// Extend implements queue.Queue.
func (q *Queue) Extend(ctx context.Context, d *queue.Delivery, visibility time.Duration) error {
	return q.runOwned(ctx, extendScript, "extend", d, q.nowMillis(), visibility.Milliseconds())
}

// Remove implements queue.Queue.
func (q *Queue) Remove(ctx context.Context, jobID uuid.UUID) error {
	if err := removeScript.Run(ctx, q.client, q.keys.all(), jobID.String()).Err(); err != nil {
		return fmt.Errorf("remove job %s: %w", jobID, err)
	}
	return nil
}

// Contains implements queue.Queue.
func (q *Queue) Contains(ctx context.Context, jobID uuid.UUID) (bool, error) {
	ok, err := q.client.HExists(ctx, q.keys.msg, jobID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("check job %s: %w", jobID, err)
	}
	return ok, nil
}

// Depth implements queue.Queue.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	n, err := q.client.HLen(ctx, q.keys.msg).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return int(n), nil
}
