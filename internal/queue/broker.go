package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Iron-Ham/debate/internal/errors"
	"github.com/Iron-Ham/debate/internal/event"
	"github.com/Iron-Ham/debate/internal/logging"
)

// DefaultMaxDepth is the stream length at which Enqueue refuses new jobs.
const DefaultMaxDepth = 100

// Connect opens a client for a redis:// URL and checks that it answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.NewValidationError("invalid redis url").WithField("queue.redis_url").WithCause(err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.NewQueueError("redis unreachable at "+opts.Addr, err)
	}
	return client, nil
}

// Broker enqueues jobs and inspects the streams.
type Broker struct {
	rdb      redis.UniversalClient
	maxDepth int64
	bus      *event.Bus
	logger   *logging.Logger
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithMaxDepth sets the capacity of each stream.
func WithMaxDepth(n int64) BrokerOption {
	return func(b *Broker) {
		if n > 0 {
			b.maxDepth = n
		}
	}
}

// WithBrokerBus publishes job events on bus.
func WithBrokerBus(bus *event.Bus) BrokerOption {
	return func(b *Broker) { b.bus = bus }
}

// WithBrokerLogger sets the logger.
func WithBrokerLogger(logger *logging.Logger) BrokerOption {
	return func(b *Broker) { b.logger = logger }
}

// NewBroker creates a Broker on rdb.
func NewBroker(rdb redis.UniversalClient, opts ...BrokerOption) *Broker {
	b := &Broker{rdb: rdb, maxDepth: DefaultMaxDepth, logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Client returns the underlying Redis client.
func (b *Broker) Client() redis.UniversalClient {
	return b.rdb
}

// Enqueue appends j to its stream, or to the priority stream, and returns
// the entry id. A stream at capacity rejects the job with a CapacityError.
func (b *Broker) Enqueue(ctx context.Context, j Job, priority bool) (string, error) {
	stream := j.Stream()
	if priority {
		stream = StreamPriority
	}

	n, err := b.rdb.XLen(ctx, stream).Result()
	if err != nil {
		return "", errors.NewQueueError("read stream length", err).WithStream(stream)
	}
	if n >= b.maxDepth {
		return "", errors.NewCapacityError(stream, b.maxDepth)
	}

	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: j.Values()}).Result()
	if err != nil {
		return "", errors.NewQueueError("enqueue job", err).WithStream(stream)
	}
	b.logger.Debug("job enqueued",
		"stream", stream,
		"task_id", j.TaskID,
		"round", j.Round,
		"agent", j.Agent,
		"id", id)
	if b.bus != nil {
		b.bus.Publish(event.NewJobEnqueuedEvent(j.TaskID, stream, j.Agent, j.Round))
	}
	return id, nil
}

// ReleaseClaim deletes j's idempotency key when it was claimed at least
// olderThan ago, so a reconciled job can run in place of one whose worker
// died. Claims it cannot date count as old. It reports whether a key was
// deleted.
func (b *Broker) ReleaseClaim(ctx context.Context, j Job, olderThan time.Duration) (bool, error) {
	key := j.IdempotencyKey()
	v, err := b.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, errors.NewQueueError("read claim", err).WithJobKey(key)
	}
	if at, ok := claimTime(v); ok && time.Since(at) < olderThan {
		return false, nil
	}
	if err := b.rdb.Del(ctx, key).Err(); err != nil {
		return false, errors.NewQueueError("release claim", err).WithJobKey(key)
	}
	b.logger.Info("released stale claim", "key", key, "holder", v)
	return true, nil
}

// Depths returns the length of every job stream.
func (b *Broker) Depths(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, s := range []string{StreamAnalysis, StreamImplement, StreamPriority, DLQStream(JobAnalysis), DLQStream(JobImplement)} {
		n, err := b.rdb.XLen(ctx, s).Result()
		if err != nil {
			return nil, errors.NewQueueError("read stream length", err).WithStream(s)
		}
		out[s] = n
	}
	return out, nil
}

// DeadLetter is a job that exhausted its attempts.
type DeadLetter struct {
	ID    string
	Job   Job
	Error string
	At    time.Time
}

// DeadLetters lists up to limit dead-lettered jobs of jobType, oldest first.
func (b *Broker) DeadLetters(ctx context.Context, jobType string, limit int64) ([]DeadLetter, error) {
	stream := DLQStream(jobType)
	var msgs []redis.XMessage
	var err error
	if limit > 0 {
		msgs, err = b.rdb.XRangeN(ctx, stream, "-", "+", limit).Result()
	} else {
		msgs, err = b.rdb.XRange(ctx, stream, "-", "+").Result()
	}
	if err != nil {
		return nil, errors.NewQueueError("read dead letters", err).WithStream(stream)
	}

	out := make([]DeadLetter, 0, len(msgs))
	for _, m := range msgs {
		j, _ := ParseJob(m.Values)
		msg, _ := m.Values["error"].(string)
		out = append(out, DeadLetter{ID: m.ID, Job: j, Error: msg, At: entryTime(m.ID)})
	}
	return out, nil
}

// entryTime reads the millisecond timestamp in a stream entry id.
func entryTime(id string) time.Time {
	ms, _, _ := strings.Cut(id, "-")
	var v int64
	if _, err := fmt.Sscan(ms, &v); err != nil {
		return time.Time{}
	}
	return time.UnixMilli(v)
}

// Publish implements event.Publisher over Redis pub/sub.
func (b *Broker) Publish(ctx context.Context, channel, payload string) error {
	return b.rdb.Publish(ctx, channel, payload).Err()
}
