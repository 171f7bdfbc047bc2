package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Iron-Ham/debate/internal/agent"
	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/errors"
	"github.com/Iron-Ham/debate/internal/event"
	"github.com/Iron-Ham/debate/internal/logging"
	"github.com/Iron-Ham/debate/internal/roles"
)

// Handler executes one job. A returned error counts as a failed attempt.
type Handler interface {
	Handle(ctx context.Context, j Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, j Job) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, j Job) error {
	return f(ctx, j)
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	// Agent is the agent name the worker serves, e.g. "gemini".
	Agent string
	// Block is how long each stream read waits for a job.
	Block time.Duration
	// IdempotencyTTL bounds how long a claimed job key lives.
	IdempotencyTTL time.Duration
	// ConsumerSuffix distinguishes workers of one agent in the same
	// second. Optional.
	ConsumerSuffix string
}

// Worker consumes jobs for one agent from its consumer group.
type Worker struct {
	rdb      redis.UniversalClient
	handler  Handler
	agent    string
	group    string
	consumer string
	block    time.Duration
	ttl      time.Duration
	bus      *event.Bus
	logger   *logging.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerBus publishes dead-letter events on bus.
func WithWorkerBus(bus *event.Bus) WorkerOption {
	return func(w *Worker) { w.bus = bus }
}

// WithWorkerLogger sets the logger.
func WithWorkerLogger(logger *logging.Logger) WorkerOption {
	return func(w *Worker) { w.logger = logger }
}

// NewWorker creates a worker for cfg.Agent.
func NewWorker(rdb redis.UniversalClient, handler Handler, cfg WorkerConfig, opts ...WorkerOption) *Worker {
	name := AgentName(cfg.Agent)
	consumer := fmt.Sprintf("%s-%d", name, time.Now().Unix())
	if cfg.ConsumerSuffix != "" {
		consumer += "-" + cfg.ConsumerSuffix
	}
	w := &Worker{
		rdb:      rdb,
		handler:  handler,
		agent:    name,
		group:    name + "-workers",
		consumer: consumer,
		block:    cfg.Block,
		ttl:      cfg.IdempotencyTTL,
		logger:   logging.NopLogger(),
	}
	if w.block <= 0 {
		w.block = time.Second
	}
	if w.ttl <= 0 {
		w.ttl = time.Hour
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.WithAgent(name).With("consumer", consumer)
	return w
}

// Streams returns the streams the worker reads, in priority order.
func (w *Worker) Streams() []string {
	return []string{StreamPriority, StreamFor(w.agent, "", "")}
}

// Group returns the worker's consumer group name.
func (w *Worker) Group() string {
	return w.group
}

// Setup creates the consumer group on every stream the worker reads.
// Groups that already exist are left alone.
func (w *Worker) Setup(ctx context.Context) error {
	for _, s := range w.Streams() {
		err := w.rdb.XGroupCreateMkStream(ctx, s, w.group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return errors.NewQueueError("create consumer group "+w.group, err).WithStream(s)
		}
	}
	return nil
}

// Run consumes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Setup(ctx); err != nil {
		return err
	}
	w.logger.Info("worker started", "group", w.group, "streams", w.Streams())
	for {
		if ctx.Err() != nil {
			w.logger.Info("worker stopped")
			return nil
		}
		if _, err := w.ProcessOne(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Warn("worker poll failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessOne reads at most one job and settles it. It reports whether a
// job was read. Cancelling ctx interrupts only the read: a job already
// read runs to completion and is acknowledged, retried or dead-lettered.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	for _, s := range w.Streams() {
		res, err := w.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    w.group,
			Consumer: w.consumer,
			Streams:  []string{s, ">"},
			Count:    1,
			Block:    w.block,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return false, errors.NewQueueError("read jobs", err).WithStream(s)
		}
		for _, xs := range res {
			for _, msg := range xs.Messages {
				return true, w.settle(context.WithoutCancel(ctx), xs.Stream, msg)
			}
		}
	}
	return false, nil
}

func (w *Worker) settle(ctx context.Context, stream string, msg redis.XMessage) error {
	j, err := ParseJob(msg.Values)
	if err != nil {
		w.logger.Warn("malformed job", "stream", stream, "id", msg.ID, "error", err)
		return w.deadLetter(ctx, stream, msg, j, err.Error())
	}

	// Jobs for another agent share the stream; they are settled by that
	// agent's group.
	if j.Agent != w.agent {
		return w.ack(ctx, stream, msg.ID)
	}

	key := j.IdempotencyKey()
	claimed, err := w.rdb.SetNX(ctx, key, claimValue(w.consumer, time.Now()), w.ttl).Result()
	if err != nil {
		return errors.NewQueueError("claim job", err).WithJobKey(key)
	}
	if !claimed {
		w.logger.Info("duplicate job skipped", "key", key)
		return w.ack(ctx, stream, msg.ID)
	}

	log := w.logger.With("task_id", j.TaskID, "round", j.Round, "retry_count", j.RetryCount)
	start := time.Now()
	herr := w.handler.Handle(ctx, j)
	if herr == nil {
		log.Info("job completed", "duration", time.Since(start))
		return w.ack(ctx, stream, msg.ID)
	}

	log.Warn("job failed", "error", herr, "duration", time.Since(start))
	if err := w.rdb.Del(ctx, key).Err(); err != nil {
		log.Warn("release idempotency key", "key", key, "error", err)
	}

	retry := j.RetryCount + 1
	if retry < MaxAttempts {
		values := copyValues(msg.Values)
		values["retry_count"] = strconv.Itoa(retry)
		if err := w.rdb.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Err(); err != nil {
			return errors.NewQueueError("requeue job", err).WithStream(stream).WithJobKey(key)
		}
		return w.ack(ctx, stream, msg.ID)
	}
	return w.deadLetter(ctx, stream, msg, j, herr.Error())
}

func (w *Worker) deadLetter(ctx context.Context, stream string, msg redis.XMessage, j Job, reason string) error {
	dlq := DLQStream(j.JobType)
	values := copyValues(msg.Values)
	values["error"] = reason
	if err := w.rdb.XAdd(ctx, &redis.XAddArgs{Stream: dlq, Values: values}).Err(); err != nil {
		return errors.NewQueueError("dead-letter job", err).WithStream(dlq)
	}
	w.logger.Error("job dead-lettered", "stream", dlq, "task_id", j.TaskID, "round", j.Round, "error", reason)
	if w.bus != nil {
		w.bus.Publish(event.NewJobDeadLetteredEvent(j.TaskID, dlq, j.Agent, j.Round, reason))
	}
	return w.ack(ctx, stream, msg.ID)
}

func (w *Worker) ack(ctx context.Context, stream, id string) error {
	if err := w.rdb.XAck(ctx, stream, w.group, id).Err(); err != nil {
		return errors.NewQueueError("ack job "+id, err).WithStream(stream)
	}
	return nil
}

// claimValue records who claimed a job and when.
func claimValue(consumer string, at time.Time) string {
	return consumer + "@" + strconv.FormatInt(at.Unix(), 10)
}

// claimTime parses the claim time out of a claimValue. ok is false for
// values it cannot read.
func claimTime(v string) (at time.Time, ok bool) {
	i := strings.LastIndexByte(v, '@')
	if i < 0 {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(v[i+1:], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}

func copyValues(v map[string]any) map[string]any {
	out := make(map[string]any, len(v)+1)
	for k, val := range v {
		out[k] = val
	}
	return out
}

// TaskLoader loads the task a job refers to.
type TaskLoader interface {
	GetTask(ctx context.Context, id string) (*domain.Task, error)
}

// RoleRunner runs one role for a task round.
type RoleRunner interface {
	RunRole(ctx context.Context, task *domain.Task, role roles.Role, round int, phase string) (*agent.Result, error)
}

// legacyRoles maps agent names of jobs without a role to the role they
// used to imply.
var legacyRoles = map[string]roles.Role{
	"gemini": roles.PlannerPrimary,
	"claude": roles.PlannerSecondary,
	"codex":  roles.Implementer,
}

// RoleFor returns the role a job runs as.
func RoleFor(j Job) (roles.Role, error) {
	if j.Role != "" {
		if r, err := roles.Parse(j.Role); err == nil {
			return r, nil
		}
	}
	if r, ok := legacyRoles[AgentName(j.Agent)]; ok {
		return r, nil
	}
	return "", fmt.Errorf("%w: job for agent %q has no usable role %q", errors.ErrUnknownRole, j.Agent, j.Role)
}

// ExecutorHandler runs jobs through a RoleRunner. A failed agent call is
// an error so the job is retried.
func ExecutorHandler(tasks TaskLoader, runner RoleRunner) Handler {
	return HandlerFunc(func(ctx context.Context, j Job) error {
		task, err := tasks.GetTask(ctx, j.TaskID)
		if err != nil {
			return err
		}
		role, err := RoleFor(j)
		if err != nil {
			return err
		}
		phase := j.Phase
		if phase == "" {
			phase = "analysis"
		}
		res, err := runner.RunRole(ctx, task, role, j.Round, phase)
		if err != nil {
			return err
		}
		if !res.Success {
			return errors.NewAgentError(res.Error, nil).WithAgent(j.Agent).WithRole(string(role))
		}
		return nil
	})
}
