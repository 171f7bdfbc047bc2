package queue

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Iron-Ham/debate/internal/agent"
	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/errors"
	"github.com/Iron-Ham/debate/internal/event"
	"github.com/Iron-Ham/debate/internal/roles"
	"github.com/Iron-Ham/debate/internal/testutil"
)

func TestParseJob(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]any
		wantErr bool
	}{
		{"complete", map[string]any{"task_id": "t1", "round": "2", "agent": "gemini", "retry_count": "1"}, false},
		{"missing agent", map[string]any{"task_id": "t1", "round": "1"}, true},
		{"missing task", map[string]any{"round": "1", "agent": "gemini"}, true},
		{"zero round", map[string]any{"task_id": "t1", "round": "0", "agent": "gemini"}, true},
		{"bad retry count", map[string]any{"task_id": "t1", "round": "1", "agent": "gemini", "retry_count": "x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, err := ParseJob(tt.values)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseJob() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, errors.ErrMalformedJob) {
				t.Errorf("ParseJob() error = %v, want ErrMalformedJob", err)
			}
			if !tt.wantErr && (j.Round != 2 || j.RetryCount != 1 || j.JobType != JobAnalysis) {
				t.Errorf("ParseJob() = %+v", j)
			}
		})
	}
}

func TestStreamFor(t *testing.T) {
	tests := []struct {
		agent, role, jobType string
		want                 string
	}{
		{"gemini", "planner_primary", "", StreamAnalysis},
		{"codex", "", "", StreamImplement},
		{"debate_codex", "", "", StreamImplement},
		{"claude", "implementer", "", StreamImplement},
		{"codex", "planner_primary", JobAnalysis, StreamAnalysis},
		{"gemini", "", JobImplement, StreamImplement},
		{"gemini", "", "other", StreamAnalysis},
	}
	for _, tt := range tests {
		if got := StreamFor(tt.agent, tt.role, tt.jobType); got != tt.want {
			t.Errorf("StreamFor(%q, %q, %q) = %q, want %q", tt.agent, tt.role, tt.jobType, got, tt.want)
		}
	}
}

func TestBroker_EnqueueRoutesAndRejectsWhenFull(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	ctx := context.Background()
	bus := event.NewBus(nil)
	var enqueued int
	bus.Subscribe("job.enqueued", func(event.Event) { enqueued++ })

	b := NewBroker(rdb, WithMaxDepth(2), WithBrokerBus(bus))

	job := Job{TaskID: "t1", TaskSlug: "s", Round: 1, Agent: "gemini", Role: "planner_primary"}
	for range 2 {
		if _, err := b.Enqueue(ctx, job, false); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	_, err := b.Enqueue(ctx, job, false)
	if !errors.Is(err, errors.ErrQueueFull) {
		t.Fatalf("Enqueue() on full stream error = %v, want ErrQueueFull", err)
	}
	if err.Error() != "Stream stream:jobs:analysis at capacity (2)" {
		t.Errorf("Enqueue() error = %q", err.Error())
	}

	if _, err := b.Enqueue(ctx, Job{TaskID: "t1", Round: 1, Agent: "codex"}, false); err != nil {
		t.Fatalf("Enqueue(codex) error = %v", err)
	}
	if _, err := b.Enqueue(ctx, job, true); err != nil {
		t.Fatalf("Enqueue(priority) error = %v", err)
	}

	depths, err := b.Depths(ctx)
	if err != nil {
		t.Fatalf("Depths() error = %v", err)
	}
	if depths[StreamAnalysis] != 2 || depths[StreamImplement] != 1 || depths[StreamPriority] != 1 {
		t.Errorf("Depths() = %v", depths)
	}
	if enqueued != 4 {
		t.Errorf("job.enqueued events = %d, want 4", enqueued)
	}

	msgs, _ := rdb.XRange(ctx, StreamAnalysis, "-", "+").Result()
	if v := msgs[0].Values; v["schema_version"] != "1.1" || v["round"] != "1" || v["retry_count"] != "0" {
		t.Errorf("wire fields = %v", v)
	}
}

// countingHandler records the jobs it ran and fails while fail is set.
type countingHandler struct {
	mu   sync.Mutex
	jobs []Job
	fail error
}

func (h *countingHandler) Handle(ctx context.Context, j Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs = append(h.jobs, j)
	return h.fail
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.jobs)
}

func newTestWorker(t *testing.T, rdb redis.UniversalClient, agentName string, h Handler, opts ...WorkerOption) *Worker {
	t.Helper()
	w := NewWorker(rdb, h, WorkerConfig{Agent: agentName, Block: 10 * time.Millisecond, IdempotencyTTL: time.Minute}, opts...)
	if err := w.Setup(context.Background()); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	return w
}

func TestWorker_SetupIsIdempotent(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	w := newTestWorker(t, rdb, "gemini", &countingHandler{})
	if err := w.Setup(context.Background()); err != nil {
		t.Errorf("second Setup() error = %v, want existing groups ignored", err)
	}
	if w.Group() != "gemini-workers" {
		t.Errorf("Group() = %q", w.Group())
	}
}

func TestWorker_DuplicateJobRunsOnce(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	ctx := context.Background()
	h := &countingHandler{}
	w := newTestWorker(t, rdb, "gemini", h)
	b := NewBroker(rdb)

	job := Job{TaskID: "t1", Round: 1, Agent: "gemini", Role: "planner_primary"}
	_, _ = b.Enqueue(ctx, job, false)
	_, _ = b.Enqueue(ctx, job, false)

	for i := range 2 {
		got, err := w.ProcessOne(ctx)
		if err != nil || !got {
			t.Fatalf("ProcessOne() #%d = %v, %v", i, got, err)
		}
	}
	if h.count() != 1 {
		t.Errorf("handler ran %d times, want 1", h.count())
	}
	if got, _ := w.ProcessOne(ctx); got {
		t.Error("ProcessOne() read a job from an empty stream")
	}
}

func TestWorker_RetriesThenDeadLetters(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	ctx := context.Background()
	h := &countingHandler{fail: errors.New("agent exploded")}
	bus := event.NewBus(nil)
	var dead []event.Event
	bus.Subscribe("job.dead_lettered", func(e event.Event) { dead = append(dead, e) })

	w := newTestWorker(t, rdb, "claude", h, WithWorkerBus(bus))
	job := Job{TaskID: "t1", TaskSlug: "s", Round: 2, Agent: "claude", Role: "planner_secondary"}
	if _, err := NewBroker(rdb).Enqueue(ctx, job, false); err != nil {
		t.Fatal(err)
	}

	for i := range MaxAttempts {
		got, err := w.ProcessOne(ctx)
		if err != nil || !got {
			t.Fatalf("ProcessOne() attempt %d = %v, %v", i+1, got, err)
		}
		if mr.Exists(job.IdempotencyKey()) {
			t.Errorf("attempt %d left the idempotency key claimed", i+1)
		}
	}
	if got, _ := w.ProcessOne(ctx); got {
		t.Error("a fourth delivery happened after the retry ceiling")
	}
	if h.count() != MaxAttempts {
		t.Errorf("handler ran %d times, want %d", h.count(), MaxAttempts)
	}

	retries := []int{}
	for _, j := range h.jobs {
		retries = append(retries, j.RetryCount)
	}
	if len(retries) != 3 || retries[0] != 0 || retries[1] != 1 || retries[2] != 2 {
		t.Errorf("retry counts = %v, want [0 1 2]", retries)
	}

	dl, err := NewBroker(rdb).DeadLetters(ctx, JobAnalysis, 0)
	if err != nil {
		t.Fatalf("DeadLetters() error = %v", err)
	}
	if len(dl) != 1 || dl[0].Error != "agent exploded" || dl[0].Job.TaskID != "t1" {
		t.Errorf("DeadLetters() = %+v", dl)
	}
	if len(dead) != 1 {
		t.Errorf("job.dead_lettered events = %d, want 1", len(dead))
	}
}

func TestWorker_IgnoresOtherAgentsJobs(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	ctx := context.Background()
	gh := &countingHandler{}
	ch := &countingHandler{}
	gemini := newTestWorker(t, rdb, "gemini", gh)
	claude := newTestWorker(t, rdb, "debate_claude", ch)

	job := Job{TaskID: "t1", Round: 1, Agent: "claude", Role: "planner_secondary"}
	_, _ = NewBroker(rdb).Enqueue(ctx, job, false)

	if got, err := gemini.ProcessOne(ctx); err != nil || !got {
		t.Fatalf("gemini ProcessOne() = %v, %v", got, err)
	}
	if gh.count() != 0 {
		t.Error("gemini worker ran a claude job")
	}
	if mr.Exists(job.IdempotencyKey()) {
		t.Error("gemini worker claimed the claude job's idempotency key")
	}

	if got, err := claude.ProcessOne(ctx); err != nil || !got {
		t.Fatalf("claude ProcessOne() = %v, %v", got, err)
	}
	if ch.count() != 1 {
		t.Errorf("claude handler ran %d times, want 1", ch.count())
	}
}

func TestWorker_MalformedJobDeadLettered(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	ctx := context.Background()
	h := &countingHandler{}
	w := newTestWorker(t, rdb, "gemini", h)

	rdb.XAdd(ctx, &redis.XAddArgs{Stream: StreamAnalysis, Values: map[string]any{"job_type": "analysis", "round": "1"}})

	if got, err := w.ProcessOne(ctx); err != nil || !got {
		t.Fatalf("ProcessOne() = %v, %v", got, err)
	}
	if h.count() != 0 {
		t.Error("malformed job reached the handler")
	}
	dl, _ := NewBroker(rdb).DeadLetters(ctx, JobAnalysis, 10)
	if len(dl) != 1 || !strings.Contains(dl[0].Error, "malformed job") {
		t.Errorf("DeadLetters() = %+v", dl)
	}
}

func TestWorker_PriorityFirst(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	ctx := context.Background()
	h := &countingHandler{}
	w := newTestWorker(t, rdb, "gemini", h)
	b := NewBroker(rdb)

	_, _ = b.Enqueue(ctx, Job{TaskID: "normal", Round: 1, Agent: "gemini"}, false)
	_, _ = b.Enqueue(ctx, Job{TaskID: "urgent", Round: 1, Agent: "gemini"}, true)

	_, _ = w.ProcessOne(ctx)
	if h.count() != 1 || h.jobs[0].TaskID != "urgent" {
		t.Errorf("first job = %+v, want the priority job", h.jobs)
	}
}

// cancellingHandler cancels the worker's context mid-job, the way a
// SIGTERM would, and reports whether its own context survived.
type cancellingHandler struct {
	cancel   context.CancelFunc
	fail     error
	ctxAlive bool
}

func (h *cancellingHandler) Handle(ctx context.Context, j Job) error {
	h.cancel()
	h.ctxAlive = ctx.Err() == nil
	return h.fail
}

func TestWorker_ShutdownMidJobStillSettles(t *testing.T) {
	tests := []struct {
		name      string
		fail      error
		wantDepth int64
	}{
		{name: "success is acknowledged", wantDepth: 1},
		{name: "failure is requeued", fail: errors.New("interrupted"), wantDepth: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, rdb := testutil.NewRedis(t)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			h := &cancellingHandler{cancel: cancel, fail: tt.fail}
			w := newTestWorker(t, rdb, "gemini", h)
			if _, err := NewBroker(rdb).Enqueue(context.Background(), Job{TaskID: "t1", Round: 1, Agent: "gemini"}, false); err != nil {
				t.Fatal(err)
			}

			got, err := w.ProcessOne(ctx)
			if err != nil || !got {
				t.Fatalf("ProcessOne() = %v, %v", got, err)
			}
			if !h.ctxAlive {
				t.Error("handler context was cancelled by the worker's shutdown")
			}

			bg := context.Background()
			pending, err := rdb.XPending(bg, StreamAnalysis, w.Group()).Result()
			if err != nil {
				t.Fatalf("XPending() error = %v", err)
			}
			if pending.Count != 0 {
				t.Errorf("pending entries = %d, want 0", pending.Count)
			}
			if n, _ := rdb.XLen(bg, StreamAnalysis).Result(); n != tt.wantDepth {
				t.Errorf("stream length = %d, want %d", n, tt.wantDepth)
			}
		})
	}
}

func TestPool_RunStopsOnCancel(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	h := &countingHandler{}
	p := NewPool(rdb, h, WorkerConfig{Agent: "gemini", Block: 10 * time.Millisecond}, 2)
	if len(p.Workers()) != 2 || p.Workers()[0].consumer == p.Workers()[1].consumer {
		t.Fatalf("pool workers share a consumer name")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	_, _ = NewBroker(rdb).Enqueue(context.Background(), Job{TaskID: "t1", Round: 1, Agent: "gemini"}, false)

	deadline := time.Now().Add(2 * time.Second)
	for h.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if h.count() != 1 {
		t.Errorf("handler ran %d times, want 1", h.count())
	}
}

type fakeRoleRunner struct {
	role  roles.Role
	round int
	phase string
	res   agent.Result
}

func (f *fakeRoleRunner) RunRole(ctx context.Context, task *domain.Task, role roles.Role, round int, phase string) (*agent.Result, error) {
	f.role, f.round, f.phase = role, round, phase
	res := f.res
	return &res, nil
}

func TestExecutorHandler(t *testing.T) {
	st := testutil.NewStore(t)
	task := testutil.NewTask(t, st, "handler")
	ctx := context.Background()

	runner := &fakeRoleRunner{res: agent.Result{Success: true}}
	h := ExecutorHandler(st, runner)

	if err := h.Handle(ctx, Job{TaskID: task.ID, Round: 1, Agent: "claude"}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if runner.role != roles.PlannerSecondary || runner.phase != "analysis" {
		t.Errorf("legacy claude job ran as %s/%s", runner.role, runner.phase)
	}

	if err := h.Handle(ctx, Job{TaskID: task.ID, Round: 1, Agent: "gemini", Role: "reviewer", Phase: "review"}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if runner.role != roles.Reviewer || runner.phase != "review" {
		t.Errorf("explicit role ran as %s/%s", runner.role, runner.phase)
	}

	runner.res = agent.Result{Success: false, Error: "Empty response from OpenCode"}
	err := h.Handle(ctx, Job{TaskID: task.ID, Round: 1, Agent: "gemini"})
	if err == nil || !errors.IsRetryable(err) {
		t.Errorf("Handle() on failed run error = %v, want retryable error", err)
	}

	if err := h.Handle(ctx, Job{TaskID: "missing", Round: 1, Agent: "gemini"}); !errors.Is(err, errors.ErrTaskNotFound) {
		t.Errorf("Handle() for unknown task error = %v, want ErrTaskNotFound", err)
	}
	if err := h.Handle(ctx, Job{TaskID: task.ID, Round: 1, Agent: "mystery"}); !errors.Is(err, errors.ErrUnknownRole) {
		t.Errorf("Handle() for unknown agent error = %v, want ErrUnknownRole", err)
	}
}

func TestReconciler_EnqueuesUnfinishedSeats(t *testing.T) {
	_, rdb := testutil.NewRedis(t)
	st := testutil.NewStore(t)
	ctx := context.Background()
	task := testutil.NewTask(t, st, "reconcile-me")

	_, err := st.UpdateParticipant(ctx, task.ID, 1, domain.PlannerPrimary, func(s *domain.ParticipantState) {
		s.Status = domain.ParticipantCompleted
	})
	if err != nil {
		t.Fatal(err)
	}

	r := NewReconciler(st, roles.NewResolver(st), NewBroker(rdb), nil)
	n, err := r.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("Reconcile() enqueued %d, want 1", n)
	}

	msgs, _ := rdb.XRange(ctx, StreamAnalysis, "-", "+").Result()
	if len(msgs) != 1 {
		t.Fatalf("analysis stream has %d entries, want 1", len(msgs))
	}
	j, _ := ParseJob(msgs[0].Values)
	if j.Agent != "claude" || j.Role != "planner_secondary" || j.TaskSlug != "reconcile-me" || j.Phase != "analysis" {
		t.Errorf("reconciled job = %+v", j)
	}
}

func TestReconciler_ReleasesDeadWorkerClaims(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	st := testutil.NewStore(t)
	ctx := context.Background()
	task := testutil.NewTask(t, st, "crashed-worker")

	started := time.Now().Add(-time.Hour)
	_, err := st.UpdateParticipant(ctx, task.ID, 1, domain.PlannerPrimary, func(s *domain.ParticipantState) {
		s.Status = domain.ParticipantRunning
		s.StartedAt = &started
	})
	if err != nil {
		t.Fatal(err)
	}

	gemini := Job{TaskID: task.ID, Round: 1, Agent: "gemini"}
	claude := Job{TaskID: task.ID, Round: 1, Agent: "claude"}
	// The gemini worker died an hour into its run; the claude claim is a
	// worker that has not marked its seat yet.
	_ = mr.Set(gemini.IdempotencyKey(), claimValue("gemini-1", started))
	_ = mr.Set(claude.IdempotencyKey(), claimValue("claude-1", time.Now()))

	h := &countingHandler{}
	w := newTestWorker(t, rdb, "gemini", h)

	r := NewReconciler(st, roles.NewResolver(st), NewBroker(rdb), nil, WithStaleAfter(10*time.Minute))
	n, err := r.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("Reconcile() enqueued %d, want 2", n)
	}
	if !mr.Exists(claude.IdempotencyKey()) {
		t.Error("a fresh claim on a pending seat was released")
	}

	for range 2 {
		if got, err := w.ProcessOne(ctx); err != nil || !got {
			t.Fatalf("ProcessOne() = %v, %v", got, err)
		}
	}
	if h.count() != 1 {
		t.Errorf("handler ran %d times for the reconciled gemini seat, want 1", h.count())
	}
}

func TestReconciler_SkipsSeatsStillRunning(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	st := testutil.NewStore(t)
	ctx := context.Background()
	task := testutil.NewTask(t, st, "still-running")

	started := time.Now()
	for _, p := range domain.Participants() {
		_, err := st.UpdateParticipant(ctx, task.ID, 1, p, func(s *domain.ParticipantState) {
			s.Status = domain.ParticipantRunning
			s.StartedAt = &started
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	key := Job{TaskID: task.ID, Round: 1, Agent: "gemini"}.IdempotencyKey()
	_ = mr.Set(key, claimValue("gemini-1", started))

	r := NewReconciler(st, roles.NewResolver(st), NewBroker(rdb), nil)
	n, err := r.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Reconcile() enqueued %d, want 0", n)
	}
	if !mr.Exists(key) {
		t.Error("the claim of a running seat was released")
	}
}

func TestBroker_ReleaseClaim(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	ctx := context.Background()
	b := NewBroker(rdb)
	j := Job{TaskID: "t1", Round: 1, Agent: "gemini"}

	if released, err := b.ReleaseClaim(ctx, j, 0); err != nil || released {
		t.Errorf("ReleaseClaim() on no claim = %v, %v", released, err)
	}

	_ = mr.Set(j.IdempotencyKey(), claimValue("gemini-1", time.Now()))
	if released, _ := b.ReleaseClaim(ctx, j, time.Minute); released {
		t.Error("a claim younger than olderThan was released")
	}
	if released, _ := b.ReleaseClaim(ctx, j, 0); !released || mr.Exists(j.IdempotencyKey()) {
		t.Error("an old claim was kept")
	}

	_ = mr.Set(j.IdempotencyKey(), "legacy-consumer")
	if released, _ := b.ReleaseClaim(ctx, j, time.Hour); !released {
		t.Error("an undated claim was kept")
	}
}

func TestWaitForRoundStatus(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := context.Background()
	task := testutil.NewTask(t, st, "wait-round")

	_, err := WaitForRoundStatus(ctx, st, task.ID, 1, 30*time.Millisecond, 5*time.Millisecond)
	if !errors.Is(err, errors.ErrTimeout) {
		t.Fatalf("WaitForRoundStatus() error = %v, want timeout", err)
	}

	round, _ := st.GetRound(ctx, task.ID, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = st.SetRoundStatus(context.Background(), round.ID, domain.RoundCompleted)
	}()
	got, err := WaitForRoundStatus(ctx, st, task.ID, 1, 2*time.Second, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForRoundStatus() error = %v", err)
	}
	if got.Status != domain.RoundCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}
