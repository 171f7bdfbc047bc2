package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/debate/internal/cost"
	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/event"
	"github.com/Iron-Ham/debate/internal/logging"
	"github.com/Iron-Ham/debate/internal/prompt"
	"github.com/Iron-Ham/debate/internal/roles"
	"github.com/Iron-Ham/debate/internal/store"
)

// PhaseExploration is the phase in which the explorer maps the codebase.
// Its output becomes an exploration record instead of findings.
const PhaseExploration = "exploration"

// Store is the part of the store the Executor reads and writes.
type Store interface {
	prompt.Source
	GetOrCreateRound(ctx context.Context, taskID string, number int) (*domain.Round, error)
	UpdateParticipant(ctx context.Context, taskID string, number int, p domain.Participant, fn func(*domain.ParticipantState)) (*domain.Round, error)
	LatestSessionID(ctx context.Context, taskID string, p domain.Participant, beforeRound int) (string, error)
	RecordResult(ctx context.Context, rec store.ResultRecord) (*domain.Round, error)
	AddExploration(ctx context.Context, e *domain.Exploration) error
}

// RoleResolver resolves a role to its agent, model and template.
type RoleResolver interface {
	Resolve(ctx context.Context, role roles.Role) (roles.Config, error)
}

// Templates serves prompt templates by name.
type Templates interface {
	Get(name string) (string, error)
}

// Limiter throttles calls per agent.
type Limiter interface {
	Wait(ctx context.Context, agent string, maxWait time.Duration) error
}

// ExecutorConfig holds the Executor's timeouts.
type ExecutorConfig struct {
	// AgentTimeout bounds a call unless the role overrides it.
	AgentTimeout time.Duration
	// RateLimitWait bounds how long a call waits for a rate limit slot.
	RateLimitWait time.Duration
}

// Executor runs one role for one round of a task and records the outcome.
type Executor struct {
	store     Store
	roles     RoleResolver
	templates Templates
	runner    Runner
	limiter   Limiter
	ledger    *cost.Ledger
	bus       *event.Bus
	logger    *logging.Logger
	cfg       ExecutorConfig
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLimiter throttles calls through l.
func WithLimiter(l Limiter) ExecutorOption {
	return func(e *Executor) { e.limiter = l }
}

// WithLedger logs the cost of every successful call.
func WithLedger(l *cost.Ledger) ExecutorOption {
	return func(e *Executor) { e.ledger = l }
}

// WithBus publishes agent events on bus.
func WithBus(bus *event.Bus) ExecutorOption {
	return func(e *Executor) { e.bus = bus }
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(logger *logging.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// NewExecutor creates an Executor.
func NewExecutor(st Store, resolver RoleResolver, templates Templates, runner Runner, cfg ExecutorConfig, opts ...ExecutorOption) *Executor {
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = 300 * time.Second
	}
	if cfg.RateLimitWait <= 0 {
		cfg.RateLimitWait = 60 * time.Second
	}
	e := &Executor{
		store:     st,
		roles:     resolver,
		templates: templates,
		runner:    runner,
		cfg:       cfg,
		logger:    logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) publish(ev event.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

// RunRole runs role for round of task in phase and records the result.
// A failed agent call is recorded and reported through Result.Success; the
// error return is reserved for failures to prepare or record the call.
func (e *Executor) RunRole(ctx context.Context, task *domain.Task, role roles.Role, round int, phase string) (*Result, error) {
	log := e.logger.WithTask(task.Slug).WithRound(round).WithPhase(phase).WithAgent(string(role))

	rc, err := e.roles.Resolve(ctx, role)
	if err != nil {
		return nil, err
	}
	instructions, err := e.templates.Get(rc.PromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("load template for %s: %w", role, err)
	}
	pc, err := prompt.Load(ctx, e.store, task, round, prompt.LoadOptions{SkipExploration: phase == PhaseExploration})
	if err != nil {
		return nil, err
	}
	text := prompt.Build(instructions, pc, round, phase)

	if _, err := e.store.GetOrCreateRound(ctx, task.ID, round); err != nil {
		return nil, err
	}

	seat, isPlanner := role.Participant()
	var sessionID string
	if isPlanner {
		r, err := e.store.UpdateParticipant(ctx, task.ID, round, seat, func(st *domain.ParticipantState) {
			ts := time.Now()
			st.Status = domain.ParticipantRunning
			st.AgentKey = rc.AgentKey
			st.StartedAt = &ts
		})
		if err != nil {
			return nil, err
		}
		sessionID = r.State(seat).SessionID
		if sessionID == "" {
			if sessionID, err = e.store.LatestSessionID(ctx, task.ID, seat, round); err != nil {
				return nil, err
			}
		}
	}

	timeout := e.cfg.AgentTimeout
	if rc.TimeoutOverride > 0 {
		timeout = time.Duration(rc.TimeoutOverride) * time.Second
	}

	started := time.Now()
	var res *Result
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, rc.AgentKey, e.cfg.RateLimitWait); err != nil {
			log.Warn("rate limit wait failed", "error", err.Error())
			res = &Result{SessionID: sessionID, Error: err.Error()}
		}
	}

	if res == nil {
		e.publish(event.NewAgentStartedEvent(task.ID, phase, round, string(role), rc.AgentKey))
		log.Info("agent started", "agent_key", rc.AgentKey, "model", rc.Model, "resumed", sessionID != "")

		res, err = e.runner.Run(ctx, Request{
			SessionID: sessionID,
			Agent:     rc.AgentKey,
			Model:     rc.Model,
			Prompt:    text,
			Title:     fmt.Sprintf("debate:%s:%s:%s", role, phase, task.Slug),
			Timeout:   timeout,
		})
		if res == nil {
			res = &Result{SessionID: sessionID}
		}
		if err != nil && res.Error == "" {
			res.Error = err.Error()
		}
		if err != nil {
			res.Success = false
		}
	}
	if res.Duration == 0 {
		res.Duration = time.Since(started)
	}
	if res.Usage.Model == "" {
		res.Usage.Model = rc.Model
	}

	if err := e.record(ctx, task, role, rc, round, phase, res); err != nil {
		return res, err
	}

	if res.Success {
		e.publish(event.NewAgentCompletedEvent(task.ID, phase, round, string(role), rc.AgentKey, res.SessionID, res.Duration))
		log.Info("agent completed", "duration_ms", res.Duration.Milliseconds(), "structured", res.Structured != nil)
	} else {
		e.publish(event.NewAgentFailedEvent(task.ID, phase, round, string(role), rc.AgentKey, res.Error, res.Duration))
		log.Warn("agent failed", "error", res.Error)
	}
	return res, nil
}

// record writes the analysis for res with its findings, questions and
// seat state, then logs the call's cost.
func (e *Executor) record(ctx context.Context, task *domain.Task, role roles.Role, rc roles.Config, round int, phase string, res *Result) error {
	completed := time.Now()
	a := &domain.Analysis{
		Agent:           string(role),
		RawOutput:       res.RawOutput,
		DurationSeconds: int(res.Duration.Seconds()),
		InputTokens:     res.Usage.InputTokens,
		OutputTokens:    res.Usage.OutputTokens,
		Model:           res.Usage.Model,
		StartedAt:       completed.Add(-res.Duration),
		CompletedAt:     &completed,
	}
	rec := store.ResultRecord{TaskID: task.ID, RoundNumber: round, Analysis: a}

	if res.Success {
		a.Status = domain.AnalysisCompleted
		if out := res.Structured; out != nil {
			a.Summary = string(out.Summary)
			a.Recommendations = []string(out.Recommendations)
			a.Concerns = []string(out.Concerns)
			if phase != PhaseExploration {
				rec.Findings = out.DomainFindings(string(role))
				rec.Questions = out.DomainQuestions(string(role))
			}
		}
	} else {
		a.Status = domain.AnalysisFailed
		a.ErrorMessage = res.Error
	}

	if seat, ok := role.Participant(); ok {
		rec.Participant = seat
		rec.Seat = domain.ParticipantState{
			Status:    domain.ParticipantFailed,
			SessionID: res.SessionID,
			AgentKey:  rc.AgentKey,
		}
		if res.Success {
			rec.Seat.Status = domain.ParticipantCompleted
		}
	}

	logCost := res.Success && e.ledger != nil && a.Model != "" && (a.InputTokens > 0 || a.OutputTokens > 0)
	if logCost {
		p, err := e.ledger.PricingFor(ctx, a.Model)
		if err != nil {
			return err
		}
		a.Cost = p.Cost(a.InputTokens, a.OutputTokens)
	}

	if _, err := e.store.RecordResult(ctx, rec); err != nil {
		return fmt.Errorf("record %s result: %w", role, err)
	}

	if res.Success && phase == PhaseExploration && res.Structured != nil {
		x := res.Structured.Exploration(task.ID, string(role), res.RawOutput)
		x.InputTokens, x.OutputTokens, x.Cost = a.InputTokens, a.OutputTokens, a.Cost
		if err := e.store.AddExploration(ctx, x); err != nil {
			return fmt.Errorf("record exploration: %w", err)
		}
	}

	if logCost {
		if _, err := e.ledger.Log(ctx, task.ID, string(role), a.Model, a.InputTokens, a.OutputTokens); err != nil {
			e.logger.Warn("failed to log cost", "task_id", task.ID, "error", err.Error())
		}
	}
	return nil
}
