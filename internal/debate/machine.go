package debate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/debate/internal/agent"
	"github.com/Iron-Ham/debate/internal/approval"
	"github.com/Iron-Ham/debate/internal/config"
	"github.com/Iron-Ham/debate/internal/consensus"
	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/errors"
	"github.com/Iron-Ham/debate/internal/event"
	"github.com/Iron-Ham/debate/internal/logging"
	"github.com/Iron-Ham/debate/internal/queue"
	"github.com/Iron-Ham/debate/internal/roles"
	"github.com/Iron-Ham/debate/internal/store"
	"github.com/Iron-Ham/debate/internal/triage"
)

// Failure policies for unattended runs.
const (
	PolicyCancel   = "cancel"
	PolicyContinue = "continue"
)

// Store is the persistence the machine drives.
type Store interface {
	approval.Store
	CreateTaskWithRequest(ctx context.Context, task *domain.Task, request *domain.Conversation) error
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	GetTaskBySlug(ctx context.Context, slug string) (*domain.Task, error)
	SaveTask(ctx context.Context, t *domain.Task) error
	AddConversation(ctx context.Context, c *domain.Conversation) error
	ListConversations(ctx context.Context, taskID string) ([]*domain.Conversation, error)
	GetOrCreateRound(ctx context.Context, taskID string, number int) (*domain.Round, error)
	GetRound(ctx context.Context, taskID string, number int) (*domain.Round, error)
	SetRoundStatus(ctx context.Context, roundID string, status domain.RoundStatus) error
	ListAnalyses(ctx context.Context, taskID string, round int) ([]*domain.Analysis, error)
	ListFindings(ctx context.Context, taskID string, round int) ([]*domain.Finding, error)
	ListQuestions(ctx context.Context, taskID string, status domain.QuestionStatus) ([]*domain.Question, error)
	AnswerQuestion(ctx context.Context, id, answer, answeredBy string) error
	SkipQuestion(ctx context.Context, id, answeredBy string) error
	RecordConsensus(ctx context.Context, roundID string, breakdown map[string]float64, c *domain.Consensus) error
}

var _ Store = (*store.Store)(nil)

// RoleRunner runs one role for a task round and records the result.
type RoleRunner interface {
	RunRole(ctx context.Context, task *domain.Task, role roles.Role, round int, phase string) (*agent.Result, error)
}

// RoleResolver resolves the agent that fills a role.
type RoleResolver interface {
	Resolve(ctx context.Context, role roles.Role) (roles.Config, error)
}

// Prompter asks a human. A nil Prompter makes the questions and approval
// states checkpoints.
type Prompter interface {
	ConfirmFastTrack(ctx context.Context, task *domain.Task, result triage.Result) (bool, error)
	ContinueAfterFailure(ctx context.Context, task *domain.Task, round *domain.Round) (bool, error)
	AnswerQuestion(ctx context.Context, q *domain.Question) (answer string, skip bool, err error)
	Decide(ctx context.Context, req *approval.Request) (approval.Decision, string, error)
}

// Config holds the debate settings.
type Config struct {
	MaxRounds          int
	ConsensusThreshold float64
	RoundTimeout       time.Duration
	PollInterval       time.Duration
	FailurePolicy      string
	ShadowMode         bool
	// UseQueue runs planners through the job queue instead of in-process.
	UseQueue bool
}

// ConfigFrom extracts the debate settings from the application config.
func ConfigFrom(c *config.Config) Config {
	return Config{
		MaxRounds:          c.Debate.MaxRounds,
		ConsensusThreshold: c.Debate.ConsensusThreshold,
		RoundTimeout:       c.Debate.RoundTimeoutDuration(),
		PollInterval:       c.Debate.PollIntervalDuration(),
		FailurePolicy:      c.Debate.AnalysisFailurePolicy,
		ShadowMode:         c.Triage.ShadowMode,
		UseQueue:           c.Queue.Enabled,
	}
}

// Deps are the collaborators of a Machine. Store, Runner and Calculator
// are required.
type Deps struct {
	Store      Store
	Runner     RoleRunner
	Calculator *consensus.Calculator
	Triager    *triage.Triager
	Prompter   Prompter
	// Queue and Resolver are used when Config.UseQueue is set.
	Queue    queue.Enqueuer
	Resolver RoleResolver
	Bus      *event.Bus
	Logger   *logging.Logger
}

// Machine holds the phase logic of the debate workflow.
type Machine struct {
	store    Store
	runner   RoleRunner
	calc     *consensus.Calculator
	triager  *triage.Triager
	prompter Prompter
	queue    queue.Enqueuer
	resolver RoleResolver
	gate     *approval.Gate
	bus      *event.Bus
	logger   *logging.Logger
	cfg      Config
	phases   map[State]Phase
}

// NewMachine creates a Machine.
func NewMachine(d Deps, cfg Config) *Machine {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 3
	}
	if cfg.ConsensusThreshold <= 0 {
		cfg.ConsensusThreshold = 80
	}
	if cfg.RoundTimeout <= 0 {
		cfg.RoundTimeout = 720 * time.Second
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = PolicyCancel
	}
	m := &Machine{
		store:    d.Store,
		runner:   d.Runner,
		calc:     d.Calculator,
		triager:  d.Triager,
		prompter: d.Prompter,
		queue:    d.Queue,
		resolver: d.Resolver,
		bus:      d.Bus,
		logger:   d.Logger,
		cfg:      cfg,
	}
	if m.calc == nil {
		m.calc = consensus.NewCalculator(nil, d.Logger)
	}
	if m.triager == nil {
		m.triager = triage.New(0.3)
	}
	if m.logger == nil {
		m.logger = logging.NopLogger()
	}
	m.gate = approval.NewGate(d.Store, d.Bus).WithThreshold(cfg.ConsensusThreshold)
	m.phases = map[State]Phase{
		StateScoping:                 PhaseFunc(m.scope),
		StateExploration:             PhaseFunc(m.explore),
		StateAnalysis:                PhaseFunc(m.analyze),
		StateAnalysisFailureDecision: PhaseFunc(m.decideFailure),
		StateQuestions:               PhaseFunc(m.resolveQuestions),
		StateConsensus:               PhaseFunc(m.buildConsensus),
		StateApproval:                PhaseFunc(m.approve),
		StateIncrementRound:          PhaseFunc(m.incrementRound),
	}
	return m
}

// Gate returns the approval gate the machine applies decisions through.
func (m *Machine) Gate() *approval.Gate {
	return m.gate
}

// Run is one pass of a task through the workflow.
type Run struct {
	State   State
	Task    *domain.Task
	Request string
	// Slug overrides the slug derived from Request.
	Slug      string
	Explore   bool
	MaxRounds int

	AnalysisOK   bool
	Triage       *triage.Result
	Breakdown    *consensus.Breakdown
	ThresholdMet bool
	// Reason is stored on the task when the run ends cancelled.
	Reason string
}

// StartRequest describes a new debate.
type StartRequest struct {
	Request   string
	Slug      string
	MaxRounds int
	Explore   bool
}

// Start prepares a run that begins at scoping.
func (m *Machine) Start(ctx context.Context, req StartRequest) (*Run, error) {
	if strings.TrimSpace(req.Request) == "" {
		return nil, errors.NewValidationError("request must not be empty").WithField("request")
	}
	slug := req.Slug
	if slug == "" {
		slug = Slugify(TitleFromRequest(req.Request))
	}
	if slug == "" {
		return nil, errors.NewValidationError("request does not produce a usable slug").
			WithField("request").
			WithValue(req.Request)
	}
	return &Run{
		State:     StateScoping,
		Request:   req.Request,
		Slug:      slug,
		Explore:   req.Explore,
		MaxRounds: req.MaxRounds,
	}, nil
}

// Resume prepares a run for an existing task at the state its persisted
// status names.
func (m *Machine) Resume(ctx context.Context, slug string) (*Run, error) {
	task, err := m.store.GetTaskBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	state, err := ResumeState(task.Status)
	if err != nil {
		return nil, err
	}
	return &Run{State: state, Task: task, Slug: slug}, nil
}

// Cancel ends a task on behalf of a human.
func (m *Machine) Cancel(ctx context.Context, slug string) error {
	task, err := m.store.GetTaskBySlug(ctx, slug)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", errors.ErrTaskTerminal, slug, task.Status)
	}
	return m.setStatus(ctx, task, domain.TaskStatusCancelled, approval.CancelReason)
}

// step runs the phase of r's state and moves r to the next state.
func (m *Machine) step(ctx context.Context, r *Run) error {
	if r.State.IsTerminal() {
		return nil
	}
	phase, ok := m.phases[r.State]
	if !ok {
		return fmt.Errorf("%w: no phase for state %s", errors.ErrInvalidTransition, r.State)
	}

	taskID, round := r.ids()
	log := m.logger.WithPhase(string(r.State)).WithRound(round)
	if r.Task != nil {
		log = log.WithTask(r.Task.Slug)
	}
	m.publish(event.NewPhaseStartedEvent(taskID, string(r.State), round))
	start := time.Now()

	outcome, err := phase.Run(ctx, r)
	taskID, round = r.ids()
	if err != nil {
		switch {
		case errors.Is(err, errors.ErrCheckpoint):
			log.Info("waiting for human input")
			if r.Task != nil {
				if serr := m.setStatus(ctx, r.Task, r.State.TaskStatus(), ""); serr != nil {
					return serr
				}
			}
			return err
		case ctx.Err() != nil:
			// Interrupted runs keep their status so they can be resumed.
			log.Warn("phase interrupted", "error", err)
			return err
		}
		log.Error("phase failed", "error", err)
		m.publish(event.NewPhaseFailedEvent(taskID, string(r.State), round, err.Error(), time.Since(start)))
		terr := errors.NewTaskError("phase failed", err).WithPhase(string(r.State)).WithRound(round)
		if r.Task != nil {
			terr = terr.WithSlug(r.Task.Slug)
			if serr := m.setStatus(ctx, r.Task, domain.TaskStatusFailed, err.Error()); serr != nil {
				log.Error("record failure", "error", serr)
			}
		} else {
			terr = terr.WithSlug(r.Slug)
		}
		r.State = StateFailed
		return terr
	}

	next, err := Transition(r.State, outcome)
	if err != nil {
		return err
	}
	if outcome == OutcomeSkip {
		m.publish(event.NewPhaseSkippedEvent(taskID, string(r.State), round, "skipped"))
	} else {
		m.publish(event.NewPhaseCompletedEvent(taskID, string(r.State), round, time.Since(start)))
	}
	log.Debug("transition", "outcome", outcome, "next", next)

	reason := ""
	if next == StateCancelled {
		reason = r.Reason
	}
	if err := m.setStatus(ctx, r.Task, next.TaskStatus(), reason); err != nil {
		return err
	}
	r.State = next
	return nil
}

// setStatus persists status on task when it changed.
func (m *Machine) setStatus(ctx context.Context, task *domain.Task, status domain.TaskStatus, reason string) error {
	if task.Status == status && task.ErrorMessage == reason {
		return nil
	}
	if err := m.store.UpdateTaskStatus(ctx, task.ID, status, reason); err != nil {
		return err
	}
	from := task.Status
	task.Status = status
	task.ErrorMessage = reason
	if from != status {
		m.publish(event.NewTaskStatusChangedEvent(task.ID, string(from), string(status), reason))
	}
	return nil
}

func (m *Machine) publish(e event.Event) {
	if m.bus != nil {
		m.bus.Publish(e)
	}
}

func (r *Run) ids() (string, int) {
	if r.Task == nil {
		return "", 0
	}
	return r.Task.ID, r.Task.CurrentRound
}
