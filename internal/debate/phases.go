package debate

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/debate/internal/agent"
	"github.com/Iron-Ham/debate/internal/approval"
	"github.com/Iron-Ham/debate/internal/consensus"
	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/errors"
	"github.com/Iron-Ham/debate/internal/event"
	"github.com/Iron-Ham/debate/internal/queue"
	"github.com/Iron-Ham/debate/internal/roles"
	"github.com/Iron-Ham/debate/internal/triage"
)

// Phase is the work done in one state.
type Phase interface {
	Run(ctx context.Context, r *Run) (Outcome, error)
}

// PhaseFunc adapts a function to Phase.
type PhaseFunc func(ctx context.Context, r *Run) (Outcome, error)

// Run calls f.
func (f PhaseFunc) Run(ctx context.Context, r *Run) (Outcome, error) {
	return f(ctx, r)
}

const (
	analysisPhase       = "analysis"
	maxAgreedItems      = 10
	humanAnswerer       = "human"
	failurePolicyReason = "Analysis failed; cancelled by analysis_failure_policy"
)

// scope creates the task, or picks up the existing one with the same slug,
// and classifies it. A new task is stored already classified, together
// with the request, so a failure leaves nothing behind.
func (m *Machine) scope(ctx context.Context, r *Run) (Outcome, error) {
	title := TitleFromRequest(r.Request)
	slug := r.Slug
	if slug == "" {
		slug = Slugify(title)
	}

	existing, err := m.store.GetTaskBySlug(ctx, slug)
	switch {
	case err == nil:
		if existing.Status.IsTerminal() || existing.Status == domain.TaskStatusApproved {
			return "", fmt.Errorf("%w: %s is %s", errors.ErrTaskTerminal, slug, existing.Status)
		}
		m.logger.WithTask(slug).Info("resuming existing task", "status", existing.Status, "round", existing.CurrentRound)
		r.Task = existing
		if existing.Status != domain.TaskStatusScoping {
			return OutcomeOK, nil
		}
		return m.rescope(ctx, r)
	case !errors.Is(err, errors.ErrTaskNotFound):
		return "", err
	}

	res := m.triager.Classify(title, []string{r.Request})
	task := &domain.Task{
		Slug:         slug,
		Title:        title,
		Status:       domain.TaskStatusScoping,
		CurrentRound: 1,
		MaxRounds:    EffectiveMaxRounds(r.MaxRounds, m.cfg.MaxRounds, res.Complexity),
		Complexity:   res.Complexity,
	}
	request := &domain.Conversation{
		Role:    domain.ConversationHuman,
		Content: r.Request,
		Phase:   string(StateScoping),
	}
	if err := m.store.CreateTaskWithRequest(ctx, task, request); err != nil {
		return "", err
	}
	r.Task = task
	m.publish(event.NewTaskCreatedEvent(task.ID, task.Slug, task.Title))
	return m.classified(ctx, r, res)
}

// rescope classifies a task that stopped before leaving scoping, from
// everything the human has said so far.
func (m *Machine) rescope(ctx context.Context, r *Run) (Outcome, error) {
	task := r.Task
	convs, err := m.store.ListConversations(ctx, task.ID)
	if err != nil {
		return "", err
	}
	var said []string
	for _, c := range convs {
		if c.Role == domain.ConversationHuman {
			said = append(said, c.Content)
		}
	}
	res := m.triager.Classify(task.Title, said)
	task.Complexity = res.Complexity
	task.MaxRounds = EffectiveMaxRounds(r.MaxRounds, m.cfg.MaxRounds, res.Complexity)
	if err := m.store.SaveTask(ctx, task); err != nil {
		return "", err
	}
	return m.classified(ctx, r, res)
}

// classified records the triage result and offers the fast track.
func (m *Machine) classified(ctx context.Context, r *Run, res triage.Result) (Outcome, error) {
	task := r.Task
	r.Triage = &res
	m.publish(event.NewTriageEvent(task.ID, string(res.Complexity), res.Confidence, res.Reasons,
		res.RecommendedAction, res.RequiresConfirmation))

	log := m.logger.WithTask(task.Slug)
	log.Info("task classified", "complexity", res.Complexity, "confidence", res.Confidence, "max_rounds", task.MaxRounds)

	if res.Complexity != domain.ComplexityTrivial {
		return OutcomeOK, nil
	}
	if m.cfg.ShadowMode {
		m.publish(event.NewFastTrackShadowEvent(task.ID, string(res.Complexity), res.Confidence))
		log.Info("fast-track recommended in shadow mode; debating anyway")
		return OutcomeOK, nil
	}

	confirmed := !res.RequiresConfirmation
	if res.RequiresConfirmation {
		if m.prompter == nil {
			log.Info("fast-track needs confirmation and nobody can confirm; debating")
			return OutcomeOK, nil
		}
		var err error
		if confirmed, err = m.prompter.ConfirmFastTrack(ctx, task, res); err != nil {
			return "", err
		}
	}
	if !confirmed {
		return OutcomeOK, nil
	}

	task.SkipDebate = true
	if err := m.store.SaveTask(ctx, task); err != nil {
		return "", err
	}
	if err := m.store.AddConversation(ctx, &domain.Conversation{
		TaskID:  task.ID,
		Role:    domain.ConversationOrchestrator,
		Content: "Fast-tracked as trivial; debate skipped.",
		Phase:   string(StateScoping),
	}); err != nil {
		return "", err
	}
	return OutcomeFastTrack, nil
}

// explore runs the optional codebase exploration. Its failure does not stop
// the debate.
func (m *Machine) explore(ctx context.Context, r *Run) (Outcome, error) {
	if !r.Explore {
		return OutcomeSkip, nil
	}
	log := m.logger.WithTask(r.Task.Slug).WithPhase(string(StateExploration))
	res, err := m.runner.RunRole(ctx, r.Task, roles.Explorer, r.Task.CurrentRound, agent.PhaseExploration)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		log.Warn("exploration failed", "error", err)
		return OutcomeFailed, nil
	}
	if !res.Success {
		log.Warn("exploration failed", "error", res.Error)
		return OutcomeFailed, nil
	}
	return OutcomeOK, nil
}

// analyze runs both planners for the current round and waits until both
// seats are terminal.
func (m *Machine) analyze(ctx context.Context, r *Run) (Outcome, error) {
	task := r.Task
	round, err := m.store.GetOrCreateRound(ctx, task.ID, task.CurrentRound)
	if err != nil {
		return "", err
	}

	if m.cfg.UseQueue && m.queue != nil {
		err = m.analyzeQueued(ctx, task, round)
	} else {
		err = m.analyzeDirect(ctx, task, round)
	}
	if err != nil {
		return "", err
	}

	round, err = m.store.GetRound(ctx, task.ID, task.CurrentRound)
	if err != nil {
		return "", err
	}
	if !round.AllTerminal() {
		return "", fmt.Errorf("round %d ended with unfinished planners", round.Number)
	}
	r.AnalysisOK = round.Outcome() == domain.RoundCompleted
	if !r.AnalysisOK {
		return OutcomeFailed, nil
	}
	return OutcomeOK, nil
}

// pendingSeats returns the seats of round that still need to run.
func pendingSeats(round *domain.Round) []domain.Participant {
	var seats []domain.Participant
	for _, p := range domain.Participants() {
		if round.State(p).Status != domain.ParticipantCompleted {
			seats = append(seats, p)
		}
	}
	return seats
}

func (m *Machine) analyzeDirect(ctx context.Context, task *domain.Task, round *domain.Round) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, seat := range pendingSeats(round) {
		g.Go(func() error {
			_, err := m.runner.RunRole(gctx, task, roles.ForParticipant(seat), round.Number, analysisPhase)
			return err
		})
	}
	return g.Wait()
}

func (m *Machine) analyzeQueued(ctx context.Context, task *domain.Task, round *domain.Round) error {
	if m.resolver == nil {
		return errors.NewValidationError("queue mode needs a role resolver")
	}
	seats := pendingSeats(round)
	if len(seats) > 0 && round.Status != domain.RoundInProgress {
		// A rerun of a failed seat reopens the round so the wait below
		// sees the new result.
		if err := m.store.SetRoundStatus(ctx, round.ID, domain.RoundInProgress); err != nil {
			return err
		}
	}
	for _, seat := range seats {
		if round.State(seat).Status == domain.ParticipantRunning {
			continue
		}
		role := roles.ForParticipant(seat)
		rc, err := m.resolver.Resolve(ctx, role)
		if err != nil {
			return err
		}
		j := queue.Job{
			JobType:  queue.JobAnalysis,
			TaskID:   task.ID,
			TaskSlug: task.Slug,
			Round:    round.Number,
			Agent:    queue.AgentName(rc.AgentKey),
			Role:     string(role),
			Phase:    analysisPhase,
		}
		if _, err := m.queue.Enqueue(ctx, j, false); err != nil {
			return err
		}
	}

	_, err := queue.WaitForRoundStatus(ctx, m.store, task.ID, round.Number, m.cfg.RoundTimeout, m.cfg.PollInterval)
	if errors.Is(err, errors.ErrTimeout) {
		if serr := m.store.SetRoundStatus(ctx, round.ID, domain.RoundFailed); serr != nil {
			m.logger.Warn("mark round failed", "round_id", round.ID, "error", serr)
		}
	}
	return err
}

// decideFailure asks the human, or applies the configured policy, whether
// to go on after a planner failed.
func (m *Machine) decideFailure(ctx context.Context, r *Run) (Outcome, error) {
	if m.prompter != nil {
		round, err := m.store.GetRound(ctx, r.Task.ID, r.Task.CurrentRound)
		if err != nil {
			return "", err
		}
		cont, err := m.prompter.ContinueAfterFailure(ctx, r.Task, round)
		if err != nil {
			return "", err
		}
		if cont {
			return OutcomeContinue, nil
		}
		r.Reason = approval.CancelReason
		return OutcomeCancel, nil
	}

	if m.cfg.FailurePolicy == PolicyContinue {
		m.logger.WithTask(r.Task.Slug).Warn("planner failed; continuing per analysis_failure_policy")
		return OutcomeContinue, nil
	}
	r.Reason = failurePolicyReason
	return OutcomeCancel, nil
}

// resolveQuestions collects answers for pending planner questions.
func (m *Machine) resolveQuestions(ctx context.Context, r *Run) (Outcome, error) {
	pending, err := m.store.ListQuestions(ctx, r.Task.ID, domain.QuestionPending)
	if err != nil {
		return "", err
	}
	if len(pending) == 0 {
		return OutcomeOK, nil
	}
	if m.prompter == nil {
		return "", fmt.Errorf("%w: %d pending questions", errors.ErrCheckpoint, len(pending))
	}
	for _, q := range pending {
		answer, skip, err := m.prompter.AnswerQuestion(ctx, q)
		if err != nil {
			return "", err
		}
		if skip {
			err = m.store.SkipQuestion(ctx, q.ID, humanAnswerer)
		} else {
			err = m.store.AnswerQuestion(ctx, q.ID, answer, humanAnswerer)
		}
		if err != nil {
			return "", err
		}
		m.publish(event.NewQuestionAnsweredEvent(r.Task.ID, q.ID, skip))
	}
	return OutcomeOK, nil
}

// buildConsensus scores the round and records its consensus.
func (m *Machine) buildConsensus(ctx context.Context, r *Run) (Outcome, error) {
	task := r.Task
	round, err := m.store.GetRound(ctx, task.ID, task.CurrentRound)
	if err != nil {
		return "", err
	}
	if !round.AllTerminal() {
		return "", errors.NewValidationError(
			fmt.Sprintf("round %d: consensus needs both planners to finish", round.Number)).
			WithField("round")
	}

	all, err := m.store.ListAnalyses(ctx, task.ID, round.Number)
	if err != nil {
		return "", err
	}
	var planners []*domain.Analysis
	for _, a := range all {
		if _, err := domain.ParseParticipant(a.Agent); err == nil {
			planners = append(planners, a)
		}
	}
	findings, err := m.store.ListFindings(ctx, task.ID, round.Number)
	if err != nil {
		return "", err
	}
	aliases := make(map[domain.Participant][]string)
	for _, p := range domain.Participants() {
		if key := round.State(p).AgentKey; key != "" {
			aliases[p] = []string{key, queue.AgentName(key)}
		}
	}

	b := m.calc.Calculate(ctx, consensus.BuildInput(round.Number, planners, findings, aliases))
	scores := b.Rounded()
	c := &domain.Consensus{
		TaskID:        task.ID,
		FinalRound:    round.Number,
		AgreementRate: scores["weighted_total"],
		Summary:       fmt.Sprintf("Consensus from %d analyses", len(planners)),
		AgreedItems:   consensus.AgreedItems(planners, maxAgreedItems),
	}
	if err := m.store.RecordConsensus(ctx, round.ID, scores, c); err != nil {
		return "", err
	}

	met := b.MeetsThreshold(m.cfg.ConsensusThreshold)
	r.Breakdown = &b
	r.ThresholdMet = met
	m.publish(event.NewConsensusCalculatedEvent(task.ID, round.Number, c.AgreementRate, scores, met))
	m.logger.WithTask(task.Slug).WithRound(round.Number).Info("consensus calculated",
		"agreement_rate", c.AgreementRate, "threshold_met", met, "method", b.SemanticMethod)
	if met {
		return OutcomeThresholdMet, nil
	}
	return OutcomeOK, nil
}

// approve presents the consensus for a decision.
func (m *Machine) approve(ctx context.Context, r *Run) (Outcome, error) {
	req, err := m.gate.Request(ctx, r.Task)
	if err != nil {
		return "", err
	}
	req.ThresholdMet = req.ThresholdMet || r.ThresholdMet
	if m.prompter == nil {
		return "", fmt.Errorf("%w: consensus awaits approval", errors.ErrCheckpoint)
	}

	decision, notes, err := m.prompter.Decide(ctx, req)
	if err != nil {
		return "", err
	}
	if err := m.gate.Apply(ctx, r.Task, decision, notes); err != nil {
		return "", err
	}
	switch decision {
	case approval.Approve:
		return OutcomeApprove, nil
	case approval.Revise:
		return OutcomeRevise, nil
	}
	r.Reason = approval.CancelReason
	return OutcomeCancel, nil
}

// incrementRound advances the task to its next round.
func (m *Machine) incrementRound(ctx context.Context, r *Run) (Outcome, error) {
	r.Task.CurrentRound++
	r.AnalysisOK = false
	r.ThresholdMet = false
	r.Breakdown = nil
	if err := m.store.SaveTask(ctx, r.Task); err != nil {
		return "", err
	}
	if err := m.store.AddConversation(ctx, &domain.Conversation{
		TaskID:  r.Task.ID,
		Role:    domain.ConversationOrchestrator,
		Content: fmt.Sprintf("Revision requested; starting round %d of %d.", r.Task.CurrentRound, r.Task.MaxRounds),
		Phase:   string(StateApproval),
	}); err != nil {
		return "", err
	}
	return OutcomeOK, nil
}
