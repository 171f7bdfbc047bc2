package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "agent.completed", "phase.started")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// TaskEvent is an event scoped to one debate task. Every TaskEvent can be
// flattened to an Entry for the execution journal and the notification channel.
type TaskEvent interface {
	Event
	Entry() Entry
}

// Entry is the flat, persisted shape of a TaskEvent.
type Entry struct {
	TaskID     string         `json:"task_id"`
	Phase      string         `json:"phase,omitempty"`
	Name       string         `json:"event"`
	Agent      string         `json:"agent,omitempty"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

func (e baseEvent) entry(taskID, phase string) Entry {
	return Entry{TaskID: taskID, Phase: phase, Name: e.eventType, Timestamp: e.timestamp}
}

// -----------------------------------------------------------------------------
// Task Lifecycle Events
// -----------------------------------------------------------------------------

// TaskCreatedEvent is emitted when scoping creates a new task.
type TaskCreatedEvent struct {
	baseEvent
	TaskID string
	Slug   string
	Title  string
}

// NewTaskCreatedEvent creates a TaskCreatedEvent.
func NewTaskCreatedEvent(taskID, slug, title string) TaskCreatedEvent {
	return TaskCreatedEvent{
		baseEvent: newBaseEvent("task.created"),
		TaskID:    taskID,
		Slug:      slug,
		Title:     title,
	}
}

// Entry implements TaskEvent.
func (e TaskCreatedEvent) Entry() Entry {
	en := e.entry(e.TaskID, "scoping")
	en.Message = "Created task " + e.Slug
	en.Details = map[string]any{"slug": e.Slug, "title": e.Title}
	return en
}

// TaskStatusChangedEvent is emitted on every persisted status change.
type TaskStatusChangedEvent struct {
	baseEvent
	TaskID string
	From   string
	To     string
	Reason string // Set for cancelled and failed
}

// NewTaskStatusChangedEvent creates a TaskStatusChangedEvent.
func NewTaskStatusChangedEvent(taskID, from, to, reason string) TaskStatusChangedEvent {
	return TaskStatusChangedEvent{
		baseEvent: newBaseEvent("task.status_changed"),
		TaskID:    taskID,
		From:      from,
		To:        to,
		Reason:    reason,
	}
}

// Entry implements TaskEvent.
func (e TaskStatusChangedEvent) Entry() Entry {
	en := e.entry(e.TaskID, e.To)
	en.Message = e.From + " -> " + e.To
	en.Details = map[string]any{"from": e.From, "to": e.To}
	if e.Reason != "" {
		en.Details["reason"] = e.Reason
	}
	return en
}

// -----------------------------------------------------------------------------
// Triage Events
// -----------------------------------------------------------------------------

// TriageEvent is emitted when a task's complexity is classified.
type TriageEvent struct {
	baseEvent
	TaskID               string
	Complexity           string
	Confidence           float64
	Reasons              []string
	RecommendedAction    string
	RequiresConfirmation bool
}

// NewTriageEvent creates a TriageEvent.
func NewTriageEvent(taskID, complexity string, confidence float64, reasons []string, action string, confirm bool) TriageEvent {
	return TriageEvent{
		baseEvent:            newBaseEvent("triage.classified"),
		TaskID:               taskID,
		Complexity:           complexity,
		Confidence:           confidence,
		Reasons:              reasons,
		RecommendedAction:    action,
		RequiresConfirmation: confirm,
	}
}

// Entry implements TaskEvent.
func (e TriageEvent) Entry() Entry {
	en := e.entry(e.TaskID, "scoping")
	en.Message = "Classified as " + e.Complexity
	en.Details = map[string]any{
		"complexity":            e.Complexity,
		"confidence":            e.Confidence,
		"reasons":               e.Reasons,
		"recommended_action":    e.RecommendedAction,
		"requires_confirmation": e.RequiresConfirmation,
	}
	return en
}

// FastTrackShadowEvent records a fast-track recommendation that shadow mode
// did not act on.
type FastTrackShadowEvent struct {
	baseEvent
	TaskID     string
	Complexity string
	Confidence float64
}

// NewFastTrackShadowEvent creates a FastTrackShadowEvent.
func NewFastTrackShadowEvent(taskID, complexity string, confidence float64) FastTrackShadowEvent {
	return FastTrackShadowEvent{
		baseEvent:  newBaseEvent("triage.shadow_mode"),
		TaskID:     taskID,
		Complexity: complexity,
		Confidence: confidence,
	}
}

// Entry implements TaskEvent.
func (e FastTrackShadowEvent) Entry() Entry {
	en := e.entry(e.TaskID, "scoping")
	en.Message = "Shadow mode: would fast-track " + e.Complexity + " task"
	en.Details = map[string]any{
		"complexity":         e.Complexity,
		"confidence":         e.Confidence,
		"recommended_action": "fast_track",
	}
	return en
}

// -----------------------------------------------------------------------------
// Phase Events
// -----------------------------------------------------------------------------

// PhaseEvent is emitted when a debate phase starts, completes, fails or is skipped.
type PhaseEvent struct {
	baseEvent
	TaskID   string
	Phase    string
	Round    int
	Message  string
	Duration time.Duration
}

func newPhaseEvent(action, taskID, phase string, round int, message string, d time.Duration) PhaseEvent {
	return PhaseEvent{
		baseEvent: newBaseEvent("phase." + action),
		TaskID:    taskID,
		Phase:     phase,
		Round:     round,
		Message:   message,
		Duration:  d,
	}
}

// NewPhaseStartedEvent creates a "phase.started" PhaseEvent.
func NewPhaseStartedEvent(taskID, phase string, round int) PhaseEvent {
	return newPhaseEvent("started", taskID, phase, round, "", 0)
}

// NewPhaseCompletedEvent creates a "phase.completed" PhaseEvent.
func NewPhaseCompletedEvent(taskID, phase string, round int, d time.Duration) PhaseEvent {
	return newPhaseEvent("completed", taskID, phase, round, "", d)
}

// NewPhaseFailedEvent creates a "phase.failed" PhaseEvent.
func NewPhaseFailedEvent(taskID, phase string, round int, message string, d time.Duration) PhaseEvent {
	return newPhaseEvent("failed", taskID, phase, round, message, d)
}

// NewPhaseSkippedEvent creates a "phase.skipped" PhaseEvent.
func NewPhaseSkippedEvent(taskID, phase string, round int, message string) PhaseEvent {
	return newPhaseEvent("skipped", taskID, phase, round, message, 0)
}

// Entry implements TaskEvent.
func (e PhaseEvent) Entry() Entry {
	en := e.entry(e.TaskID, e.Phase)
	en.Message = e.Message
	en.DurationMs = e.Duration.Milliseconds()
	if e.Round > 0 {
		en.Details = map[string]any{"round": e.Round}
	}
	return en
}

// -----------------------------------------------------------------------------
// Agent Events
// -----------------------------------------------------------------------------

// AgentEvent is emitted around a single agent invocation.
type AgentEvent struct {
	baseEvent
	TaskID    string
	Phase     string
	Round     int
	Role      string // planner_primary, explorer, ...
	AgentKey  string // debate_gemini, debate_claude, ...
	SessionID string
	Duration  time.Duration
	Error     string
}

func newAgentEvent(action, taskID, phase string, round int, role, agentKey string) AgentEvent {
	return AgentEvent{
		baseEvent: newBaseEvent("agent." + action),
		TaskID:    taskID,
		Phase:     phase,
		Round:     round,
		Role:      role,
		AgentKey:  agentKey,
	}
}

// NewAgentStartedEvent creates an "agent.started" AgentEvent.
func NewAgentStartedEvent(taskID, phase string, round int, role, agentKey string) AgentEvent {
	return newAgentEvent("started", taskID, phase, round, role, agentKey)
}

// NewAgentCompletedEvent creates an "agent.completed" AgentEvent.
func NewAgentCompletedEvent(taskID, phase string, round int, role, agentKey, sessionID string, d time.Duration) AgentEvent {
	e := newAgentEvent("completed", taskID, phase, round, role, agentKey)
	e.SessionID = sessionID
	e.Duration = d
	return e
}

// NewAgentFailedEvent creates an "agent.failed" AgentEvent.
func NewAgentFailedEvent(taskID, phase string, round int, role, agentKey, errMsg string, d time.Duration) AgentEvent {
	e := newAgentEvent("failed", taskID, phase, round, role, agentKey)
	e.Error = errMsg
	e.Duration = d
	return e
}

// Entry implements TaskEvent.
func (e AgentEvent) Entry() Entry {
	en := e.entry(e.TaskID, e.Phase)
	en.Agent = e.Role
	en.DurationMs = e.Duration.Milliseconds()
	switch e.eventType {
	case "agent.completed":
		en.Message = e.Role + " (" + e.AgentKey + ") completed"
	case "agent.failed":
		en.Message = e.Role + " (" + e.AgentKey + ") failed: " + e.Error
	default:
		en.Message = e.Role + " (" + e.AgentKey + ") started"
	}
	en.Details = map[string]any{"round": e.Round, "agent_key": e.AgentKey}
	if e.SessionID != "" {
		en.Details["session_id"] = e.SessionID
	}
	return en
}

// -----------------------------------------------------------------------------
// Consensus and Human Events
// -----------------------------------------------------------------------------

// ConsensusCalculatedEvent carries a round's agreement breakdown.
type ConsensusCalculatedEvent struct {
	baseEvent
	TaskID        string
	Round         int
	AgreementRate float64
	Scores        map[string]float64 // category, file_path, severity, semantic, explicit
	ThresholdMet  bool
}

// NewConsensusCalculatedEvent creates a ConsensusCalculatedEvent.
func NewConsensusCalculatedEvent(taskID string, round int, rate float64, scores map[string]float64, met bool) ConsensusCalculatedEvent {
	return ConsensusCalculatedEvent{
		baseEvent:     newBaseEvent("consensus.calculated"),
		TaskID:        taskID,
		Round:         round,
		AgreementRate: rate,
		Scores:        scores,
		ThresholdMet:  met,
	}
}

// Entry implements TaskEvent.
func (e ConsensusCalculatedEvent) Entry() Entry {
	en := e.entry(e.TaskID, "consensus")
	details := map[string]any{
		"round":          e.Round,
		"agreement_rate": e.AgreementRate,
		"threshold_met":  e.ThresholdMet,
	}
	for k, v := range e.Scores {
		details[k] = v
	}
	en.Details = details
	return en
}

// HumanDecisionEvent records an approval-gate decision.
type HumanDecisionEvent struct {
	baseEvent
	TaskID   string
	Round    int
	Decision string // approve, revise, cancel, continue
	Notes    string
}

// NewHumanDecisionEvent creates a HumanDecisionEvent.
func NewHumanDecisionEvent(taskID string, round int, decision, notes string) HumanDecisionEvent {
	return HumanDecisionEvent{
		baseEvent: newBaseEvent("human.decision"),
		TaskID:    taskID,
		Round:     round,
		Decision:  decision,
		Notes:     notes,
	}
}

// Entry implements TaskEvent.
func (e HumanDecisionEvent) Entry() Entry {
	en := e.entry(e.TaskID, "approval")
	en.Agent = "human"
	en.Message = e.Decision
	en.Details = map[string]any{"round": e.Round}
	if e.Notes != "" {
		en.Details["notes"] = e.Notes
	}
	return en
}

// QuestionAnsweredEvent records an answered or skipped question.
type QuestionAnsweredEvent struct {
	baseEvent
	TaskID     string
	QuestionID string
	Skipped    bool
}

// NewQuestionAnsweredEvent creates a QuestionAnsweredEvent.
func NewQuestionAnsweredEvent(taskID, questionID string, skipped bool) QuestionAnsweredEvent {
	return QuestionAnsweredEvent{
		baseEvent:  newBaseEvent("question.answered"),
		TaskID:     taskID,
		QuestionID: questionID,
		Skipped:    skipped,
	}
}

// Entry implements TaskEvent.
func (e QuestionAnsweredEvent) Entry() Entry {
	en := e.entry(e.TaskID, "questions")
	en.Agent = "human"
	en.Details = map[string]any{"question_id": e.QuestionID, "skipped": e.Skipped}
	return en
}

// -----------------------------------------------------------------------------
// Cost and Queue Events
// -----------------------------------------------------------------------------

// CostLoggedEvent is emitted after token usage is priced and recorded.
type CostLoggedEvent struct {
	baseEvent
	TaskID       string
	Agent        string
	Model        string
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// NewCostLoggedEvent creates a CostLoggedEvent.
func NewCostLoggedEvent(taskID, agent, model string, in, out int, cost float64) CostLoggedEvent {
	return CostLoggedEvent{
		baseEvent:    newBaseEvent("cost.logged"),
		TaskID:       taskID,
		Agent:        agent,
		Model:        model,
		InputTokens:  in,
		OutputTokens: out,
		Cost:         cost,
	}
}

// Entry implements TaskEvent.
func (e CostLoggedEvent) Entry() Entry {
	en := e.entry(e.TaskID, "")
	en.Agent = e.Agent
	en.Details = map[string]any{
		"model":         e.Model,
		"input_tokens":  e.InputTokens,
		"output_tokens": e.OutputTokens,
		"cost":          e.Cost,
	}
	return en
}

// JobEvent is emitted when a job is enqueued or dead-lettered.
type JobEvent struct {
	baseEvent
	TaskID string
	Stream string
	Agent  string
	Round  int
	Error  string
}

// NewJobEnqueuedEvent creates a "job.enqueued" JobEvent.
func NewJobEnqueuedEvent(taskID, stream, agent string, round int) JobEvent {
	return JobEvent{
		baseEvent: newBaseEvent("job.enqueued"),
		TaskID:    taskID,
		Stream:    stream,
		Agent:     agent,
		Round:     round,
	}
}

// NewJobDeadLetteredEvent creates a "job.dead_lettered" JobEvent.
func NewJobDeadLetteredEvent(taskID, stream, agent string, round int, errMsg string) JobEvent {
	return JobEvent{
		baseEvent: newBaseEvent("job.dead_lettered"),
		TaskID:    taskID,
		Stream:    stream,
		Agent:     agent,
		Round:     round,
		Error:     errMsg,
	}
}

// Entry implements TaskEvent.
func (e JobEvent) Entry() Entry {
	en := e.entry(e.TaskID, "analysis")
	en.Agent = e.Agent
	en.Message = e.Error
	en.Details = map[string]any{"stream": e.Stream, "round": e.Round}
	return en
}
