// Package domain holds the entities persisted by the store and shared by the
// debate engine, the queue workers and the CLI.
package domain

import "time"

// TaskStatus is the persisted lifecycle status of a task. Non-terminal values
// double as the debate state a resumed task re-enters at.
type TaskStatus string

const (
	TaskStatusScoping      TaskStatus = "scoping"
	TaskStatusExploration  TaskStatus = "exploration"
	TaskStatusAnalysis     TaskStatus = "analysis"
	TaskStatusQuestions    TaskStatus = "questions"
	TaskStatusConsensus    TaskStatus = "consensus"
	TaskStatusApproval     TaskStatus = "approval"
	TaskStatusApproved     TaskStatus = "approved"
	TaskStatusImplementing TaskStatus = "implementing"
	TaskStatusCompleted    TaskStatus = "completed"
	TaskStatusCancelled    TaskStatus = "cancelled"
	TaskStatusFailed       TaskStatus = "failed"
)

// IsTerminal reports whether no further debate work happens for the status.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusCancelled, TaskStatusFailed:
		return true
	}
	return false
}

// ValidTaskStatuses returns every task status in lifecycle order.
func ValidTaskStatuses() []TaskStatus {
	return []TaskStatus{
		TaskStatusScoping, TaskStatusExploration, TaskStatusAnalysis, TaskStatusQuestions,
		TaskStatusConsensus, TaskStatusApproval, TaskStatusApproved, TaskStatusImplementing,
		TaskStatusCompleted, TaskStatusCancelled, TaskStatusFailed,
	}
}

// Complexity is the triage classification of a task.
type Complexity string

const (
	ComplexityTrivial  Complexity = "trivial"
	ComplexityStandard Complexity = "standard"
	ComplexityComplex  Complexity = "complex"
)

func ValidComplexities() []Complexity {
	return []Complexity{ComplexityTrivial, ComplexityStandard, ComplexityComplex}
}

type Task struct {
	ID           string     `json:"id"`
	Slug         string     `json:"slug"`
	Title        string     `json:"title"`
	Status       TaskStatus `json:"status"`
	CurrentRound int        `json:"current_round"`
	MaxRounds    int        `json:"max_rounds"`
	Complexity   Complexity `json:"complexity,omitempty"`
	SkipDebate   bool       `json:"skip_debate"`
	TotalTokens  int        `json:"total_tokens"`
	TotalCost    float64    `json:"total_cost"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ConversationRole identifies who spoke in a conversation entry.
type ConversationRole string

const (
	ConversationHuman        ConversationRole = "human"
	ConversationOrchestrator ConversationRole = "orchestrator"
)

type Conversation struct {
	ID        string           `json:"id"`
	TaskID    string           `json:"task_id"`
	Role      ConversationRole `json:"role"`
	Content   string           `json:"content"`
	Phase     string           `json:"phase"`
	CreatedAt time.Time        `json:"created_at"`
}

type Decision struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	Topic      string    `json:"topic"`
	Decision   string    `json:"decision"`
	Rationale  string    `json:"rationale,omitempty"`
	Source     string    `json:"source"`
	Confidence string    `json:"confidence,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ImplStatus is the status of an implementation task.
type ImplStatus string

const (
	ImplStatusPending    ImplStatus = "pending"
	ImplStatusInProgress ImplStatus = "in_progress"
	ImplStatusCompleted  ImplStatus = "completed"
	ImplStatusFailed     ImplStatus = "failed"
	ImplStatusSkipped    ImplStatus = "skipped"
)

// ValidImplStatuses returns every accepted implementation task status.
func ValidImplStatuses() []ImplStatus {
	return []ImplStatus{ImplStatusPending, ImplStatusInProgress, ImplStatusCompleted, ImplStatusFailed, ImplStatusSkipped}
}

type ImplTask struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	Sequence    int        `json:"sequence"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Files       []string   `json:"files,omitempty"`
	Status      ImplStatus `json:"status"`
	Agent       string     `json:"agent,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ImplProgress summarizes implementation task completion.
type ImplProgress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	InProgress int `json:"in_progress"`
	Pending    int `json:"pending"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Percent returns the share of completed tasks, 0 when there are none.
func (p ImplProgress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

type CostEntry struct {
	ID           string    `json:"id"`
	TaskID       string    `json:"task_id"`
	Agent        string    `json:"agent"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Cost         float64   `json:"cost"`
	CreatedAt    time.Time `json:"created_at"`
}

// LogEntry is one row of a task's execution journal.
type LogEntry struct {
	ID         int64          `json:"id"`
	TaskID     string         `json:"task_id"`
	Phase      string         `json:"phase"`
	Event      string         `json:"event"`
	Agent      string         `json:"agent,omitempty"`
	Message    string         `json:"message,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// VerificationStatus summarises a verification run.
type VerificationStatus string

const (
	VerificationPassed  VerificationStatus = "passed"
	VerificationPartial VerificationStatus = "partial"
	VerificationFailed  VerificationStatus = "failed"
)

// Check is one command run during verification.
type Check struct {
	Kind     string `json:"kind"`
	Command  string `json:"command"`
	Ran      bool   `json:"ran"`
	Passed   bool   `json:"passed"`
	Total    int    `json:"total,omitempty"`
	Failed   int    `json:"failed,omitempty"`
	Warnings int    `json:"warnings,omitempty"`
	Errors   int    `json:"errors,omitempty"`
	Output   string `json:"output,omitempty"`
}

// Verification records the checks run against an implemented task.
type Verification struct {
	ID           string             `json:"id"`
	TaskID       string             `json:"task_id"`
	Status       VerificationStatus `json:"status"`
	Checks       []Check            `json:"checks"`
	FilesChanged []string           `json:"files_changed"`
	LinesAdded   int                `json:"lines_added"`
	LinesRemoved int                `json:"lines_removed"`
	CreatedAt    time.Time          `json:"created_at"`
}

// Check returns the check of the given kind, if it was recorded.
func (v *Verification) Check(kind string) (Check, bool) {
	for _, c := range v.Checks {
		if c.Kind == kind {
			return c, true
		}
	}
	return Check{}, false
}
