package domain

import "time"

// AnalysisStatus is the status of one agent's output for a round.
type AnalysisStatus string

const (
	AnalysisRunning   AnalysisStatus = "running"
	AnalysisCompleted AnalysisStatus = "completed"
	AnalysisFailed    AnalysisStatus = "failed"
)

type Analysis struct {
	ID              string         `json:"id"`
	TaskID          string         `json:"task_id"`
	RoundID         string         `json:"round_id"`
	RoundNumber     int            `json:"round_number"`
	Agent           string         `json:"agent"`
	Status          AnalysisStatus `json:"status"`
	Summary         string         `json:"summary,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
	Concerns        []string       `json:"concerns,omitempty"`
	RawOutput       string         `json:"raw_output,omitempty"`
	DurationSeconds int            `json:"duration_seconds,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	InputTokens     int            `json:"input_tokens,omitempty"`
	OutputTokens    int            `json:"output_tokens,omitempty"`
	Cost            float64        `json:"cost_estimate,omitempty"`
	Model           string         `json:"model_used,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

// Severity levels a finding may carry.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

type Finding struct {
	ID             string    `json:"id"`
	TaskID         string    `json:"task_id"`
	RoundID        string    `json:"round_id"`
	AnalysisID     string    `json:"analysis_id"`
	Agent          string    `json:"agent"`
	Category       string    `json:"category,omitempty"`
	Finding        string    `json:"finding"`
	FilePath       string    `json:"file_path,omitempty"`
	LineStart      int       `json:"line_start,omitempty"`
	LineEnd        int       `json:"line_end,omitempty"`
	CodeSnippet    string    `json:"code_snippet,omitempty"`
	Severity       string    `json:"severity,omitempty"`
	Confidence     string    `json:"confidence,omitempty"`
	Recommendation string    `json:"recommendation,omitempty"`
	AgreedBy       []string  `json:"agreed_by,omitempty"`
	DisputedBy     []string  `json:"disputed_by,omitempty"`
	DisputeReason  string    `json:"dispute_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// QuestionStatus moves pending → answered or pending → skipped, once.
type QuestionStatus string

const (
	QuestionPending  QuestionStatus = "pending"
	QuestionAnswered QuestionStatus = "answered"
	QuestionSkipped  QuestionStatus = "skipped"
)

type Question struct {
	ID         string         `json:"id"`
	TaskID     string         `json:"task_id"`
	RoundID    string         `json:"round_id,omitempty"`
	Agent      string         `json:"agent"`
	Question   string         `json:"question"`
	Context    string         `json:"context,omitempty"`
	Category   string         `json:"category,omitempty"`
	Answer     string         `json:"answer,omitempty"`
	AnsweredBy string         `json:"answered_by,omitempty"`
	Status     QuestionStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	AnsweredAt *time.Time     `json:"answered_at,omitempty"`
}

type Consensus struct {
	ID                 string     `json:"id"`
	TaskID             string     `json:"task_id"`
	FinalRound         int        `json:"final_round"`
	AgreementRate      float64    `json:"agreement_rate"`
	Summary            string     `json:"summary"`
	AgreedItems        []string   `json:"agreed_items"`
	ImplementationPlan string     `json:"implementation_plan,omitempty"`
	HumanApproved      bool       `json:"human_approved"`
	HumanNotes         string     `json:"human_notes,omitempty"`
	ApprovedAt         *time.Time `json:"approved_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

type Exploration struct {
	ID                 string         `json:"id"`
	TaskID             string         `json:"task_id"`
	Agent              string         `json:"agent"`
	RelevantFiles      []string       `json:"relevant_files,omitempty"`
	TechStack          map[string]any `json:"tech_stack,omitempty"`
	ExistingPatterns   map[string]any `json:"existing_patterns,omitempty"`
	Dependencies       map[string]any `json:"dependencies,omitempty"`
	SchemaSummary      string         `json:"schema_summary,omitempty"`
	DirectoryStructure string         `json:"directory_structure,omitempty"`
	RawOutput          string         `json:"raw_output,omitempty"`
	InputTokens        int            `json:"input_tokens,omitempty"`
	OutputTokens       int            `json:"output_tokens,omitempty"`
	Cost               float64        `json:"cost_estimate,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}
