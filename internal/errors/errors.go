// Package errors defines the errors the debate orchestrator reports and the
// helpers that classify them.
//
// Subsystem errors carry the context of the layer that failed:
//   - TaskError: a workflow phase failed for a task
//   - QueueError: the stream broker or a worker failed
//   - AgentError: an agent call failed
//   - StoreError: a database operation failed
//
// Semantic errors describe the condition itself and match the sentinels
// below through errors.Is: NotFoundError, AlreadyExistsError,
// ValidationError, TimeoutError, CapacityError and SchemaError.
//
//	if errors.Is(err, errors.ErrTaskNotFound) { ... }
//
//	var capErr *errors.CapacityError
//	if errors.As(err, &capErr) { ... }
//
// IsRetryable tells the queue whether a failed job may succeed on another
// attempt. IsUserFacing tells the CLI whether the message explains the
// failure to the person at the terminal or only points at the logs.
package errors

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Re-exported so callers need only this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Tasks and the workflow.
var (
	ErrTaskNotFound      = New("task not found")
	ErrTaskTerminal      = New("task is in a terminal state")
	ErrInvalidTransition = New("invalid phase transition")
	// ErrCheckpoint pauses a run until a human answers.
	ErrCheckpoint = New("waiting for human input")
)

// Rounds, questions and consensus.
var (
	ErrRoundNotFound    = New("round not found")
	ErrQuestionNotFound = New("question not found")
	ErrNoConsensus      = New("no consensus recorded")
)

// Queue.
var (
	ErrQueueFull    = New("queue at capacity")
	ErrMalformedJob = New("malformed job")
)

// Agents.
var (
	ErrEmptyResponse   = New("empty response from agent")
	ErrRateLimited     = New("rate limit timeout")
	ErrUnknownRole     = New("unknown role")
	ErrProcessNotFound = New("process not found")
)

// General.
var (
	ErrTimeout       = New("operation timed out")
	ErrInvalidInput  = New("invalid input")
	ErrSchemaMissing = New("database schema is not initialized")
)

// classified is implemented by every error type in this package.
type classified interface {
	IsRetryable() bool
	IsUserFacing() bool
}

type baseError struct {
	message    string
	cause      error
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error {
	return e.cause
}

func (e *baseError) Is(target error) bool {
	return e.cause != nil && errors.Is(e.cause, target)
}

// IsRetryable reports whether another attempt may succeed.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing reports whether the message explains the failure to a user.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// describe renders "kind [k=v, ...]: message: cause", leaving out empty
// context values.
func (e *baseError) describe(kind string, kv ...string) string {
	var parts []string
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			parts = append(parts, kv[i]+"="+kv[i+1])
		}
	}
	if len(parts) > 0 {
		kind += " [" + strings.Join(parts, ", ") + "]"
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", kind, e.message, e.cause)
	}
	return kind + ": " + e.message
}

// TaskError reports a workflow phase that failed for a task. It is
// user-facing exactly when its cause is.
//
//	err := errors.NewTaskError("phase failed", cause).WithSlug("fix-login").WithPhase("analysis").WithRound(2)
//	// task error [slug=fix-login, phase=analysis, round=2]: phase failed: ...
type TaskError struct {
	baseError
	Slug  string
	Phase string
	Round int
}

// NewTaskError creates a TaskError.
func NewTaskError(message string, cause error) *TaskError {
	return &TaskError{baseError: baseError{
		message:    message,
		cause:      cause,
		retryable:  IsRetryable(cause),
		userFacing: cause == nil || IsUserFacing(cause),
	}}
}

func (e *TaskError) WithSlug(slug string) *TaskError {
	e.Slug = slug
	return e
}

func (e *TaskError) WithPhase(phase string) *TaskError {
	e.Phase = phase
	return e
}

func (e *TaskError) WithRound(round int) *TaskError {
	e.Round = round
	return e
}

func (e *TaskError) Error() string {
	round := ""
	if e.Round > 0 {
		round = fmt.Sprint(e.Round)
	}
	return e.describe("task error", "slug", e.Slug, "phase", e.Phase, "round", round)
}

func (e *TaskError) Is(target error) bool {
	if _, ok := target.(*TaskError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// QueueError reports a broker or worker failure. Broker failures are
// transient, so these are retryable.
type QueueError struct {
	baseError
	Stream string
	JobKey string
}

// NewQueueError creates a QueueError.
func NewQueueError(message string, cause error) *QueueError {
	return &QueueError{baseError: baseError{message: message, cause: cause, retryable: true}}
}

func (e *QueueError) WithStream(stream string) *QueueError {
	e.Stream = stream
	return e
}

func (e *QueueError) WithJobKey(key string) *QueueError {
	e.JobKey = key
	return e
}

func (e *QueueError) Error() string {
	return e.describe("queue error", "stream", e.Stream, "job", e.JobKey)
}

func (e *QueueError) Is(target error) bool {
	if _, ok := target.(*QueueError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AgentError reports a failed agent call: a timeout, an empty response or
// a transport failure. The queue retries these.
//
//	errors.NewAgentError("invocation failed", errors.ErrEmptyResponse).WithAgent("gemini").WithRole("planner_primary")
type AgentError struct {
	baseError
	Agent string
	Role  string
}

// NewAgentError creates an AgentError.
func NewAgentError(message string, cause error) *AgentError {
	return &AgentError{baseError: baseError{message: message, cause: cause, retryable: true, userFacing: true}}
}

func (e *AgentError) WithAgent(agent string) *AgentError {
	e.Agent = agent
	return e
}

func (e *AgentError) WithRole(role string) *AgentError {
	e.Role = role
	return e
}

func (e *AgentError) Error() string {
	return e.describe("agent error", "agent", e.Agent, "role", e.Role)
}

func (e *AgentError) Is(target error) bool {
	if _, ok := target.(*AgentError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// StoreError reports a database operation that failed. The driver message
// means little to a user, so it is not user-facing.
type StoreError struct {
	baseError
	Op string
}

// NewStoreError creates a StoreError for op.
func NewStoreError(op string, cause error) *StoreError {
	return &StoreError{baseError: baseError{message: op, cause: cause}, Op: op}
}

func (e *StoreError) Error() string {
	return e.describe("store error")
}

func (e *StoreError) Is(target error) bool {
	if _, ok := target.(*StoreError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// NotFoundError reports an unknown resource. Tasks, rounds and questions
// also match their sentinel.
//
//	errors.NewNotFoundError("task", "fix-login") // task 'fix-login' not found
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError:    baseError{message: fmt.Sprintf("%s '%s' not found", resourceType, resourceID), userFacing: true},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	switch target {
	case ErrTaskNotFound:
		return e.ResourceType == "task"
	case ErrQuestionNotFound:
		return e.ResourceType == "question"
	case ErrRoundNotFound:
		return e.ResourceType == "round"
	}
	return e.baseError.Is(target)
}

// AlreadyExistsError reports a resource that is already there.
type AlreadyExistsError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewAlreadyExistsError creates an AlreadyExistsError.
func NewAlreadyExistsError(resourceType, resourceID string) *AlreadyExistsError {
	return &AlreadyExistsError{
		baseError:    baseError{message: fmt.Sprintf("%s '%s' already exists", resourceType, resourceID), userFacing: true},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

func (e *AlreadyExistsError) Is(target error) bool {
	if _, ok := target.(*AlreadyExistsError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError reports invalid input or state. It matches
// ErrInvalidInput.
//
//	errors.NewValidationError("unknown participant").WithField("role").WithValue("planner_x")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{baseError: baseError{message: message, userFacing: true}}
}

func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

func (e *ValidationError) Error() string {
	value := ""
	if e.Value != nil {
		value = fmt.Sprint(e.Value)
	}
	return e.describe("validation error", "field", e.Field, "value", value)
}

func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return target == ErrInvalidInput || e.baseError.Is(target)
}

// TimeoutError reports an operation that ran out of time: an agent call,
// a round wait or a rate-limit wait. It matches ErrTimeout.
//
//	errors.NewTimeoutError("waiting for round 2", 720*time.Second)
//	// timeout error: waiting for round 2 (timeout: 12m0s)
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{message: operation, retryable: true, userFacing: true},
		Operation: operation,
		Duration:  duration,
	}
}

func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	return target == ErrTimeout || e.baseError.Is(target)
}

// CapacityError reports a stream that refused a job because it is full.
// It matches ErrQueueFull.
type CapacityError struct {
	baseError
	Resource string
	Limit    int64
}

// NewCapacityError creates a CapacityError.
func NewCapacityError(resource string, limit int64) *CapacityError {
	return &CapacityError{
		baseError: baseError{message: fmt.Sprintf("Stream %s at capacity (%d)", resource, limit), retryable: true, userFacing: true},
		Resource:  resource,
		Limit:     limit,
	}
}

func (e *CapacityError) Is(target error) bool {
	if _, ok := target.(*CapacityError); ok {
		return true
	}
	return target == ErrQueueFull
}

// SchemaError reports a missing table. Its message tells the operator to
// migrate; the driver error is kept for Unwrap.
type SchemaError struct {
	baseError
	Table string
}

// NewSchemaError creates a SchemaError for table.
func NewSchemaError(table string, cause error) *SchemaError {
	return &SchemaError{
		baseError: baseError{
			message: fmt.Sprintf(
				"Database schema is not initialized (missing table `%s`). Run `debate migrate` to apply migrations.",
				table),
			cause:      cause,
			userFacing: true,
		},
		Table: table,
	}
}

func (e *SchemaError) Error() string {
	return e.message
}

func (e *SchemaError) Is(target error) bool {
	if _, ok := target.(*SchemaError); ok {
		return true
	}
	return target == ErrSchemaMissing || e.baseError.Is(target)
}

var missingTablePatterns = []*regexp.Regexp{
	regexp.MustCompile(`no such table: ([\w.]+)`),
	regexp.MustCompile(`relation "([\w.]+)" does not exist`),
}

// MissingTable extracts the table name from a driver "missing table" error.
func MissingTable(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	msg := err.Error()
	for _, re := range missingTablePatterns {
		if m := re.FindStringSubmatch(msg); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// IsRetryable reports whether err is transient. Errors from this package
// decide for themselves; anything else is retryable only when it is a
// timeout.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var c classified
	if As(err, &c) {
		return c.IsRetryable()
	}
	return Is(err, ErrTimeout)
}

// IsUserFacing reports whether err's message is meant for the person at
// the terminal. Errors from this package decide for themselves; plain
// errors, such as bad flags, are.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var c classified
	if As(err, &c) {
		return c.IsUserFacing()
	}
	return true
}
