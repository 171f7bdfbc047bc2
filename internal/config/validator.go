package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "queue.max_depth")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateDebate()...)
	errors = append(errors, c.validateTriage()...)
	errors = append(errors, c.validateQueue()...)
	errors = append(errors, c.validateRateLimit()...)
	errors = append(errors, c.validateAgent()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func positive(field string, value int) []ValidationError {
	if value > 0 {
		return nil
	}
	return []ValidationError{{Field: field, Value: value, Message: "must be positive"}}
}

func (c *Config) validateDebate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, positive("debate.max_rounds", c.Debate.MaxRounds)...)
	errors = append(errors, positive("debate.agent_timeout", c.Debate.AgentTimeout)...)
	errors = append(errors, positive("debate.round_timeout", c.Debate.RoundTimeout)...)
	errors = append(errors, positive("debate.poll_interval", c.Debate.PollInterval)...)

	if c.Debate.ConsensusThreshold < 0 || c.Debate.ConsensusThreshold > 100 {
		errors = append(errors, ValidationError{
			Field:   "debate.consensus_threshold",
			Value:   c.Debate.ConsensusThreshold,
			Message: "must be between 0 and 100",
		})
	}

	if !slices.Contains(ValidFailurePolicies(), c.Debate.AnalysisFailurePolicy) {
		errors = append(errors, ValidationError{
			Field:   "debate.analysis_failure_policy",
			Value:   c.Debate.AnalysisFailurePolicy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidFailurePolicies(), ", ")),
		})
	}

	return errors
}

func (c *Config) validateTriage() []ValidationError {
	// The blend reserves 0.3 for history plus its neutral complement.
	if c.Triage.HistoryWeight < 0 || c.Triage.HistoryWeight > 0.3 {
		return []ValidationError{{
			Field:   "triage.history_weight",
			Value:   c.Triage.HistoryWeight,
			Message: "must be between 0 and 0.3",
		}}
	}
	return nil
}

func (c *Config) validateQueue() []ValidationError {
	var errors []ValidationError

	if c.Queue.MaxDepth <= 0 {
		errors = append(errors, ValidationError{
			Field:   "queue.max_depth",
			Value:   c.Queue.MaxDepth,
			Message: "must be positive",
		})
	}
	errors = append(errors, positive("queue.block_ms", c.Queue.BlockMs)...)
	errors = append(errors, positive("queue.idempotency_ttl", c.Queue.IdempotencyTTL)...)

	if c.Queue.ReconcileInterval < 0 {
		errors = append(errors, ValidationError{
			Field:   "queue.reconcile_interval",
			Value:   c.Queue.ReconcileInterval,
			Message: "must be non-negative",
		})
	}

	if c.Queue.Enabled {
		if u, err := url.Parse(c.Queue.RedisURL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			errors = append(errors, ValidationError{
				Field:   "queue.redis_url",
				Value:   c.Queue.RedisURL,
				Message: "must be a redis:// or rediss:// URL",
			})
		}
	}

	return errors
}

func (c *Config) validateRateLimit() []ValidationError {
	if c.RateLimit.WaitSeconds < 0 {
		return []ValidationError{{
			Field:   "rate_limit.wait_seconds",
			Value:   c.RateLimit.WaitSeconds,
			Message: "must be non-negative",
		}}
	}
	return nil
}

func (c *Config) validateAgent() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidRunners(), c.Agent.Runner) {
		errors = append(errors, ValidationError{
			Field:   "agent.runner",
			Value:   c.Agent.Runner,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidRunners(), ", ")),
		})
	}

	if c.Agent.Runner == "opencode" {
		if u, err := url.Parse(c.Agent.OpenCodeURL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "agent.opencode_url",
				Value:   c.Agent.OpenCodeURL,
				Message: "must be an absolute URL",
			})
		}
	}

	if c.Agent.Runner == "cli" && strings.TrimSpace(c.Agent.CLICommand) == "" {
		errors = append(errors, ValidationError{
			Field:   "agent.cli_command",
			Value:   c.Agent.CLICommand,
			Message: "cannot be empty when agent.runner is cli",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
