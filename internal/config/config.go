package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete debate configuration
type Config struct {
	Debate    DebateConfig    `mapstructure:"debate"`
	Triage    TriageConfig    `mapstructure:"triage"`
	Queue     QueueConfig     `mapstructure:"queue"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
}

// DebateConfig controls the round loop
type DebateConfig struct {
	// MaxRounds is the global round ceiling; only complex tasks may use all of it (default: 3)
	MaxRounds int `mapstructure:"max_rounds"`
	// ConsensusThreshold is the agreement rate (0-100) that ends revision early (default: 80)
	ConsensusThreshold float64 `mapstructure:"consensus_threshold"`
	// AgentTimeout is the per-invocation timeout in seconds (default: 300)
	AgentTimeout int `mapstructure:"agent_timeout"`
	// RoundTimeout bounds how long analysis waits for both planners, in seconds (default: 720)
	RoundTimeout int `mapstructure:"round_timeout"`
	// PollInterval is the round status polling interval in seconds on the queue path (default: 2)
	PollInterval int `mapstructure:"poll_interval"`
	// AnalysisFailurePolicy decides what an unattended run does when a planner fails.
	// Options: "cancel", "continue" (default: "cancel")
	AnalysisFailurePolicy string `mapstructure:"analysis_failure_policy"`
}

// TriageConfig controls complexity classification and fast-tracking
type TriageConfig struct {
	// ShadowMode logs fast-track recommendations without acting on them (default: true)
	ShadowMode bool `mapstructure:"shadow_mode"`
	// HistoryWeight is the blend weight of the historical-similarity score (default: 0.3)
	HistoryWeight float64 `mapstructure:"history_weight"`
}

// QueueConfig controls the Redis stream broker
type QueueConfig struct {
	// Enabled routes analysis through workers instead of in-process calls (default: false)
	Enabled bool `mapstructure:"enabled"`
	// RedisURL is the broker address (default: "redis://localhost:16379/0")
	RedisURL string `mapstructure:"redis_url"`
	// MaxDepth is the stream length at which enqueue is rejected (default: 100)
	MaxDepth int64 `mapstructure:"max_depth"`
	// BlockMs is how long a worker blocks on each stream read (default: 1000)
	BlockMs int `mapstructure:"block_ms"`
	// IdempotencyTTL is the lifetime of job idempotency keys in seconds (default: 3600)
	IdempotencyTTL int `mapstructure:"idempotency_ttl"`
	// ReconcileInterval re-runs reconciliation every N seconds; 0 runs it only at startup (default: 0)
	ReconcileInterval int `mapstructure:"reconcile_interval"`
}

// RateLimitConfig controls per-agent request throttling
type RateLimitConfig struct {
	// Enabled turns on the per-agent fixed window limiter (default: true)
	Enabled bool `mapstructure:"enabled"`
	// WaitSeconds bounds how long a call waits for a slot (default: 60)
	WaitSeconds int `mapstructure:"wait_seconds"`
}

// AgentConfig controls how agents are invoked
type AgentConfig struct {
	// Runner selects the invocation backend. Options: "opencode", "cli" (default: "opencode")
	Runner string `mapstructure:"runner"`
	// OpenCodeURL is the base URL of the OpenCode server (default: "http://localhost:4096")
	OpenCodeURL string `mapstructure:"opencode_url"`
	// Directory is the project directory agents operate in. Empty uses the working directory.
	Directory string `mapstructure:"directory"`
	// TemplatesDir overrides the embedded prompt templates when set
	TemplatesDir string `mapstructure:"templates_dir"`
	// CLICommand is the command line used by the "cli" runner (default: "opencode run")
	CLICommand string `mapstructure:"cli_command"`
}

// StoreConfig controls the persistent store
type StoreConfig struct {
	// Path is the SQLite database file. Empty uses {data dir}/debate.db.
	Path string `mapstructure:"path"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the minimum log level. Options: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is where debug.log is written. Empty uses {data dir}/logs.
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the size at which debug.log rotates (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated files kept (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// EmbeddingConfig controls the semantic similarity backend used by consensus
type EmbeddingConfig struct {
	// URL is an OpenAI-compatible embeddings endpoint. Empty falls back to word overlap.
	URL string `mapstructure:"url"`
	// Model is sent as the embeddings model name
	Model string `mapstructure:"model"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Debate: DebateConfig{
			MaxRounds:             3,
			ConsensusThreshold:    80,
			AgentTimeout:          300,
			RoundTimeout:          720,
			PollInterval:          2,
			AnalysisFailurePolicy: "cancel",
		},
		Triage: TriageConfig{
			ShadowMode:    true,
			HistoryWeight: 0.3,
		},
		Queue: QueueConfig{
			Enabled:        false,
			RedisURL:       "redis://localhost:16379/0",
			MaxDepth:       100,
			BlockMs:        1000,
			IdempotencyTTL: 3600,
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			WaitSeconds: 60,
		},
		Agent: AgentConfig{
			Runner:      "opencode",
			OpenCodeURL: "http://localhost:4096",
			CLICommand:  "opencode run",
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// AgentTimeoutDuration returns the per-invocation timeout as a time.Duration
func (c *DebateConfig) AgentTimeoutDuration() time.Duration {
	return time.Duration(c.AgentTimeout) * time.Second
}

// RoundTimeoutDuration returns the analysis wait bound as a time.Duration
func (c *DebateConfig) RoundTimeoutDuration() time.Duration {
	return time.Duration(c.RoundTimeout) * time.Second
}

// PollIntervalDuration returns the round polling interval as a time.Duration
func (c *DebateConfig) PollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// Block returns the worker read block as a time.Duration
func (c *QueueConfig) Block() time.Duration {
	return time.Duration(c.BlockMs) * time.Millisecond
}

// IdempotencyTTLDuration returns the idempotency key lifetime as a time.Duration
func (c *QueueConfig) IdempotencyTTLDuration() time.Duration {
	return time.Duration(c.IdempotencyTTL) * time.Second
}

// ReconcileIntervalDuration returns the periodic reconciliation interval (0 means startup only)
func (c *QueueConfig) ReconcileIntervalDuration() time.Duration {
	return time.Duration(c.ReconcileInterval) * time.Second
}

// Wait returns the maximum rate limit wait as a time.Duration
func (c *RateLimitConfig) Wait() time.Duration {
	return time.Duration(c.WaitSeconds) * time.Second
}

// ResolvePath returns the database path, defaulting into the data directory.
func (s *StoreConfig) ResolvePath() string {
	if s.Path == "" {
		return filepath.Join(DataDir(), "debate.db")
	}
	return expandHome(s.Path)
}

// ResolveDir returns the log directory, defaulting into the data directory.
func (l *LoggingConfig) ResolveDir() string {
	if l.Dir == "" {
		return filepath.Join(DataDir(), "logs")
	}
	return expandHome(l.Dir)
}

// ResolveDirectory returns the agent working directory, defaulting to the process cwd.
func (a *AgentConfig) ResolveDirectory() string {
	if a.Directory != "" {
		return expandHome(a.Directory)
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Debate defaults
	viper.SetDefault("debate.max_rounds", defaults.Debate.MaxRounds)
	viper.SetDefault("debate.consensus_threshold", defaults.Debate.ConsensusThreshold)
	viper.SetDefault("debate.agent_timeout", defaults.Debate.AgentTimeout)
	viper.SetDefault("debate.round_timeout", defaults.Debate.RoundTimeout)
	viper.SetDefault("debate.poll_interval", defaults.Debate.PollInterval)
	viper.SetDefault("debate.analysis_failure_policy", defaults.Debate.AnalysisFailurePolicy)

	// Triage defaults
	viper.SetDefault("triage.shadow_mode", defaults.Triage.ShadowMode)
	viper.SetDefault("triage.history_weight", defaults.Triage.HistoryWeight)

	// Queue defaults
	viper.SetDefault("queue.enabled", defaults.Queue.Enabled)
	viper.SetDefault("queue.redis_url", defaults.Queue.RedisURL)
	viper.SetDefault("queue.max_depth", defaults.Queue.MaxDepth)
	viper.SetDefault("queue.block_ms", defaults.Queue.BlockMs)
	viper.SetDefault("queue.idempotency_ttl", defaults.Queue.IdempotencyTTL)
	viper.SetDefault("queue.reconcile_interval", defaults.Queue.ReconcileInterval)

	// Rate limit defaults
	viper.SetDefault("rate_limit.enabled", defaults.RateLimit.Enabled)
	viper.SetDefault("rate_limit.wait_seconds", defaults.RateLimit.WaitSeconds)

	// Agent defaults
	viper.SetDefault("agent.runner", defaults.Agent.Runner)
	viper.SetDefault("agent.opencode_url", defaults.Agent.OpenCodeURL)
	viper.SetDefault("agent.directory", defaults.Agent.Directory)
	viper.SetDefault("agent.templates_dir", defaults.Agent.TemplatesDir)
	viper.SetDefault("agent.cli_command", defaults.Agent.CLICommand)

	// Store defaults
	viper.SetDefault("store.path", defaults.Store.Path)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// Embedding defaults
	viper.SetDefault("embedding.url", defaults.Embedding.URL)
	viper.SetDefault("embedding.model", defaults.Embedding.Model)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when it does not load
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "debate")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".debate"
	}
	return filepath.Join(home, ".config", "debate")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns the directory holding the database, logs and process registry
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "debate")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".debate"
	}
	return filepath.Join(home, ".local", "share", "debate")
}

// ValidFailurePolicies returns the accepted values of debate.analysis_failure_policy
func ValidFailurePolicies() []string {
	return []string{"cancel", "continue"}
}

// ValidRunners returns the accepted values of agent.runner
func ValidRunners() []string {
	return []string{"opencode", "cli"}
}
