// Package config provides CLI commands for managing debate configuration.
package config

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	appconfig "github.com/Iron-Ham/debate/internal/config"
)

// Wrapper functions for exec to allow testing
var execLookPath = exec.LookPath
var execCommand = exec.Command

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify debate configuration",
	Long: `View or modify debate configuration.

Without arguments, shows the effective configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  debate config set debate.max_rounds 2
  debate config set queue.enabled true
  debate config set agent.runner cli

Valid keys:
  debate.max_rounds              - Global round ceiling
  debate.consensus_threshold     - Agreement rate (0-100) that ends revision early
  debate.agent_timeout           - Per-invocation timeout in seconds
  debate.round_timeout           - Queued analysis wait bound in seconds
  debate.poll_interval           - Round polling interval in seconds
  debate.analysis_failure_policy - Unattended reaction to a failed planner
                                   Options: cancel, continue
  triage.shadow_mode             - Log fast-track recommendations only (true/false)
  triage.history_weight          - Weight of historical similarity (0-1)
  queue.enabled                  - Route analysis through workers (true/false)
  queue.redis_url                - Redis address
  queue.max_depth                - Stream length at which enqueue is rejected
  queue.block_ms                 - Worker stream read block in milliseconds
  queue.idempotency_ttl          - Job idempotency key lifetime in seconds
  queue.reconcile_interval       - Periodic reconciliation in seconds (0 disables)
  rate_limit.enabled             - Throttle agent calls (true/false)
  rate_limit.wait_seconds        - Longest wait for a rate limit slot
  agent.runner                   - Invocation backend. Options: opencode, cli
  agent.opencode_url             - OpenCode server URL
  agent.directory                - Project directory agents work in
  agent.templates_dir            - Prompt template override directory
  agent.cli_command              - Command line of the cli runner
  store.path                     - SQLite database file
  logging.level                  - Options: debug, info, warn, error
  logging.dir                    - Directory of debug.log
  logging.max_size_mb            - Size at which debug.log rotates
  logging.max_backups            - Rotated log files kept
  embedding.url                  - OpenAI-compatible embeddings endpoint
  embedding.model                - Embeddings model name`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/debate/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in your editor",
	Long: `Open the config file in your preferred editor.

Uses $EDITOR environment variable, or falls back to common editors (vim, nano, vi).
If no config file exists, creates one with default values first.`,
	RunE: runConfigEdit,
}

var configResetCmd = &cobra.Command{
	Use:   "reset [key]",
	Short: "Reset configuration to defaults",
	Long: `Reset configuration values to their defaults.

Without arguments, resets all configuration to defaults.
With a key argument, resets only that specific key.

Examples:
  debate config reset                   # Reset all to defaults
  debate config reset debate.max_rounds # Reset only debate.max_rounds`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigReset,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configResetCmd)
}

// Register adds all config-related commands to the given parent command.
// This is the main entry point for integrating the config subpackage with
// the root command.
func Register(parent *cobra.Command) {
	parent.AddCommand(configCmd)
}

// keyKind is how a value given to 'config set' is parsed.
type keyKind int

const (
	kindString keyKind = iota
	kindBool
	kindInt
	kindFloat
)

// key describes one settable configuration key.
type key struct {
	name    string
	kind    keyKind
	options []string
	def     func(*appconfig.Config) any
}

// keys lists every settable key in the order 'config show' prints them.
var keys = []key{
	{name: "debate.max_rounds", kind: kindInt, def: func(c *appconfig.Config) any { return c.Debate.MaxRounds }},
	{name: "debate.consensus_threshold", kind: kindFloat, def: func(c *appconfig.Config) any { return c.Debate.ConsensusThreshold }},
	{name: "debate.agent_timeout", kind: kindInt, def: func(c *appconfig.Config) any { return c.Debate.AgentTimeout }},
	{name: "debate.round_timeout", kind: kindInt, def: func(c *appconfig.Config) any { return c.Debate.RoundTimeout }},
	{name: "debate.poll_interval", kind: kindInt, def: func(c *appconfig.Config) any { return c.Debate.PollInterval }},
	{name: "debate.analysis_failure_policy", kind: kindString, options: appconfig.ValidFailurePolicies(),
		def: func(c *appconfig.Config) any { return c.Debate.AnalysisFailurePolicy }},
	{name: "triage.shadow_mode", kind: kindBool, def: func(c *appconfig.Config) any { return c.Triage.ShadowMode }},
	{name: "triage.history_weight", kind: kindFloat, def: func(c *appconfig.Config) any { return c.Triage.HistoryWeight }},
	{name: "queue.enabled", kind: kindBool, def: func(c *appconfig.Config) any { return c.Queue.Enabled }},
	{name: "queue.redis_url", kind: kindString, def: func(c *appconfig.Config) any { return c.Queue.RedisURL }},
	{name: "queue.max_depth", kind: kindInt, def: func(c *appconfig.Config) any { return c.Queue.MaxDepth }},
	{name: "queue.block_ms", kind: kindInt, def: func(c *appconfig.Config) any { return c.Queue.BlockMs }},
	{name: "queue.idempotency_ttl", kind: kindInt, def: func(c *appconfig.Config) any { return c.Queue.IdempotencyTTL }},
	{name: "queue.reconcile_interval", kind: kindInt, def: func(c *appconfig.Config) any { return c.Queue.ReconcileInterval }},
	{name: "rate_limit.enabled", kind: kindBool, def: func(c *appconfig.Config) any { return c.RateLimit.Enabled }},
	{name: "rate_limit.wait_seconds", kind: kindInt, def: func(c *appconfig.Config) any { return c.RateLimit.WaitSeconds }},
	{name: "agent.runner", kind: kindString, options: appconfig.ValidRunners(),
		def: func(c *appconfig.Config) any { return c.Agent.Runner }},
	{name: "agent.opencode_url", kind: kindString, def: func(c *appconfig.Config) any { return c.Agent.OpenCodeURL }},
	{name: "agent.directory", kind: kindString, def: func(c *appconfig.Config) any { return c.Agent.Directory }},
	{name: "agent.templates_dir", kind: kindString, def: func(c *appconfig.Config) any { return c.Agent.TemplatesDir }},
	{name: "agent.cli_command", kind: kindString, def: func(c *appconfig.Config) any { return c.Agent.CLICommand }},
	{name: "store.path", kind: kindString, def: func(c *appconfig.Config) any { return c.Store.Path }},
	{name: "logging.level", kind: kindString, options: appconfig.ValidLogLevels(),
		def: func(c *appconfig.Config) any { return c.Logging.Level }},
	{name: "logging.dir", kind: kindString, def: func(c *appconfig.Config) any { return c.Logging.Dir }},
	{name: "logging.max_size_mb", kind: kindInt, def: func(c *appconfig.Config) any { return c.Logging.MaxSizeMB }},
	{name: "logging.max_backups", kind: kindInt, def: func(c *appconfig.Config) any { return c.Logging.MaxBackups }},
	{name: "embedding.url", kind: kindString, def: func(c *appconfig.Config) any { return c.Embedding.URL }},
	{name: "embedding.model", kind: kindString, def: func(c *appconfig.Config) any { return c.Embedding.Model }},
}

func lookupKey(name string) (key, bool) {
	i := slices.IndexFunc(keys, func(k key) bool { return k.name == name })
	if i < 0 {
		return key{}, false
	}
	return keys[i], true
}

// parse converts value to the key's type. Numbers must be non-negative.
func (k key) parse(value string) (any, error) {
	switch k.kind {
	case kindBool:
		if value != "true" && value != "false" {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", k.name)
		}
		return value == "true", nil
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", k.name)
		}
		if n < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", k.name)
		}
		return n, nil
	case kindFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected number", k.name)
		}
		if f < 0 {
			return nil, fmt.Errorf("invalid value for %s: must be non-negative", k.name)
		}
		return f, nil
	}
	if len(k.options) > 0 && !slices.Contains(k.options, value) {
		return nil, fmt.Errorf("invalid value for %s: %s\nValid options: %s",
			k.name, value, strings.Join(k.options, ", "))
	}
	return value, nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Current configuration:")
	fmt.Fprintln(out)

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n")
	}
	fmt.Fprintln(out)

	printSettings(out)

	cfg, err := appconfig.Load()
	if err != nil {
		fmt.Fprintf(out, "\nConfiguration is invalid:\n%v\n", err)
	} else {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Database: %s\n", cfg.Store.ResolvePath())
		fmt.Fprintf(out, "Logs:     %s\n", cfg.Logging.ResolveDir())
	}
	return nil
}

// printSettings prints every key grouped by section.
func printSettings(out io.Writer) {
	section := ""
	for _, k := range keys {
		sec, name, _ := strings.Cut(k.name, ".")
		if sec != section {
			fmt.Fprintf(out, "%s:\n", sec)
			section = sec
		}
		fmt.Fprintf(out, "  %s: %v\n", name, viper.Get(k.name))
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	k, ok := lookupKey(args[0])
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'debate config set --help' to see valid keys", args[0])
	}
	typedValue, err := k.parse(args[1])
	if err != nil {
		return err
	}

	// Set the value in viper
	viper.Set(k.name, typedValue)

	configFile, err := writeConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Set %s = %v\n", k.name, typedValue)
	fmt.Fprintf(out, "Config saved to %s\n", configFile)
	return nil
}

// writeConfig persists viper's settings to the user's config file.
func writeConfig() (string, error) {
	configDir := appconfig.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	configFile := appconfig.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return configFile, nil
}

const configTemplate = `# Debate Configuration

# Round loop
debate:
  # Global round ceiling; trivial tasks get 1 round, standard tasks 2
  max_rounds: 3
  # Agreement rate (0-100) at which revision stops early
  consensus_threshold: 80
  # Per-invocation agent timeout in seconds
  agent_timeout: 300
  # How long queued analysis waits for both planners, in seconds
  round_timeout: 720
  # Round status polling interval in seconds
  poll_interval: 2
  # What an unattended run does when a planner fails: cancel or continue
  analysis_failure_policy: cancel

# Complexity triage
triage:
  # Log fast-track recommendations without acting on them
  shadow_mode: true
  # Weight of similarity to past tasks in the classification
  history_weight: 0.3

# Redis stream broker
queue:
  # Route analysis through 'debate worker' processes
  enabled: false
  redis_url: redis://localhost:16379/0
  # Stream length at which enqueue is rejected
  max_depth: 100
  block_ms: 1000
  idempotency_ttl: 3600
  # Re-enqueue unfinished rounds every N seconds (0: only on startup)
  reconcile_interval: 0

# Per-agent request throttling
rate_limit:
  enabled: true
  wait_seconds: 60

# Agent invocation
agent:
  # Backend: opencode (HTTP server) or cli (spawned under a pty)
  runner: opencode
  opencode_url: http://localhost:4096
  # Project directory agents work in (default: current directory)
  directory: ""
  # Directory with prompt template overrides (hot reloaded)
  templates_dir: ""
  cli_command: opencode run

# Persistent store
store:
  # SQLite file (default: ~/.local/share/debate/debate.db)
  path: ""

# Debug logging
logging:
  level: info
  dir: ""
  max_size_mb: 10
  max_backups: 3

# Semantic similarity for consensus (empty url: word overlap)
embedding:
  url: ""
  model: ""
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := appconfig.ConfigDir()
	configFile := appconfig.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'debate config set' to modify values", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file at %s\n", configFile)
	fmt.Fprintln(out, "Edit this file to customize the debate settings.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := appconfig.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(appconfig.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: DEBATE_* (e.g., DEBATE_QUEUE_REDIS_URL)")
	return nil
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	configFile := appconfig.ConfigFile()

	// Check if config file exists, if not create it
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		fmt.Fprintf(cmd.OutOrStdout(), "Config file doesn't exist, creating with defaults...\n")
		if err := runConfigInit(cmd, args); err != nil {
			return err
		}
	}

	editor := findEditor()
	if editor == "" {
		return fmt.Errorf("no editor found. Set $EDITOR environment variable")
	}

	editorCmd := execCommand(editor, configFile)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor exited with error: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Config file saved: %s\n", configFile)
	return nil
}

// findEditor picks $EDITOR, then $VISUAL, then the first common editor on
// PATH.
func findEditor() string {
	if editor := os.Getenv("EDITOR"); editor != "" {
		return editor
	}
	if editor := os.Getenv("VISUAL"); editor != "" {
		return editor
	}
	for _, e := range []string{"vim", "nano", "vi"} {
		if _, err := execLookPath(e); err == nil {
			return e
		}
	}
	return ""
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	defaults := appconfig.Default()
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		for _, k := range keys {
			viper.Set(k.name, k.def(defaults))
		}
		fmt.Fprintln(out, "Reset all configuration to defaults.")
	} else {
		k, ok := lookupKey(args[0])
		if !ok {
			return fmt.Errorf("unknown configuration key: %s\nRun 'debate config set --help' to see valid keys", args[0])
		}
		value := k.def(defaults)
		viper.Set(k.name, value)
		fmt.Fprintf(out, "Reset %s to default: %v\n", k.name, value)
	}

	configFile, err := writeConfig()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Config saved to %s\n", configFile)
	return nil
}
