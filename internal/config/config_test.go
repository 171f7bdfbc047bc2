package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Debate.MaxRounds != 3 {
		t.Errorf("Debate.MaxRounds = %d, want 3", cfg.Debate.MaxRounds)
	}
	if cfg.Debate.ConsensusThreshold != 80 {
		t.Errorf("Debate.ConsensusThreshold = %v, want 80", cfg.Debate.ConsensusThreshold)
	}
	if cfg.Debate.AnalysisFailurePolicy != "cancel" {
		t.Errorf("Debate.AnalysisFailurePolicy = %q, want %q", cfg.Debate.AnalysisFailurePolicy, "cancel")
	}
	if !cfg.Triage.ShadowMode {
		t.Error("Triage.ShadowMode should be true by default")
	}
	if cfg.Queue.Enabled {
		t.Error("Queue.Enabled should be false by default")
	}
	if cfg.Queue.MaxDepth != 100 {
		t.Errorf("Queue.MaxDepth = %d, want 100", cfg.Queue.MaxDepth)
	}
	if cfg.Queue.RedisURL != "redis://localhost:16379/0" {
		t.Errorf("Queue.RedisURL = %q, want default", cfg.Queue.RedisURL)
	}
	if cfg.RateLimit.WaitSeconds != 60 {
		t.Errorf("RateLimit.WaitSeconds = %d, want 60", cfg.RateLimit.WaitSeconds)
	}
	if cfg.Agent.Runner != "opencode" {
		t.Errorf("Agent.Runner = %q, want %q", cfg.Agent.Runner, "opencode")
	}
}

func TestDurations(t *testing.T) {
	cfg := Default()

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"agent timeout", cfg.Debate.AgentTimeoutDuration(), 300 * time.Second},
		{"round timeout", cfg.Debate.RoundTimeoutDuration(), 720 * time.Second},
		{"poll interval", cfg.Debate.PollIntervalDuration(), 2 * time.Second},
		{"queue block", cfg.Queue.Block(), time.Second},
		{"idempotency ttl", cfg.Queue.IdempotencyTTLDuration(), time.Hour},
		{"reconcile interval", cfg.Queue.ReconcileIntervalDuration(), 0},
		{"rate limit wait", cfg.RateLimit.Wait(), time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got, want := ConfigDir(), "/custom/config/debate"; got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
		if got, want := ConfigFile(), "/custom/config/debate/config.yaml"; got != want {
			t.Errorf("ConfigFile() = %q, want %q", got, want)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		if got, want := ConfigDir(), filepath.Join(home, ".config", "debate"); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})
}

func TestResolvePaths(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")

	store := StoreConfig{}
	if got, want := store.ResolvePath(), "/data/debate/debate.db"; got != want {
		t.Errorf("StoreConfig.ResolvePath() = %q, want %q", got, want)
	}

	logging := LoggingConfig{}
	if got, want := logging.ResolveDir(), "/data/debate/logs"; got != want {
		t.Errorf("LoggingConfig.ResolveDir() = %q, want %q", got, want)
	}

	home, _ := os.UserHomeDir()
	store.Path = "~/dbs/debate.db"
	if got, want := store.ResolvePath(), filepath.Join(home, "dbs", "debate.db"); got != want {
		t.Errorf("StoreConfig.ResolvePath() = %q, want %q", got, want)
	}

	agent := AgentConfig{Directory: "/srv/project"}
	if got := agent.ResolveDirectory(); got != "/srv/project" {
		t.Errorf("AgentConfig.ResolveDirectory() = %q, want %q", got, "/srv/project")
	}
}

func TestLoad_FromViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	viper.Set("debate.max_rounds", 5)
	viper.Set("queue.enabled", true)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Debate.MaxRounds != 5 {
		t.Errorf("Debate.MaxRounds = %d, want 5", cfg.Debate.MaxRounds)
	}
	if !cfg.Queue.Enabled {
		t.Error("Queue.Enabled = false, want true")
	}
	if !cfg.Triage.ShadowMode {
		t.Error("unset keys should keep their defaults")
	}
}

func TestGet_FallsBackOnInvalidConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	viper.Set("debate.analysis_failure_policy", "shrug")

	if _, err := Load(); err == nil {
		t.Fatal("Load() with invalid policy should fail")
	}
	if got := Get().Debate.AnalysisFailurePolicy; got != "cancel" {
		t.Errorf("Get().Debate.AnalysisFailurePolicy = %q, want default", got)
	}
}
