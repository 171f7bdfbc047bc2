package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/spf13/viper"

	appconfig "github.com/Iron-Ham/debate/internal/config"
)

// isolate points the config directory at a temp dir and resets viper.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	viper.Reset()
	appconfig.SetDefaults()
	t.Cleanup(viper.Reset)
	return filepath.Join(dir, "debate")
}

func TestKeysHaveDefaults(t *testing.T) {
	isolate(t)
	registered := viper.AllKeys()
	for _, k := range keys {
		if !slices.Contains(registered, k.name) {
			t.Errorf("key %s has no registered default", k.name)
		}
	}
}

func TestKeyParse(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		want    any
		wantErr bool
	}{
		{"debate.max_rounds", "2", 2, false},
		{"debate.max_rounds", "two", nil, true},
		{"debate.max_rounds", "-1", nil, true},
		{"debate.consensus_threshold", "75.5", 75.5, false},
		{"triage.shadow_mode", "false", false, false},
		{"triage.shadow_mode", "no", nil, true},
		{"agent.runner", "cli", "cli", false},
		{"agent.runner", "docker", nil, true},
		{"debate.analysis_failure_policy", "continue", "continue", false},
		{"logging.level", "verbose", nil, true},
		{"queue.redis_url", "redis://cache:6379/1", "redis://cache:6379/1", false},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			k, ok := lookupKey(tt.key)
			if !ok {
				t.Fatalf("lookupKey(%q) not found", tt.key)
			}
			got, err := k.parse(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parse() = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestRunConfigSetAndReset(t *testing.T) {
	dir := isolate(t)
	var out bytes.Buffer
	configSetCmd.SetOut(&out)
	configResetCmd.SetOut(&out)

	if err := runConfigSet(configSetCmd, []string{"debate.max_rounds", "2"}); err != nil {
		t.Fatalf("runConfigSet() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.Contains(string(data), "max_rounds: 2") {
		t.Errorf("config file missing max_rounds: 2:\n%s", data)
	}
	if !strings.Contains(out.String(), "Set debate.max_rounds = 2") {
		t.Errorf("output = %q", out.String())
	}

	if err := runConfigReset(configResetCmd, []string{"debate.max_rounds"}); err != nil {
		t.Fatalf("runConfigReset() error = %v", err)
	}
	if got := viper.GetInt("debate.max_rounds"); got != appconfig.Default().Debate.MaxRounds {
		t.Errorf("after reset max_rounds = %d, want %d", got, appconfig.Default().Debate.MaxRounds)
	}
}

func TestRunConfigSetUnknownKey(t *testing.T) {
	isolate(t)
	err := runConfigSet(configSetCmd, []string{"tui.theme", "dark"})
	if err == nil || !strings.Contains(err.Error(), "unknown configuration key") {
		t.Errorf("runConfigSet() error = %v, want unknown key", err)
	}
}

func TestRunConfigInit(t *testing.T) {
	dir := isolate(t)
	var out bytes.Buffer
	configInitCmd.SetOut(&out)

	if err := runConfigInit(configInitCmd, nil); err != nil {
		t.Fatalf("runConfigInit() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if err := runConfigInit(configInitCmd, nil); err == nil {
		t.Error("second runConfigInit() should fail")
	}
}

func TestConfigTemplateLoads(t *testing.T) {
	isolate(t)
	viper.SetConfigType("yaml")
	if err := viper.ReadConfig(strings.NewReader(configTemplate)); err != nil {
		t.Fatalf("template is not valid YAML: %v", err)
	}
	cfg, err := appconfig.Load()
	if err != nil {
		t.Fatalf("template does not validate: %v", err)
	}
	if *cfg != *appconfig.Default() {
		t.Errorf("template differs from defaults:\n got %+v\nwant %+v", *cfg, *appconfig.Default())
	}
}

func TestFindEditor(t *testing.T) {
	orig := execLookPath
	t.Cleanup(func() { execLookPath = orig })

	t.Setenv("EDITOR", "hx")
	if got := findEditor(); got != "hx" {
		t.Errorf("findEditor() = %q, want hx", got)
	}

	t.Setenv("EDITOR", "")
	t.Setenv("VISUAL", "")
	execLookPath = func(name string) (string, error) {
		if name == "nano" {
			return "/usr/bin/nano", nil
		}
		return "", errors.New("not found")
	}
	if got := findEditor(); got != "nano" {
		t.Errorf("findEditor() = %q, want nano", got)
	}

	execLookPath = func(string) (string, error) { return "", errors.New("not found") }
	if got := findEditor(); got != "" {
		t.Errorf("findEditor() = %q, want empty", got)
	}
}
