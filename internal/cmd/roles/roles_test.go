package roles

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Iron-Ham/debate/internal/prompt"
	approles "github.com/Iron-Ham/debate/internal/roles"
	"github.com/Iron-Ham/debate/internal/testutil"
)

// newResolver returns a resolver backed by a fresh store and an opener
// serving it with the embedded templates.
func newResolver(t *testing.T) (*approles.Resolver, Opener) {
	t.Helper()
	r := approles.NewResolver(testutil.NewStore(t))
	lib := prompt.NewLibrary("", nil)
	return r, func(context.Context) (*approles.Resolver, approles.TemplateSet, func(), error) {
		return r, lib, func() {}, nil
	}
}

// run executes args against a fresh root and returns the combined output.
func run(t *testing.T, opener Opener, args ...string) (string, error) {
	t.Helper()

	setAgent, setModel, setPrompt, setDescription, setJobType = "", "", "", "", ""
	setCapabilities, setTimeout = nil, 0
	listFormat, modelsFormat = "text", "text"
	for _, c := range []*cobra.Command{rolesListCmd, rolesSetCmd, modelsListCmd} {
		c.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	}

	root := &cobra.Command{Use: "debate", SilenceUsage: true, SilenceErrors: true}
	Register(root, opener)
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestRolesListShowsDefaults(t *testing.T) {
	_, opener := newResolver(t)

	out, err := run(t, opener, "roles", "list")
	if err != nil {
		t.Fatalf("roles list: %v", err)
	}
	for _, want := range []string{"planner_primary", "debate_gemini", "implementer.md", "default"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRolesSetAndUnset(t *testing.T) {
	r, opener := newResolver(t)
	ctx := context.Background()

	out, err := run(t, opener, "roles", "set", "planner_secondary", "--model", "vendor/model-x", "--timeout", "90")
	if err != nil {
		t.Fatalf("roles set: %v", err)
	}
	if !strings.Contains(out, "Stored override for planner_secondary") {
		t.Errorf("unexpected output: %s", out)
	}

	cfg, src, err := r.ResolveWithSource(ctx, approles.PlannerSecondary)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if src != approles.SourceDB {
		t.Errorf("source = %s, want %s", src, approles.SourceDB)
	}
	if cfg.Model != "vendor/model-x" || cfg.TimeoutOverride != 90 {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.AgentKey != approles.Defaults[approles.PlannerSecondary].AgentKey {
		t.Errorf("agent key changed to %q", cfg.AgentKey)
	}

	out, err = run(t, opener, "roles", "unset", "planner_secondary")
	if err != nil {
		t.Fatalf("roles unset: %v", err)
	}
	if !strings.Contains(out, "Removed override") {
		t.Errorf("unexpected output: %s", out)
	}
	out, err = run(t, opener, "roles", "unset", "planner_secondary")
	if err != nil {
		t.Fatalf("second unset: %v", err)
	}
	if !strings.Contains(out, "no stored override") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestRolesSetValidatesFlags(t *testing.T) {
	_, opener := newResolver(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no fields", []string{"roles", "set", "reviewer"}, "nothing to set"},
		{"bad job type", []string{"roles", "set", "reviewer", "--job-type", "deploy"}, "--job-type"},
		{"negative timeout", []string{"roles", "set", "reviewer", "--timeout=-5"}, "non-negative"},
		{"unknown role", []string{"roles", "set", "janitor", "--model", "m"}, "unknown role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, opener, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestRolesSetWarnsOnUnknownAgent(t *testing.T) {
	_, opener := newResolver(t)

	out, err := run(t, opener, "roles", "set", "explorer", "--agent", "nobody")
	if err != nil {
		t.Fatalf("roles set: %v", err)
	}
	if !strings.Contains(out, "unknown agent_key: nobody") {
		t.Errorf("expected warning, got:\n%s", out)
	}

	out, err = run(t, opener, "roles", "check", "explorer")
	if err == nil {
		t.Fatal("expected roles check to fail")
	}
	if !strings.Contains(out, "unknown agent_key: nobody") {
		t.Errorf("check output missing problem:\n%s", out)
	}
}

func TestRolesCheckDefaultsPass(t *testing.T) {
	_, opener := newResolver(t)

	out, err := run(t, opener, "roles", "check")
	if err != nil {
		t.Fatalf("roles check: %v\n%s", err, out)
	}
	if strings.Count(out, "✓") != len(approles.All()) {
		t.Errorf("expected every role to pass:\n%s", out)
	}
}

func TestRolesShowYAML(t *testing.T) {
	_, opener := newResolver(t)

	out, err := run(t, opener, "roles", "show", "implementer")
	if err != nil {
		t.Fatalf("roles show: %v", err)
	}
	for _, want := range []string{"role: implementer", "agent_key: debate_codex", "job_type: implement"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestModelsSetAndUnset(t *testing.T) {
	r, opener := newResolver(t)
	ctx := context.Background()

	if _, err := run(t, opener, "models", "set", "debate_codex", "openai/gpt-test"); err != nil {
		t.Fatalf("models set: %v", err)
	}
	model, src, err := r.ResolveModel(ctx, "debate_codex")
	if err != nil {
		t.Fatalf("resolve model: %v", err)
	}
	if model != "openai/gpt-test" || src != approles.SourceDB {
		t.Errorf("got %s (%s)", model, src)
	}

	out, err := run(t, opener, "models", "list")
	if err != nil {
		t.Fatalf("models list: %v", err)
	}
	if !strings.Contains(out, "openai/gpt-test") {
		t.Errorf("list missing override:\n%s", out)
	}

	out, err = run(t, opener, "models", "unset", "debate_codex")
	if err != nil {
		t.Fatalf("models unset: %v", err)
	}
	if !strings.Contains(out, "Removed model override") {
		t.Errorf("unexpected output: %s", out)
	}
	if model, _, _ := r.ResolveModel(ctx, "debate_codex"); model != approles.DefaultModels["debate_codex"] {
		t.Errorf("model after unset = %s", model)
	}
}
