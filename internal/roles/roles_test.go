package roles

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"testing"

	"github.com/Iron-Ham/debate/internal/domain"
)

// memGuardrails is a GuardrailStore that round-trips values through JSON
// like the sqlite store does.
type memGuardrails struct {
	mu   sync.Mutex
	rows map[string][]byte
}

func newMemGuardrails() *memGuardrails {
	return &memGuardrails{rows: make(map[string][]byte)}
}

func (m *memGuardrails) Guardrail(_ context.Context, key string, v any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.rows[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

func (m *memGuardrails) SetGuardrail(_ context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[key] = b
	return nil
}

type templateNames []string

func (t templateNames) Has(name string) bool { return slices.Contains(t, name) }

func TestParse(t *testing.T) {
	for _, r := range All() {
		got, err := Parse(string(r))
		if err != nil || got != r {
			t.Errorf("Parse(%q) = %q, %v", r, got, err)
		}
	}
	if _, err := Parse("judge"); err == nil {
		t.Error("Parse(judge) should fail")
	}
}

func TestRole_Participant(t *testing.T) {
	if p, ok := PlannerSecondary.Participant(); !ok || p != domain.PlannerSecondary {
		t.Errorf("Participant() = %q, %v", p, ok)
	}
	if _, ok := Reviewer.Participant(); ok {
		t.Error("reviewer is not a round participant")
	}
	if got := ForParticipant(domain.PlannerPrimary); got != PlannerPrimary {
		t.Errorf("ForParticipant() = %q, want %q", got, PlannerPrimary)
	}
}

func TestResolveWithSource_Defaults(t *testing.T) {
	r := NewResolver(newMemGuardrails())
	cfg, src, err := r.ResolveWithSource(context.Background(), PlannerPrimary)
	if err != nil {
		t.Fatalf("ResolveWithSource() error = %v", err)
	}
	if src != SourceDefault {
		t.Errorf("source = %q, want %q", src, SourceDefault)
	}
	if cfg.AgentKey != "debate_gemini" || cfg.PromptTemplate != "planner.md" || cfg.JobType != JobAnalysis {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Model != DefaultModels["debate_gemini"] {
		t.Errorf("Model = %q, want agent default %q", cfg.Model, DefaultModels["debate_gemini"])
	}

	impl, _ := r.Resolve(context.Background(), Implementer)
	if impl.JobType != JobImplement || impl.AgentKey != "debate_codex" {
		t.Errorf("implementer = %+v", impl)
	}
}

func TestResolveWithSource_Layers(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(newMemGuardrails())

	if err := r.SetOverride(ctx, PlannerSecondary, Override{AgentKey: "oracle"}); err != nil {
		t.Fatalf("SetOverride() error = %v", err)
	}
	if err := r.SetOverride(ctx, PlannerSecondary, Override{PromptTemplate: "custom.md"}); err != nil {
		t.Fatalf("SetOverride() error = %v", err)
	}

	cfg, src, err := r.ResolveWithSource(ctx, PlannerSecondary)
	if err != nil {
		t.Fatalf("ResolveWithSource() error = %v", err)
	}
	if src != SourceDB {
		t.Errorf("source = %q, want %q", src, SourceDB)
	}
	if cfg.AgentKey != "oracle" || cfg.PromptTemplate != "custom.md" {
		t.Errorf("overrides not merged: %+v", cfg)
	}
	if cfg.Model != DefaultModels["oracle"] {
		t.Errorf("Model = %q, want %q", cfg.Model, DefaultModels["oracle"])
	}

	t.Setenv("ROLE_PLANNER_SECONDARY_MODEL", "local/llama")
	cfg, src, _ = r.ResolveWithSource(ctx, PlannerSecondary)
	if src != SourceEnv {
		t.Errorf("source = %q, want %q", src, SourceEnv)
	}
	if cfg.Model != "local/llama" || cfg.AgentKey != "oracle" {
		t.Errorf("env layer = %+v", cfg)
	}
}

func TestDeleteOverride(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(newMemGuardrails())
	_ = r.SetOverride(ctx, Reviewer, Override{AgentKey: "debate_gemini"})

	ok, err := r.DeleteOverride(ctx, Reviewer)
	if err != nil || !ok {
		t.Fatalf("DeleteOverride() = %v, %v; want true, nil", ok, err)
	}
	ok, _ = r.DeleteOverride(ctx, Reviewer)
	if ok {
		t.Error("second DeleteOverride() = true, want false")
	}
	_, src, _ := r.ResolveWithSource(ctx, Reviewer)
	if src != SourceDefault {
		t.Errorf("source = %q, want %q", src, SourceDefault)
	}
}

func TestResolveModel(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(newMemGuardrails())

	model, src, _ := r.ResolveModel(ctx, "no-such-agent")
	if model != DefaultModels["orchestrator"] || src != SourceDefault {
		t.Errorf("unknown agent = %q (%s), want orchestrator default", model, src)
	}

	if err := r.SetModel(ctx, "debate_codex", "openai/o3"); err != nil {
		t.Fatalf("SetModel() error = %v", err)
	}
	model, src, _ = r.ResolveModel(ctx, "debate_codex")
	if model != "openai/o3" || src != SourceDB {
		t.Errorf("db model = %q (%s)", model, src)
	}

	t.Setenv("DEBATE_CODEX_MODEL", "env/model")
	model, src, _ = r.ResolveModel(ctx, "debate_codex")
	if model != "env/model" || src != SourceEnv {
		t.Errorf("env model = %q (%s)", model, src)
	}

	ok, _ := r.DeleteModel(ctx, "debate_codex")
	if !ok {
		t.Error("DeleteModel() = false, want true")
	}
}

func TestModelEnvKey(t *testing.T) {
	tests := map[string]string{
		"debate_gemini":           "DEBATE_GEMINI_MODEL",
		"frontend-ui-ux-engineer": "FRONTEND_UI_UX_ENGINEER_MODEL",
	}
	for in, want := range tests {
		if got := ModelEnvKey(in); got != want {
			t.Errorf("ModelEnvKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestListModels_IncludesDBOnlyAgents(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(newMemGuardrails())
	_ = r.SetModel(ctx, "zeta", "acme/z1")

	entries, err := r.ListModels(ctx)
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(entries) != len(DefaultModels)+1 {
		t.Fatalf("len = %d, want %d", len(entries), len(DefaultModels)+1)
	}
	last := entries[len(entries)-1]
	if last.Agent != "zeta" || last.Source != SourceDB {
		t.Errorf("last entry = %+v", last)
	}
	if !slices.IsSortedFunc(entries, func(a, b ModelEntry) int {
		if a.Agent < b.Agent {
			return -1
		}
		if a.Agent > b.Agent {
			return 1
		}
		return 0
	}) {
		t.Error("entries not sorted by agent")
	}
}

func TestCheckCompatibility(t *testing.T) {
	if got := CheckCompatibility(PlannerPrimary, "debate_gemini"); len(got) != 0 {
		t.Errorf("gemini planner warnings = %v", got)
	}
	if got := CheckCompatibility(Reviewer, "debate_codex"); len(got) != 1 {
		t.Errorf("codex reviewer warnings = %v, want one", got)
	}
	if got := CheckCompatibility(Reviewer, "custom_agent"); len(got) != 0 {
		t.Errorf("unknown agent warnings = %v, want none", got)
	}
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(newMemGuardrails())
	templates := templateNames{"planner.md", "implementer.md", "reviewer.md", "explorer.md"}

	if got := r.Validate(ctx, PlannerPrimary, templates); len(got) != 0 {
		t.Errorf("Validate(default) = %v, want none", got)
	}

	_ = r.SetOverride(ctx, Explorer, Override{AgentKey: "mystery", PromptTemplate: "gone.md"})
	got := r.Validate(ctx, Explorer, templates)
	if len(got) != 2 {
		t.Errorf("Validate(bad) = %v, want unknown agent and missing template", got)
	}
}
