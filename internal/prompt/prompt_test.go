package prompt

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/store"
	"github.com/Iron-Ham/debate/internal/testutil"
)

func TestRender_EmptySections(t *testing.T) {
	task := &domain.Task{Slug: "add-cache", Title: "Add cache", Status: domain.TaskStatusAnalysis}
	got := Render(&Context{Task: task}, 1, "analysis")

	if n := strings.Count(got, "(none)"); n != 6 {
		t.Errorf("Render() has %d empty sections, want 6", n)
	}
	if !strings.Contains(got, "Complexity: standard") {
		t.Error("missing complexity should render as standard")
	}
	if !strings.HasSuffix(got, "NOW EXECUTE YOUR ANALYSIS FOR: add-cache (Round 1, Phase: analysis)\n") {
		t.Errorf("Render() footer wrong:\n%s", got)
	}
}

func TestBuild_Separator(t *testing.T) {
	task := &domain.Task{Slug: "s", Title: "t"}
	got := Build("INSTRUCTIONS", &Context{Task: task}, 2, "analysis")
	if !strings.HasPrefix(got, "INSTRUCTIONS\n\n---\n\n") {
		t.Errorf("Build() prefix = %q", got[:min(len(got), 30)])
	}
}

func TestRender_Sections(t *testing.T) {
	long := strings.Repeat("x", 250)
	c := &Context{
		Task: &domain.Task{Slug: "s", Title: "t", Complexity: domain.ComplexityComplex},
		Conversations: []*domain.Conversation{
			{Role: domain.ConversationHuman, Content: "short"},
			{Role: domain.ConversationOrchestrator, Content: long},
		},
		AnsweredQuestions: []*domain.Question{{Question: "Which DB?", Answer: "sqlite"}},
		Decisions:         []*domain.Decision{{Topic: "storage", Decision: "sqlite", Source: "human"}},
		Conflicts: []Conflict{{
			Topic:     "retry policy",
			Positions: map[string]string{"b": "no", "a": "yes"},
			Impact:    "high",
		}},
		PreviousAnalyses: []*domain.Analysis{{Agent: "planner_primary"}},
	}
	got := Render(c, 2, "analysis")

	for _, want := range []string{
		"  [human]: short",
		"  [orchestrator]: " + strings.Repeat("x", 200) + "...",
		"  Q: Which DB?\n  A: sqlite",
		"  storage: sqlite (source: human)",
		"  - a: yes\n  - b: no",
		"  [planner_primary]: (no summary)",
		"Complexity: complex",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Render() missing %q", want)
		}
	}
	if strings.Contains(got, strings.Repeat("x", 201)) {
		t.Error("long conversation was not truncated")
	}
}

func TestTruncate_Runes(t *testing.T) {
	if got := truncate("héllo", 3); got != "hél..." {
		t.Errorf("truncate() = %q, want %q", got, "hél...")
	}
	if got := truncate("abc", 3); got != "abc" {
		t.Errorf("truncate() = %q, want %q", got, "abc")
	}
}

func TestLoad(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := context.Background()
	task := testutil.NewTask(t, st, "load-ctx")

	_ = st.AddConversation(ctx, &domain.Conversation{TaskID: task.ID, Role: domain.ConversationHuman, Content: "please add caching"})
	_ = st.AddDecision(ctx, &domain.Decision{TaskID: task.ID, Topic: "ttl", Decision: "5m", Source: "human"})

	rec := store.ResultRecord{
		TaskID:      task.ID,
		RoundNumber: 1,
		Analysis: &domain.Analysis{
			Agent:   string(domain.PlannerPrimary),
			Status:  domain.AnalysisCompleted,
			Summary: "use redis",
		},
		Findings: []domain.Finding{{Category: "perf", Finding: "hot path", Severity: "high"}},
	}
	if _, err := st.RecordResult(ctx, rec); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}
	if err := st.AddCrossReference(ctx, rec.Findings[0].ID, string(domain.PlannerSecondary), false, "not hot"); err != nil {
		t.Fatalf("AddCrossReference() error = %v", err)
	}

	first, err := Load(ctx, st, task, 1, LoadOptions{})
	if err != nil {
		t.Fatalf("Load(round 1) error = %v", err)
	}
	if len(first.PreviousAnalyses) != 0 || len(first.Conflicts) != 0 {
		t.Errorf("round 1 should carry no history, got %d analyses / %d conflicts",
			len(first.PreviousAnalyses), len(first.Conflicts))
	}
	if len(first.Conversations) != 1 || len(first.Decisions) != 1 {
		t.Errorf("conversations = %d, decisions = %d, want 1 and 1", len(first.Conversations), len(first.Decisions))
	}

	second, err := Load(ctx, st, task, 2, LoadOptions{})
	if err != nil {
		t.Fatalf("Load(round 2) error = %v", err)
	}
	if len(second.PreviousAnalyses) != 1 || second.PreviousAnalyses[0].Summary != "use redis" {
		t.Errorf("PreviousAnalyses = %+v", second.PreviousAnalyses)
	}
	if len(second.Conflicts) != 1 {
		t.Fatalf("Conflicts = %d, want 1", len(second.Conflicts))
	}
	if got := second.Conflicts[0].Positions[string(domain.PlannerSecondary)]; got != "not hot" {
		t.Errorf("dispute position = %q, want %q", got, "not hot")
	}
}

func TestLibrary_EmbeddedAndOverride(t *testing.T) {
	dir := t.TempDir()
	lib := NewLibrary(dir, nil)

	text, err := lib.Get("planner.md")
	if err != nil {
		t.Fatalf("Get(planner.md) error = %v", err)
	}
	if !strings.Contains(text, "json:structured_output") {
		t.Error("embedded planner template should describe structured output")
	}

	if err := os.WriteFile(filepath.Join(dir, "planner.md"), []byte("custom planner"), 0o644); err != nil {
		t.Fatal(err)
	}
	if text, _ := lib.Get("planner.md"); text != "custom planner" {
		t.Errorf("Get() = %q, want override", text)
	}

	if lib.Has("missing.md") {
		t.Error("Has(missing.md) = true")
	}
	if _, err := lib.Get("../planner.md"); err == nil {
		t.Error("Get() should reject paths")
	}
	for _, name := range []string{"planner.md", "explorer.md", "implementer.md", "reviewer.md"} {
		if !lib.Has(name) {
			t.Errorf("Has(%s) = false", name)
		}
	}
}

func TestLibrary_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reviewer.md")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	lib := NewLibrary(dir, nil)
	reloaded := make(chan string, 4)
	lib.SetReloadCallback(func(name string) {
		select {
		case reloaded <- name:
		default:
		}
	})
	if err := lib.Watch(); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer lib.Stop()

	if got, _ := lib.Get("reviewer.md"); got != "v1" {
		t.Fatalf("Get() = %q, want v1", got)
	}
	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case name := <-reloaded:
		if name != "reviewer.md" {
			t.Errorf("reloaded %q, want reviewer.md", name)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("template change was not observed")
	}
	if got, _ := lib.Get("reviewer.md"); got != "v2" {
		t.Errorf("Get() after change = %q, want v2", got)
	}
}
