package cost

import (
	"context"
	"math"
	"testing"

	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/event"
	"github.com/Iron-Ham/debate/internal/logging"
	"github.com/Iron-Ham/debate/internal/testutil"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestBuiltinPricing(t *testing.T) {
	tests := []struct {
		model string
		want  Pricing
	}{
		{"google/gemini-2.5-pro-preview", Pricing{1.25, 5.00}},
		{"Gemini-2.5-Flash", Pricing{0.075, 0.30}},
		{"anthropic/claude-opus-4-1", Pricing{15.00, 75.00}},
		{"openai/gpt-5.1-codex-max-medium", Pricing{2.50, 10.00}},
		{"google/gemini-3-pro-high", DefaultPricing},
	}
	for _, tt := range tests {
		if got := BuiltinPricing(tt.model); got != tt.want {
			t.Errorf("BuiltinPricing(%q) = %+v, want %+v", tt.model, got, tt.want)
		}
	}
}

func TestPricing_Cost(t *testing.T) {
	p := Pricing{InputPerMillion: 3, OutputPerMillion: 15}
	if got := p.Cost(1_000_000, 200_000); !approx(got, 6) {
		t.Errorf("Cost() = %v, want 6", got)
	}
	if got := p.Cost(0, 0); got != 0 {
		t.Errorf("Cost(0, 0) = %v, want 0", got)
	}
}

func TestLedger_PricingOverride(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := context.Background()
	l := NewLedger(st, nil)

	err := st.SetGuardrail(ctx, PricingGuardrailKey, map[string]any{
		"pricing": map[string]any{
			"gemini":     map[string]float64{"input_per_million": 1, "output_per_million": 2},
			"gemini-3-p": map[string]float64{"input_per_million": 7, "output_per_million": 8},
		},
	})
	if err != nil {
		t.Fatalf("SetGuardrail() error = %v", err)
	}

	got, err := l.PricingFor(ctx, "google/gemini-3-pro-high")
	if err != nil {
		t.Fatalf("PricingFor() error = %v", err)
	}
	if got != (Pricing{7, 8}) {
		t.Errorf("PricingFor() = %+v, want longest override match", got)
	}

	got, _ = l.PricingFor(ctx, "openai/gpt-4o")
	if got != (Pricing{2.5, 10}) {
		t.Errorf("PricingFor(gpt-4o) = %+v, want built-in", got)
	}
}

func TestLedger_Log(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := context.Background()
	task := testutil.NewTask(t, st, "cost-log")

	bus := event.NewBus(logging.NopLogger())
	var published []string
	bus.Subscribe("cost.logged", func(e event.Event) { published = append(published, e.EventType()) })

	l := NewLedger(st, bus)
	entry, err := l.Log(ctx, task.ID, "debate_claude", "claude-sonnet-4", 100_000, 10_000)
	if err != nil {
		t.Fatalf("Log() error = %v", err)
	}
	if !approx(entry.Cost, 0.45) {
		t.Errorf("Cost = %v, want 0.45", entry.Cost)
	}

	got, err := st.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.TotalTokens != 110_000 || !approx(got.TotalCost, 0.45) {
		t.Errorf("totals = %d tokens / %v, want 110000 / 0.45", got.TotalTokens, got.TotalCost)
	}
	if len(published) != 1 {
		t.Errorf("published %d events, want 1", len(published))
	}
}

func TestLedger_LogUnknownTask(t *testing.T) {
	st := testutil.NewStore(t)
	l := NewLedger(st, nil)
	if _, err := l.Log(context.Background(), "missing", "a", "m", 1, 1); err == nil {
		t.Error("Log() for a missing task should fail")
	}
}

func TestSummarize(t *testing.T) {
	entries := []*domain.CostEntry{
		{Agent: "debate_gemini", Model: "google/gemini-3-pro", InputTokens: 1000, OutputTokens: 200, Cost: 0.01},
		{Agent: "debate_claude", Model: "claude-sonnet", InputTokens: 2000, OutputTokens: 500, Cost: 0.05},
		{Agent: "debate_gemini", Model: "google/gemini-3-pro", InputTokens: 3000, OutputTokens: 100, Cost: 0.02},
	}

	s := Summarize(entries)
	if s.Total.Calls != 3 || s.Total.InputTokens != 6000 || s.Total.OutputTokens != 800 {
		t.Errorf("total = %+v", s.Total)
	}
	if !approx(s.Total.Cost, 0.08) {
		t.Errorf("total cost = %v, want 0.08", s.Total.Cost)
	}
	if len(s.ByAgent) != 2 {
		t.Fatalf("ByAgent has %d groups, want 2", len(s.ByAgent))
	}
	if s.ByAgent[0].Agent != "debate_claude" {
		t.Errorf("most expensive first, got %s", s.ByAgent[0].Agent)
	}
	gemini := s.ByAgent[1]
	if gemini.Calls != 2 || gemini.TotalTokens() != 4300 || !approx(gemini.Cost, 0.03) {
		t.Errorf("gemini usage = %+v", gemini)
	}

	if empty := Summarize(nil); empty.Total.Calls != 0 || len(empty.ByAgent) != 0 {
		t.Errorf("empty summary = %+v", empty)
	}
}
