// Package cost prices token usage and records it against a task.
package cost

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/event"
)

// PricingGuardrailKey is the guardrail row holding pricing overrides, shaped
// as {"pricing": {"<model substring>": {"input_per_million": n, "output_per_million": n}}}.
const PricingGuardrailKey = "model_pricing"

// Pricing is a price in dollars per million tokens.
type Pricing struct {
	InputPerMillion  float64 `json:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million"`
}

// Cost prices a call.
func (p Pricing) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1_000_000*p.InputPerMillion +
		float64(outputTokens)/1_000_000*p.OutputPerMillion
}

type modelPrice struct {
	match string
	price Pricing
}

// builtinPricing is matched in order against the lower-cased model name.
var builtinPricing = []modelPrice{
	{"gemini-2.5-pro", Pricing{1.25, 5.00}},
	{"gemini-2.5-flash", Pricing{0.075, 0.30}},
	{"claude-sonnet-4", Pricing{3.00, 15.00}},
	{"claude-opus-4", Pricing{15.00, 75.00}},
	{"gpt-4o", Pricing{2.50, 10.00}},
	{"codex", Pricing{2.50, 10.00}},
}

// DefaultPricing applies to models that match nothing.
var DefaultPricing = Pricing{InputPerMillion: 5.00, OutputPerMillion: 15.00}

// BuiltinPricing returns the pricing for model from the built-in table.
func BuiltinPricing(model string) Pricing {
	lower := strings.ToLower(model)
	for _, mp := range builtinPricing {
		if strings.Contains(lower, mp.match) {
			return mp.price
		}
	}
	return DefaultPricing
}

// Store is what the Ledger persists through.
type Store interface {
	Guardrail(ctx context.Context, key string, v any) (bool, error)
	AddCost(ctx context.Context, c *domain.CostEntry) error
}

// Ledger prices usage and writes cost entries.
type Ledger struct {
	store Store
	bus   *event.Bus
}

// NewLedger creates a Ledger. bus may be nil.
func NewLedger(store Store, bus *event.Bus) *Ledger {
	return &Ledger{store: store, bus: bus}
}

type pricingOverrides struct {
	Pricing map[string]*Pricing `json:"pricing"`
}

// PricingFor returns the pricing of model, checking persisted overrides
// before the built-in table. Override keys are matched longest first.
func (l *Ledger) PricingFor(ctx context.Context, model string) (Pricing, error) {
	var o pricingOverrides
	if _, err := l.store.Guardrail(ctx, PricingGuardrailKey, &o); err != nil {
		return Pricing{}, fmt.Errorf("load pricing overrides: %w", err)
	}
	lower := strings.ToLower(model)
	keys := slices.SortedFunc(maps.Keys(o.Pricing), func(a, b string) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	for _, k := range keys {
		if p := o.Pricing[k]; p != nil && strings.Contains(lower, strings.ToLower(k)) {
			return *p, nil
		}
	}
	return BuiltinPricing(model), nil
}

// Log prices a call, records it and adds it to the task's totals.
func (l *Ledger) Log(ctx context.Context, taskID, agent, model string, inputTokens, outputTokens int) (*domain.CostEntry, error) {
	p, err := l.PricingFor(ctx, model)
	if err != nil {
		return nil, err
	}
	entry := &domain.CostEntry{
		TaskID:       taskID,
		Agent:        agent,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         p.Cost(inputTokens, outputTokens),
	}
	if err := l.store.AddCost(ctx, entry); err != nil {
		return nil, fmt.Errorf("log cost: %w", err)
	}
	if l.bus != nil {
		l.bus.Publish(event.NewCostLoggedEvent(taskID, agent, model, inputTokens, outputTokens, entry.Cost))
	}
	return entry, nil
}

// Usage totals the calls of one agent and model, or of a whole task.
type Usage struct {
	Agent        string  `json:"agent,omitempty"`
	Model        string  `json:"model,omitempty"`
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// TotalTokens returns input plus output tokens.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

func (u *Usage) add(e *domain.CostEntry) {
	u.Calls++
	u.InputTokens += e.InputTokens
	u.OutputTokens += e.OutputTokens
	u.Cost += e.Cost
}

// Summary is the usage of a set of cost entries.
type Summary struct {
	Total   Usage   `json:"total"`
	ByAgent []Usage `json:"by_agent"`
}

// Summarize totals entries per agent and model, most expensive first.
func Summarize(entries []*domain.CostEntry) Summary {
	type key struct{ agent, model string }
	groups := make(map[key]*Usage)
	var s Summary
	for _, e := range entries {
		s.Total.add(e)
		k := key{e.Agent, e.Model}
		u, ok := groups[k]
		if !ok {
			u = &Usage{Agent: e.Agent, Model: e.Model}
			groups[k] = u
		}
		u.add(e)
	}
	s.ByAgent = make([]Usage, 0, len(groups))
	for _, u := range groups {
		s.ByAgent = append(s.ByAgent, *u)
	}
	slices.SortFunc(s.ByAgent, func(a, b Usage) int {
		if c := cmp.Compare(b.Cost, a.Cost); c != 0 {
			return c
		}
		return cmp.Or(strings.Compare(a.Agent, b.Agent), strings.Compare(a.Model, b.Model))
	})
	return s
}
