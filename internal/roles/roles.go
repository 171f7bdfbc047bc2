// Package roles resolves which agent, model and prompt template play each
// debate role. Values are layered: environment variables win over
// overrides persisted in the store, which win over built-in defaults.
package roles

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/errors"
)

// Role names a seat an agent can fill.
type Role string

const (
	PlannerPrimary   Role = "planner_primary"
	PlannerSecondary Role = "planner_secondary"
	Implementer      Role = "implementer"
	Reviewer         Role = "reviewer"
	Explorer         Role = "explorer"
)

// All returns every role in display order.
func All() []Role {
	return []Role{PlannerPrimary, PlannerSecondary, Implementer, Reviewer, Explorer}
}

// Parse validates a role name.
func Parse(s string) (Role, error) {
	r := Role(strings.TrimSpace(s))
	if slices.Contains(All(), r) {
		return r, nil
	}
	return "", errors.NewValidationError(fmt.Sprintf("unknown role %q", s)).WithField("role")
}

// ForParticipant maps a round participant to the role that fills it.
func ForParticipant(p domain.Participant) Role {
	return Role(p)
}

// Participant returns the round seat for a planner role.
func (r Role) Participant() (domain.Participant, bool) {
	p, err := domain.ParseParticipant(string(r))
	return p, err == nil
}

// Job types a role is queued under.
const (
	JobAnalysis  = "analysis"
	JobImplement = "implement"
)

// Source records where a resolved value came from.
type Source string

const (
	SourceEnv     Source = "env"
	SourceDB      Source = "db"
	SourceDefault Source = "default"
)

// RoleGuardrailKey is the guardrail row holding persisted role overrides.
const RoleGuardrailKey = "role_config"

// Config is a fully resolved role.
type Config struct {
	AgentKey        string   `json:"agent_key" yaml:"agent_key"`
	Model           string   `json:"model,omitempty" yaml:"model,omitempty"`
	PromptTemplate  string   `json:"prompt_template" yaml:"prompt_template"`
	Description     string   `json:"description,omitempty" yaml:"description,omitempty"`
	Capabilities    []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	TimeoutOverride int      `json:"timeout_override,omitempty" yaml:"timeout_override,omitempty"`
	JobType         string   `json:"job_type" yaml:"job_type"`
}

// Override is a partial Config persisted in the store. Zero fields are unset.
type Override struct {
	AgentKey        string   `json:"agent_key,omitempty"`
	Model           string   `json:"model,omitempty"`
	PromptTemplate  string   `json:"prompt_template,omitempty"`
	Description     string   `json:"description,omitempty"`
	Capabilities    []string `json:"capabilities,omitempty"`
	TimeoutOverride int      `json:"timeout_override,omitempty"`
	JobType         string   `json:"job_type,omitempty"`
}

func (o Override) applyTo(c *Config) {
	if o.AgentKey != "" {
		c.AgentKey = o.AgentKey
	}
	if o.Model != "" {
		c.Model = o.Model
	}
	if o.PromptTemplate != "" {
		c.PromptTemplate = o.PromptTemplate
	}
	if o.Description != "" {
		c.Description = o.Description
	}
	if o.Capabilities != nil {
		c.Capabilities = slices.Clone(o.Capabilities)
	}
	if o.TimeoutOverride != 0 {
		c.TimeoutOverride = o.TimeoutOverride
	}
	if o.JobType != "" {
		c.JobType = o.JobType
	}
}

// merge layers o over base, keeping base fields o leaves unset.
func (o Override) merge(base Override) Override {
	c := Config(base)
	o.applyTo(&c)
	return Override(c)
}

// Defaults is the built-in role table.
var Defaults = map[Role]Config{
	PlannerPrimary: {
		AgentKey:       "debate_gemini",
		PromptTemplate: "planner.md",
		Description:    "Primary planning agent with large context for comprehensive analysis",
		Capabilities:   []string{"large_context", "pattern_recognition", "data_flow_analysis"},
		JobType:        JobAnalysis,
	},
	PlannerSecondary: {
		AgentKey:       "debate_claude",
		PromptTemplate: "planner.md",
		Description:    "Secondary planning agent focused on security and edge cases",
		Capabilities:   []string{"security_analysis", "architectural_reasoning", "compliance_review"},
		JobType:        JobAnalysis,
	},
	Implementer: {
		AgentKey:       "debate_codex",
		PromptTemplate: "implementer.md",
		Description:    "Code implementation agent that executes approved plans",
		Capabilities:   []string{"code_generation"},
		JobType:        JobImplement,
	},
	Reviewer: {
		AgentKey:       "debate_claude",
		PromptTemplate: "reviewer.md",
		Description:    "Code review and validation agent with security focus",
		Capabilities:   []string{"security_analysis", "code_quality", "compliance_review"},
		JobType:        JobAnalysis,
	},
	Explorer: {
		AgentKey:       "debate_gemini",
		PromptTemplate: "explorer.md",
		Description:    "Codebase exploration agent with large context window",
		Capabilities:   []string{"large_context", "pattern_recognition"},
		JobType:        JobAnalysis,
	},
}

// EnvKeys returns the environment variables that override a role's agent,
// model and prompt template.
func EnvKeys(r Role) (agent, model, prompt string) {
	prefix := "ROLE_" + strings.ToUpper(string(r))
	return prefix + "_AGENT", prefix + "_MODEL", prefix + "_PROMPT"
}

func envOverride(r Role) (Override, bool) {
	agentKey, modelKey, promptKey := EnvKeys(r)
	o := Override{
		AgentKey:       os.Getenv(agentKey),
		Model:          os.Getenv(modelKey),
		PromptTemplate: os.Getenv(promptKey),
	}
	return o, o.AgentKey != "" || o.Model != "" || o.PromptTemplate != ""
}

// GuardrailStore persists JSON settings by key.
type GuardrailStore interface {
	Guardrail(ctx context.Context, key string, v any) (bool, error)
	SetGuardrail(ctx context.Context, key string, v any) error
}

// Resolver resolves roles and models against a GuardrailStore. A nil store
// resolves from the environment and defaults only.
type Resolver struct {
	store GuardrailStore
}

// NewResolver creates a Resolver.
func NewResolver(store GuardrailStore) *Resolver {
	return &Resolver{store: store}
}

func (r *Resolver) dbRoles(ctx context.Context) (map[Role]Override, error) {
	out := make(map[Role]Override)
	if r.store == nil {
		return out, nil
	}
	var raw map[string]json.RawMessage
	if _, err := r.store.Guardrail(ctx, RoleGuardrailKey, &raw); err != nil {
		return nil, fmt.Errorf("load role overrides: %w", err)
	}
	for k, v := range raw {
		var o Override
		if err := json.Unmarshal(v, &o); err != nil {
			continue
		}
		out[Role(k)] = o
	}
	return out, nil
}

// Resolve returns the effective configuration of role. When no layer sets
// a model, the model resolved for the role's agent is used.
func (r *Resolver) Resolve(ctx context.Context, role Role) (Config, error) {
	cfg, _, err := r.ResolveWithSource(ctx, role)
	return cfg, err
}

// ResolveWithSource is Resolve plus the highest layer that contributed:
// env if any role variable is set, db if a persisted override exists,
// otherwise default.
func (r *Resolver) ResolveWithSource(ctx context.Context, role Role) (Config, Source, error) {
	base, ok := Defaults[role]
	if !ok {
		base = Defaults[PlannerPrimary]
	}
	cfg := base
	cfg.Capabilities = slices.Clone(base.Capabilities)
	src := SourceDefault

	db, err := r.dbRoles(ctx)
	if err != nil {
		return Config{}, "", err
	}
	if o, ok := db[role]; ok {
		o.applyTo(&cfg)
		src = SourceDB
	}
	if o, ok := envOverride(role); ok {
		o.applyTo(&cfg)
		src = SourceEnv
	}

	if cfg.Model == "" {
		model, _, err := r.ResolveModel(ctx, cfg.AgentKey)
		if err != nil {
			return Config{}, "", err
		}
		cfg.Model = model
	}
	return cfg, src, nil
}

// RoleEntry is one row of List.
type RoleEntry struct {
	Role   Role   `json:"role" yaml:"role"`
	Config Config `json:"config" yaml:"config"`
	Source Source `json:"source" yaml:"source"`
}

// List resolves every known role.
func (r *Resolver) List(ctx context.Context) ([]RoleEntry, error) {
	entries := make([]RoleEntry, 0, len(All()))
	for _, role := range All() {
		cfg, src, err := r.ResolveWithSource(ctx, role)
		if err != nil {
			return nil, err
		}
		entries = append(entries, RoleEntry{Role: role, Config: cfg, Source: src})
	}
	return entries, nil
}

// SetOverride merges o into the persisted override for role.
func (r *Resolver) SetOverride(ctx context.Context, role Role, o Override) error {
	if r.store == nil {
		return fmt.Errorf("role overrides need a store")
	}
	db, err := r.dbRoles(ctx)
	if err != nil {
		return err
	}
	db[role] = o.merge(db[role])
	return r.store.SetGuardrail(ctx, RoleGuardrailKey, db)
}

// DeleteOverride removes the persisted override for role. It reports
// whether one existed.
func (r *Resolver) DeleteOverride(ctx context.Context, role Role) (bool, error) {
	if r.store == nil {
		return false, nil
	}
	db, err := r.dbRoles(ctx)
	if err != nil {
		return false, err
	}
	if _, ok := db[role]; !ok {
		return false, nil
	}
	delete(db, role)
	return true, r.store.SetGuardrail(ctx, RoleGuardrailKey, db)
}

var agentCapabilities = map[string][]string{
	"debate_gemini": {"analysis", "exploration"},
	"debate_claude": {"analysis", "review", "security"},
	"debate_codex":  {"implementation", "code_generation"},
}

var roleRequirements = map[Role][]string{
	PlannerPrimary:   {"analysis"},
	PlannerSecondary: {"analysis"},
	Explorer:         {"exploration"},
	Implementer:      {"implementation"},
	Reviewer:         {"review"},
}

// CheckCompatibility returns warnings when agentKey lacks a capability the
// role normally needs. Agents without a known capability set pass.
func CheckCompatibility(role Role, agentKey string) []string {
	available, ok := agentCapabilities[agentKey]
	required := roleRequirements[role]
	if !ok || len(required) == 0 {
		return nil
	}
	for _, need := range required {
		if !slices.Contains(available, need) {
			return []string{fmt.Sprintf("role %q typically requires %v, but %q only has %v",
				role, required, agentKey, available)}
		}
	}
	return nil
}

// TemplateSet reports whether a prompt template exists.
type TemplateSet interface {
	Has(name string) bool
}

// Validate resolves role and returns every problem found with the result.
func (r *Resolver) Validate(ctx context.Context, role Role, templates TemplateSet) []string {
	cfg, err := r.Resolve(ctx, role)
	if err != nil {
		return []string{fmt.Sprintf("failed to resolve role config: %v", err)}
	}
	if cfg.AgentKey == "" {
		return []string{"missing required field: agent_key"}
	}

	var problems []string
	known, err := r.IsKnownAgent(ctx, cfg.AgentKey)
	if err != nil {
		problems = append(problems, fmt.Sprintf("failed to load models: %v", err))
	} else if !known {
		problems = append(problems, fmt.Sprintf("unknown agent_key: %s", cfg.AgentKey))
	}

	if cfg.PromptTemplate == "" {
		return append(problems, "missing required field: prompt_template")
	}
	if templates != nil && !templates.Has(cfg.PromptTemplate) {
		problems = append(problems, fmt.Sprintf("prompt template not found: %s", cfg.PromptTemplate))
	}
	return append(problems, CheckCompatibility(role, cfg.AgentKey)...)
}
