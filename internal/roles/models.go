package roles

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
)

// ModelGuardrailKey is the guardrail row holding persisted model overrides.
const ModelGuardrailKey = "model_config"

const orchestratorAgent = "orchestrator"

// DefaultModels maps agent names to the model they run with when nothing
// overrides them.
var DefaultModels = map[string]string{
	"orchestrator":            "amazon-bedrock/anthropic.claude-sonnet-4-5-20250929-v1:0",
	"librarian":               "opencode/big-pickle",
	"frontend-ui-ux-engineer": "google/gemini-3-pro-high",
	"document-writer":         "google/gemini-3-flash",
	"multimodal-looker":       "google/gemini-3-flash",
	"debate_gemini":           "google/gemini-3-pro-high",
	"debate_claude":           "amazon-bedrock/anthropic.claude-sonnet-4-5-20250929-v1:0",
	"debate_codex":            "openai/gpt-5.1-codex-max-medium",
	"oracle":                  "openai/gpt-5.2-high",
	"explore":                 "google/gemini-3-flash",
	"general":                 "google/gemini-3-pro-high",
}

// ModelEnvKey returns the environment variable that overrides an agent's
// model, e.g. "debate_gemini" -> "DEBATE_GEMINI_MODEL".
func ModelEnvKey(agent string) string {
	return strings.ToUpper(strings.ReplaceAll(agent, "-", "_")) + "_MODEL"
}

// ModelEntry is one row of ListModels.
type ModelEntry struct {
	Agent  string `json:"agent" yaml:"agent"`
	Model  string `json:"model" yaml:"model"`
	Source Source `json:"source" yaml:"source"`
}

func (r *Resolver) dbModels(ctx context.Context) (map[string]string, error) {
	var raw map[string]any
	if r.store == nil {
		return map[string]string{}, nil
	}
	if _, err := r.store.Guardrail(ctx, ModelGuardrailKey, &raw); err != nil {
		return nil, fmt.Errorf("load model overrides: %w", err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out, nil
}

// ResolveModel returns the model for agent and where the value came from:
// the environment, the database, or the default table. Unknown agents
// fall back to the orchestrator default.
func (r *Resolver) ResolveModel(ctx context.Context, agent string) (string, Source, error) {
	if v := os.Getenv(ModelEnvKey(agent)); v != "" {
		return v, SourceEnv, nil
	}
	db, err := r.dbModels(ctx)
	if err != nil {
		return "", "", err
	}
	if v, ok := db[agent]; ok {
		return v, SourceDB, nil
	}
	if v, ok := DefaultModels[agent]; ok {
		return v, SourceDefault, nil
	}
	return DefaultModels[orchestratorAgent], SourceDefault, nil
}

// ListModels resolves every default agent plus any agent only known to the
// database, sorted by name.
func (r *Resolver) ListModels(ctx context.Context) ([]ModelEntry, error) {
	db, err := r.dbModels(ctx)
	if err != nil {
		return nil, err
	}
	names := slices.Collect(maps.Keys(DefaultModels))
	for k := range db {
		if _, ok := DefaultModels[k]; !ok {
			names = append(names, k)
		}
	}
	slices.Sort(names)

	entries := make([]ModelEntry, 0, len(names))
	for _, name := range names {
		model, src, err := r.ResolveModel(ctx, name)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ModelEntry{Agent: name, Model: model, Source: src})
	}
	return entries, nil
}

// SetModel persists a model override for agent.
func (r *Resolver) SetModel(ctx context.Context, agent, model string) error {
	if agent == "" || model == "" {
		return fmt.Errorf("agent and model are required")
	}
	db, err := r.dbModels(ctx)
	if err != nil {
		return err
	}
	db[agent] = model
	return r.store.SetGuardrail(ctx, ModelGuardrailKey, db)
}

// DeleteModel removes a persisted model override. It reports whether one
// existed.
func (r *Resolver) DeleteModel(ctx context.Context, agent string) (bool, error) {
	db, err := r.dbModels(ctx)
	if err != nil {
		return false, err
	}
	if _, ok := db[agent]; !ok {
		return false, nil
	}
	delete(db, agent)
	return true, r.store.SetGuardrail(ctx, ModelGuardrailKey, db)
}

// IsKnownAgent reports whether agent has a default or persisted model.
func (r *Resolver) IsKnownAgent(ctx context.Context, agent string) (bool, error) {
	if _, ok := DefaultModels[agent]; ok {
		return true, nil
	}
	db, err := r.dbModels(ctx)
	if err != nil {
		return false, err
	}
	_, ok := db[agent]
	return ok, nil
}
