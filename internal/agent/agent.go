// Package agent invokes coding agents and turns their answers into store
// records.
//
// A Runner performs one agent call. Two runners exist: OpenCodeClient talks
// to an OpenCode server over HTTP, and CLIRunner spawns an agent CLI in a
// pseudo-terminal under a Supervisor. The Executor sits on top of a Runner
// and runs a whole role for one round: prompt, rate limit, call, parse,
// record.
package agent

import (
	"context"
	"time"
)

// Request is one agent call.
type Request struct {
	// SessionID resumes an existing agent session when set.
	SessionID string
	Agent     string
	Model     string
	Prompt    string
	// Title names a newly created session.
	Title   string
	Timeout time.Duration
}

// Usage is the token accounting reported for a call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Model        string
}

// Result is the outcome of one agent call. A call that reached the agent
// but produced nothing usable has Success false and Error set.
type Result struct {
	Success    bool
	RawOutput  string
	Structured *Output
	SessionID  string
	MessageID  string
	Usage      Usage
	Duration   time.Duration
	Error      string
}

// Runner performs agent calls.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, req Request) (*Result, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

// finish fills the fields every runner derives the same way.
func (r *Result) finish(start time.Time) *Result {
	r.Duration = time.Since(start)
	if r.Success && r.RawOutput != "" && r.Structured == nil {
		if out, ok := ParseOutput(r.RawOutput); ok {
			r.Structured = out
		}
	}
	return r
}

// usageFrom reads token counts from a loosely shaped usage object. Both the
// input/output and the prompt/completion spellings are accepted.
func usageFrom(m map[string]any) Usage {
	var u Usage
	if m == nil {
		return u
	}
	u.InputTokens = firstInt(m, "input_tokens", "prompt_tokens", "input")
	u.OutputTokens = firstInt(m, "output_tokens", "completion_tokens", "output")
	if s, ok := m["model"].(string); ok {
		u.Model = s
	}
	return u
}

func firstInt(m map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return int(v)
		case int:
			return v
		}
	}
	return 0
}
