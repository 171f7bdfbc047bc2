package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/debate/internal/errors"
)

// fakeOpenCode is a minimal OpenCode server.
type fakeOpenCode struct {
	mu         sync.Mutex
	sessions   []map[string]any
	answer     string
	history    string
	prompts    []map[string]any
	dirs       []string
	created    int
	failPrompt bool
}

func (f *fakeOpenCode) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /session", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"data": f.sessions})
	})
	mux.HandleFunc("POST /session", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.created++
		f.dirs = append(f.dirs, r.URL.Query().Get("directory"))
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "ses_new"})
	})
	mux.HandleFunc("POST /session/{id}/message", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failPrompt {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		body["session"] = r.PathValue("id")
		f.prompts = append(f.prompts, body)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"info": map[string]any{"id": "msg_1", "model": "claude-sonnet-4"},
			"parts": []any{
				map[string]any{"type": "reasoning", "text": "thinking"},
				map[string]any{"type": "text", "text": f.answer},
			},
			"usage": map[string]any{"prompt_tokens": 120.0, "completion_tokens": 30.0},
		})
	})
	mux.HandleFunc("GET /session/{id}/message", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode([]any{
			map[string]any{"info": map[string]any{"role": "user"}, "parts": []any{map[string]any{"type": "text", "text": "q"}}},
			map[string]any{"info": map[string]any{"role": "assistant"}, "parts": []any{map[string]any{"type": "text", "text": f.history}}},
		})
	})
	return mux
}

func newFakeOpenCode(t *testing.T, f *fakeOpenCode, opts ...OpenCodeOption) *OpenCodeClient {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewOpenCodeClient(srv.URL, opts...)
}

func TestOpenCodeClient_RunNewSession(t *testing.T) {
	f := &fakeOpenCode{answer: "  done\n```json:structured_output\n{\"summary\": \"ok\"}\n```  "}
	c := newFakeOpenCode(t, f, WithDirectory("/repo"))

	res, err := c.Run(context.Background(), Request{
		Agent:  "debate_gemini",
		Model:  "gemini-2.5-pro",
		Prompt: "analyze",
		Title:  "debate:planner_primary:analysis:x",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Success || res.SessionID != "ses_new" || res.MessageID != "msg_1" {
		t.Errorf("Run() = %+v", res)
	}
	if !strings.HasPrefix(res.RawOutput, "done") {
		t.Errorf("RawOutput = %q, want only text parts, trimmed", res.RawOutput)
	}
	if res.Structured == nil || res.Structured.Summary != "ok" {
		t.Errorf("Structured = %+v, want summary ok", res.Structured)
	}
	if res.Usage.InputTokens != 120 || res.Usage.OutputTokens != 30 || res.Usage.Model != "claude-sonnet-4" {
		t.Errorf("Usage = %+v", res.Usage)
	}

	if len(f.prompts) != 1 {
		t.Fatalf("prompts = %d, want 1", len(f.prompts))
	}
	p := f.prompts[0]
	if p["agent"] != "gemini" {
		t.Errorf("agent = %v, want the prefix stripped", p["agent"])
	}
	if m, _ := p["model"].(map[string]any); m["id"] != "gemini-2.5-pro" {
		t.Errorf("model = %v", p["model"])
	}
	if len(f.dirs) != 1 || f.dirs[0] != "/repo" {
		t.Errorf("directory = %v, want /repo", f.dirs)
	}
}

func TestOpenCodeClient_RunResumesSession(t *testing.T) {
	f := &fakeOpenCode{answer: "again"}
	c := newFakeOpenCode(t, f, WithDirectory("/repo"))

	res, err := c.Run(context.Background(), Request{SessionID: "ses_old", Agent: "claude", Prompt: "p"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if f.created != 0 {
		t.Errorf("created %d sessions, want 0", f.created)
	}
	if res.SessionID != "ses_old" || f.prompts[0]["session"] != "ses_old" {
		t.Errorf("session = %q, want ses_old", res.SessionID)
	}
}

func TestOpenCodeClient_EmptyAnswerUsesHistory(t *testing.T) {
	f := &fakeOpenCode{answer: "", history: "from history"}
	c := newFakeOpenCode(t, f, WithDirectory("/repo"))

	res, err := c.Run(context.Background(), Request{Agent: "gemini", Prompt: "p"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.RawOutput != "from history" {
		t.Errorf("RawOutput = %q, want %q", res.RawOutput, "from history")
	}
}

func TestOpenCodeClient_EmptyResponse(t *testing.T) {
	f := &fakeOpenCode{}
	c := newFakeOpenCode(t, f, WithDirectory("/repo"))

	res, err := c.Run(context.Background(), Request{Agent: "gemini", Prompt: "p"})
	if !errors.Is(err, errors.ErrEmptyResponse) {
		t.Fatalf("Run() error = %v, want ErrEmptyResponse", err)
	}
	if res.Success || res.Error != "Empty response from OpenCode" {
		t.Errorf("Run() = %+v", res)
	}
	if res.SessionID != "ses_new" {
		t.Errorf("SessionID = %q, want the created session kept", res.SessionID)
	}
}

func TestOpenCodeClient_HTTPError(t *testing.T) {
	f := &fakeOpenCode{failPrompt: true}
	c := newFakeOpenCode(t, f, WithDirectory("/repo"))

	res, err := c.Run(context.Background(), Request{Agent: "gemini", Prompt: "p"})
	if err == nil {
		t.Fatal("Run() error = nil, want error")
	}
	if !errors.IsRetryable(err) {
		t.Error("upstream failures should be retryable")
	}
	if !strings.Contains(res.Error, "500") {
		t.Errorf("Error = %q, want the status code", res.Error)
	}
}

func TestOpenCodeClient_GuessActiveDirectory(t *testing.T) {
	f := &fakeOpenCode{
		answer: "x",
		sessions: []map[string]any{
			{"id": "a", "directory": "/old", "time": map[string]any{"updated": 100.0}},
			{"id": "b", "directory": "/new", "time": map[string]any{"updated": 300.0}},
			{"id": "c", "time": map[string]any{"updated": 900.0}},
		},
	}
	c := newFakeOpenCode(t, f)

	dir, err := c.GuessActiveDirectory(context.Background())
	if err != nil {
		t.Fatalf("GuessActiveDirectory() error = %v", err)
	}
	if dir != "/new" {
		t.Errorf("GuessActiveDirectory() = %q, want /new", dir)
	}

	if _, err := c.Run(context.Background(), Request{Agent: "gemini", Prompt: "p"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if f.dirs[0] != "/new" {
		t.Errorf("session created in %q, want the guessed directory", f.dirs[0])
	}
}
