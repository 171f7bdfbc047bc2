package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/debate/internal/errors"
	"github.com/Iron-Ham/debate/internal/logging"
)

const (
	// DefaultOpenCodeURL is where a local OpenCode server listens by default.
	DefaultOpenCodeURL = "http://localhost:4096"

	// agentKeyPrefix marks debate-specific agent configs; OpenCode knows the
	// agents by their bare name.
	agentKeyPrefix = "debate_"

	emptyResponseMessage = "Empty response from OpenCode"
)

// OpenCodeClient runs agents through the HTTP API of an OpenCode server.
type OpenCodeClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger

	mu        sync.Mutex
	directory string
	guessed   bool
}

// OpenCodeOption configures an OpenCodeClient.
type OpenCodeOption func(*OpenCodeClient)

// WithDirectory pins the project directory sent with every session call.
func WithDirectory(dir string) OpenCodeOption {
	return func(c *OpenCodeClient) {
		c.directory = dir
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) OpenCodeOption {
	return func(c *OpenCodeClient) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) OpenCodeOption {
	return func(c *OpenCodeClient) {
		c.logger = logger
	}
}

// NewOpenCodeClient creates a client for the server at baseURL.
func NewOpenCodeClient(baseURL string, opts ...OpenCodeOption) *OpenCodeClient {
	if baseURL == "" {
		baseURL = DefaultOpenCodeURL
	}
	c := &OpenCodeClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session is the subset of an OpenCode session the orchestrator reads.
type Session struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Directory string `json:"directory"`
	Time      struct {
		Created float64 `json:"created"`
		Updated float64 `json:"updated"`
	} `json:"time"`
}

// Message is one entry of a session's history.
type Message struct {
	Info  map[string]any   `json:"info"`
	Parts []map[string]any `json:"parts"`
}

// Role returns the message author, e.g. "assistant".
func (m Message) Role() string {
	s, _ := m.Info["role"].(string)
	return s
}

// Text concatenates the message's text parts.
func (m Message) Text() string {
	return extractText(m.Parts)
}

// PromptResult is the server's answer to one prompt.
type PromptResult struct {
	SessionID string
	MessageID string
	Text      string
	Usage     Usage
}

func extractText(parts []map[string]any) string {
	var b strings.Builder
	for _, p := range parts {
		if p["type"] != "text" {
			continue
		}
		if s, ok := p["text"].(string); ok {
			b.WriteString(s)
		}
	}
	return strings.TrimSpace(b.String())
}

func (c *OpenCodeClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("OpenCode request failed (%s %s): %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("OpenCode API error %d (%s %s): %s", resp.StatusCode, method, path, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid JSON response from OpenCode: %s", truncateBytes(data, 200))
	}
	return nil
}

func truncateBytes(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

func (c *OpenCodeClient) dirQuery() url.Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.directory == "" {
		return nil
	}
	return url.Values{"directory": {c.directory}}
}

// HealthCheck verifies the server answers.
func (c *OpenCodeClient) HealthCheck(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/session", nil, nil, nil)
}

// ListSessions returns every session the server knows. Both a bare list
// and a {"data": [...]} envelope are accepted.
func (c *OpenCodeClient) ListSessions(ctx context.Context) ([]Session, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/session", nil, nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[Session](raw), nil
}

func decodeList[T any](raw json.RawMessage) []T {
	var list []T
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var env struct {
		Data []T `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err == nil {
		return env.Data
	}
	return nil
}

// GuessActiveDirectory returns the directory of the most recently updated
// session, or "" when no session names one.
func (c *OpenCodeClient) GuessActiveDirectory(ctx context.Context) (string, error) {
	sessions, err := c.ListSessions(ctx)
	if err != nil {
		return "", err
	}
	var best string
	var bestAt float64
	for _, s := range sessions {
		if s.Directory == "" || s.Time.Updated == 0 {
			continue
		}
		if best == "" || s.Time.Updated > bestAt {
			best, bestAt = s.Directory, s.Time.Updated
		}
	}
	return best, nil
}

// Directory returns the project directory in use, guessing it from the
// server's sessions once when none was configured.
func (c *OpenCodeClient) Directory(ctx context.Context) string {
	c.mu.Lock()
	if c.directory != "" || c.guessed {
		dir := c.directory
		c.mu.Unlock()
		return dir
	}
	c.mu.Unlock()

	dir, err := c.GuessActiveDirectory(ctx)
	if err != nil {
		c.logger.Debug("could not guess OpenCode directory", "error", err.Error())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.guessed = true
	if c.directory == "" {
		c.directory = dir
	}
	return c.directory
}

// CreateSession opens a session and returns its id.
func (c *OpenCodeClient) CreateSession(ctx context.Context, title, parentID string) (string, error) {
	body := map[string]any{"title": title}
	if parentID != "" {
		body["parentID"] = parentID
	}
	var out map[string]any
	if err := c.do(ctx, http.MethodPost, "/session", c.dirQuery(), body, &out); err != nil {
		return "", err
	}
	id, _ := out["id"].(string)
	if id == "" {
		return "", fmt.Errorf("unexpected create session response: %v", out)
	}
	return id, nil
}

// Prompt sends text to a session as agent and returns the assistant's
// answer. The model is passed through when set.
func (c *OpenCodeClient) Prompt(ctx context.Context, sessionID, agent, model, text string) (*PromptResult, error) {
	body := map[string]any{
		"parts":   []map[string]any{{"type": "text", "text": text}},
		"agent":   agent,
		"noReply": false,
	}
	if model != "" {
		body["model"] = map[string]string{"id": model}
	}

	var out struct {
		Info  map[string]any   `json:"info"`
		Parts []map[string]any `json:"parts"`
		Usage map[string]any   `json:"usage"`
	}
	if err := c.do(ctx, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/message", c.dirQuery(), body, &out); err != nil {
		return nil, err
	}
	if out.Info == nil || out.Parts == nil {
		return nil, fmt.Errorf("unexpected prompt response for session %s", sessionID)
	}
	msgID, _ := out.Info["id"].(string)
	if msgID == "" {
		return nil, fmt.Errorf("missing message id in prompt response for session %s", sessionID)
	}

	usage := usageFrom(out.Usage)
	if m, ok := out.Info["model"].(string); ok && m != "" {
		usage.Model = m
	}
	res := &PromptResult{
		SessionID: sessionID,
		MessageID: msgID,
		Text:      extractText(out.Parts),
		Usage:     usage,
	}
	if res.Text == "" {
		c.logger.Warn("OpenCode returned empty output",
			"session_id", sessionID,
			"parts", len(out.Parts))
	}
	return res, nil
}

// Messages returns a session's history, oldest first.
func (c *OpenCodeClient) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/session/"+url.PathEscape(sessionID)+"/message", c.dirQuery(), nil, &raw); err != nil {
		return nil, err
	}
	return decodeList[Message](raw), nil
}

// LatestAssistantText returns the text of the newest assistant message.
func (c *OpenCodeClient) LatestAssistantText(ctx context.Context, sessionID string) (string, error) {
	msgs, err := c.Messages(ctx, sessionID)
	if err != nil {
		return "", err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role() == "assistant" {
			return msgs[i].Text(), nil
		}
	}
	return "", nil
}

// Run implements Runner. A new session is created unless req.SessionID
// resumes one. An empty answer is retried once from the session history
// before the call counts as failed.
func (c *OpenCodeClient) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	c.Directory(ctx)

	res := &Result{SessionID: req.SessionID}
	fail := func(err error) (*Result, error) {
		if ctx.Err() == context.DeadlineExceeded {
			err = errors.NewTimeoutError("agent "+req.Agent, req.Timeout).WithCause(err)
		}
		res.Error = err.Error()
		return res.finish(start), errors.NewAgentError("opencode call failed", err).WithAgent(req.Agent)
	}

	if res.SessionID == "" {
		id, err := c.CreateSession(ctx, req.Title, "")
		if err != nil {
			return fail(err)
		}
		res.SessionID = id
	}

	pr, err := c.Prompt(ctx, res.SessionID, strings.TrimPrefix(req.Agent, agentKeyPrefix), req.Model, req.Prompt)
	if err != nil {
		return fail(err)
	}
	res.MessageID = pr.MessageID
	res.Usage = pr.Usage
	res.RawOutput = pr.Text

	if res.RawOutput == "" {
		if text, err := c.LatestAssistantText(ctx, res.SessionID); err == nil {
			res.RawOutput = text
		}
	}
	if res.RawOutput == "" {
		res.Error = emptyResponseMessage
		return res.finish(start), errors.NewAgentError(emptyResponseMessage, errors.ErrEmptyResponse).WithAgent(req.Agent)
	}

	res.Success = true
	return res.finish(start), nil
}
