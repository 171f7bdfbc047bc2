package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/debate/internal/errors"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(clock *fakeClock, limits map[string]Limit) *Limiter {
	l := New(true)
	l.now = clock.Now
	l.interval = time.Millisecond
	if limits != nil {
		l.limits = limits
	}
	return l
}

func TestFamily(t *testing.T) {
	tests := map[string]string{
		"debate_gemini": "gemini",
		"debate_claude": "claude",
		"Debate_Codex":  "codex",
		"oracle":        "oracle",
	}
	for in, want := range tests {
		if got := Family(in); got != want {
			t.Errorf("Family(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTryAcquire_FixedWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_040, 0)}
	l := newTestLimiter(clock, map[string]Limit{"gemini": {Calls: 2, Window: time.Minute}})

	if !l.TryAcquire("debate_gemini") || !l.TryAcquire("debate_gemini") {
		t.Fatal("first two calls should be admitted")
	}
	if l.TryAcquire("debate_gemini") {
		t.Error("third call in the window should be refused")
	}

	clock.Advance(time.Minute)
	if !l.TryAcquire("debate_gemini") {
		t.Error("call in the next window should be admitted")
	}
}

func TestTryAcquire_FallbackLimit(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := newTestLimiter(clock, nil)
	for i := 0; i < FallbackLimit.Calls; i++ {
		if !l.TryAcquire("oracle") {
			t.Fatalf("call %d refused", i+1)
		}
	}
	if l.TryAcquire("oracle") {
		t.Error("call past the fallback limit should be refused")
	}
	if !l.TryAcquire("debate_claude") {
		t.Error("other families have their own window")
	}
}

func TestTryAcquire_Disabled(t *testing.T) {
	l := New(false)
	l.limits = map[string]Limit{"gemini": {Calls: 0, Window: time.Minute}}
	if !l.TryAcquire("debate_gemini") {
		t.Error("disabled limiter should admit every call")
	}
}

func TestWait_Timeout(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := newTestLimiter(clock, map[string]Limit{"codex": {Calls: 1, Window: time.Hour}})
	l.TryAcquire("debate_codex")

	// Each poll advances the fake clock so the deadline passes quickly.
	l.now = func() time.Time {
		clock.Advance(time.Second)
		return clock.Now()
	}

	err := l.Wait(context.Background(), "debate_codex", 5*time.Second)
	if !errors.Is(err, errors.ErrTimeout) {
		t.Fatalf("Wait() error = %v, want timeout", err)
	}
}

func TestWait_AdmitsWhenWindowRolls(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := newTestLimiter(clock, map[string]Limit{"claude": {Calls: 1, Window: time.Minute}})
	l.TryAcquire("debate_claude")

	l.now = func() time.Time {
		clock.Advance(20 * time.Second)
		return clock.Now()
	}
	if err := l.Wait(context.Background(), "debate_claude", 5*time.Minute); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := newTestLimiter(clock, map[string]Limit{"claude": {Calls: 0, Window: time.Minute}})
	l.interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx, "debate_claude", time.Minute); err != context.Canceled {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}
