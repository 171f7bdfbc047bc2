// Package ratelimit throttles agent invocations with an in-process fixed
// window counter per API family. It is best effort and not shared between
// processes.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/debate/internal/errors"
)

// Limit is the number of calls allowed per window.
type Limit struct {
	Calls  int
	Window time.Duration
}

// DefaultLimits are the per-family budgets.
var DefaultLimits = map[string]Limit{
	"gemini": {Calls: 60, Window: time.Minute},
	"claude": {Calls: 40, Window: time.Minute},
	"codex":  {Calls: 60, Window: time.Minute},
}

// FallbackLimit applies to agents outside every known family.
var FallbackLimit = Limit{Calls: 10, Window: time.Minute}

// Family maps an agent key such as "debate_gemini" to its API family. Keys
// that match no family are returned unchanged.
func Family(agent string) string {
	lower := strings.ToLower(agent)
	for name := range DefaultLimits {
		if strings.Contains(lower, name) {
			return name
		}
	}
	return lower
}

type bucketKey struct {
	family string
	start  int64
}

// Limiter counts calls in fixed windows.
type Limiter struct {
	mu     sync.Mutex
	counts map[bucketKey]int
	limits map[string]Limit

	now      func() time.Time
	interval time.Duration
	enabled  bool
}

// New creates a Limiter with DefaultLimits. A disabled Limiter admits
// every call.
func New(enabled bool) *Limiter {
	return &Limiter{
		counts:   make(map[bucketKey]int),
		limits:   DefaultLimits,
		now:      time.Now,
		interval: time.Second,
		enabled:  enabled,
	}
}

func (l *Limiter) limitFor(family string) Limit {
	if lim, ok := l.limits[family]; ok {
		return lim
	}
	return FallbackLimit
}

// TryAcquire takes one call from agent's current window. It returns false
// when the window is spent.
func (l *Limiter) TryAcquire(agent string) bool {
	if !l.enabled {
		return true
	}
	family := Family(agent)
	lim := l.limitFor(family)
	window := int64(lim.Window / time.Second)
	if window <= 0 {
		window = 1
	}
	start := l.now().Unix() / window * window
	key := bucketKey{family: family, start: start}

	l.mu.Lock()
	defer l.mu.Unlock()
	for k := range l.counts {
		if k.family == family && k.start < start {
			delete(l.counts, k)
		}
	}
	if l.counts[key] >= lim.Calls {
		return false
	}
	l.counts[key]++
	return true
}

// Wait blocks until agent may make a call, polling once per interval, for
// at most maxWait. It returns a TimeoutError when no slot frees up in time
// and the context error if ctx ends first.
func (l *Limiter) Wait(ctx context.Context, agent string, maxWait time.Duration) error {
	deadline := l.now().Add(maxWait)
	for {
		if l.TryAcquire(agent) {
			return nil
		}
		if !l.now().Before(deadline) {
			return errors.NewTimeoutError("Rate limit timeout for "+Family(agent), maxWait).
				WithCause(errors.ErrRateLimited)
		}

		timer := time.NewTimer(l.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
