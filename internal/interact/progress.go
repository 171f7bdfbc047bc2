package interact

import (
	"fmt"
	"io"
	"sync"

	"github.com/Iron-Ham/debate/internal/event"
	"github.com/Iron-Ham/debate/internal/util"
)

// Progress prints one line per notable debate event.
type Progress struct {
	mu  sync.Mutex
	out io.Writer
}

// NewProgress creates a Progress writing to out.
func NewProgress(out io.Writer) *Progress {
	return &Progress{out: out}
}

// Attach subscribes p to every event on bus.
func (p *Progress) Attach(bus *event.Bus) string {
	return bus.SubscribeAll(p.Handle)
}

// Handle prints e when it is worth showing.
func (p *Progress) Handle(e event.Event) {
	line := p.line(e)
	if line == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, util.TruncateANSI(line, 120))
}

func (p *Progress) line(e event.Event) string {
	switch e := e.(type) {
	case event.TaskCreatedEvent:
		return titleStyle.Render("● ") + fmt.Sprintf("created %s", e.Slug)
	case event.TriageEvent:
		return mutedStyle.Render(fmt.Sprintf("  triage: %s (%s)", e.Complexity, e.RecommendedAction))
	case event.FastTrackShadowEvent:
		return mutedStyle.Render("  fast-track recommended (shadow mode, debating anyway)")
	case event.PhaseEvent:
		switch e.EventType() {
		case "phase.started":
			return titleStyle.Render("▸ ") + fmt.Sprintf("%s (round %d)", e.Phase, e.Round)
		case "phase.failed":
			return errorStyle.Render("✗ ") + fmt.Sprintf("%s failed: %s", e.Phase, e.Message)
		}
	case event.AgentEvent:
		switch e.EventType() {
		case "agent.started":
			return mutedStyle.Render(fmt.Sprintf("  %s running on %s", e.Role, e.AgentKey))
		case "agent.completed":
			return successStyle.Render("  ✓ ") + fmt.Sprintf("%s done in %s", e.Role, util.FormatDuration(e.Duration))
		case "agent.failed":
			return errorStyle.Render("  ✗ ") + fmt.Sprintf("%s failed: %s", e.Role, e.Error)
		}
	case event.ConsensusCalculatedEvent:
		s := fmt.Sprintf("  agreement %s", util.FormatPercent(e.AgreementRate))
		if e.ThresholdMet {
			return successStyle.Render(s + " (threshold met)")
		}
		return warningStyle.Render(s)
	case event.TaskStatusChangedEvent:
		if e.Reason != "" {
			return mutedStyle.Render(fmt.Sprintf("  status %s -> %s: %s", e.From, e.To, e.Reason))
		}
		return mutedStyle.Render(fmt.Sprintf("  status %s -> %s", e.From, e.To))
	case event.JobEvent:
		if e.EventType() == "job.dead_lettered" {
			return errorStyle.Render(fmt.Sprintf("  job for %s dead-lettered: %s", e.Agent, e.Error))
		}
	}
	return ""
}
