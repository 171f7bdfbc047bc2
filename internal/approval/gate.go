package approval

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/errors"
	"github.com/Iron-Ham/debate/internal/event"
)

// Decision is a human verdict on a consensus.
type Decision string

const (
	Approve Decision = "approve"
	Revise  Decision = "revise"
	Cancel  Decision = "cancel"
)

// CancelReason is stored on tasks a human cancelled.
const CancelReason = "User cancelled"

// ParseDecision validates s as a decision.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(s))); d {
	case Approve, Revise, Cancel:
		return d, nil
	}
	return "", errors.NewValidationError(fmt.Sprintf("unknown decision %q", s)).
		WithField("decision").
		WithCause(errors.ErrInvalidInput)
}

// Options returns the decisions on offer. Revise is only offered while
// rounds remain.
func Options(canRevise bool) []Decision {
	if canRevise {
		return []Decision{Approve, Revise, Cancel}
	}
	return []Decision{Approve, Cancel}
}

// Store is the persistence the gate needs.
type Store interface {
	LatestConsensus(ctx context.Context, taskID string) (*domain.Consensus, error)
	// ApproveConsensus approves the latest consensus and the task together.
	ApproveConsensus(ctx context.Context, taskID, notes string) (*domain.Consensus, error)
	UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus, errMsg string) error
}

// Request is what a human is shown at the approval checkpoint.
type Request struct {
	Task      *domain.Task
	Consensus *domain.Consensus
	Round     int
	MaxRounds int
	Options   []Decision
	// ThresholdMet is set when the agreement rate reached the configured
	// threshold.
	ThresholdMet bool
}

// CanRevise reports whether revise is among the options.
func (r Request) CanRevise() bool {
	for _, o := range r.Options {
		if o == Revise {
			return true
		}
	}
	return false
}

// Gate applies approval decisions.
type Gate struct {
	store     Store
	bus       *event.Bus
	threshold float64
}

// NewGate creates a Gate. bus may be nil.
func NewGate(st Store, bus *event.Bus) *Gate {
	return &Gate{store: st, bus: bus, threshold: 80}
}

// WithThreshold sets the agreement rate reported as threshold met.
func (g *Gate) WithThreshold(threshold float64) *Gate {
	g.threshold = threshold
	return g
}

// Request builds the approval request for task from its latest consensus.
func (g *Gate) Request(ctx context.Context, task *domain.Task) (*Request, error) {
	c, err := g.store.LatestConsensus(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	canRevise := task.CurrentRound < task.MaxRounds
	return &Request{
		Task:         task,
		Consensus:    c,
		Round:        task.CurrentRound,
		MaxRounds:    task.MaxRounds,
		Options:      Options(canRevise),
		ThresholdMet: c.AgreementRate >= g.threshold,
	}, nil
}

// Apply records decision for task. Revise is rejected once the round
// budget is spent; it changes nothing in the store, the caller starts the
// next round.
func (g *Gate) Apply(ctx context.Context, task *domain.Task, decision Decision, notes string) error {
	if task.Status.IsTerminal() || task.Status == domain.TaskStatusApproved {
		return fmt.Errorf("%w: %s is %s", errors.ErrTaskTerminal, task.Slug, task.Status)
	}

	from := task.Status
	switch decision {
	case Approve:
		if _, err := g.store.ApproveConsensus(ctx, task.ID, notes); err != nil {
			return err
		}
		task.Status = domain.TaskStatusApproved
	case Cancel:
		if err := g.store.UpdateTaskStatus(ctx, task.ID, domain.TaskStatusCancelled, CancelReason); err != nil {
			return err
		}
		task.Status = domain.TaskStatusCancelled
		task.ErrorMessage = CancelReason
	case Revise:
		if task.CurrentRound >= task.MaxRounds {
			return errors.NewValidationError(
				fmt.Sprintf("round %d of %d is the last; revise is not available", task.CurrentRound, task.MaxRounds)).
				WithField("decision")
		}
	default:
		_, err := ParseDecision(string(decision))
		return err
	}

	if g.bus != nil {
		g.bus.Publish(event.NewHumanDecisionEvent(task.ID, task.CurrentRound, string(decision), notes))
		if task.Status != from {
			reason := ""
			if decision == Cancel {
				reason = CancelReason
			}
			g.bus.Publish(event.NewTaskStatusChangedEvent(task.ID, string(from), string(task.Status), reason))
		}
	}
	return nil
}

// Status is the approval state of a task as seen by scripted callers.
type Status struct {
	Approved  bool
	Notes     string
	Consensus *domain.Consensus
}

// Check reports whether the task's latest consensus was approved. A task
// without a consensus is not approved.
func (g *Gate) Check(ctx context.Context, task *domain.Task) (Status, error) {
	c, err := g.store.LatestConsensus(ctx, task.ID)
	if errors.Is(err, errors.ErrNoConsensus) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}
	return Status{Approved: c.HumanApproved, Notes: c.HumanNotes, Consensus: c}, nil
}
