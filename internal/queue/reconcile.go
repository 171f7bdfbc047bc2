package queue

import (
	"context"
	"time"

	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/errors"
	"github.com/Iron-Ham/debate/internal/logging"
	"github.com/Iron-Ham/debate/internal/roles"
)

// ReconcileStore is the store surface the Reconciler reads.
type ReconcileStore interface {
	ListRoundsByStatus(ctx context.Context, status domain.RoundStatus) ([]*domain.Round, error)
	GetTask(ctx context.Context, id string) (*domain.Task, error)
}

// Resolver resolves a role to its configuration.
type Resolver interface {
	Resolve(ctx context.Context, role roles.Role) (roles.Config, error)
}

// Enqueuer accepts jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, j Job, priority bool) (string, error)
}

// ClaimReleaser drops idempotency keys left behind by workers that died
// mid-job.
type ClaimReleaser interface {
	ReleaseClaim(ctx context.Context, j Job, olderThan time.Duration) (bool, error)
}

// ClaimGrace is how old a claim on a seat not yet marked running must be
// before reconciliation releases it. It covers the gap between a worker
// claiming a job and marking the seat.
const ClaimGrace = 30 * time.Second

// DefaultStaleAfter is how long a running seat is trusted before
// reconciliation treats its worker as gone.
const DefaultStaleAfter = 5 * time.Minute

// Reconciler re-enqueues analysis jobs for rounds still in progress whose
// planner seats have not finished. Duplicates of jobs still queued are
// harmless: the idempotency key lets only one run. When the enqueuer is a
// ClaimReleaser, keys held by dead workers are released first so the
// reconciled job is not skipped as a duplicate.
type Reconciler struct {
	store      ReconcileStore
	resolver   Resolver
	enqueuer   Enqueuer
	claims     ClaimReleaser
	staleAfter time.Duration
	logger     *logging.Logger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithStaleAfter sets how long a running seat may go without finishing
// before its job is recovered. Use the agent timeout.
func WithStaleAfter(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.staleAfter = d
		}
	}
}

// NewReconciler creates a Reconciler.
func NewReconciler(st ReconcileStore, resolver Resolver, enq Enqueuer, logger *logging.Logger, opts ...ReconcilerOption) *Reconciler {
	if logger == nil {
		logger = logging.NopLogger()
	}
	r := &Reconciler{
		store:      st,
		resolver:   resolver,
		enqueuer:   enq,
		staleAfter: DefaultStaleAfter,
		logger:     logger,
	}
	r.claims, _ = enq.(ClaimReleaser)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile makes one pass and returns the number of jobs enqueued.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	rounds, err := r.store.ListRoundsByStatus(ctx, domain.RoundInProgress)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, round := range rounds {
		task, err := r.store.GetTask(ctx, round.TaskID)
		if errors.Is(err, errors.ErrTaskNotFound) {
			continue
		}
		if err != nil {
			return enqueued, err
		}

		for _, p := range domain.Participants() {
			seat := round.State(p)
			if seat.Status.IsTerminal() {
				continue
			}
			if seat.Status == domain.ParticipantRunning && seat.StartedAt != nil && time.Since(*seat.StartedAt) < r.staleAfter {
				continue
			}
			role := roles.ForParticipant(p)
			cfg, err := r.resolver.Resolve(ctx, role)
			if err != nil {
				return enqueued, err
			}
			if cfg.AgentKey == "" {
				continue
			}
			j := Job{
				JobType:  JobAnalysis,
				TaskID:   task.ID,
				TaskSlug: task.Slug,
				Round:    round.Number,
				Agent:    AgentName(cfg.AgentKey),
				Phase:    "analysis",
				Role:     string(role),
			}
			if r.claims != nil {
				grace := ClaimGrace
				if seat.Status == domain.ParticipantRunning {
					grace = 0
				}
				if _, err := r.claims.ReleaseClaim(ctx, j, grace); err != nil {
					return enqueued, err
				}
			}
			if _, err := r.enqueuer.Enqueue(ctx, j, false); err != nil {
				if errors.Is(err, errors.ErrQueueFull) {
					r.logger.Warn("reconcile skipped job", "task", task.Slug, "round", round.Number, "error", err)
					continue
				}
				return enqueued, err
			}
			r.logger.Info("reconciled missing run",
				"task", task.Slug,
				"round", round.Number,
				"role", role,
				"agent", j.Agent)
			enqueued++
		}
	}
	return enqueued, nil
}

// Run reconciles immediately and then every interval until ctx is done.
// A non-positive interval makes a single pass.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	if _, err := r.Reconcile(ctx); err != nil {
		return err
	}
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Reconcile(ctx); err != nil {
				r.logger.Warn("reconcile pass failed", "error", err)
			}
		}
	}
}
