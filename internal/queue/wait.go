package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/errors"
)

// RoundGetter reads a round.
type RoundGetter interface {
	GetRound(ctx context.Context, taskID string, number int) (*domain.Round, error)
}

// WaitForRoundStatus polls the store until the round leaves in_progress,
// returning its final state. It fails with a TimeoutError once timeout
// elapses.
func WaitForRoundStatus(ctx context.Context, st RoundGetter, taskID string, round int, timeout, interval time.Duration) (*domain.Round, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for {
		r, err := st.GetRound(ctx, taskID, round)
		if err != nil && !errors.Is(err, errors.ErrRoundNotFound) {
			return nil, err
		}
		if r != nil && r.Status != domain.RoundInProgress {
			return r, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return r, errors.NewTimeoutError(fmt.Sprintf("wait for round %d", round), timeout)
		}
		wait := min(interval, remaining)
		select {
		case <-ctx.Done():
			return r, ctx.Err()
		case <-time.After(wait):
		}
	}
}
