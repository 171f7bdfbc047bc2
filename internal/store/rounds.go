package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/errors"
)

const roundColumns = `id, task_id, round_number, status, participants, agreement_rate,
	consensus_breakdown, started_at, completed_at`

// GetOrCreateRound returns the round with the given number, creating it in
// progress when absent. Concurrent callers get the same row.
func (s *Store) GetOrCreateRound(ctx context.Context, taskID string, number int) (*domain.Round, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO rounds(id, task_id, round_number, status, participants, consensus_breakdown, started_at)
		VALUES(?, ?, ?, ?, '{}', '{}', ?)`,
		uuid.NewString(), taskID, number, string(domain.RoundInProgress), now().Unix(),
	)
	if err != nil {
		return nil, wrap("create round", err)
	}
	return s.GetRound(ctx, taskID, number)
}

// GetRound returns a round by task and number.
func (s *Store) GetRound(ctx context.Context, taskID string, number int) (*domain.Round, error) {
	return getRound(ctx, s.db, taskID, number)
}

func getRound(ctx context.Context, q querier, taskID string, number int) (*domain.Round, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE task_id = ? AND round_number = ?`, taskID, number)
	r, err := scanRound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("round", fmt.Sprintf("%s#%d", taskID, number))
	}
	if err != nil {
		return nil, wrap("get round", err)
	}
	return r, nil
}

// ListRounds returns a task's rounds in ascending order.
func (s *Store) ListRounds(ctx context.Context, taskID string) ([]*domain.Round, error) {
	return s.queryRounds(ctx, `SELECT `+roundColumns+` FROM rounds WHERE task_id = ? ORDER BY round_number`, taskID)
}

// ListRoundsByStatus returns every round in the given status across tasks.
func (s *Store) ListRoundsByStatus(ctx context.Context, status domain.RoundStatus) ([]*domain.Round, error) {
	return s.queryRounds(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE status = ? ORDER BY started_at, rowid`, string(status))
}

func (s *Store) queryRounds(ctx context.Context, query string, args ...any) ([]*domain.Round, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list rounds", err)
	}
	defer rows.Close()

	result := make([]*domain.Round, 0)
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, wrap("scan round", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate rounds", err)
	}
	return result, nil
}

// UpdateParticipant applies fn to one seat's state and writes it back in a
// single transaction, so two workers finishing at once cannot overwrite
// each other. Whenever both seats are terminal the round status is derived
// from their outcome, so a retried seat can turn a failed round completed.
func (s *Store) UpdateParticipant(ctx context.Context, taskID string, number int, p domain.Participant, fn func(*domain.ParticipantState)) (*domain.Round, error) {
	var updated *domain.Round
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		r, err := getRound(ctx, tx, taskID, number)
		if err != nil {
			return err
		}
		if err := applyParticipant(ctx, tx, r, p, fn); err != nil {
			return err
		}
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func applyParticipant(ctx context.Context, q querier, r *domain.Round, p domain.Participant, fn func(*domain.ParticipantState)) error {
	st := r.State(p)
	fn(&st)
	if r.Participants == nil {
		r.Participants = make(map[domain.Participant]domain.ParticipantState)
	}
	r.Participants[p] = st

	var completed any
	if outcome := r.Outcome(); outcome != domain.RoundInProgress {
		r.Status = outcome
		ts := now()
		r.CompletedAt = &ts
		completed = ts.Unix()
	}

	if _, err := q.ExecContext(ctx,
		`UPDATE rounds SET participants = ?, status = ?, completed_at = COALESCE(?, completed_at) WHERE id = ?`,
		marshalJSON(r.Participants), string(r.Status), completed, r.ID,
	); err != nil {
		return wrap("update participant", err)
	}
	return nil
}

// SetRoundStatus forces a round's status, used when a round times out.
func (s *Store) SetRoundStatus(ctx context.Context, roundID string, status domain.RoundStatus) error {
	var completed any
	if status != domain.RoundInProgress {
		completed = now().Unix()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE rounds SET status = ?, completed_at = COALESCE(?, completed_at) WHERE id = ?`,
		string(status), completed, roundID)
	if err != nil {
		return wrap("set round status", err)
	}
	return expectRow(res, "round", roundID)
}

// SetRoundConsensus stores the agreement rate and the per-factor breakdown.
func (s *Store) SetRoundConsensus(ctx context.Context, roundID string, rate float64, breakdown map[string]float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rounds SET agreement_rate = ?, consensus_breakdown = ? WHERE id = ?`,
		rate, marshalJSON(breakdown), roundID)
	if err != nil {
		return wrap("set round consensus", err)
	}
	return expectRow(res, "round", roundID)
}

// LatestSessionID returns the most recent session a seat used in a round
// before the given one, so the next round can resume the conversation.
func (s *Store) LatestSessionID(ctx context.Context, taskID string, p domain.Participant, beforeRound int) (string, error) {
	rounds, err := s.queryRounds(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE task_id = ? AND round_number < ? ORDER BY round_number DESC`,
		taskID, beforeRound)
	if err != nil {
		return "", err
	}
	for _, r := range rounds {
		if id := r.State(p).SessionID; id != "" {
			return id, nil
		}
	}
	return "", nil
}

func scanRound(row rowScanner) (*domain.Round, error) {
	var r domain.Round
	var status, participants, breakdown string
	var rate sql.NullFloat64
	var started int64
	var completed sql.NullInt64
	if err := row.Scan(
		&r.ID, &r.TaskID, &r.Number, &status, &participants, &rate, &breakdown, &started, &completed,
	); err != nil {
		return nil, err
	}
	r.Status = domain.RoundStatus(status)
	r.Participants = make(map[domain.Participant]domain.ParticipantState)
	if participants != "" {
		var raw map[string]domain.ParticipantState
		if err := json.Unmarshal([]byte(participants), &raw); err != nil {
			return nil, fmt.Errorf("decode participants: %w", err)
		}
		for k, v := range raw {
			// Unknown seats are skipped.
			if p, err := domain.ParseParticipant(k); err == nil {
				r.Participants[p] = v
			}
		}
	}
	if rate.Valid {
		v := rate.Float64
		r.AgreementRate = &v
	}
	if breakdown != "" && breakdown != "{}" {
		if err := json.Unmarshal([]byte(breakdown), &r.Breakdown); err != nil {
			return nil, fmt.Errorf("decode consensus breakdown: %w", err)
		}
	}
	r.StartedAt = unixToTime(started)
	r.CompletedAt = int64ToTimePtr(completed)
	return &r, nil
}
