package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/errors"
)

// ResultRecord is everything one agent invocation produces for a round.
// Participant is empty for roles that do not hold a debate seat.
type ResultRecord struct {
	TaskID      string
	RoundNumber int
	Analysis    *domain.Analysis
	Findings    []domain.Finding
	Questions   []domain.Question
	Participant domain.Participant
	Seat        domain.ParticipantState
}

// RecordResult writes an analysis with its findings and questions and
// updates the seat's state, all in one transaction. Re-running an agent for
// the same round replaces its analysis and findings. Questions already asked
// for the task with identical text are not repeated.
func (s *Store) RecordResult(ctx context.Context, rec ResultRecord) (*domain.Round, error) {
	var round *domain.Round
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		r, err := getRound(ctx, tx, rec.TaskID, rec.RoundNumber)
		if err != nil {
			return err
		}

		a := rec.Analysis
		a.TaskID = rec.TaskID
		a.RoundID = r.ID
		a.RoundNumber = r.Number
		if err := upsertAnalysis(ctx, tx, a); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM findings WHERE analysis_id = ?`, a.ID); err != nil {
			return wrap("clear findings", err)
		}
		for i := range rec.Findings {
			f := &rec.Findings[i]
			f.TaskID, f.RoundID, f.AnalysisID = rec.TaskID, r.ID, a.ID
			if f.Agent == "" {
				f.Agent = a.Agent
			}
			if err := insertFinding(ctx, tx, f); err != nil {
				return err
			}
		}

		for i := range rec.Questions {
			q := &rec.Questions[i]
			q.TaskID, q.RoundID = rec.TaskID, r.ID
			if q.Agent == "" {
				q.Agent = a.Agent
			}
			var exists int
			err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM questions WHERE task_id = ? AND question = ?`, q.TaskID, q.Question,
			).Scan(&exists)
			if err != nil {
				return wrap("check question", err)
			}
			if exists > 0 {
				continue
			}
			if err := insertQuestion(ctx, tx, q); err != nil {
				return err
			}
		}

		if rec.Participant != "" {
			seat := rec.Seat
			if err := applyParticipant(ctx, tx, r, rec.Participant, func(st *domain.ParticipantState) {
				st.Status = seat.Status
				if seat.SessionID != "" {
					st.SessionID = seat.SessionID
				}
				if seat.AgentKey != "" {
					st.AgentKey = seat.AgentKey
				}
			}); err != nil {
				return err
			}
		}
		round = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return round, nil
}

func upsertAnalysis(ctx context.Context, q querier, a *domain.Analysis) error {
	if a.StartedAt.IsZero() {
		a.StartedAt = now()
	}
	if a.Status == "" {
		a.Status = domain.AnalysisRunning
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO analyses(
			id, task_id, round_id, agent, status, summary, recommendations, concerns, raw_output,
			duration_seconds, error_message, input_tokens, output_tokens, cost_estimate, model_used,
			started_at, completed_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id, round_id, agent) DO UPDATE SET
			status = excluded.status,
			summary = excluded.summary,
			recommendations = excluded.recommendations,
			concerns = excluded.concerns,
			raw_output = excluded.raw_output,
			duration_seconds = excluded.duration_seconds,
			error_message = excluded.error_message,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			cost_estimate = excluded.cost_estimate,
			model_used = excluded.model_used,
			completed_at = excluded.completed_at`,
		uuid.NewString(), a.TaskID, a.RoundID, a.Agent, string(a.Status), a.Summary,
		marshalJSON(nonNil(a.Recommendations)), marshalJSON(nonNil(a.Concerns)), a.RawOutput,
		a.DurationSeconds, a.ErrorMessage, a.InputTokens, a.OutputTokens, a.Cost, a.Model,
		a.StartedAt.Unix(), nullableUnix(a.CompletedAt),
	)
	if err != nil {
		return wrap("save analysis", err)
	}
	if err := q.QueryRowContext(ctx,
		`SELECT id FROM analyses WHERE task_id = ? AND round_id = ? AND agent = ?`,
		a.TaskID, a.RoundID, a.Agent,
	).Scan(&a.ID); err != nil {
		return wrap("load analysis id", err)
	}
	return nil
}

const analysisColumns = `a.id, a.task_id, a.round_id, r.round_number, a.agent, a.status, a.summary,
	a.recommendations, a.concerns, a.raw_output, a.duration_seconds, a.error_message, a.input_tokens,
	a.output_tokens, a.cost_estimate, a.model_used, a.started_at, a.completed_at`

// ListAnalyses returns the analyses of one round ordered by agent.
func (s *Store) ListAnalyses(ctx context.Context, taskID string, round int) ([]*domain.Analysis, error) {
	return s.queryAnalyses(ctx,
		`SELECT `+analysisColumns+` FROM analyses a JOIN rounds r ON r.id = a.round_id
		WHERE a.task_id = ? AND r.round_number = ? ORDER BY a.agent`, taskID, round)
}

// ListTaskAnalyses returns every analysis of a task ordered by round, then agent.
func (s *Store) ListTaskAnalyses(ctx context.Context, taskID string) ([]*domain.Analysis, error) {
	return s.queryAnalyses(ctx,
		`SELECT `+analysisColumns+` FROM analyses a JOIN rounds r ON r.id = a.round_id
		WHERE a.task_id = ? ORDER BY r.round_number, a.agent`, taskID)
}

func (s *Store) queryAnalyses(ctx context.Context, query string, args ...any) ([]*domain.Analysis, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list analyses", err)
	}
	defer rows.Close()

	result := make([]*domain.Analysis, 0)
	for rows.Next() {
		var a domain.Analysis
		var status, recs, concerns string
		var started int64
		var completed sql.NullInt64
		if err := rows.Scan(
			&a.ID, &a.TaskID, &a.RoundID, &a.RoundNumber, &a.Agent, &status, &a.Summary, &recs, &concerns,
			&a.RawOutput, &a.DurationSeconds, &a.ErrorMessage, &a.InputTokens, &a.OutputTokens, &a.Cost,
			&a.Model, &started, &completed,
		); err != nil {
			return nil, wrap("scan analysis", err)
		}
		a.Status = domain.AnalysisStatus(status)
		a.Recommendations = unmarshalStrings(recs)
		a.Concerns = unmarshalStrings(concerns)
		a.StartedAt = unixToTime(started)
		a.CompletedAt = int64ToTimePtr(completed)
		result = append(result, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate analyses", err)
	}
	return result, nil
}

func insertFinding(ctx context.Context, q querier, f *domain.Finding) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now()
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO findings(
			id, task_id, round_id, analysis_id, agent, category, finding, file_path, line_start, line_end,
			code_snippet, severity, confidence, recommendation, agreed_by, disputed_by, dispute_reason, created_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.TaskID, f.RoundID, f.AnalysisID, f.Agent, f.Category, f.Finding, f.FilePath,
		f.LineStart, f.LineEnd, f.CodeSnippet, strings.ToLower(f.Severity), f.Confidence, f.Recommendation,
		marshalJSON(nonNil(f.AgreedBy)), marshalJSON(nonNil(f.DisputedBy)), f.DisputeReason, f.CreatedAt.Unix(),
	)
	if err != nil {
		return wrap("insert finding", err)
	}
	return nil
}

const findingColumns = `f.id, f.task_id, f.round_id, f.analysis_id, f.agent, f.category, f.finding,
	f.file_path, f.line_start, f.line_end, f.code_snippet, f.severity, f.confidence, f.recommendation,
	f.agreed_by, f.disputed_by, f.dispute_reason, f.created_at`

// ListFindings returns the findings recorded for one round.
func (s *Store) ListFindings(ctx context.Context, taskID string, round int) ([]*domain.Finding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+findingColumns+` FROM findings f JOIN rounds r ON r.id = f.round_id
		WHERE f.task_id = ? AND r.round_number = ? ORDER BY f.created_at, f.rowid`, taskID, round)
	if err != nil {
		return nil, wrap("list findings", err)
	}
	defer rows.Close()

	result := make([]*domain.Finding, 0)
	for rows.Next() {
		var f domain.Finding
		var agreed, disputed string
		var created int64
		if err := rows.Scan(
			&f.ID, &f.TaskID, &f.RoundID, &f.AnalysisID, &f.Agent, &f.Category, &f.Finding, &f.FilePath,
			&f.LineStart, &f.LineEnd, &f.CodeSnippet, &f.Severity, &f.Confidence, &f.Recommendation,
			&agreed, &disputed, &f.DisputeReason, &created,
		); err != nil {
			return nil, wrap("scan finding", err)
		}
		f.AgreedBy = unmarshalStrings(agreed)
		f.DisputedBy = unmarshalStrings(disputed)
		f.CreatedAt = unixToTime(created)
		result = append(result, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate findings", err)
	}
	return result, nil
}

// AddCrossReference records that by agrees with, or disputes, an earlier
// finding. Repeating a reference is a no-op.
func (s *Store) AddCrossReference(ctx context.Context, findingID, by string, agree bool, reason string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var agreed, disputed, oldReason string
		err := tx.QueryRowContext(ctx,
			`SELECT agreed_by, disputed_by, dispute_reason FROM findings WHERE id = ?`, findingID,
		).Scan(&agreed, &disputed, &oldReason)
		if errors.Is(err, sql.ErrNoRows) {
			return errors.NewNotFoundError("finding", findingID)
		}
		if err != nil {
			return wrap("load finding", err)
		}

		agreedBy, disputedBy := unmarshalStrings(agreed), unmarshalStrings(disputed)
		if agree {
			agreedBy = appendUnique(agreedBy, by)
		} else {
			disputedBy = appendUnique(disputedBy, by)
			if reason != "" {
				oldReason = reason
			}
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE findings SET agreed_by = ?, disputed_by = ?, dispute_reason = ? WHERE id = ?`,
			marshalJSON(nonNil(agreedBy)), marshalJSON(nonNil(disputedBy)), oldReason, findingID)
		if err != nil {
			return wrap("update cross reference", err)
		}
		return nil
	})
}

func insertQuestion(ctx context.Context, q querier, qu *domain.Question) error {
	if qu.ID == "" {
		qu.ID = uuid.NewString()
	}
	if qu.CreatedAt.IsZero() {
		qu.CreatedAt = now()
	}
	if qu.Status == "" {
		qu.Status = domain.QuestionPending
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO questions(id, task_id, round_id, agent, question, context, category, answer,
			answered_by, status, created_at, answered_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		qu.ID, qu.TaskID, qu.RoundID, qu.Agent, qu.Question, qu.Context, qu.Category, qu.Answer,
		qu.AnsweredBy, string(qu.Status), qu.CreatedAt.Unix(), nullableUnix(qu.AnsweredAt),
	)
	if err != nil {
		return wrap("insert question", err)
	}
	return nil
}

// AddQuestion inserts a question outside of an agent result.
func (s *Store) AddQuestion(ctx context.Context, q *domain.Question) error {
	return insertQuestion(ctx, s.db, q)
}

const questionColumns = `id, task_id, round_id, agent, question, context, category, answer,
	answered_by, status, created_at, answered_at`

// ListQuestions returns a task's questions oldest first, optionally
// filtered by status.
func (s *Store) ListQuestions(ctx context.Context, taskID string, status domain.QuestionStatus) ([]*domain.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions WHERE task_id = ?`
	args := []any{taskID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list questions", err)
	}
	defer rows.Close()

	result := make([]*domain.Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, wrap("scan question", err)
		}
		result = append(result, q)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate questions", err)
	}
	return result, nil
}

// GetQuestion returns a task's question by id or by an unambiguous id prefix.
func (s *Store) GetQuestion(ctx context.Context, taskID, idOrPrefix string) (*domain.Question, error) {
	if idOrPrefix == "" {
		return nil, errors.NewNotFoundError("question", idOrPrefix)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE task_id = ? AND substr(id, 1, ?) = ? LIMIT 2`,
		taskID, len(idOrPrefix), idOrPrefix)
	if err != nil {
		return nil, wrap("get question", err)
	}
	defer rows.Close()

	var found []*domain.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, wrap("scan question", err)
		}
		found = append(found, q)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate questions", err)
	}
	switch len(found) {
	case 0:
		return nil, errors.NewNotFoundError("question", idOrPrefix)
	case 1:
		return found[0], nil
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("question id %q is ambiguous", idOrPrefix)).WithField("question_id")
	}
}

// AnswerQuestion moves a pending question to answered.
func (s *Store) AnswerQuestion(ctx context.Context, id, answer, answeredBy string) error {
	return s.resolveQuestion(ctx, id, domain.QuestionAnswered, answer, answeredBy)
}

// SkipQuestion moves a pending question to skipped.
func (s *Store) SkipQuestion(ctx context.Context, id, answeredBy string) error {
	return s.resolveQuestion(ctx, id, domain.QuestionSkipped, "", answeredBy)
}

func (s *Store) resolveQuestion(ctx context.Context, id string, status domain.QuestionStatus, answer, by string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE questions SET status = ?, answer = ?, answered_by = ?, answered_at = ?
		WHERE id = ? AND status = ?`,
		string(status), answer, by, now().Unix(), id, string(domain.QuestionPending))
	if err != nil {
		return wrap("resolve question", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM questions WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.NewNotFoundError("question", id)
	}
	if err != nil {
		return wrap("load question", err)
	}
	return errors.NewValidationError(fmt.Sprintf("question %s is already %s", id, current)).WithField("status")
}

func scanQuestion(row rowScanner) (*domain.Question, error) {
	var q domain.Question
	var status string
	var created int64
	var answered sql.NullInt64
	if err := row.Scan(
		&q.ID, &q.TaskID, &q.RoundID, &q.Agent, &q.Question, &q.Context, &q.Category, &q.Answer,
		&q.AnsweredBy, &status, &created, &answered,
	); err != nil {
		return nil, err
	}
	q.Status = domain.QuestionStatus(status)
	q.CreatedAt = unixToTime(created)
	q.AnsweredAt = int64ToTimePtr(answered)
	return &q, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
