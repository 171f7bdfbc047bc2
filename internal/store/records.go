package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/errors"
	"github.com/Iron-Ham/debate/internal/event"
)

// AddConversation appends a transcript entry.
func (s *Store) AddConversation(ctx context.Context, c *domain.Conversation) error {
	return insertConversation(ctx, s.db, c)
}

func insertConversation(ctx context.Context, q querier, c *domain.Conversation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now()
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO conversations(id, task_id, role, content, phase, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		c.ID, c.TaskID, string(c.Role), c.Content, c.Phase, c.CreatedAt.Unix())
	if err != nil {
		return wrap("add conversation", err)
	}
	return nil
}

// ListConversations returns a task's transcript oldest first.
func (s *Store) ListConversations(ctx context.Context, taskID string) ([]*domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, role, content, phase, created_at FROM conversations
		WHERE task_id = ? ORDER BY created_at, rowid`, taskID)
	if err != nil {
		return nil, wrap("list conversations", err)
	}
	defer rows.Close()

	result := make([]*domain.Conversation, 0)
	for rows.Next() {
		var c domain.Conversation
		var role string
		var created int64
		if err := rows.Scan(&c.ID, &c.TaskID, &role, &c.Content, &c.Phase, &created); err != nil {
			return nil, wrap("scan conversation", err)
		}
		c.Role = domain.ConversationRole(role)
		c.CreatedAt = unixToTime(created)
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate conversations", err)
	}
	return result, nil
}

// AddDecision records a key decision.
func (s *Store) AddDecision(ctx context.Context, d *domain.Decision) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions(id, task_id, topic, decision, rationale, source, confidence, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.TaskID, d.Topic, d.Decision, d.Rationale, d.Source, d.Confidence, d.CreatedAt.Unix())
	if err != nil {
		return wrap("add decision", err)
	}
	return nil
}

// ListDecisions returns a task's decisions oldest first.
func (s *Store) ListDecisions(ctx context.Context, taskID string) ([]*domain.Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, topic, decision, rationale, source, confidence, created_at FROM decisions
		WHERE task_id = ? ORDER BY created_at, rowid`, taskID)
	if err != nil {
		return nil, wrap("list decisions", err)
	}
	defer rows.Close()

	result := make([]*domain.Decision, 0)
	for rows.Next() {
		var d domain.Decision
		var created int64
		if err := rows.Scan(&d.ID, &d.TaskID, &d.Topic, &d.Decision, &d.Rationale, &d.Source, &d.Confidence, &created); err != nil {
			return nil, wrap("scan decision", err)
		}
		d.CreatedAt = unixToTime(created)
		result = append(result, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate decisions", err)
	}
	return result, nil
}

// AddExploration stores a codebase scan.
func (s *Store) AddExploration(ctx context.Context, e *domain.Exploration) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO explorations(id, task_id, agent, relevant_files, tech_stack, existing_patterns,
			dependencies, schema_summary, directory_structure, raw_output, input_tokens, output_tokens,
			cost_estimate, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TaskID, e.Agent, marshalJSON(nonNil(e.RelevantFiles)), marshalJSON(nonNilMap(e.TechStack)),
		marshalJSON(nonNilMap(e.ExistingPatterns)), marshalJSON(nonNilMap(e.Dependencies)), e.SchemaSummary,
		e.DirectoryStructure, e.RawOutput, e.InputTokens, e.OutputTokens, e.Cost, e.CreatedAt.Unix())
	if err != nil {
		return wrap("add exploration", err)
	}
	return nil
}

// ListExplorations returns a task's scans oldest first.
func (s *Store) ListExplorations(ctx context.Context, taskID string) ([]*domain.Exploration, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, agent, relevant_files, tech_stack, existing_patterns, dependencies,
			schema_summary, directory_structure, raw_output, input_tokens, output_tokens, cost_estimate, created_at
		FROM explorations WHERE task_id = ? ORDER BY created_at, rowid`, taskID)
	if err != nil {
		return nil, wrap("list explorations", err)
	}
	defer rows.Close()

	result := make([]*domain.Exploration, 0)
	for rows.Next() {
		var e domain.Exploration
		var files, tech, patterns, deps string
		var created int64
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Agent, &files, &tech, &patterns, &deps, &e.SchemaSummary,
			&e.DirectoryStructure, &e.RawOutput, &e.InputTokens, &e.OutputTokens, &e.Cost, &created); err != nil {
			return nil, wrap("scan exploration", err)
		}
		e.RelevantFiles = unmarshalStrings(files)
		e.TechStack = unmarshalMap(tech)
		e.ExistingPatterns = unmarshalMap(patterns)
		e.Dependencies = unmarshalMap(deps)
		e.CreatedAt = unixToTime(created)
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate explorations", err)
	}
	return result, nil
}

// CreateConsensus stores a round's consensus record.
func (s *Store) CreateConsensus(ctx context.Context, c *domain.Consensus) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO consensus(id, task_id, final_round, agreement_rate, summary, agreed_items,
			implementation_plan, human_approved, human_notes, approved_at, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TaskID, c.FinalRound, c.AgreementRate, c.Summary, marshalJSON(nonNil(c.AgreedItems)),
		c.ImplementationPlan, boolToInt(c.HumanApproved), c.HumanNotes, nullableUnix(c.ApprovedAt), c.CreatedAt.Unix())
	if err != nil {
		return wrap("create consensus", err)
	}
	return nil
}

// RecordConsensus stores a round's agreement rate and breakdown together
// with the consensus record it produced. Both writes commit or neither does.
func (s *Store) RecordConsensus(ctx context.Context, roundID string, breakdown map[string]float64, c *domain.Consensus) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now()
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE rounds SET agreement_rate = ?, consensus_breakdown = ? WHERE id = ?`,
			c.AgreementRate, marshalJSON(breakdown), roundID)
		if err != nil {
			return wrap("set round consensus", err)
		}
		if err := expectRow(res, "round", roundID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO consensus(id, task_id, final_round, agreement_rate, summary, agreed_items,
				implementation_plan, human_approved, human_notes, approved_at, created_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.TaskID, c.FinalRound, c.AgreementRate, c.Summary, marshalJSON(nonNil(c.AgreedItems)),
			c.ImplementationPlan, boolToInt(c.HumanApproved), c.HumanNotes, nullableUnix(c.ApprovedAt), c.CreatedAt.Unix())
		if err != nil {
			return wrap("create consensus", err)
		}
		return nil
	})
}

// LatestConsensus returns the most recent consensus record of a task.
func (s *Store) LatestConsensus(ctx context.Context, taskID string) (*domain.Consensus, error) {
	return latestConsensus(ctx, s.db, taskID)
}

func latestConsensus(ctx context.Context, q querier, taskID string) (*domain.Consensus, error) {
	var c domain.Consensus
	var items string
	var approved int
	var approvedAt sql.NullInt64
	var created int64
	err := q.QueryRowContext(ctx,
		`SELECT id, task_id, final_round, agreement_rate, summary, agreed_items, implementation_plan,
			human_approved, human_notes, approved_at, created_at
		FROM consensus WHERE task_id = ? ORDER BY final_round DESC, created_at DESC, rowid DESC LIMIT 1`, taskID,
	).Scan(&c.ID, &c.TaskID, &c.FinalRound, &c.AgreementRate, &c.Summary, &items, &c.ImplementationPlan,
		&approved, &c.HumanNotes, &approvedAt, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("consensus", taskID).WithCause(errors.ErrNoConsensus)
	}
	if err != nil {
		return nil, wrap("get consensus", err)
	}
	c.AgreedItems = unmarshalStrings(items)
	c.HumanApproved = approved != 0
	c.ApprovedAt = int64ToTimePtr(approvedAt)
	c.CreatedAt = unixToTime(created)
	return &c, nil
}

// ApproveConsensus marks the latest consensus of a task as approved and
// moves the task to approved in the same transaction.
func (s *Store) ApproveConsensus(ctx context.Context, taskID, notes string) (*domain.Consensus, error) {
	var approved *domain.Consensus
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		c, err := latestConsensus(ctx, tx, taskID)
		if err != nil {
			return err
		}
		ts := now()
		if _, err := tx.ExecContext(ctx,
			`UPDATE consensus SET human_approved = 1, human_notes = ?, approved_at = ? WHERE id = ?`,
			notes, ts.Unix(), c.ID); err != nil {
			return wrap("approve consensus", err)
		}
		if err := updateTaskStatus(ctx, tx, taskID, domain.TaskStatusApproved, ""); err != nil {
			return err
		}
		c.HumanApproved = true
		c.HumanNotes = notes
		c.ApprovedAt = &ts
		approved = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approved, nil
}

// AddImplTask appends an implementation task. Sequence defaults to the next
// free number.
func (s *Store) AddImplTask(ctx context.Context, t *domain.ImplTask) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		ts := now()
		t.CreatedAt, t.UpdatedAt = ts, ts
		if t.Status == "" {
			t.Status = domain.ImplStatusPending
		}
		if t.Sequence <= 0 {
			if err := tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(sequence), 0) + 1 FROM impl_tasks WHERE task_id = ?`, t.TaskID,
			).Scan(&t.Sequence); err != nil {
				return wrap("next impl sequence", err)
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO impl_tasks(id, task_id, sequence, title, description, files, status, agent, created_at, updated_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.TaskID, t.Sequence, t.Title, t.Description, marshalJSON(nonNil(t.Files)), string(t.Status),
			t.Agent, ts.Unix(), ts.Unix())
		if err != nil {
			return wrap("add impl task", err)
		}
		return nil
	})
}

// ListImplTasks returns a task's implementation tasks in sequence order.
func (s *Store) ListImplTasks(ctx context.Context, taskID string) ([]*domain.ImplTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, sequence, title, description, files, status, agent, created_at, updated_at
		FROM impl_tasks WHERE task_id = ? ORDER BY sequence`, taskID)
	if err != nil {
		return nil, wrap("list impl tasks", err)
	}
	defer rows.Close()

	result := make([]*domain.ImplTask, 0)
	for rows.Next() {
		var t domain.ImplTask
		var files, status string
		var created, updated int64
		if err := rows.Scan(&t.ID, &t.TaskID, &t.Sequence, &t.Title, &t.Description, &files, &status,
			&t.Agent, &created, &updated); err != nil {
			return nil, wrap("scan impl task", err)
		}
		t.Files = unmarshalStrings(files)
		t.Status = domain.ImplStatus(status)
		t.CreatedAt = unixToTime(created)
		t.UpdatedAt = unixToTime(updated)
		result = append(result, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate impl tasks", err)
	}
	return result, nil
}

// UpdateImplTaskStatus sets the status of the task's implementation step
// with the given sequence number.
func (s *Store) UpdateImplTaskStatus(ctx context.Context, taskID string, sequence int, status domain.ImplStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE impl_tasks SET status = ?, updated_at = ? WHERE task_id = ? AND sequence = ?`,
		string(status), now().Unix(), taskID, sequence)
	if err != nil {
		return wrap("update impl task", err)
	}
	return expectRow(res, "impl task", fmt.Sprintf("%s#%d", taskID, sequence))
}

// ImplProgress counts a task's implementation steps by status.
func (s *Store) ImplProgress(ctx context.Context, taskID string) (domain.ImplProgress, error) {
	var p domain.ImplProgress
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM impl_tasks WHERE task_id = ? GROUP BY status`, taskID)
	if err != nil {
		return p, wrap("impl progress", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return p, wrap("scan impl progress", err)
		}
		p.Total += n
		switch domain.ImplStatus(status) {
		case domain.ImplStatusCompleted:
			p.Completed = n
		case domain.ImplStatusInProgress:
			p.InProgress = n
		case domain.ImplStatusPending:
			p.Pending = n
		case domain.ImplStatusFailed:
			p.Failed = n
		case domain.ImplStatusSkipped:
			p.Skipped = n
		}
	}
	if err := rows.Err(); err != nil {
		return p, wrap("iterate impl progress", err)
	}
	return p, nil
}

// AddCost records token usage and adds it to the task's running totals in
// the same transaction.
func (s *Store) AddCost(ctx context.Context, c *domain.CostEntry) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cost_log(id, task_id, agent, model, input_tokens, output_tokens, cost, created_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.TaskID, c.Agent, c.Model, c.InputTokens, c.OutputTokens, c.Cost, c.CreatedAt.Unix(),
		); err != nil {
			return wrap("add cost", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET total_tokens = total_tokens + ?, total_cost = total_cost + ?, updated_at = ? WHERE id = ?`,
			c.InputTokens+c.OutputTokens, c.Cost, now().Unix(), c.TaskID)
		if err != nil {
			return wrap("update task totals", err)
		}
		return expectRow(res, "task", c.TaskID)
	})
}

// ListCosts returns a task's cost entries oldest first.
func (s *Store) ListCosts(ctx context.Context, taskID string) ([]*domain.CostEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, agent, model, input_tokens, output_tokens, cost, created_at
		FROM cost_log WHERE task_id = ? ORDER BY created_at, rowid`, taskID)
	if err != nil {
		return nil, wrap("list costs", err)
	}
	defer rows.Close()

	result := make([]*domain.CostEntry, 0)
	for rows.Next() {
		var c domain.CostEntry
		var created int64
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Agent, &c.Model, &c.InputTokens, &c.OutputTokens, &c.Cost, &created); err != nil {
			return nil, wrap("scan cost", err)
		}
		c.CreatedAt = unixToTime(created)
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate costs", err)
	}
	return result, nil
}

// AddVerification stores the result of a verification run.
func (s *Store) AddVerification(ctx context.Context, v *domain.Verification) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now()
	}
	checks := v.Checks
	if checks == nil {
		checks = []domain.Check{}
	}
	files := v.FilesChanged
	if files == nil {
		files = []string{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO verifications(id, task_id, status, checks, files_changed, lines_added, lines_removed, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.TaskID, string(v.Status), marshalJSON(checks), marshalJSON(files), v.LinesAdded, v.LinesRemoved,
		v.CreatedAt.Unix())
	return wrap("add verification", err)
}

// LatestVerification returns the most recent verification of a task.
func (s *Store) LatestVerification(ctx context.Context, taskID string) (*domain.Verification, error) {
	var v domain.Verification
	var status, checks, files string
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, task_id, status, checks, files_changed, lines_added, lines_removed, created_at
		FROM verifications WHERE task_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, taskID,
	).Scan(&v.ID, &v.TaskID, &status, &checks, &files, &v.LinesAdded, &v.LinesRemoved, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("verification", taskID)
	}
	if err != nil {
		return nil, wrap("get verification", err)
	}
	v.Status = domain.VerificationStatus(status)
	if err := json.Unmarshal([]byte(checks), &v.Checks); err != nil {
		return nil, fmt.Errorf("decode verification checks: %w", err)
	}
	v.FilesChanged = unmarshalStrings(files)
	v.CreatedAt = unixToTime(created)
	return &v, nil
}

// AppendEntry writes a journal entry. It satisfies event.JournalWriter.
func (s *Store) AppendEntry(ctx context.Context, e event.Entry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = now()
	}
	details := "{}"
	if len(e.Details) > 0 {
		details = marshalJSON(e.Details)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_log(task_id, phase, event, agent, message, details, duration_ms, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TaskID, e.Phase, e.Name, e.Agent, e.Message, details, e.DurationMs, ts.Unix())
	if err != nil {
		return wrap("append journal entry", err)
	}
	return nil
}

// ListLog returns the newest limit journal entries of a task, oldest first.
// limit <= 0 returns all of them.
func (s *Store) ListLog(ctx context.Context, taskID string, limit int) ([]*domain.LogEntry, error) {
	query := `SELECT id, task_id, phase, event, agent, message, details, duration_ms, created_at
		FROM execution_log WHERE task_id = ? ORDER BY id DESC`
	args := []any{taskID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list journal", err)
	}
	defer rows.Close()

	result := make([]*domain.LogEntry, 0)
	for rows.Next() {
		var e domain.LogEntry
		var details string
		var created int64
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Phase, &e.Event, &e.Agent, &e.Message, &details,
			&e.DurationMs, &created); err != nil {
			return nil, wrap("scan journal entry", err)
		}
		e.Details = unmarshalMap(details)
		e.CreatedAt = unixToTime(created)
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate journal", err)
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

// Guardrail loads a persisted JSON setting into v. It reports false when
// the key is unset.
func (s *Store) Guardrail(ctx context.Context, key string, v any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM guardrails WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrap("get guardrail", err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decode guardrail %s: %w", key, err)
	}
	return true, nil
}

// SetGuardrail stores v as the JSON value of key, replacing any previous value.
func (s *Store) SetGuardrail(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode guardrail %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO guardrails(key, value, updated_at) VALUES(?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(b), now().Unix())
	if err != nil {
		return wrap("set guardrail", err)
	}
	return nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
