// Package store persists debate tasks, rounds, agent outputs and the
// execution journal in SQLite.
//
// The store is the single arbiter of debate state: the interactive engine,
// queue workers in other processes and the CLI all read and write through
// it. Multi-row writes that must not be observed half-done run in one
// transaction. A driver "no such table" error is reported as a
// [errors.SchemaError] so the operator is told to run `debate migrate`.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/debate/internal/errors"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	slug TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'scoping',
	current_round INTEGER NOT NULL DEFAULT 0,
	max_rounds INTEGER NOT NULL DEFAULT 3,
	complexity TEXT NOT NULL DEFAULT '',
	skip_debate INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	total_cost REAL NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	completed_at INTEGER NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	phase TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS explorations (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	agent TEXT NOT NULL,
	relevant_files TEXT NOT NULL DEFAULT '[]',
	tech_stack TEXT NOT NULL DEFAULT '{}',
	existing_patterns TEXT NOT NULL DEFAULT '{}',
	dependencies TEXT NOT NULL DEFAULT '{}',
	schema_summary TEXT NOT NULL DEFAULT '',
	directory_structure TEXT NOT NULL DEFAULT '',
	raw_output TEXT NOT NULL DEFAULT '',
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_estimate REAL NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rounds (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	round_number INTEGER NOT NULL,
	status TEXT NOT NULL DEFAULT 'in_progress',
	participants TEXT NOT NULL DEFAULT '{}',
	agreement_rate REAL NULL,
	consensus_breakdown TEXT NOT NULL DEFAULT '{}',
	started_at INTEGER NOT NULL,
	completed_at INTEGER NULL,
	UNIQUE(task_id, round_number)
);

CREATE TABLE IF NOT EXISTS analyses (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	round_id TEXT NOT NULL REFERENCES rounds(id) ON DELETE CASCADE,
	agent TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'running',
	summary TEXT NOT NULL DEFAULT '',
	recommendations TEXT NOT NULL DEFAULT '[]',
	concerns TEXT NOT NULL DEFAULT '[]',
	raw_output TEXT NOT NULL DEFAULT '',
	duration_seconds INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_estimate REAL NOT NULL DEFAULT 0,
	model_used TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	completed_at INTEGER NULL,
	UNIQUE(task_id, round_id, agent)
);

CREATE TABLE IF NOT EXISTS findings (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	round_id TEXT NOT NULL REFERENCES rounds(id) ON DELETE CASCADE,
	analysis_id TEXT NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
	agent TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	finding TEXT NOT NULL,
	file_path TEXT NOT NULL DEFAULT '',
	line_start INTEGER NOT NULL DEFAULT 0,
	line_end INTEGER NOT NULL DEFAULT 0,
	code_snippet TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL DEFAULT '',
	confidence TEXT NOT NULL DEFAULT '',
	recommendation TEXT NOT NULL DEFAULT '',
	agreed_by TEXT NOT NULL DEFAULT '[]',
	disputed_by TEXT NOT NULL DEFAULT '[]',
	dispute_reason TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	round_id TEXT NOT NULL DEFAULT '',
	agent TEXT NOT NULL,
	question TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	answer TEXT NOT NULL DEFAULT '',
	answered_by TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	created_at INTEGER NOT NULL,
	answered_at INTEGER NULL
);

CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	topic TEXT NOT NULL,
	decision TEXT NOT NULL,
	rationale TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL,
	confidence TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS consensus (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	final_round INTEGER NOT NULL,
	agreement_rate REAL NOT NULL DEFAULT 0,
	summary TEXT NOT NULL DEFAULT '',
	agreed_items TEXT NOT NULL DEFAULT '[]',
	implementation_plan TEXT NOT NULL DEFAULT '',
	human_approved INTEGER NOT NULL DEFAULT 0,
	human_notes TEXT NOT NULL DEFAULT '',
	approved_at INTEGER NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS impl_tasks (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	sequence INTEGER NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	files TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL DEFAULT 'pending',
	agent TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE(task_id, sequence)
);

CREATE TABLE IF NOT EXISTS execution_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	phase TEXT NOT NULL,
	event TEXT NOT NULL,
	agent TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	details TEXT NOT NULL DEFAULT '{}',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cost_log (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	agent TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost REAL NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS verifications (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	status TEXT NOT NULL,
	checks TEXT NOT NULL DEFAULT '[]',
	files_changed TEXT NOT NULL DEFAULT '[]',
	lines_added INTEGER NOT NULL DEFAULT 0,
	lines_removed INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS guardrails (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_rounds_status ON rounds(status);
CREATE INDEX IF NOT EXISTS idx_analyses_round ON analyses(round_id);
CREATE INDEX IF NOT EXISTS idx_findings_round ON findings(round_id, agent);
CREATE INDEX IF NOT EXISTS idx_questions_task_status ON questions(task_id, status);
CREATE INDEX IF NOT EXISTS idx_execution_log_task ON execution_log(task_id, id);
CREATE INDEX IF NOT EXISTS idx_cost_log_task ON cost_log(task_id);
CREATE INDEX IF NOT EXISTS idx_verifications_task ON verifications(task_id);
`

// Tables lists every table the schema creates, in creation order.
var Tables = []string{
	"tasks", "conversations", "explorations", "rounds", "analyses", "findings",
	"questions", "decisions", "consensus", "impl_tasks", "execution_log",
	"cost_log", "verifications", "guardrails",
}

type Store struct {
	db *sql.DB
}

// querier is the subset of *sql.DB and *sql.Tx the row helpers need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens (creating if needed) the database at dbPath. It does not
// create tables; call Migrate for that.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers from this process; other
	// processes are held off by busy_timeout.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates any missing tables and indexes. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// CheckSchema returns a SchemaError naming the first missing table, or nil
// when every table exists.
func (s *Store) CheckSchema(ctx context.Context) error {
	missing, err := s.MissingTables(ctx)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return errors.NewSchemaError(missing[0], nil)
	}
	return nil
}

// MissingTables lists the tables not yet created.
func (s *Store) MissingTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	var missing []string
	for _, t := range Tables {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	return missing, nil
}

// inTx runs fn in a transaction, committing when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrap("commit transaction", err)
	}
	return nil
}

// wrap annotates err with op, turning missing-table driver errors into a
// SchemaError.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if table, ok := errors.MissingTable(err); ok {
		return errors.NewSchemaError(table, err)
	}
	return errors.NewStoreError(op, err)
}

func unixToTime(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func int64ToTimePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := unixToTime(v.Int64)
	return &t
}

func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func unmarshalStrings(raw string) []string {
	var out []string
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func unmarshalMap(raw string) map[string]any {
	if raw == "" || raw == "{}" || raw == "null" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func now() time.Time {
	return time.Now().UTC()
}
