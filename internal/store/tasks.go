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

const taskColumns = `id, slug, title, status, current_round, max_rounds, complexity, skip_debate,
	total_tokens, total_cost, error_message, created_at, updated_at, completed_at`

// CreateTask inserts a task. ID, timestamps and status are filled in when
// empty. A duplicate slug yields an AlreadyExistsError.
func (s *Store) CreateTask(ctx context.Context, task *domain.Task) error {
	return insertTask(ctx, s.db, task)
}

// CreateTaskWithRequest inserts a task together with the conversation
// entry that asked for it. Neither is stored unless both are.
func (s *Store) CreateTaskWithRequest(ctx context.Context, task *domain.Task, request *domain.Conversation) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertTask(ctx, tx, task); err != nil {
			return err
		}
		request.TaskID = task.ID
		return insertConversation(ctx, tx, request)
	})
}

func insertTask(ctx context.Context, q querier, task *domain.Task) error {
	ts := now()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = ts
	}
	task.UpdatedAt = ts
	if task.Status == "" {
		task.Status = domain.TaskStatusScoping
	}
	if task.MaxRounds <= 0 {
		task.MaxRounds = 3
	}

	_, err := q.ExecContext(ctx,
		`INSERT INTO tasks(`+taskColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Slug, task.Title, string(task.Status), task.CurrentRound, task.MaxRounds,
		string(task.Complexity), boolToInt(task.SkipDebate), task.TotalTokens, task.TotalCost,
		task.ErrorMessage, task.CreatedAt.Unix(), task.UpdatedAt.Unix(), nullableUnix(task.CompletedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: tasks.slug") {
			return errors.NewAlreadyExistsError("task", task.Slug)
		}
		return wrap("create task", err)
	}
	return nil
}

// GetTask returns the task with the given id.
func (s *Store) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("task", id)
	}
	if err != nil {
		return nil, wrap("get task", err)
	}
	return t, nil
}

// GetTaskBySlug returns the task with the given slug.
func (s *Store) GetTaskBySlug(ctx context.Context, slug string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE slug = ?`, slug)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("task", slug)
	}
	if err != nil {
		return nil, wrap("get task", err)
	}
	return t, nil
}

// ListTasks returns tasks newest first, optionally filtered by status.
func (s *Store) ListTasks(ctx context.Context, status domain.TaskStatus) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list tasks", err)
	}
	defer rows.Close()

	result := make([]*domain.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, wrap("scan task", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate tasks", err)
	}
	return result, nil
}

// UpdateTaskStatus sets the status and error message. Terminal statuses
// also stamp completed_at.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus, errMsg string) error {
	return updateTaskStatus(ctx, s.db, id, status, errMsg)
}

func updateTaskStatus(ctx context.Context, q querier, id string, status domain.TaskStatus, errMsg string) error {
	ts := now()
	var completed any
	if status.IsTerminal() {
		completed = ts.Unix()
	}
	res, err := q.ExecContext(ctx,
		`UPDATE tasks SET status = ?, error_message = ?, updated_at = ?,
			completed_at = COALESCE(?, completed_at)
		WHERE id = ?`,
		string(status), errMsg, ts.Unix(), completed, id,
	)
	if err != nil {
		return wrap("update task status", err)
	}
	return expectRow(res, "task", id)
}

// SaveTask persists the mutable planning fields of t: current round, max
// rounds, complexity and the skip flag.
func (s *Store) SaveTask(ctx context.Context, t *domain.Task) error {
	t.UpdatedAt = now()
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET current_round = ?, max_rounds = ?, complexity = ?, skip_debate = ?, updated_at = ?
		WHERE id = ?`,
		t.CurrentRound, t.MaxRounds, string(t.Complexity), boolToInt(t.SkipDebate), t.UpdatedAt.Unix(), t.ID,
	)
	if err != nil {
		return wrap("save task", err)
	}
	return expectRow(res, "task", t.ID)
}

// DeleteTask removes a task and, through cascades, everything it owns.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return wrap("delete task", err)
	}
	return expectRow(res, "task", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	var status, complexity string
	var skip int
	var created, updated int64
	var completed sql.NullInt64
	if err := row.Scan(
		&t.ID, &t.Slug, &t.Title, &status, &t.CurrentRound, &t.MaxRounds, &complexity, &skip,
		&t.TotalTokens, &t.TotalCost, &t.ErrorMessage, &created, &updated, &completed,
	); err != nil {
		return nil, err
	}
	t.Status = domain.TaskStatus(status)
	t.Complexity = domain.Complexity(complexity)
	t.SkipDebate = skip != 0
	t.CreatedAt = unixToTime(created)
	t.UpdatedAt = unixToTime(updated)
	t.CompletedAt = int64ToTimePtr(completed)
	return &t, nil
}

func expectRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return errors.NewNotFoundError(resource, id)
	}
	return nil
}
