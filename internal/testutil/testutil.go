// Package testutil provides fixtures shared by debate's package tests: a
// migrated store, an in-memory Redis, seeded tasks and throwaway git repos.
package testutil

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/store"
)

// NewStore opens a migrated store in a temp directory. It is closed when
// the test completes.
func NewStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "debate.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate store: %v", err)
	}
	return st
}

// NewRedis starts an in-memory Redis server and returns it with a client
// connected to it. Both are shut down when the test completes.
func NewRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// NewTask creates a task with the given slug in analysis with round 1
// started.
func NewTask(t *testing.T, st *store.Store, slug string) *domain.Task {
	t.Helper()

	ctx := context.Background()
	task := &domain.Task{
		Slug:         slug,
		Title:        "Task " + slug,
		Status:       domain.TaskStatusAnalysis,
		CurrentRound: 1,
		MaxRounds:    3,
		Complexity:   domain.ComplexityStandard,
	}
	if err := st.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task %s: %v", slug, err)
	}
	if _, err := st.GetOrCreateRound(ctx, task.ID, 1); err != nil {
		t.Fatalf("create round for %s: %v", slug, err)
	}
	return task
}

// SetupTestRepo creates a temporary git repository with one commit on main.
func SetupTestRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	if err := runGit(dir, "init"); err != nil {
		t.Fatalf("failed to init git repo: %v", err)
	}
	readme := filepath.Join(dir, "README.md")
	if err := os.WriteFile(readme, []byte("# Test Repository\n"), 0644); err != nil {
		t.Fatalf("failed to create README: %v", err)
	}
	if err := runGit(dir, "add", "."); err != nil {
		t.Fatalf("failed to stage files: %v", err)
	}
	if err := runGit(dir, "commit", "-m", "Initial commit"); err != nil {
		t.Fatalf("failed to create initial commit: %v", err)
	}
	if err := runGit(dir, "branch", "-M", "main"); err != nil {
		t.Fatalf("failed to rename branch to main: %v", err)
	}
	return dir
}

// WriteFiles writes files (relative path to content) under dir without
// committing them.
func WriteFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()

	for path, content := range files {
		fullPath := filepath.Join(dir, path)
		if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			t.Fatalf("failed to create directory for %s: %v", path, err)
		}
		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write file %s: %v", path, err)
		}
	}
}

// SkipIfNoGit skips the test if git is not installed.
func SkipIfNoGit(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH, skipping test")
	}
}

func runGit(dir string, args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Debate Test",
		"GIT_AUTHOR_EMAIL=test@debate.dev",
		"GIT_COMMITTER_NAME=Debate Test",
		"GIT_COMMITTER_EMAIL=test@debate.dev",
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return &gitError{args: args, output: output, err: err}
	}
	return nil
}

type gitError struct {
	args   []string
	output []byte
	err    error
}

func (e *gitError) Error() string {
	return "git " + strings.Join(e.args, " ") + ": " + e.err.Error() + "\n" + string(e.output)
}

func (e *gitError) Unwrap() error {
	return e.err
}
