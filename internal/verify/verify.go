// Package verify runs a project's test, lint and build commands after an
// implementation and records the outcome.
package verify

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Iron-Ham/debate/internal/domain"
	"github.com/Iron-Ham/debate/internal/logging"
)

// MaxOutput is the number of bytes of command output kept per check.
const MaxOutput = 10000

// DefaultTimeout bounds test and lint commands. Builds get BuildTimeout.
const (
	DefaultTimeout = 120 * time.Second
	BuildTimeout   = 300 * time.Second
)

// Check kinds.
const (
	KindTest  = "test"
	KindLint  = "lint"
	KindBuild = "build"
)

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Run executes a command and returns combined output.
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct{}

// NewCLICommandExecutor creates a new CLI command executor.
func NewCLICommandExecutor() *CLICommandExecutor {
	return &CLICommandExecutor{}
}

// Run executes a command and returns combined output.
func (e *CLICommandExecutor) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Verifier runs the checks detected for a directory.
type Verifier struct {
	executor CommandExecutor
	logger   *logging.Logger
	timeout  time.Duration
}

// New creates a Verifier using the given executor. A nil executor runs
// real commands.
func New(executor CommandExecutor, logger *logging.Logger) *Verifier {
	if executor == nil {
		executor = NewCLICommandExecutor()
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Verifier{executor: executor, logger: logger, timeout: DefaultTimeout}
}

// WithTimeout overrides the timeout for test and lint commands.
func (v *Verifier) WithTimeout(d time.Duration) *Verifier {
	if d > 0 {
		v.timeout = d
	}
	return v
}

// Run verifies the project in dir. The returned record is not stored and
// has no task ID; callers fill those in.
func (v *Verifier) Run(ctx context.Context, dir string) (*domain.Verification, error) {
	result := &domain.Verification{}
	result.FilesChanged, result.LinesAdded, result.LinesRemoved = v.diffStats(ctx, dir)

	for _, cmd := range Detect(dir) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Checks = append(result.Checks, v.runCheck(ctx, dir, cmd))
	}
	result.Status = Status(result.Checks)
	v.logger.Info("verification finished",
		"dir", dir,
		"status", result.Status,
		"files_changed", len(result.FilesChanged),
	)
	return result, nil
}

// Recorder stores verification results.
type Recorder interface {
	AddVerification(ctx context.Context, v *domain.Verification) error
}

// RunAndRecord verifies dir and stores the result against taskID.
func (v *Verifier) RunAndRecord(ctx context.Context, rec Recorder, taskID, dir string) (*domain.Verification, error) {
	result, err := v.Run(ctx, dir)
	if err != nil {
		return nil, err
	}
	result.TaskID = taskID
	if err := rec.AddVerification(ctx, result); err != nil {
		return nil, fmt.Errorf("record verification: %w", err)
	}
	return result, nil
}

func (v *Verifier) runCheck(ctx context.Context, dir string, cmd Command) domain.Check {
	check := domain.Check{Kind: cmd.Kind, Command: cmd.String()}
	if cmd.Name == "" {
		check.Output = fmt.Sprintf("no %s command detected", cmd.Kind)
		return check
	}

	timeout := v.timeout
	if cmd.Kind == KindBuild && timeout < BuildTimeout {
		timeout = BuildTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := v.executor.Run(runCtx, dir, cmd.Name, cmd.Args...)
	output := string(out)
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		output += fmt.Sprintf("\ncommand timed out after %s", timeout)
	case errors.Is(err, exec.ErrNotFound):
		output = "command not found: " + cmd.Name
	}

	check.Ran = true
	check.Passed = err == nil
	check.Output = truncate(output, MaxOutput)
	switch cmd.Kind {
	case KindTest:
		check.Total, check.Failed = parseTestCounts(output)
	case KindLint:
		lower := strings.ToLower(output)
		check.Warnings = strings.Count(lower, "warning")
		check.Errors = strings.Count(lower, "error")
	}
	v.logger.Debug("check finished",
		"kind", cmd.Kind,
		"command", check.Command,
		"passed", check.Passed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return check
}

// Status folds checks into an overall status: passed when every check
// passed, failed when the tests or the build failed, partial otherwise.
func Status(checks []domain.Check) domain.VerificationStatus {
	if len(checks) == 0 {
		return domain.VerificationPartial
	}
	all := true
	for _, c := range checks {
		if !c.Passed {
			all = false
		}
		if c.Ran && !c.Passed && (c.Kind == KindTest || c.Kind == KindBuild) {
			return domain.VerificationFailed
		}
	}
	if all {
		return domain.VerificationPassed
	}
	return domain.VerificationPartial
}

var (
	passedRe    = regexp.MustCompile(`(\d+) passed`)
	failedRe    = regexp.MustCompile(`(\d+) failed`)
	insertionRe = regexp.MustCompile(`(\d+) insertion`)
	deletionRe  = regexp.MustCompile(`(\d+) deletion`)
)

// parseTestCounts reads "N passed" and "N failed" summaries as printed by
// pytest, jest and cargo.
func parseTestCounts(output string) (total, failed int) {
	passed := firstInt(passedRe, output)
	failed = firstInt(failedRe, output)
	return passed + failed, failed
}

func (v *Verifier) diffStats(ctx context.Context, dir string) ([]string, int, int) {
	var files []string
	out, err := v.executor.Run(ctx, dir, "git", "diff", "--name-only", "HEAD~1")
	if err == nil {
		for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				files = append(files, line)
			}
		}
	} else {
		v.logger.Debug("git diff failed", "dir", dir, "error", err)
	}

	out, err = v.executor.Run(ctx, dir, "git", "diff", "--shortstat", "HEAD~1")
	if err != nil {
		return files, 0, 0
	}
	return files, firstInt(insertionRe, string(out)), firstInt(deletionRe, string(out))
}

func firstInt(re *regexp.Regexp, s string) int {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
