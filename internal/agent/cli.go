package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/creack/pty"

	"github.com/Iron-Ham/debate/internal/errors"
)

// DefaultCLICommand is the agent CLI invoked when none is configured.
const DefaultCLICommand = "opencode run"

// CLIRunner runs an agent CLI once per call in a pseudo-terminal, so tools
// that only stream when attached to a TTY behave as they do interactively.
// The process is registered with the Supervisor while it runs.
type CLIRunner struct {
	command    []string
	dir        string
	supervisor *Supervisor
	taskSlug   string
}

// NewCLIRunner creates a runner for command, e.g. "opencode run", executed
// in dir. A nil supervisor runs processes unsupervised.
func NewCLIRunner(command, dir string, supervisor *Supervisor) *CLIRunner {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		fields = strings.Fields(DefaultCLICommand)
	}
	return &CLIRunner{command: fields, dir: dir, supervisor: supervisor}
}

// ForTask returns a copy of r whose processes are labelled with slug.
func (r *CLIRunner) ForTask(slug string) *CLIRunner {
	cp := *r
	cp.taskSlug = slug
	return &cp
}

// Args returns the argument list for req, the prompt last.
func (r *CLIRunner) Args(req Request) []string {
	args := append([]string{}, r.command[1:]...)
	args = append(args, "--agent", strings.TrimPrefix(req.Agent, agentKeyPrefix))
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.SessionID != "" {
		args = append(args, "--session", req.SessionID)
	}
	return append(args, req.Prompt)
}

// Run implements Runner.
func (r *CLIRunner) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	res := &Result{SessionID: req.SessionID}
	fail := func(err error) (*Result, error) {
		if ctx.Err() == context.DeadlineExceeded {
			err = errors.NewTimeoutError("agent "+req.Agent, req.Timeout).WithCause(err)
		}
		res.Error = err.Error()
		return res.finish(start), errors.NewAgentError("agent CLI failed", err).WithAgent(req.Agent)
	}

	cmd := exec.CommandContext(ctx, r.command[0], r.Args(req)...)
	cmd.Dir = r.dir
	cmd.WaitDelay = 2 * time.Second

	tty, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 50, Cols: 200})
	if err != nil {
		return fail(fmt.Errorf("start %s: %w", r.command[0], err))
	}
	defer func() { _ = tty.Close() }()

	if r.supervisor != nil {
		r.supervisor.Register(cmd.Process, Handle{
			Key:      fmt.Sprintf("%s:%d", strings.TrimPrefix(req.Agent, agentKeyPrefix), cmd.Process.Pid),
			Agent:    req.Agent,
			TaskSlug: r.taskSlug,
		})
		defer r.supervisor.Unregister(cmd.Process.Pid)
	}

	var buf bytes.Buffer
	// The pty reports EIO once the child has exited and the output drained.
	_, _ = io.Copy(&buf, tty)
	waitErr := cmd.Wait()

	res.RawOutput = cleanTerminalOutput(buf.String())
	if waitErr != nil {
		return fail(fmt.Errorf("%s exited: %w", r.command[0], waitErr))
	}
	if res.RawOutput == "" {
		res.Error = "Empty response from agent CLI"
		return res.finish(start), errors.NewAgentError(res.Error, errors.ErrEmptyResponse).WithAgent(req.Agent)
	}
	res.Success = true
	return res.finish(start), nil
}

// cleanTerminalOutput strips escape sequences and carriage returns added by
// the terminal.
func cleanTerminalOutput(s string) string {
	s = ansi.Strip(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "")
	return strings.TrimSpace(s)
}
