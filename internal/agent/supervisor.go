package agent

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/Iron-Ham/debate/internal/errors"
	"github.com/Iron-Ham/debate/internal/logging"
)

// Handle identifies a supervised agent process.
type Handle struct {
	PID       int       `json:"pid"`
	Key       string    `json:"key"`
	Agent     string    `json:"agent"`
	TaskSlug  string    `json:"task_slug,omitempty"`
	StartedAt time.Time `json:"started_at"`
	// Alive is filled in by List.
	Alive bool `json:"-"`
}

// Supervisor owns the agent processes started by this process and, through
// the Registry, sees the ones started by other debate processes.
type Supervisor struct {
	registry *Registry
	logger   *logging.Logger

	mu    sync.Mutex
	procs map[int]*os.Process
	own   map[int]Handle
}

// NewSupervisor creates a Supervisor. A nil registry keeps the handle
// table in memory only.
func NewSupervisor(registry *Registry, logger *logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Supervisor{
		registry: registry,
		logger:   logger,
		procs:    make(map[int]*os.Process),
		own:      make(map[int]Handle),
	}
}

// Register records a started process.
func (s *Supervisor) Register(proc *os.Process, h Handle) {
	h.PID = proc.Pid
	if h.StartedAt.IsZero() {
		h.StartedAt = time.Now()
	}
	s.mu.Lock()
	s.procs[h.PID] = proc
	s.own[h.PID] = h
	s.mu.Unlock()

	if s.registry != nil {
		if err := s.registry.Put(h); err != nil {
			s.logger.Warn("failed to register agent process", "pid", h.PID, "error", err.Error())
		}
	}
	s.logger.Debug("agent process started", "pid", h.PID, "key", h.Key)
}

// Unregister forgets a process that has exited.
func (s *Supervisor) Unregister(pid int) {
	s.mu.Lock()
	delete(s.procs, pid)
	delete(s.own, pid)
	s.mu.Unlock()

	if s.registry != nil {
		if err := s.registry.Remove(pid); err != nil {
			s.logger.Warn("failed to unregister agent process", "pid", pid, "error", err.Error())
		}
	}
}

// List returns every known handle ordered by start time, with Alive set.
func (s *Supervisor) List() ([]Handle, error) {
	all := make(map[int]Handle)
	if s.registry != nil {
		hs, err := s.registry.Load()
		if err != nil {
			return nil, err
		}
		for _, h := range hs {
			all[h.PID] = h
		}
	}
	s.mu.Lock()
	for pid, h := range s.own {
		all[pid] = h
	}
	s.mu.Unlock()

	out := make([]Handle, 0, len(all))
	for _, h := range all {
		h.Alive = processAlive(h.PID)
		out = append(out, h)
	}
	slices.SortFunc(out, func(a, b Handle) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return a.PID - b.PID
	})
	return out, nil
}

// Find resolves identifier, a PID or a handle key, to a handle.
func (s *Supervisor) Find(identifier string) (Handle, error) {
	hs, err := s.List()
	if err != nil {
		return Handle{}, err
	}
	pid, convErr := strconv.Atoi(identifier)
	for _, h := range hs {
		if (convErr == nil && h.PID == pid) || h.Key == identifier {
			return h, nil
		}
	}
	if convErr == nil {
		// An unregistered PID may still be killed explicitly.
		return Handle{PID: pid, Alive: processAlive(pid)}, nil
	}
	return Handle{}, errors.NewNotFoundError("agent process", identifier).WithCause(errors.ErrProcessNotFound)
}

// Terminate sends SIGTERM, or SIGKILL when force is set, to pid.
func (s *Supervisor) Terminate(pid int, force bool) error {
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}

	s.mu.Lock()
	proc := s.procs[pid]
	s.mu.Unlock()

	var err error
	if proc != nil {
		err = proc.Signal(sig)
	} else {
		err = syscall.Kill(pid, sig)
	}
	switch {
	case err == nil:
	case err == syscall.ESRCH || err == os.ErrProcessDone:
		s.Unregister(pid)
		return errors.NewNotFoundError("agent process", strconv.Itoa(pid)).WithCause(errors.ErrProcessNotFound)
	default:
		return fmt.Errorf("signal %d: %w", pid, err)
	}

	if force {
		s.Unregister(pid)
	}
	s.logger.Info("agent process signalled", "pid", pid, "signal", sig.String())
	return nil
}

// TerminateAll signals every live process and returns how many were
// signalled.
func (s *Supervisor) TerminateAll(force bool) (int, error) {
	hs, err := s.List()
	if err != nil {
		return 0, err
	}
	n := 0
	var errs []error
	for _, h := range hs {
		if !h.Alive {
			s.Unregister(h.PID)
			continue
		}
		if err := s.Terminate(h.PID, force); err != nil {
			if !errors.Is(err, errors.ErrProcessNotFound) {
				errs = append(errs, err)
			}
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Shutdown kills the processes this Supervisor started. Processes of other
// debate invocations are left alone.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	pids := make([]int, 0, len(s.procs))
	for pid := range s.procs {
		pids = append(pids, pid)
	}
	s.mu.Unlock()

	for _, pid := range pids {
		if err := s.Terminate(pid, true); err != nil && !errors.Is(err, errors.ErrProcessNotFound) {
			s.logger.Warn("failed to stop agent process", "pid", pid, "error", err.Error())
		}
	}
}
