package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

const (
	registryFileName = "agents.json"
	registryLockName = "agents.lock"
)

// fileLock is an flock(2) based lock shared by every debate process on
// the machine.
type fileLock struct {
	path string
	file *os.File
}

func newFileLock(dir string) *fileLock {
	return &fileLock{path: filepath.Join(dir, registryLockName)}
}

func (fl *fileLock) lock() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return fmt.Errorf("flock: %w", err)
	}
	fl.file = f
	return nil
}

func (fl *fileLock) unlock() {
	if fl.file == nil {
		return
	}
	_ = syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN)
	_ = fl.file.Close()
	fl.file = nil
}

// Registry persists the handles of running agent processes so that another
// debate invocation can list or terminate them.
type Registry struct {
	dir string
}

// NewRegistry creates a Registry storing its file in dir.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir}
}

// Load returns every registered handle.
func (r *Registry) Load() ([]Handle, error) {
	var out []Handle
	err := r.update(func(hs map[int]Handle) bool {
		for _, h := range hs {
			out = append(out, h)
		}
		return false
	})
	return out, err
}

// Put registers h, replacing any handle with the same PID.
func (r *Registry) Put(h Handle) error {
	return r.update(func(hs map[int]Handle) bool {
		hs[h.PID] = h
		return true
	})
}

// Remove forgets the handle for pid.
func (r *Registry) Remove(pid int) error {
	return r.update(func(hs map[int]Handle) bool {
		if _, ok := hs[pid]; !ok {
			return false
		}
		delete(hs, pid)
		return true
	})
}

// Prune drops handles whose process no longer exists.
func (r *Registry) Prune() error {
	return r.update(func(hs map[int]Handle) bool {
		changed := false
		for pid := range hs {
			if !processAlive(pid) {
				delete(hs, pid)
				changed = true
			}
		}
		return changed
	})
}

// update runs fn on the registry contents under the file lock and writes
// the result back when fn reports a change.
func (r *Registry) update(fn func(map[int]Handle) bool) error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	fl := newFileLock(r.dir)
	if err := fl.lock(); err != nil {
		return fmt.Errorf("acquire registry lock: %w", err)
	}
	defer fl.unlock()

	target := filepath.Join(r.dir, registryFileName)
	hs := make(map[int]Handle)
	data, err := os.ReadFile(target)
	switch {
	case err == nil:
		var list []Handle
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("decode registry: %w", err)
		}
		for _, h := range list {
			hs[h.PID] = h
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("read registry: %w", err)
	}

	if !fn(hs) {
		return nil
	}

	list := make([]Handle, 0, len(hs))
	for _, h := range hs {
		list = append(list, h)
	}
	data, err = json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// processAlive reports whether a process with pid exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
