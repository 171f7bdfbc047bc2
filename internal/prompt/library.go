package prompt

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/debate/internal/logging"
)

//go:embed templates/*.md
var embedded embed.FS

// Library serves prompt templates by file name. Files in the override
// directory shadow the embedded templates of the same name.
type Library struct {
	dir    string
	logger *logging.Logger

	mu       sync.RWMutex
	cache    map[string]string
	gen      uint64
	watching bool
	onReload func(name string)

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewLibrary creates a Library. An empty dir serves only the embedded
// templates.
func NewLibrary(dir string, logger *logging.Logger) *Library {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Library{
		dir:    dir,
		logger: logger,
		cache:  make(map[string]string),
	}
}

// Get returns the template named name, e.g. "planner.md".
func (l *Library) Get(name string) (string, error) {
	if name != filepath.Base(name) {
		return "", fmt.Errorf("prompt template %q must be a file name", name)
	}

	l.mu.RLock()
	text, ok := l.cache[name]
	gen := l.gen
	l.mu.RUnlock()
	if ok {
		return text, nil
	}

	text, err := l.load(name)
	if err != nil {
		return "", err
	}

	l.mu.Lock()
	if l.watching && l.gen == gen {
		l.cache[name] = text
	}
	l.mu.Unlock()
	return text, nil
}

func (l *Library) load(name string) (string, error) {
	if l.dir != "" {
		b, err := os.ReadFile(filepath.Join(l.dir, name))
		if err == nil {
			return string(b), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("read prompt template %s: %w", name, err)
		}
	}
	b, err := embedded.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("prompt template not found: %s", name)
	}
	return string(b), nil
}

// Has reports whether a template exists.
func (l *Library) Has(name string) bool {
	_, err := l.Get(name)
	return err == nil
}

// Names lists the embedded templates plus any .md files in the override
// directory.
func (l *Library) Names() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	if entries, err := fs.ReadDir(embedded, "templates"); err == nil {
		for _, e := range entries {
			add(e.Name())
		}
	}
	if l.dir != "" {
		if entries, err := os.ReadDir(l.dir); err == nil {
			for _, e := range entries {
				if !e.IsDir() && filepath.Ext(e.Name()) == ".md" {
					add(e.Name())
				}
			}
		}
	}
	return names
}

// SetReloadCallback registers fn to run after a template file changes.
func (l *Library) SetReloadCallback(fn func(name string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onReload = fn
}

// Watch starts caching templates and drops a cached template whenever its
// override file changes. It is a no-op without an override directory.
func (l *Library) Watch() error {
	if l.dir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch prompt templates: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch prompt templates in %s: %w", l.dir, err)
	}

	l.mu.Lock()
	l.watcher = watcher
	l.watching = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	l.mu.Unlock()

	go l.watchLoop()
	return nil
}

// Stop ends a Watch. Templates are read from disk again on every Get.
func (l *Library) Stop() {
	l.mu.Lock()
	if !l.watching {
		l.mu.Unlock()
		return
	}
	l.watching = false
	l.cache = make(map[string]string)
	close(l.stopCh)
	watcher, done := l.watcher, l.doneCh
	l.mu.Unlock()

	_ = watcher.Close()
	<-done
}

func (l *Library) watchLoop() {
	defer close(l.doneCh)

	// Editors often write a file in several steps; settle before reloading.
	debounce := time.NewTimer(0)
	<-debounce.C
	pending := make(map[string]bool)

	for {
		select {
		case <-l.stopCh:
			return

		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending[filepath.Base(ev.Name)] = true
			debounce.Reset(50 * time.Millisecond)

		case <-debounce.C:
			l.mu.Lock()
			cb := l.onReload
			l.gen++
			for name := range pending {
				delete(l.cache, name)
			}
			l.mu.Unlock()
			for name := range pending {
				l.logger.Debug("prompt template changed", "template", name)
				if cb != nil {
					cb(name)
				}
			}
			pending = make(map[string]bool)

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("prompt template watcher error", "error", err)
		}
	}
}
