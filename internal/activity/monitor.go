// Package activity watches instance worktrees and refreshes the
// instance's last_activity timestamp when files change. Watch errors are
// logged and never fatal: activity tracking is advisory.
package activity

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dispatchworks/dispatch/internal/logging"
	"github.com/dispatchworks/dispatch/internal/store"
)

// DefaultDebounce batches the event bursts editors and git produce for a
// single logical change.
const DefaultDebounce = 250 * time.Millisecond

// updateTimeout bounds each store write issued from the watch loop.
const updateTimeout = 5 * time.Second

// Recorder is the slice of the store the monitor writes to.
type Recorder interface {
	UpdateInstance(ctx context.Context, id string, update store.InstanceUpdate) error
}

// Monitor maps filesystem events in registered worktrees back to the
// owning instance and records activity in the store.
type Monitor struct {
	watcher  *fsnotify.Watcher
	recorder Recorder
	logger   *logging.Logger
	debounce time.Duration

	mu sync.RWMutex
	// instance id -> worktree root
	worktrees map[string]string

	stopOnce sync.Once
	stopCh   chan struct{}
}

var ignoreDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
}

// NewMonitor creates a monitor. Call Start to begin processing events.
func NewMonitor(recorder Recorder, logger *logging.Logger) (*Monitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Monitor{
		watcher:   watcher,
		recorder:  recorder,
		logger:    logger.With("component", "activity"),
		debounce:  DefaultDebounce,
		worktrees: make(map[string]string),
		stopCh:    make(chan struct{}),
	}, nil
}

// Watch registers an instance's worktree. Subdirectories are added
// recursively; directories created later are picked up from their create
// events.
func (m *Monitor) Watch(instanceID, worktreePath string) error {
	m.mu.Lock()
	m.worktrees[instanceID] = worktreePath
	m.mu.Unlock()

	if err := m.watcher.Add(worktreePath); err != nil {
		return err
	}
	return m.watchDirRecursive(worktreePath)
}

func (m *Monitor) watchDirRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if path != root && ignoredBase(filepath.Base(path)) {
			return filepath.SkipDir
		}
		_ = m.watcher.Add(path)
		return nil
	})
}

// Unwatch removes an instance from tracking. Pending events for it are
// dropped at flush time.
func (m *Monitor) Unwatch(instanceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	root, ok := m.worktrees[instanceID]
	if !ok {
		return
	}
	_ = m.watcher.Remove(root)
	delete(m.worktrees, instanceID)
}

// Start launches the watch loop.
func (m *Monitor) Start() {
	go m.watchLoop()
}

// Stop shuts the loop and the underlying watcher down. Safe to call more
// than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		_ = m.watcher.Close()
	})
}

func (m *Monitor) watchLoop() {
	flush := time.NewTimer(0)
	if !flush.Stop() {
		<-flush.C
	}

	// instance id -> time of the newest pending event
	pending := make(map[string]time.Time)

	for {
		select {
		case <-m.stopCh:
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			id, rel := m.resolveInstance(event.Name)
			if id == "" || ignoredPath(rel) {
				continue
			}
			// New directories do not inherit the watch.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = m.watchDirRecursive(event.Name)
				}
			}
			pending[id] = time.Now()
			flush.Reset(m.debounce)

		case <-flush.C:
			m.record(pending)
			pending = make(map[string]time.Time)

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("watch error", "err", err)
		}
	}
}

// resolveInstance maps an event path to the instance owning the deepest
// matching worktree root, returning the path relative to that root.
func (m *Monitor) resolveInstance(path string) (id, rel string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matchedRoot string
	for candidate, root := range m.worktrees {
		if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
			continue
		}
		if len(root) > len(matchedRoot) {
			id = candidate
			matchedRoot = root
		}
	}
	if id == "" {
		return "", ""
	}
	rel, err := filepath.Rel(matchedRoot, path)
	if err != nil {
		return "", ""
	}
	return id, rel
}

func (m *Monitor) record(pending map[string]time.Time) {
	for id, at := range pending {
		m.mu.RLock()
		_, tracked := m.worktrees[id]
		m.mu.RUnlock()
		if !tracked {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
		err := m.recorder.UpdateInstance(ctx, id, store.InstanceUpdate{
			LastActivity: store.Time(at),
		})
		cancel()
		if err != nil {
			m.logger.Warn("failed to record activity", "instance_id", id, "err", err)
			continue
		}
		m.logger.Debug("activity recorded", "instance_id", id)
	}
}

// ignoredPath filters event noise: anything under an ignored or hidden
// directory, and hidden files themselves.
func ignoredPath(path string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if ignoredBase(part) {
			return true
		}
	}
	return false
}

func ignoredBase(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if ignoreDirs[name] {
		return true
	}
	return strings.HasPrefix(name, ".")
}
