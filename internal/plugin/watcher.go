package plugin

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// DefaultWatchDelay is the quiet period after the last script change
// before a plugin is restarted.
const DefaultWatchDelay = 500 * time.Millisecond

// Restarter restarts running plugins. *Manager implements Restarter.
type Restarter interface {
	IsRunning(id string) bool
	DoPluginAction(ev ActionEvent) error
}

// ScriptWatcher restarts running plugins when their Lua files change.
// Changes are coalesced per plugin: a burst of writes to one plugin causes
// a single restart once the plugin directory has been quiet for the delay.
type ScriptWatcher struct {
	dir    string
	delay  time.Duration
	target Restarter
	logger hclog.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool

	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// WatcherOption configures a ScriptWatcher.
type WatcherOption func(*ScriptWatcher)

// WithWatchDelay sets the debounce delay.
func WithWatchDelay(d time.Duration) WatcherOption {
	return func(w *ScriptWatcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithWatchLogger sets the logger.
func WithWatchLogger(l hclog.Logger) WatcherOption {
	return func(w *ScriptWatcher) {
		w.logger = l.Named("watcher")
	}
}

// NewScriptWatcher watches the plugins directory dir and every directory
// below it.
func NewScriptWatcher(dir string, target Restarter, opts ...WatcherOption) (*ScriptWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &ScriptWatcher{
		dir:     filepath.Clean(dir),
		delay:   DefaultWatchDelay,
		target:  target,
		logger:  hclog.NewNullLogger(),
		fsw:     fsw,
		pending: make(map[string]*time.Timer),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.watchTree(w.dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w.closedWg.Add(1)
	go w.processLoop()
	return w, nil
}

// watchTree watches root and all directories below it.
func (w *ScriptWatcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil // Skip errors, continue walking
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			w.logger.Warn("failed to watch directory", "path", p, "error", err)
		}
		return nil
	})
}

// Close stops the watcher and cancels pending restarts.
func (w *ScriptWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	for id, t := range w.pending {
		t.Stop()
		delete(w.pending, id)
	}
	w.mu.Unlock()

	w.closedWg.Wait()
	return w.fsw.Close()
}

// processLoop handles incoming fsnotify events.
func (w *ScriptWatcher) processLoop() {
	defer w.closedWg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *ScriptWatcher) handle(ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.watchNew(ev.Name)
			return
		}
	}
	if filepath.Ext(ev.Name) != ".lua" {
		return
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return
	}
	if id := w.pluginID(ev.Name); id != "" {
		w.schedule(id)
	}
}

// watchNew adds a directory created below the plugins directory.
func (w *ScriptWatcher) watchNew(dir string) {
	if err := w.watchTree(dir); err != nil {
		w.logger.Warn("failed to watch new directory", "path", dir, "error", err)
	}
}

// pluginID returns the id of the plugin a path belongs to.
func (w *ScriptWatcher) pluginID(path string) string {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	id, _, found := strings.Cut(filepath.ToSlash(rel), "/")
	if !found || !ValidID(id) {
		return ""
	}
	return id
}

func (w *ScriptWatcher) schedule(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.pending[id]; ok {
		t.Reset(w.delay)
		return
	}
	w.pending[id] = time.AfterFunc(w.delay, func() { w.fire(id) })
}

func (w *ScriptWatcher) fire(id string) {
	w.mu.Lock()
	delete(w.pending, id)
	closed := w.closed
	w.mu.Unlock()
	if closed || !w.target.IsRunning(id) {
		return
	}

	w.logger.Info("script changed, restarting plugin", "id", id)
	if err := w.target.DoPluginAction(ActionEvent{Action: ActionStart, ID: id}); err != nil {
		w.logger.Warn("restart failed", "id", id, "error", err)
	}
}
