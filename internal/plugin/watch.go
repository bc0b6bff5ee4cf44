package plugin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"kiromemory/internal/logging"
)

const (
	watchDebounce = 500 * time.Millisecond
	watchSweep    = 100 * time.Millisecond
)

// watcher drives hot reload of interpreted plugins under one root directory.
// Events are debounced per plugin so a burst of writes from an editor save
// turns into a single reload.
type watcher struct {
	host *Host
	root string
	fs   *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]time.Time

	stopc chan struct{}
	donec chan struct{}
}

// Watch starts hot reload on the user plugin directory. It is a no-op when
// a watcher is already running or the directory cannot be watched.
func (h *Host) Watch(ctx context.Context, dir string) error {
	if h.watch != nil {
		return nil
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fs.Add(dir); err != nil {
		fs.Close()
		return err
	}
	// Watch existing plugin sub-directories too; fsnotify is not recursive.
	if entries, err := os.ReadDir(dir); err == nil {
		for _, ent := range entries {
			if ent.IsDir() {
				_ = fs.Add(filepath.Join(dir, ent.Name()))
			}
		}
	}

	w := &watcher{
		host:    h,
		root:    dir,
		fs:      fs,
		pending: map[string]time.Time{},
		stopc:   make(chan struct{}),
		donec:   make(chan struct{}),
	}
	h.watch = w
	go w.run(ctx)
	logging.Get(logging.CategoryPlugin).Infow("plugin hot reload active", "dir", dir)
	return nil
}

func (w *watcher) stop() {
	close(w.stopc)
	<-w.donec
	_ = w.fs.Close()
}

func (w *watcher) run(ctx context.Context) {
	defer close(w.donec)

	sweep := time.NewTicker(watchSweep)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopc:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryPlugin).Warnw("plugin watcher error", "error", err)
		case <-sweep.C:
			w.settle(ctx)
		}
	}
}

// handleEvent maps a filesystem event to the plugin directory it belongs to
// and records it for debounced processing.
func (w *watcher) handleEvent(event fsnotify.Event) {
	name := w.pluginDirName(event.Name)
	if name == "" {
		return
	}
	base := filepath.Base(event.Name)
	isSource := base == ManifestName || strings.HasSuffix(base, ".go")
	isDirEvent := base == name

	if !isSource && !isDirEvent {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	// A newly created plugin directory needs its own watch.
	if isDirEvent && event.Op&fsnotify.Create != 0 {
		_ = w.fs.Add(event.Name)
	}

	w.mu.Lock()
	w.pending[name] = time.Now()
	w.mu.Unlock()
}

// settle reloads plugins whose last event is older than the debounce window.
func (w *watcher) settle(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for name, at := range w.pending {
		if now.Sub(at) >= watchDebounce {
			ready = append(ready, name)
			delete(w.pending, name)
		}
	}
	w.mu.Unlock()

	for _, name := range ready {
		w.apply(ctx, name)
	}
}

// apply reconciles one plugin directory: reload when it still carries a
// manifest, register it when it is new, drop it when the directory is gone.
func (w *watcher) apply(ctx context.Context, dirName string) {
	log := logging.Get(logging.CategoryPlugin)
	dir := filepath.Join(w.root, dirName)

	if _, err := os.Stat(filepath.Join(dir, ManifestName)); err != nil {
		w.host.dropByOrigin(ctx, dir)
		return
	}

	if name, ok := w.host.nameByOrigin(dir); ok {
		if err := w.host.Reload(ctx, name); err != nil {
			log.Warnw("plugin reload failed", "name", name, "error", err)
		}
		return
	}

	p, err := loadInterpreted(dir)
	if err != nil {
		log.Warnw("new plugin failed to load", "dir", dir, "error", err)
		return
	}
	if err := w.host.Register(p, dir); err != nil {
		log.Warnw("new plugin rejected", "name", p.Name(), "error", err)
		return
	}
	if err := w.host.initOne(ctx, p.Name()); err != nil {
		log.Warnw("new plugin init failed", "name", p.Name(), "error", err)
	}
	w.host.updateActiveGauge()
}

// pluginDirName extracts the first path element under the watch root, or ""
// when the path is outside it.
func (w *watcher) pluginDirName(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.Split(rel, string(filepath.Separator))
	return parts[0]
}

// nameByOrigin finds the registered plugin loaded from dir.
func (h *Host) nameByOrigin(dir string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for name, e := range h.entries {
		if e.origin == dir {
			return name, true
		}
	}
	return "", false
}

// dropByOrigin destroys and unregisters the plugin loaded from dir.
func (h *Host) dropByOrigin(ctx context.Context, dir string) {
	name, ok := h.nameByOrigin(dir)
	if !ok {
		return
	}
	h.destroyOne(ctx, name)
	h.mu.Lock()
	delete(h.entries, name)
	h.mu.Unlock()
	h.updateActiveGauge()
	logging.Get(logging.CategoryPlugin).Infow("plugin removed", "name", name)
}
