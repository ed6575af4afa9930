package rules

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"defgen/internal/logging"
)

// Guard vets a freshly loaded catalog before it replaces the live one.
type Guard func(*Catalog) error

// Watcher reloads a catalog file into a Store when it changes on disk.
// A reload that fails to load or is rejected by the guard leaves the
// previous snapshot in place.
type Watcher struct {
	mu           sync.Mutex
	watcher      *fsnotify.Watcher
	store        *Store
	path         string
	matchTimeout time.Duration
	debounceDur  time.Duration
	guard        Guard
	pending      time.Time
	stopCh       chan struct{}
	doneCh       chan struct{}
	running      bool

	stats WatcherStats
}

// WatcherStats counts reload activity.
type WatcherStats struct {
	Reloads     int
	Failures    int
	LastError   string
	LastVersion string
}

// NewWatcher creates a watcher for the catalog file at path.
func NewWatcher(path string, store *Store, matchTimeout time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:      fw,
		store:        store,
		path:         filepath.Clean(path),
		matchTimeout: matchTimeout,
		debounceDur:  250 * time.Millisecond,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}, nil
}

// SetDebounce changes how long the watcher waits for writes to settle.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounceDur = d
}

// SetGuard installs a check every reloaded catalog must pass.
func (w *Watcher) SetGuard(g Guard) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.guard = g
}

// Start begins watching. It is non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Editors replace files via rename, so watch the directory.
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	logging.Catalog("CatalogWatcher: watching %s", w.path)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryCatalog).Error("CatalogWatcher: error closing watcher: %v", err)
	}
	logging.Catalog("CatalogWatcher: stopped")
}

// Stats returns a copy of the reload counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryCatalog).Error("CatalogWatcher error: %v", err)
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	logging.CatalogDebug("CatalogWatcher: %s on %s", event.Op, event.Name)

	w.mu.Lock()
	w.pending = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if w.pending.IsZero() || time.Since(w.pending) < w.debounceDur {
		w.mu.Unlock()
		return
	}
	w.pending = time.Time{}
	w.mu.Unlock()

	w.Reload()
}

// Reload loads the file immediately and swaps it in when it loads and
// passes the guard.
func (w *Watcher) Reload() {
	w.mu.Lock()
	guard := w.guard
	w.mu.Unlock()

	cat, err := LoadFile(w.path, w.matchTimeout)
	if err == nil && guard != nil {
		err = guard(cat)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.stats.Failures++
		w.stats.LastError = err.Error()
		logging.Get(logging.CategoryCatalog).Warn("CatalogWatcher: reload rejected, keeping %s: %v", versionOf(w.store.Current()), err)
		return
	}
	w.stats.Reloads++
	w.stats.LastVersion = cat.Version()
	prev := w.store.Swap(cat)
	logging.Catalog("CatalogWatcher: catalog %s -> %s", versionOf(prev), cat.Version())
}

func versionOf(c *Catalog) string {
	if c == nil {
		return "<none>"
	}
	return c.Version()
}
