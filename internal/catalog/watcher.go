package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kuda/internal/logging"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// Watcher keeps a Catalog's cache fresh by invalidating it whenever the
// plugins or assets directories (or their immediate subdirectories) change.
type Watcher struct {
	catalog  *Catalog
	debounce time.Duration
	logger   *logging.Logger
	watcher  *fsnotify.Watcher

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	mu      sync.Mutex
	timer   *time.Timer
	missing map[string]bool // roots removed since Start; caching is off while non-empty
}

// NewWatcher creates a watcher for c. Events closer together than debounce
// collapse into a single invalidation.
func NewWatcher(c *Catalog, debounce time.Duration, logger *logging.Logger) (*Watcher, error) {
	if c == nil {
		return nil, errors.New("catalog is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	return &Watcher{
		catalog:  c,
		debounce: debounce,
		logger:   logger.Named("catalog.watcher"),
		watcher:  fw,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		missing:  make(map[string]bool),
	}, nil
}

// Start begins watching and enables the catalog cache. Directories that
// do not exist yet are created so they can be watched. The parent of each
// directory is watched too, so a root that is removed and re-created is
// picked up again.
func (w *Watcher) Start(ctx context.Context) error {
	for _, dir := range w.roots() {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
		if err := w.watcher.Add(filepath.Dir(dir)); err != nil {
			return fmt.Errorf("watching %s: %w", filepath.Dir(dir), err)
		}
		if err := w.addTree(dir); err != nil {
			return err
		}
	}

	w.catalog.setCaching(true)
	go w.processEvents(ctx)

	w.logger.Info(ctx, "watching catalog directories",
		zap.String("plugins", w.catalog.pluginsDir),
		zap.String("assets", w.catalog.assetsDir))
	return nil
}

// addTree watches dir and its immediate subdirectories.
func (w *Watcher) addTree(dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			// Best effort: a subdirectory may vanish between ReadDir and Add.
			_ = w.watcher.Add(filepath.Join(dir, e.Name()))
		}
	}
	return nil
}

// Stop stops watching and disables the catalog cache.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		w.catalog.setCaching(false)
	})
}

// Done is closed once the event loop has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "catalog watcher error", zap.Error(err))
			w.catalog.Invalidate()
		}
	}
}

func (w *Watcher) roots() []string {
	return []string{filepath.Clean(w.catalog.pluginsDir), filepath.Clean(w.catalog.assetsDir)}
}

func (w *Watcher) isRoot(path string) bool {
	path = filepath.Clean(path)
	for _, r := range w.roots() {
		if path == r {
			return true
		}
	}
	return false
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	w.logger.Trace(ctx, "catalog event", zap.String("path", event.Name), zap.String("op", event.Op.String()))

	if w.isRoot(event.Name) {
		w.handleRootEvent(ctx, event)
		return
	}
	if !w.isWatchedPath(event.Name) {
		// Sibling of a root in a watched parent directory.
		return
	}

	if event.Has(fsnotify.Create) && w.isTopLevel(event.Name) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.watcher.Add(event.Name)
		}
	}
	w.scheduleInvalidate()
}

// handleRootEvent tracks a root directory disappearing and coming back.
// While any root is missing its watch is gone, so caching is turned off.
func (w *Watcher) handleRootEvent(ctx context.Context, event fsnotify.Event) {
	root := filepath.Clean(event.Name)
	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		w.mu.Lock()
		w.missing[root] = true
		w.mu.Unlock()
		w.logger.Warn(ctx, "catalog directory removed, caching disabled", zap.String("path", root))
		w.catalog.setCaching(false)
	case event.Has(fsnotify.Create):
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			return
		}
		if err := w.addTree(root); err != nil {
			w.logger.Warn(ctx, "re-watching catalog directory", zap.String("path", root), zap.Error(err))
			w.catalog.Invalidate()
			return
		}
		w.mu.Lock()
		delete(w.missing, root)
		resume := len(w.missing) == 0
		w.mu.Unlock()
		if resume {
			w.logger.Info(ctx, "catalog directory re-created, caching enabled", zap.String("path", root))
			w.catalog.setCaching(true)
			return
		}
		w.catalog.Invalidate()
	default:
		w.scheduleInvalidate()
	}
}

// isWatchedPath reports whether path lies inside one of the roots.
func (w *Watcher) isWatchedPath(path string) bool {
	path = filepath.Clean(path)
	for _, r := range w.roots() {
		if rel, err := filepath.Rel(r, path); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) isTopLevel(path string) bool {
	parent := filepath.Clean(filepath.Dir(path))
	return parent == filepath.Clean(w.catalog.pluginsDir) || parent == filepath.Clean(w.catalog.assetsDir)
}

func (w *Watcher) scheduleInvalidate() {
	// Invalidate right away so no request sees stale data, then again once
	// the burst settles to drop results scanned mid-burst.
	w.catalog.Invalidate()
	if w.debounce <= 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.catalog.Invalidate)
}
