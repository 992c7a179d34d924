package hotreload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/leslieo2/go-template-reload/internal/observability"
)

// changeOps are the operations that alter template sources or their metadata.
const changeOps = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename | fsnotify.Chmod

// Watcher monitors a directory tree and publishes one Event per change.
type Watcher struct {
	watcher   *fsnotify.Watcher
	root      string
	publisher Publisher
	logger    *observability.Logger

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	dirs       map[string]struct{}
	isWatching bool
}

// NewWatcher creates a watcher for root that hands events to publisher.
// Nothing is registered until Start is called.
func NewWatcher(root string, publisher Publisher, logger *observability.Logger) (*Watcher, error) {
	if publisher == nil {
		return nil, errors.New("watcher requires a publisher")
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		watcher:   fsWatcher,
		root:      absRoot,
		publisher: publisher,
		logger:    logger.WithComponent("watcher"),
		ctx:       ctx,
		cancel:    cancel,
		dirs:      make(map[string]struct{}),
	}, nil
}

// Root returns the absolute path being watched.
func (w *Watcher) Root() string {
	return w.root
}

// Start registers every directory under the root and begins delivering events.
// A registration failure is returned and leaves the watcher stopped.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.isWatching {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	info, err := os.Stat(w.root)
	if err != nil {
		return fmt.Errorf("failed to stat template root %s: %w", w.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("template root %s is not a directory", w.root)
	}

	if err := w.addTree(w.root); err != nil {
		return err
	}

	w.mu.Lock()
	w.isWatching = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.watch()
	w.logger.Info("File watcher started", zap.String("root", w.root), zap.Int("directories", w.DirCount()))
	return nil
}

// Stop stops watching and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	wasWatching := w.isWatching
	w.isWatching = false
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
	if err := w.watcher.Close(); err != nil {
		w.logger.Error("Failed to close file watcher", zap.Error(err))
	}
	if wasWatching {
		w.logger.Info("File watcher stopped")
	}
}

// IsWatching returns whether the watcher is currently active
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.isWatching
}

// DirCount returns the number of directories currently registered.
func (w *Watcher) DirCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.dirs)
}

// addTree registers dir and every directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk %s: %w", path, err)
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to add path %s: %w", path, err)
		}
		w.mu.Lock()
		w.dirs[path] = struct{}{}
		w.mu.Unlock()
		return nil
	})
}

func (w *Watcher) watch() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Delivery errors (for example a kernel queue overflow) are not fatal.
			w.logger.Error("Watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if isAccessOnly(event.Op) {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("Failed to watch new directory", zap.String("path", event.Name), zap.Error(err))
			}
		}
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.mu.Lock()
		delete(w.dirs, event.Name)
		w.mu.Unlock()
	}

	w.logger.Debug("File system event", zap.String("path", event.Name), zap.String("operation", event.Op.String()))
	w.publisher.Publish(Event{
		Path: event.Name,
		Op:   event.Op,
		Time: time.Now(),
	})
}

// isAccessOnly reports whether op carries no content or metadata change.
func isAccessOnly(op fsnotify.Op) bool {
	return op&changeOps == 0
}
