package coordinator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"grimm.is/knockgate/internal/logging"
)

// DefaultDebounce is the quiet period after the last change before a
// reload fires.
const DefaultDebounce = 500 * time.Millisecond

// Watcher triggers a reload when the config file changes. The parent
// directory is watched so editors that replace the file by rename are
// noticed too.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	reload   func(context.Context) error
	debounce time.Duration
	logger   *logging.Logger
}

// NewWatcher watches path and calls reload after each burst of changes.
func NewWatcher(path string, reload func(context.Context) error) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", abs, err)
	}
	return &Watcher{
		watcher:  w,
		path:     abs,
		reload:   reload,
		debounce: DefaultDebounce,
		logger:   logging.WithComponent("watcher"),
	}, nil
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				w.logger.Info("config file changed", "path", w.path)
				_ = w.reload(ctx)
			})
			mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}
