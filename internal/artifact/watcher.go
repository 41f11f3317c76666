package artifact

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher invalidates a Cache whenever files in the artifact directory
// change, debounced so a multi-file artifact refresh triggers one reload.
type Watcher struct {
	watcher  *fsnotify.Watcher
	cache    *Cache
	logger   *zap.Logger
	debounce time.Duration
}

// NewWatcher constructs a watcher over the cache's artifact directory.
func NewWatcher(cache *Cache, debounce time.Duration, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact watcher: %w", err)
	}
	if err := fsWatcher.Add(cache.Dir()); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch artifact directory %s: %w", cache.Dir(), err)
	}

	return &Watcher{watcher: fsWatcher, cache: cache, logger: logger, debounce: debounce}, nil
}

// Watch blocks until the context is cancelled, invalidating the cache after
// each debounced burst of filesystem events.
func (w *Watcher) Watch(ctx context.Context) error {
	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			pending = timer.C
		case <-pending:
			pending = nil
			w.cache.Invalidate()
			w.logger.Info("artifact cache invalidated",
				zap.String("op", "artifact.Watch"),
				zap.String("dir", w.cache.Dir()),
			)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("artifact watcher error",
				zap.String("op", "artifact.Watch"),
				zap.Error(err),
			)
		}
	}
}

// Close releases the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
