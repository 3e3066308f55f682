package modcache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/dmitrymomot/modserve/pkg/logger"
)

// Watch marks entries dirty as soon as their source files change under
// dirs, instead of waiting for the next mtime check. Directories created
// later are added to the watch. Watch blocks until ctx is done.
func (c *Cache) Watch(ctx context.Context, dirs ...string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return nil
			}
			return w.Add(p)
		})
		if err != nil {
			return err
		}
	}
	if ready := watchReady(ctx); ready != nil {
		close(ready)
	}

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			c.handleEvent(ctx, w, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logger.WarnContext(ctx, "module watcher error", logger.Error(err))
		}
	}
}

func (c *Cache) handleEvent(ctx context.Context, w *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = w.Add(ev.Name)
			return
		}
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
		!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	if c.Invalidate(ev.Name) {
		c.logger.DebugContext(ctx, "module source changed",
			logger.Module(Label(ev.Name), ev.Name), logger.Reason(ev.Op.String()))
	}
}

type watchReadyKey struct{}

// withWatchReady makes Watch close ch once its watches are registered.
func withWatchReady(ctx context.Context, ch chan struct{}) context.Context {
	return context.WithValue(ctx, watchReadyKey{}, ch)
}

func watchReady(ctx context.Context) chan struct{} {
	ch, _ := ctx.Value(watchReadyKey{}).(chan struct{})
	return ch
}
