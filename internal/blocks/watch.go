package blocks

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/unwatchhq/unwatch/internal/logger"
)

// Watch reloads the catalog from path whenever the file changes, until ctx
// is done. The parent directory is watched so that editors which replace
// the file by rename are picked up. A bad edit is logged and the previous
// presets stay in effect.
func (c *Catalog) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create presets watcher: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("failed to resolve presets path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch presets directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		log := logger.Ctx(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := c.Reload(abs); err != nil {
					log.Warn("Keeping previous presets", "path", abs, "error", err)
					continue
				}
				log.Info("Presets reloaded", "path", abs, "count", len(c.List()))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("Presets watcher error", "error", err)
			}
		}
	}()
	return nil
}
