package manifest

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/dittobundle/internal/logger"
)

// DefaultWatchDebounce coalesces the burst of events editors emit on save.
const DefaultWatchDebounce = 200 * time.Millisecond

// Watch reloads the manifest at path whenever it changes and passes every
// successfully parsed version to onChange. Parse failures are logged and the
// previous manifest stays in effect. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file so that
// rename-on-save editors keep triggering reloads.
func Watch(ctx context.Context, path string, debounce time.Duration, onChange func(*Manifest)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create manifest watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Manifest watcher error", logger.Err(err))

		case <-fire:
			fire = nil
			m, err := Load(abs)
			if err != nil {
				logger.Warn("Manifest reload failed, keeping previous version", logger.KeyPath, abs, logger.Err(err))
				continue
			}
			logger.Info("Manifest reloaded", logger.KeyPath, abs, logger.KeyCount, len(m.Units))
			onChange(m)
		}
	}
}
