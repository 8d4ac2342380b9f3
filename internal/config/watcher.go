package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"kamisetup/internal/logging"
)

// WatchSettings reloads s whenever its file changes on disk and calls onChange
// with the new snapshot. It watches the parent directory so atomic renames
// (including our own Save) are observed. Returns when ctx is done.
func WatchSettings(ctx context.Context, s *Settings, onChange func(SettingsData)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.Path())
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(s.Path())
	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce = time.After(100 * time.Millisecond)
		case <-debounce:
			debounce = nil
			prev := s.Snapshot()
			if err := s.Reload(); err != nil {
				logging.ConfigWarn("Settings reload failed: %v", err)
				continue
			}
			if next := s.Snapshot(); next != prev && onChange != nil {
				onChange(next)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.ConfigWarn("Settings watcher error: %v", err)
		}
	}
}
