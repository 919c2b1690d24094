package process

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WaitForSentinel blocks until the file at path exists, signaling that
// the user-context watcher has confirmed the target application quit.
// It prefers fsnotify on the containing directory over a plain poll
// loop; if the watcher cannot be started (e.g. inotify limits
// exhausted) it falls back to polling so the daemon never blocks
// forever on a missing kernel facility.
func WaitForSentinel(ctx context.Context, path string, pollInterval time.Duration) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return pollForSentinel(ctx, path, pollInterval)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return pollForSentinel(ctx, path, pollInterval)
	}

	// The file may have appeared between the initial Stat and Add.
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return pollForSentinel(ctx, path, pollInterval)
			}
			if event.Name == path && (event.Op&(fsnotify.Create|fsnotify.Write) != 0) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok || err != nil {
				return pollForSentinel(ctx, path, pollInterval)
			}
		case <-ticker.C:
			// Belt-and-braces: some filesystems (network mounts, certain
			// container overlays) never deliver inotify events.
			if _, err := os.Stat(path); err == nil {
				return nil
			}
		}
	}
}

func pollForSentinel(ctx context.Context, path string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
