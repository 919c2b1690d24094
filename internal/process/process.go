// Package process watches for the target application to quit before
// the installer touches its bundle, and for the sentinel a
// user-context watcher leaves behind once it has confirmed that exit
// from inside the user's privilege domain.
package process

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Watcher enumerates running processes belonging to a target bundle.
type Watcher struct {
	pollInterval time.Duration
}

func NewWatcher() *Watcher {
	return &Watcher{pollInterval: 500 * time.Millisecond}
}

// Running returns the PIDs of processes whose executable resolves
// under targetBundlePath. A process whose bundle identifier happens to
// match but whose executable lives outside targetBundlePath is
// ignored — multiple copies of an app with the same identifier can be
// installed side by side, and only the one being replaced matters.
func (w *Watcher) Running(targetBundlePath string) ([]int32, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}

	root, err := filepath.Abs(targetBundlePath)
	if err != nil {
		return nil, err
	}
	root = filepath.Clean(root) + string(filepath.Separator)

	var pids []int32
	for _, p := range procs {
		exe, err := p.Exe()
		if err != nil || exe == "" {
			continue
		}
		exe, err = filepath.Abs(exe)
		if err != nil {
			continue
		}
		if strings.HasPrefix(exe, root) {
			pids = append(pids, p.Pid)
		}
	}
	return pids, nil
}

// WaitUntilExited polls Running until it returns empty or ctx is
// cancelled.
func (w *Watcher) WaitUntilExited(ctx context.Context, targetBundlePath string) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		pids, err := w.Running(targetBundlePath)
		if err != nil {
			return err
		}
		if len(pids) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WriteSentinel atomically creates a zero-byte marker file at path,
// the signal a user-context watcher leaves for the privileged daemon
// once it has observed the target application quit. Writing happens
// in the user's own privilege domain, since only that context can
// reliably watch the user's own GUI process.
func WriteSentinel(path string) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// RemoveSentinel clears a prior sentinel so a later install cycle
// starts without a stale marker already present.
func RemoveSentinel(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
