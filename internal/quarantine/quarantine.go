// Package quarantine clears the macOS "downloaded file" quarantine
// extended attribute from an update bundle before install. The operation is idempotent and per-file
// failures are logged, never fatal — a stripped or already-clear
// attribute is not an error.
package quarantine

import (
	"context"
	"io/fs"
	"log/slog"
	"os/exec"
	"path/filepath"
	"time"
)

const attrName = "com.apple.quarantine"

// Clearer removes the quarantine attribute recursively from a bundle.
type Clearer struct {
	logger  *slog.Logger
	timeout time.Duration
}

func NewClearer(logger *slog.Logger) *Clearer {
	return &Clearer{logger: logger, timeout: 30 * time.Second}
}

// Clear attempts the fast batch removal first (`xattr -dr`), and falls
// back to a per-file walk if the batch form is unavailable or fails
// outright, so that one uncooperative file never blocks the whole
// bundle from launching unprompted.
func (c *Clearer) Clear(root string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "xattr", "-dr", attrName, root)
	if err := cmd.Run(); err == nil {
		return nil
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			c.logger.Warn("quarantine: could not stat path", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		fctx, fcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer fcancel()
		cmd := exec.CommandContext(fctx, "xattr", "-d", attrName, path)
		if err := cmd.Run(); err != nil {
			// Most common cause: the attribute was never set on this
			// file. Not an error worth surfacing.
			c.logger.Debug("quarantine: clear skipped", "path", path, "error", err)
		}
		return nil
	})
}
