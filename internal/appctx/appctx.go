// Package appctx carries the explicit context a daemon run operates
// under: the application identifier and the root of its on-disk state
// directory. Production builds derive one from the host process's
// identity; tests construct one rooted at t.TempDir(). Nothing in this
// module reaches for a package-level global instead.
package appctx

import (
	"os"
	"path/filepath"
)

// Context identifies one application's installer state on disk.
type Context struct {
	AppID   string
	StateDir string // <user-writable-state-dir>/<AppID>
}

// New resolves the state directory layout for the given application
// identifier, rooted beneath the OS's per-user config directory.
func New(appID string) (*Context, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	return &Context{
		AppID:    appID,
		StateDir: filepath.Join(base, "ShipIt", appID),
	}, nil
}

// NewRooted builds a Context rooted at an arbitrary directory, used by
// tests to avoid touching the real per-user config directory.
func NewRooted(appID, root string) *Context {
	return &Context{AppID: appID, StateDir: filepath.Join(root, appID)}
}

// Ensure creates the state directory (and its downloads/ subdirectory)
// if absent.
func (c *Context) Ensure() error {
	if err := os.MkdirAll(c.DownloadsDir(), 0o755); err != nil {
		return err
	}
	return nil
}

func (c *Context) RequestPath() string   { return filepath.Join(c.StateDir, "shipit_request") }
func (c *Context) StatePath() string     { return filepath.Join(c.StateDir, "shipit_state") }
func (c *Context) LockPath() string      { return filepath.Join(c.StateDir, "shipit.lock") }
func (c *Context) SentinelPath() string  { return filepath.Join(c.StateDir, "shipit.sentinel") }
func (c *Context) StdoutLogPath() string { return filepath.Join(c.StateDir, "shipit.stdout") }
func (c *Context) StderrLogPath() string { return filepath.Join(c.StateDir, "shipit.stderr") }
func (c *Context) DownloadsDir() string  { return filepath.Join(c.StateDir, "downloads") }
func (c *Context) AuditDBPath() string   { return filepath.Join(c.StateDir, "shipit_audit.db") }
