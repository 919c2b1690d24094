// Package launch relaunches the installed bundle once the state
// machine reaches PhaseRelaunching. Relaunch shells out to the
// platform's `open` command rather than exec'ing the binary directly.
// The command runs as whatever user the daemon runs as; it does not
// switch to the logged-in console user.
package launch

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// execCommandFunc is a command-constructor seam so relaunching can be
// exercised in tests without touching a real login session.
type execCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

func defaultExecCommand(ctx context.Context, name string, arg ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, arg...)
}

// Launcher relaunches a bundle with `open`, as the daemon's own user.
type Launcher struct {
	logger      *slog.Logger
	execCommand execCommandFunc
	timeout     time.Duration
}

func NewLauncher(logger *slog.Logger) *Launcher {
	return &Launcher{
		logger:      logger,
		execCommand: defaultExecCommand,
		timeout:     10 * time.Second,
	}
}

// SetExecCommand overrides the command constructor, for tests.
func (l *Launcher) SetExecCommand(fn execCommandFunc) { l.execCommand = fn }

// Relaunch runs `open bundlePath` as the daemon's own user. Relaunch
// failure is never fatal to the install: the bundle is
// already in place and correct, the user can always double-click it.
func (l *Launcher) Relaunch(ctx context.Context, bundlePath string) error {
	lctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	cmd := l.execCommand(lctx, "open", bundlePath)
	if err := cmd.Run(); err != nil {
		l.logger.Warn("relaunch failed", "bundle", bundlePath, "error", err)
		return fmt.Errorf("launch: relaunching %s: %w", bundlePath, err)
	}
	l.logger.Info("relaunched bundle", "bundle", bundlePath)
	return nil
}
