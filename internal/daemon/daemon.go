// Package daemon wires together an installer run: it resolves the
// application's state directory, takes the single-instance lock,
// waits (for a bounded time) for the target application to quit, and drives the installer
// state machine to completion, mapping its result onto the process
// exit codes the daemon entrypoint returns to the OS.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"shipit/internal/appctx"
	"shipit/internal/audit"
	"shipit/internal/config"
	"shipit/internal/installer"
	"shipit/internal/launch"
	"shipit/internal/lock"
	"shipit/internal/logging"
	"shipit/internal/process"
	"shipit/internal/quarantine"
	"shipit/internal/record"
	"shipit/internal/signature"
	"shipit/internal/statusapi"
)

// Coordinator owns one daemon run's lifecycle, from acquiring the
// instance lock through running the installer engine.
type Coordinator struct {
	ctx      *appctx.Context
	logger   *slog.Logger
	launcher *launch.Launcher
	config   *config.ConfigManager
	history  *audit.History
}

// New builds a Coordinator for appID, creating the state directory
// tree and opening the daemon's logger, config store, and audit
// database. Callers must call Close when the run is finished.
func New(appID string) (*Coordinator, error) {
	ctx, err := appctx.New(appID)
	if err != nil {
		return nil, fmt.Errorf("daemon: resolving app context: %w", err)
	}
	return NewWithContext(ctx)
}

// NewWithContext builds a Coordinator rooted at an already-constructed
// Context, letting tests point it at a temp directory instead of the
// real per-user state directory.
func NewWithContext(ctx *appctx.Context) (*Coordinator, error) {
	if err := ctx.Ensure(); err != nil {
		return nil, fmt.Errorf("daemon: preparing state dir: %w", err)
	}

	stdoutFile, err := os.OpenFile(ctx.StdoutLogPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("daemon: opening stdout log: %w", err)
	}
	auditFile, err := os.OpenFile(filepath.Join(ctx.StateDir, "shipit.audit.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("daemon: opening audit log: %w", err)
	}
	logger := logging.New(os.Stderr, stdoutFile, auditFile)

	cfg, err := config.NewConfigManager(filepath.Join(ctx.StateDir, "config.json"))
	if err != nil {
		return nil, fmt.Errorf("daemon: loading config: %w", err)
	}

	history, err := audit.Open(ctx.AuditDBPath())
	if err != nil {
		return nil, fmt.Errorf("daemon: opening audit database: %w", err)
	}

	return &Coordinator{ctx: ctx, logger: logger, launcher: launch.NewLauncher(logger), config: cfg, history: history}, nil
}

// Close releases the audit database connection.
func (c *Coordinator) Close() error {
	if c.history != nil {
		return c.history.Close()
	}
	return nil
}

// Run acquires the single-instance lock and, when a request is on disk,
// waits for the sentinel confirming the target application has quit.
// That wait lasts at most four times the relaunch grace period; once it
// times out, Run logs a warning and proceeds without the confirmation.
// It then drives the installer to completion and returns the process
// exit code the caller (cmd/shipitd) should use.
func (c *Coordinator) Run(ctx context.Context) int {
	heldLock, err := lock.Acquire(c.ctx.LockPath())
	if err != nil {
		if err == lock.ErrHeld {
			c.logger.Error("another shipitd instance is already running for this app")
			return int(installer.ExitRecoverable)
		}
		c.logger.Error("failed to acquire instance lock", "error", err)
		return int(installer.ExitRecoverable)
	}
	defer heldLock.Release()

	if port := c.config.GetStatusAPIPort(); port > 0 {
		status := statusapi.New(c.ctx, c.history)
		if err := status.Start(port); err != nil {
			c.logger.Warn("status endpoint failed to bind, continuing without it", "port", port, "error", err)
		}
	}

	if record.Exists(c.ctx.RequestPath()) {
		if err := c.waitForTargetToQuit(ctx); err != nil {
			c.logger.Warn("proceeding without confirmed quit", "error", err)
		}
	}

	verifier := signature.NewCodesignVerifier()
	deps := installer.Deps{
		Ctx:        c.ctx,
		Verifier:   verifier,
		Quarantine: quarantine.NewClearer(c.logger),
		Launcher:   c.launcher,
		Config:     c.config,
		History:    c.history,
		Logger:     c.logger,
	}

	eng := installer.New(deps, uuid.NewString())
	exit, err := eng.Run(ctx)
	if err != nil {
		c.logger.Error("install attempt ended", "exit_code", int(exit), "error", err)
	} else {
		c.logger.Info("install attempt ended", "exit_code", int(exit))
	}
	return int(exit)
}

func (c *Coordinator) waitForTargetToQuit(ctx context.Context) error {
	_ = process.RemoveSentinel(c.ctx.SentinelPath())

	waitCtx, cancel := context.WithTimeout(ctx, c.config.GetRelaunchGracePeriod()*4)
	defer cancel()
	return process.WaitForSentinel(waitCtx, c.ctx.SentinelPath(), 500*time.Millisecond)
}
