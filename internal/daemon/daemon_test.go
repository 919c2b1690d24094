package daemon_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shipit/internal/appctx"
	"shipit/internal/config"
	"shipit/internal/daemon"
	"shipit/internal/installer"
	"shipit/internal/lock"
	"shipit/internal/model"
	"shipit/internal/record"

	"github.com/stretchr/testify/require"
)

func writeBundle(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "payload"), []byte(content), 0o644))
}

func TestRunWithNoRequestReturnsSuccessWithoutBlocking(t *testing.T) {
	ctx := appctx.NewRooted("com.example.App", t.TempDir())
	co, err := daemon.NewWithContext(ctx)
	require.NoError(t, err)
	defer co.Close()

	exit := co.Run(context.Background())
	require.Equal(t, int(installer.ExitSuccess), exit)
}

func TestRunFailsFastWhenLockAlreadyHeld(t *testing.T) {
	ctx := appctx.NewRooted("com.example.App", t.TempDir())
	co, err := daemon.NewWithContext(ctx)
	require.NoError(t, err)
	defer co.Close()

	// Take the instance lock out-of-band to simulate a concurrently
	// running shipitd for the same application.
	held, err := lock.Acquire(ctx.LockPath())
	require.NoError(t, err)
	defer held.Release()

	exit := co.Run(context.Background())
	require.Equal(t, int(installer.ExitRecoverable), exit)
}

func TestRunWithUnsignedRequestFailsClosed(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "bundles", "Target.app")
	update := filepath.Join(root, "bundles", "Update.app")
	writeBundle(t, target, "old")
	writeBundle(t, update, "new")

	ctx := appctx.NewRooted("com.example.App", root)
	require.NoError(t, ctx.Ensure())

	// Pre-seed a short grace period so the no-sentinel wait below
	// doesn't stall the test suite for the default 30s*4.
	cfg, err := config.NewConfigManager(filepath.Join(ctx.StateDir, "config.json"))
	require.NoError(t, err)
	require.NoError(t, cfg.SetRelaunchGracePeriod(1*time.Second))

	co, err := daemon.NewWithContext(ctx)
	require.NoError(t, err)
	defer co.Close()

	req := model.Request{UpdateBundlePath: update, TargetBundlePath: target}
	require.NoError(t, record.Save(ctx.RequestPath(), model.RecordVersion, req))

	// No sentinel is ever written here, so Run waits out the grace
	// period before proceeding; the real codesign binary (if present
	// on the host) is then exercised against a bundle with no actual
	// signature, which should fail closed rather than install.
	exit := co.Run(context.Background())
	require.Contains(t, []int{int(installer.ExitRecoverable), int(installer.ExitBundleLost)}, exit)
}

func TestCloseIsSafeWithoutRun(t *testing.T) {
	ctx := appctx.NewRooted("com.example.App", t.TempDir())
	co, err := daemon.NewWithContext(ctx)
	require.NoError(t, err)
	require.NoError(t, co.Close())
}
