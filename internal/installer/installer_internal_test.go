package installer

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"shipit/internal/appctx"
	"shipit/internal/config"
	"shipit/internal/installerr"
	"shipit/internal/model"
	"shipit/internal/signature"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, retryCap int) *Engine {
	t.Helper()
	ctx := appctx.NewRooted("com.example.App", t.TempDir())
	require.NoError(t, ctx.Ensure())
	cfg, err := config.NewConfigManager(filepath.Join(ctx.StateDir, "config.json"))
	require.NoError(t, err)
	require.NoError(t, cfg.SetRetryCap(retryCap))
	return New(Deps{
		Ctx:    ctx,
		Config: cfg,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, "attempt-1")
}

func TestHandlePhaseResultRetriesRecoverableUnderCap(t *testing.T) {
	e := newTestEngine(t, 3)
	state := model.NewState(model.Request{UpdateBundlePath: "/u", TargetBundlePath: "/t"})
	state.Phase = model.PhaseInstalling

	err := installerr.New(installerr.ReplacingTargetFailed, "Installing", nil)

	done, _, _ := e.handlePhaseResult(state, err)
	require.False(t, done)
	require.Equal(t, 1, state.AttemptsInPhase)
	require.Equal(t, model.PhaseInstalling, state.Phase)

	done, _, _ = e.handlePhaseResult(state, err)
	require.False(t, done)
	require.Equal(t, 2, state.AttemptsInPhase)
}

func TestHandlePhaseResultAbortsOnceCapReached(t *testing.T) {
	e := newTestEngine(t, 2)
	state := model.NewState(model.Request{UpdateBundlePath: "/u", TargetBundlePath: "/t"})
	state.Phase = model.PhaseInstalling

	err := installerr.New(installerr.ReplacingTargetFailed, "Installing", nil)

	done, _, _ := e.handlePhaseResult(state, err)
	require.False(t, done)

	done, exit, finalErr := e.handlePhaseResult(state, err)
	require.True(t, done)
	require.Equal(t, ExitRecoverable, exit)
	require.ErrorIs(t, finalErr, err)
}

func TestHandlePhaseResultAbortsImmediatelyOnNonRecoverable(t *testing.T) {
	e := newTestEngine(t, 10)
	state := model.NewState(model.Request{UpdateBundlePath: "/u", TargetBundlePath: "/t"})
	state.Phase = model.PhaseVerifyingUpdate

	err := installerr.New(installerr.SignatureDidNotPass, "VerifyingUpdate", nil)

	done, exit, finalErr := e.handlePhaseResult(state, err)
	require.True(t, done)
	require.Equal(t, ExitRecoverable, exit)
	require.ErrorIs(t, finalErr, err)
	require.Equal(t, 0, state.AttemptsInPhase)
}

func TestHandlePhaseResultAdvancesPhaseOnSuccess(t *testing.T) {
	e := newTestEngine(t, 3)
	state := model.NewState(model.Request{UpdateBundlePath: "/u", TargetBundlePath: "/t"})
	state.Phase = model.PhaseReadingSignature
	state.AttemptsInPhase = 2

	done, _, err := e.handlePhaseResult(state, nil)
	require.False(t, done)
	require.NoError(t, err)
	require.Equal(t, model.PhaseVerifyingUpdate, state.Phase)
	require.Equal(t, 0, state.AttemptsInPhase)
}

func writeTestBundle(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "payload"), []byte(content), 0o644))
}

func readTestBundle(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(path, "payload"))
	require.NoError(t, err)
	return string(data)
}

func newBackupTestEngine(t *testing.T) (*Engine, *appctx.Context, *signature.Fake) {
	t.Helper()
	ctx := appctx.NewRooted("com.example.App", t.TempDir())
	require.NoError(t, ctx.Ensure())
	cfg, err := config.NewConfigManager(filepath.Join(ctx.StateDir, "config.json"))
	require.NoError(t, err)
	fake := signature.NewFake()
	e := New(Deps{
		Ctx:      ctx,
		Verifier: fake,
		Config:   cfg,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, "attempt-1")
	return e, ctx, fake
}

func TestBackUpCopiesTargetWithoutRemovingOriginal(t *testing.T) {
	e, ctx, _ := newBackupTestEngine(t)
	target := filepath.Join(ctx.StateDir, "Target.app")
	writeTestBundle(t, target, "v1")

	state := model.NewState(model.Request{UpdateBundlePath: "/u", TargetBundlePath: target})
	state.CodeSignature = []byte("key:trusted")

	require.NoError(t, e.backUp(state))

	require.Equal(t, "v1", readTestBundle(t, target), "original target must be untouched by BackingUp")
	require.NotEmpty(t, state.BackupPath)
	require.Equal(t, "v1", readTestBundle(t, state.BackupPath))
	require.Nil(t, state.OwnedTarget, "owned_target is recorded during Installing, not BackingUp")
}

func TestBackUpReusesExistingBackupWithMatchingSignature(t *testing.T) {
	e, ctx, fake := newBackupTestEngine(t)
	target := filepath.Join(ctx.StateDir, "Target.app")
	writeTestBundle(t, target, "v1")

	backupPath := e.backupPathFor(&model.State{Request: model.Request{TargetBundlePath: target}})
	writeTestBundle(t, backupPath, "stale-but-trusted")
	fake.Sign(backupPath, "trusted")

	state := model.NewState(model.Request{UpdateBundlePath: "/u", TargetBundlePath: target})
	state.CodeSignature = []byte("key:trusted")

	require.NoError(t, e.backUp(state))

	require.Equal(t, backupPath, state.BackupPath)
	require.Equal(t, "stale-but-trusted", readTestBundle(t, backupPath), "a valid existing backup must be reused, not overwritten")
}

func TestBackUpDiscardsBackupWithMismatchedSignature(t *testing.T) {
	e, ctx, fake := newBackupTestEngine(t)
	target := filepath.Join(ctx.StateDir, "Target.app")
	writeTestBundle(t, target, "v1")

	backupPath := e.backupPathFor(&model.State{Request: model.Request{TargetBundlePath: target}})
	writeTestBundle(t, backupPath, "untrusted-leftover")
	fake.Sign(backupPath, "attacker")

	state := model.NewState(model.Request{UpdateBundlePath: "/u", TargetBundlePath: target})
	state.CodeSignature = []byte("key:trusted")

	require.NoError(t, e.backUp(state))

	require.Equal(t, "v1", readTestBundle(t, backupPath), "a backup that fails verification must be replaced with a fresh copy")
}

func TestMoveTargetAsideRecoversBookkeepingAfterUnpersistedCrash(t *testing.T) {
	e, ctx, _ := newBackupTestEngine(t)
	target := filepath.Join(ctx.StateDir, "Target.app")
	asidePath := filepath.Join(ctx.StateDir, "aside-Target.app")

	// Simulate a prior run whose rename succeeded but crashed before
	// the owned_target record was written to disk.
	writeTestBundle(t, asidePath, "v1")

	state := model.NewState(model.Request{UpdateBundlePath: "/u", TargetBundlePath: target})

	require.NoError(t, e.moveTargetAside(state))

	require.NotNil(t, state.OwnedTarget)
	require.Equal(t, asidePath, state.OwnedTarget.TemporaryPath)
	require.Equal(t, target, state.OwnedTarget.OriginalPath)
}

func TestInstallIsIdempotentWhenSecondMoveAlreadyCompleted(t *testing.T) {
	e, ctx, _ := newBackupTestEngine(t)
	target := filepath.Join(ctx.StateDir, "Target.app")
	asidePath := filepath.Join(ctx.StateDir, "aside-Target.app")
	writeTestBundle(t, asidePath, "v1")
	writeTestBundle(t, target, "v2") // the second move already landed here

	state := model.NewState(model.Request{UpdateBundlePath: filepath.Join(ctx.StateDir, "Update.app"), TargetBundlePath: target})
	state.OwnedTarget = &model.OwnedTarget{
		OriginalPath:  target,
		TemporaryPath: asidePath,
		OriginalMode:  0o755,
	}

	require.NoError(t, e.install(state))

	require.Equal(t, target, state.TargetBundlePath)
	require.Equal(t, "v2", readTestBundle(t, target), "an already-completed move must not be retried against a consumed source")
}
