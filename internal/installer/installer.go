// Package installer drives the crash-tolerant installer state machine:
// a fixed sequence of phases that moves (or, across volumes, copies) a
// verified, signed update bundle into the currently installed target's
// place, persisting its
// position durably after every transition so a crash or forced-quit
// mid-install resumes exactly where it left off instead of repeating a
// side effect or losing the target bundle.
package installer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"shipit/internal/appctx"
	"shipit/internal/audit"
	"shipit/internal/config"
	"shipit/internal/diskutil"
	"shipit/internal/installerr"
	"shipit/internal/launch"
	"shipit/internal/model"
	"shipit/internal/quarantine"
	"shipit/internal/record"
	"shipit/internal/semverinfo"
	"shipit/internal/signature"
)

// ExitCode is one of the three values the daemon entrypoint returns to
// its caller.
type ExitCode int

const (
	ExitSuccess     ExitCode = 0 // installed, or nothing to do
	ExitRecoverable ExitCode = 1 // aborted; target bundle intact
	ExitBundleLost  ExitCode = 2 // aborted; target bundle could not be restored
)

// Deps bundles every collaborator the engine needs. Tests substitute a
// fake Verifier and leave Launcher nil (which skips relaunching);
// everything else operates on real paths under a temp directory.
type Deps struct {
	Ctx        *appctx.Context
	Verifier   signature.Verifier
	Quarantine *quarantine.Clearer
	Launcher   *launch.Launcher
	Config     *config.ConfigManager
	History    *audit.History // optional; nil disables audit logging
	Logger     *slog.Logger
}

// Engine runs one install attempt to completion, resuming from
// whatever State is already on disk.
type Engine struct {
	deps      Deps
	attemptID string
}

func New(deps Deps, attemptID string) *Engine {
	return &Engine{deps: deps, attemptID: attemptID}
}

// Run executes phases until the install finishes, aborts, or the
// context is cancelled. It always returns an ExitCode even on error,
// since the daemon entrypoint maps both into a process exit status.
func (e *Engine) Run(ctx context.Context) (ExitCode, error) {
	state, err := e.loadOrInitState()
	if err != nil {
		return ExitRecoverable, err
	}
	if state == nil {
		return ExitSuccess, nil // no request on disk: nothing to do
	}

	for {
		if err := ctx.Err(); err != nil {
			return ExitRecoverable, err
		}

		if state.Phase == model.PhaseIdle {
			// Freshly seeded state; enter the sequence.
			state.Phase = model.PhaseReadingSignature
			if err := e.persist(state); err != nil {
				return ExitRecoverable, err
			}
		}

		if !state.Phase.Valid() {
			return e.abort(state, installerr.New(installerr.InvalidState, "Resume",
				fmt.Errorf("unknown phase %d", int(state.Phase))))
		}

		stepErr := e.runPhase(ctx, state)
		done, exit, err := e.handlePhaseResult(state, stepErr)
		if done {
			return exit, err
		}
	}
}

// handlePhaseResult applies one phase's outcome to state: on success it
// advances (or finalizes), on a non-recoverable error it aborts
// immediately, and on a recoverable error it either persists the
// incremented attempt count for a retry or aborts once the configured
// cap is reached. The returned bool reports whether Run should stop.
func (e *Engine) handlePhaseResult(state *model.State, stepErr error) (bool, ExitCode, error) {
	if stepErr == nil {
		e.logAttempt(state, "succeeded", "")
		state.AttemptsInPhase = 0

		if state.Phase == model.PhaseRelaunching {
			exit, err := e.finalize(state)
			return true, exit, err
		}

		next, _ := state.Phase.Next()
		state.Phase = next
		if err := e.persist(state); err != nil {
			return true, ExitRecoverable, err
		}
		return false, ExitSuccess, nil
	}

	code, _ := installerr.CodeOf(stepErr)
	e.logAttempt(state, "failed", string(code))

	if !code.Recoverable() {
		exit, err := e.abort(state, stepErr)
		return true, exit, err
	}

	retryCap := e.deps.Config.GetRetryCap()
	state.AttemptsInPhase++
	if state.AttemptsInPhase >= retryCap {
		exit, err := e.abort(state, stepErr)
		return true, exit, err
	}
	if err := e.persist(state); err != nil {
		return true, ExitRecoverable, err
	}
	return false, ExitSuccess, nil
}

func (e *Engine) loadOrInitState() (*model.State, error) {
	ctx := e.deps.Ctx
	if record.Exists(ctx.StatePath()) {
		var st model.State
		if err := record.Load(ctx.StatePath(), model.RecordVersion, &st); err != nil {
			return nil, installerr.New(installerr.InvalidState, "Resume", err)
		}
		return &st, nil
	}

	if !record.Exists(ctx.RequestPath()) {
		return nil, nil
	}
	var req model.Request
	if err := record.Load(ctx.RequestPath(), model.RecordVersion, &req); err != nil {
		return nil, installerr.New(installerr.MissingInstallationData, "Start", err)
	}
	if err := req.Validate(); err != nil {
		return nil, installerr.New(installerr.MissingInstallationData, "Start", err)
	}
	st := model.NewState(req)
	if err := e.persist(st); err != nil {
		return nil, err
	}
	return st, nil
}

func (e *Engine) persist(state *model.State) error {
	return record.Save(e.deps.Ctx.StatePath(), model.RecordVersion, state)
}

func (e *Engine) logAttempt(state *model.State, outcome, errCode string) {
	if e.deps.History == nil {
		return
	}
	e.deps.History.Record(e.attemptID, state.BundleIdentifier, state.Phase, state.AttemptsInPhase, outcome, errCode)
}

func (e *Engine) runPhase(ctx context.Context, state *model.State) error {
	switch state.Phase {
	case model.PhaseReadingSignature:
		return e.readSignature(state)
	case model.PhaseVerifyingUpdate:
		return e.verifyUpdate(state)
	case model.PhaseClearingQuarantine:
		return e.clearQuarantine(state)
	case model.PhaseBackingUp:
		return e.backUp(state)
	case model.PhaseInstalling:
		return e.install(state)
	case model.PhaseVerifyingInPlace:
		return e.verifyInPlace(state)
	case model.PhaseRelaunching:
		return e.relaunch(ctx, state)
	default:
		return installerr.New(installerr.InvalidState, "Resume", fmt.Errorf("unhandled phase %s", state.Phase))
	}
}

// readSignature captures the currently installed target's designated
// requirement once. Everything downstream trusts this captured value,
// never a fresh read of a bundle that could have been tampered with
// mid-install.
func (e *Engine) readSignature(state *model.State) error {
	if state.CodeSignature != nil {
		return nil // already captured; resuming after a crash
	}
	if _, err := os.Stat(state.TargetBundlePath); err != nil {
		return installerr.New(installerr.CouldNotOpenTarget, "ReadingSignature", err)
	}
	req, err := e.deps.Verifier.Capture(state.TargetBundlePath)
	if err != nil {
		return err
	}
	state.CodeSignature = req
	return nil
}

// verifyUpdate confirms the candidate bundle satisfies the captured
// requirement before anything about the target is touched.
func (e *Engine) verifyUpdate(state *model.State) error {
	if _, err := os.Stat(state.UpdateBundlePath); err != nil {
		return installerr.New(installerr.MissingInstallationData, "VerifyingUpdate", err)
	}
	if err := e.deps.Verifier.Verify(state.UpdateBundlePath, signature.Requirement(state.CodeSignature)); err != nil {
		return err
	}

	// Advisory only: a bundle that fails to report a newer version is
	// still installed once its signature passes. The signature is the
	// sole trust root here, not the version string.
	if newer, err := semverinfo.RequireNewer(state.TargetBundlePath, state.UpdateBundlePath); err == nil && !newer {
		e.deps.Logger.Warn("update bundle does not report a newer version", "target", state.TargetBundlePath, "update", state.UpdateBundlePath)
	}
	return nil
}

func (e *Engine) clearQuarantine(state *model.State) error {
	if err := e.deps.Quarantine.Clear(state.UpdateBundlePath); err != nil {
		// Quarantine clearing is explicitly non-fatal; log and move on
		// regardless of what Clear returns.
		e.deps.Logger.Warn("quarantine clear reported an error, continuing", "error", err)
	}
	return nil
}

// backupPathFor returns the deterministic location beneath the state
// directory (not beside the target) that BackingUp copies the target
// to, stable across attempts so a reusable backup
// from an earlier, differently-terminated attempt can be found again.
func (e *Engine) backupPathFor(state *model.State) string {
	return filepath.Join(e.deps.Ctx.StateDir, "backup-"+filepath.Base(state.TargetBundlePath))
}

// backUp copies the target into the state directory, leaving the
// original in place; it refuses with MovingAcrossVolumes when the
// state directory and the target are on different devices. The copy gives Abort an independent fallback and
// gives a later attempt something to reuse; nothing about the live
// target is touched here, so a crash at any point during or after this
// phase leaves the target exactly as it was.
func (e *Engine) backUp(state *model.State) error {
	backupPath := e.backupPathFor(state)

	if state.BackupPath != "" {
		if _, err := os.Stat(state.BackupPath); err == nil {
			return nil // already copied; resuming
		}
	}

	if _, err := os.Stat(backupPath); err == nil {
		if verr := e.deps.Verifier.Verify(backupPath, signature.Requirement(state.CodeSignature)); verr == nil {
			// A backup survives from a prior attempt and still matches
			// the captured requirement; reuse it instead of copying again.
			state.BackupPath = backupPath
			return e.persist(state)
		}
		_ = os.RemoveAll(backupPath)
	}

	same, err := diskutil.SameDevice(filepath.Dir(state.TargetBundlePath), e.deps.Ctx.StateDir)
	if err != nil {
		return installerr.New(installerr.BackupFailed, "BackingUp", err)
	}
	if !same {
		return installerr.New(installerr.MovingAcrossVolumes, "BackingUp",
			fmt.Errorf("state directory and target are on different volumes"))
	}

	size, err := diskutil.DirSize(state.TargetBundlePath)
	if err != nil {
		return installerr.New(installerr.BackupFailed, "BackingUp", err)
	}
	if err := diskutil.CheckFreeSpace(e.deps.Ctx.StateDir, size); err != nil {
		return installerr.New(installerr.BackupFailed, "BackingUp", err)
	}

	if err := copyTree(state.TargetBundlePath, backupPath); err != nil {
		_ = os.RemoveAll(backupPath)
		return installerr.New(installerr.BackupFailed, "BackingUp", err)
	}

	state.BackupPath = backupPath
	return e.persist(state)
}

// moveTargetAside renames the live target out of the way, the first
// sub-step of Installing, and persists owned_target immediately so a
// crash right after the rename is recognized on resume instead of
// re-stat'ing a path that no longer exists. If the rename already
// happened but the persist never landed, the deterministic aside path
// lets this recover the bookkeeping instead of retrying a doomed
// rename.
func (e *Engine) moveTargetAside(state *model.State) error {
	if state.OwnedTarget != nil {
		return nil // already moved aside; resuming
	}

	asidePath := filepath.Join(e.deps.Ctx.StateDir, "aside-"+filepath.Base(state.TargetBundlePath))

	if _, err := os.Stat(state.TargetBundlePath); err != nil {
		if _, asideErr := os.Stat(asidePath); asideErr == nil {
			return e.recordOwnedTarget(state, asidePath)
		}
		return installerr.New(installerr.ReplacingTargetFailed, "Installing", err)
	}

	same, err := diskutil.SameDevice(filepath.Dir(state.TargetBundlePath), e.deps.Ctx.StateDir)
	if err != nil {
		return installerr.New(installerr.ReplacingTargetFailed, "Installing", err)
	}
	if !same {
		return installerr.New(installerr.MovingAcrossVolumes, "Installing",
			fmt.Errorf("state directory and target are on different volumes"))
	}

	_ = os.RemoveAll(asidePath)
	if err := os.Rename(state.TargetBundlePath, asidePath); err != nil {
		return installerr.New(installerr.ReplacingTargetFailed, "Installing", err)
	}
	return e.recordOwnedTarget(state, asidePath)
}

func (e *Engine) recordOwnedTarget(state *model.State, asidePath string) error {
	info, err := os.Stat(asidePath)
	if err != nil {
		return installerr.New(installerr.ReplacingTargetFailed, "Installing", err)
	}
	state.OwnedTarget = &model.OwnedTarget{
		OriginalPath:  state.TargetBundlePath,
		TemporaryPath: asidePath,
		CodeSignature: state.CodeSignature,
		OriginalMode:  uint32(info.Mode().Perm()),
	}
	return e.persist(state)
}

// install moves (or, across volumes, copies) the verified update
// bundle into the target's place, after moveTargetAside has already
// cleared that path.
func (e *Engine) install(state *model.State) error {
	if err := e.moveTargetAside(state); err != nil {
		return err
	}

	destName := filepath.Base(state.OwnedTarget.OriginalPath)
	if state.UseUpdateBundleName {
		destName = filepath.Base(state.UpdateBundlePath)
	}
	dest := filepath.Join(filepath.Dir(state.OwnedTarget.OriginalPath), destName)

	if _, err := os.Stat(dest); err == nil {
		state.TargetBundlePath = dest
		return nil // already installed; resuming after the second move succeeded but we crashed before advancing
	}

	same, err := diskutil.SameDevice(filepath.Dir(state.UpdateBundlePath), filepath.Dir(dest))
	if err == nil && same {
		if err := os.Rename(state.UpdateBundlePath, dest); err != nil {
			return installerr.New(installerr.ReplacingTargetFailed, "Installing", err)
		}
		state.CopiedNotMoved = false
	} else {
		size, err := diskutil.DirSize(state.UpdateBundlePath)
		if err != nil {
			return installerr.New(installerr.ReplacingTargetFailed, "Installing", err)
		}
		if err := diskutil.CheckFreeSpace(filepath.Dir(dest), size); err != nil {
			return installerr.New(installerr.ReplacingTargetFailed, "Installing", err)
		}
		if err := copyTree(state.UpdateBundlePath, dest); err != nil {
			return installerr.New(installerr.ReplacingTargetFailed, "Installing", err)
		}
		state.CopiedNotMoved = true
	}

	state.TargetBundlePath = dest

	mode := os.FileMode(state.OwnedTarget.OriginalMode)
	if err := os.Chmod(dest, mode); err != nil {
		return installerr.New(installerr.ChangingPermissionsFailed, "Installing", err)
	}
	return e.persist(state)
}

// verifyInPlace re-checks the installed bundle in its final location,
// catching any corruption introduced by the copy/move itself.
func (e *Engine) verifyInPlace(state *model.State) error {
	return e.deps.Verifier.Verify(state.TargetBundlePath, signature.Requirement(state.CodeSignature))
}

func (e *Engine) relaunch(ctx context.Context, state *model.State) error {
	if state.RelaunchAfterInstall && e.deps.Launcher != nil {
		if err := e.deps.Launcher.Relaunch(ctx, state.TargetBundlePath); err != nil {
			e.deps.Logger.Warn("relaunch failed, continuing", "error", err)
		}
	}
	return nil
}

// finalize runs after PhaseRelaunching succeeds: it deletes the backup
// copy and the superseded original that Installing moved aside (the
// install is committed, neither is needed anymore), and, if Installing
// had to copy rather than move, removes the now-redundant update
// bundle too. The update bundle is otherwise always left in place —
// Abort never deletes it.
func (e *Engine) finalize(state *model.State) (ExitCode, error) {
	if state.BackupPath != "" {
		_ = os.RemoveAll(state.BackupPath)
	}
	if state.OwnedTarget != nil {
		_ = os.RemoveAll(state.OwnedTarget.TemporaryPath)
	}
	if state.CopiedNotMoved {
		_ = os.RemoveAll(state.UpdateBundlePath)
	}
	_ = record.Remove(e.deps.Ctx.StatePath())
	_ = record.Remove(e.deps.Ctx.RequestPath())
	return ExitSuccess, nil
}
