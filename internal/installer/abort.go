package installer

import (
	"os"

	"shipit/internal/installerr"
	"shipit/internal/model"
	"shipit/internal/record"
	"shipit/internal/signature"
)

// abort ends the current attempt. If the target was already moved
// aside, it tries to restore it (from the backup copy if the aside
// copy is missing) and re-verify the restored copy
// against the originally captured signature; failing that restore
// leaves the target unusable and is reported as ExitBundleLost so the
// caller knows not to trust it. The update bundle is never deleted
// here — only a successful Finalize removes it, and only when it was
// copied rather than moved.
func (e *Engine) abort(state *model.State, cause error) (ExitCode, error) {
	if state.OwnedTarget == nil {
		_ = record.Remove(e.deps.Ctx.StatePath())
		return ExitRecoverable, cause
	}

	restoreErr := e.restoreTarget(state)
	if restoreErr != nil {
		e.writeForensicMarker(state, cause, restoreErr)
		return ExitBundleLost, combine(cause, restoreErr)
	}

	_ = record.Remove(e.deps.Ctx.StatePath())
	return ExitRecoverable, cause
}

func (e *Engine) restoreTarget(state *model.State) error {
	owned := state.OwnedTarget

	if _, err := os.Stat(owned.OriginalPath); err == nil {
		// Something already occupies the original path (a partially
		// completed Installing step); clear it before restoring.
		if err := os.RemoveAll(owned.OriginalPath); err != nil {
			return err
		}
	}

	src := owned.TemporaryPath
	if _, err := os.Stat(src); err != nil && state.BackupPath != "" {
		// The moved-aside original is gone; fall back to BackingUp's copy.
		src = state.BackupPath
	}
	if err := os.Rename(src, owned.OriginalPath); err != nil {
		return err
	}

	if err := e.deps.Verifier.Verify(owned.OriginalPath, signature.Requirement(owned.CodeSignature)); err != nil {
		return err
	}
	return nil
}

// writeForensicMarker leaves a durable note describing why the target
// bundle could not be restored, for a human operator to find.
func (e *Engine) writeForensicMarker(state *model.State, cause, restoreErr error) {
	marker := struct {
		BundleIdentifier string `json:"bundle_identifier"`
		TargetPath       string `json:"target_path"`
		Cause            string `json:"cause"`
		RestoreError     string `json:"restore_error"`
	}{
		BundleIdentifier: state.BundleIdentifier,
		TargetPath:       state.OwnedTarget.OriginalPath,
		Cause:            cause.Error(),
		RestoreError:     restoreErr.Error(),
	}
	markerPath := e.deps.Ctx.StatePath() + ".bundle-lost"
	_ = record.Save(markerPath, model.RecordVersion, marker)
}

func combine(cause, restoreErr error) error {
	return installerr.New(installerr.ReplacingTargetFailed, "Abort",
		&combinedError{cause: cause, restoreErr: restoreErr})
}

type combinedError struct {
	cause      error
	restoreErr error
}

func (c *combinedError) Error() string {
	return "original failure: " + c.cause.Error() + "; restore also failed: " + c.restoreErr.Error()
}
