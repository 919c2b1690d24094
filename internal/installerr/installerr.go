// Package installerr defines the discriminated error kinds the installer
// state machine and its collaborators can produce. Every kind carries a
// stable string code so a caller (or a stderr log line) can identify the
// failure without string-matching a message.
package installerr

import (
	"errors"
	"fmt"
)

// Code is a stable, wire-visible error discriminator.
type Code string

const (
	MissingInstallationData   Code = "MissingInstallationData"
	InvalidState              Code = "InvalidState"
	CouldNotOpenTarget        Code = "CouldNotOpenTarget"
	InvalidBundleVersion      Code = "InvalidBundleVersion"
	BackupFailed              Code = "BackupFailed"
	ReplacingTargetFailed     Code = "ReplacingTargetFailed"
	ChangingPermissionsFailed Code = "ChangingPermissionsFailed"
	MovingAcrossVolumes       Code = "MovingAcrossVolumes"
	SignatureDidNotPass       Code = "SignatureDidNotPass"
	CannotCreateStaticCode    Code = "CannotCreateStaticCode"
	NoDesignatedRequirement   Code = "NoDesignatedRequirement"
	DownloadFailed            Code = "DownloadFailed"
)

// Recoverable reports whether a failure with this code should go through
// the per-phase retry counter, or bypass it and abort immediately.
// Signature mismatches, missing bundles, and invalid state are never
// transient; everything else gets a bounded number of attempts.
func (c Code) Recoverable() bool {
	switch c {
	case MissingInstallationData, InvalidState, CouldNotOpenTarget,
		InvalidBundleVersion, SignatureDidNotPass, CannotCreateStaticCode,
		NoDesignatedRequirement, MovingAcrossVolumes:
		return false
	default:
		return true
	}
}

// Error is the concrete error type carrying a Code and an optional
// wrapped cause (e.g. the underlying OS error for a filesystem failure).
type Error struct {
	Code  Code
	Phase string // phase name at the time of failure, for logging
	Cause error
}

func New(code Code, phase string, cause error) *Error {
	return &Error{Code: code, Phase: phase, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Phase, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Phase, e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes errors.Is treat two *Error values as equal when their Codes
// match, whatever their Phase or Cause; targets of any other type never
// match.
func (e *Error) Is(target error) bool {
	if other, ok := target.(*Error); ok {
		return e.Code == other.Code
	}
	return false
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error, and
// reports whether one was found.
func CodeOf(err error) (Code, bool) {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Code, true
	}
	return "", false
}
