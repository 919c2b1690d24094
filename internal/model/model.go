// Package model defines the persisted shapes of the installer's Request
// and State records, including the wire-stable phase
// identifiers that must never be renumbered.
package model

import "fmt"

// Phase is a wire-stable integer identifier for one step of the
// installer state machine. Values are never renumbered or reused
// across releases, because a daemon built after this one may resume a
// State record written by an older build.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseReadingSignature
	PhaseVerifyingUpdate
	PhaseClearingQuarantine
	PhaseBackingUp
	PhaseInstalling
	PhaseVerifyingInPlace
	PhaseRelaunching
)

var phaseNames = map[Phase]string{
	PhaseIdle:               "Idle",
	PhaseReadingSignature:   "ReadingSignature",
	PhaseVerifyingUpdate:    "VerifyingUpdate",
	PhaseClearingQuarantine: "ClearingQuarantine",
	PhaseBackingUp:          "BackingUp",
	PhaseInstalling:         "Installing",
	PhaseVerifyingInPlace:   "VerifyingInPlace",
	PhaseRelaunching:        "Relaunching",
}

func (p Phase) String() string {
	if n, ok := phaseNames[p]; ok {
		return n
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Valid reports whether p is one of the enumerated phases. An unknown
// phase value must cause refusal, never a default fall-through.
func (p Phase) Valid() bool {
	_, ok := phaseNames[p]
	return ok
}

// Next returns the phase that follows p in the totally-ordered
// sequence, and whether p has a successor (PhaseRelaunching does not;
// completing it returns to PhaseIdle via Finalize, handled by the
// installer package, not by Next).
func (p Phase) Next() (Phase, bool) {
	if p >= PhaseIdle && p < PhaseRelaunching {
		return p + 1, true
	}
	return p, false
}

// Request is the record a client writes to ask the daemon to perform
// an install. It is immutable once written; only the daemon mutates
// anything beyond this point.
type Request struct {
	UpdateBundlePath     string `json:"update_bundle_path"`
	TargetBundlePath     string `json:"target_bundle_path"`
	BundleIdentifier     string `json:"bundle_identifier,omitempty"`
	RelaunchAfterInstall bool   `json:"relaunch_after_install"`
	UseUpdateBundleName  bool   `json:"use_update_bundle_name"`
}

// Validate checks the invariants a Request must satisfy.
func (r *Request) Validate() error {
	if r.UpdateBundlePath == "" || r.TargetBundlePath == "" {
		return fmt.Errorf("update_bundle_path and target_bundle_path are required")
	}
	if r.UpdateBundlePath == r.TargetBundlePath {
		return fmt.Errorf("update_bundle_path must differ from target_bundle_path")
	}
	return nil
}

// OwnedTarget records where the target bundle has been moved aside
// during Installing, and the signature it must still satisfy if it is
// ever restored during Abort.
type OwnedTarget struct {
	OriginalPath  string `json:"original_path"`
	TemporaryPath string `json:"temporary_path"`
	CodeSignature []byte `json:"code_signature"`
	OriginalMode  uint32 `json:"original_mode"`
}

// State is the Request, extended with everything the daemon tracks
// while driving an install to completion.
type State struct {
	Request

	Phase           Phase        `json:"phase"`
	AttemptsInPhase int          `json:"attempts_in_phase"`
	CodeSignature   []byte       `json:"code_signature,omitempty"`
	OwnedTarget     *OwnedTarget `json:"owned_target,omitempty"`
	BackupPath      string       `json:"backup_path,omitempty"`
	CopiedNotMoved  bool         `json:"copied_not_moved,omitempty"`
}

// NewState seeds a fresh State from a just-read Request.
func NewState(req Request) *State {
	return &State{Request: req, Phase: PhaseIdle, AttemptsInPhase: 0}
}

// RecordVersion is the envelope version for State and Request records.
// Bump only if the JSON shape changes in a way old daemons cannot
// ignore; a new daemon reading an older version it no longer
// understands must refuse rather than guess.
const RecordVersion = 1
