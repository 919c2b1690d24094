// Package signature implements the signature verifier: capturing a
// bundle's designated code-signing requirement once, and later testing
// candidate bundles against the captured
// requirement rather than a freshly read one, so a mid-install
// substitution of the target cannot downgrade the trust anchor.
package signature

import "shipit/internal/installerr"

// Requirement is an opaque, serialized designated requirement. It is
// safe to persist verbatim inside Installer State and compare later,
// potentially from a different process invocation.
type Requirement []byte

// Verifier captures and checks code-signing requirements. Production
// code uses the Darwin implementation (CodesignVerifier, wrapping the
// `codesign` CLI); tests use a fake that does not touch the OS
// keychain/signing subsystem.
type Verifier interface {
	// Capture extracts bundlePath's designated requirement.
	Capture(bundlePath string) (Requirement, error)
	// Verify confirms bundlePath satisfies req, recursively validating
	// embedded signed resources.
	Verify(bundlePath string, req Requirement) error
}

// errCapture/errVerify wrap an underlying cause with the discriminated
// error kinds installerr defines.
func errCapture(cause error, noDesignated bool) error {
	if noDesignated {
		return installerr.New(installerr.NoDesignatedRequirement, "Signature", cause)
	}
	return installerr.New(installerr.CannotCreateStaticCode, "Signature", cause)
}

func errVerify(cause error, didNotPass bool) error {
	if didNotPass {
		return installerr.New(installerr.SignatureDidNotPass, "Signature", cause)
	}
	return installerr.New(installerr.CannotCreateStaticCode, "Signature", cause)
}
