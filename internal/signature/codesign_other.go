//go:build !darwin

package signature

import "fmt"

// ErrUnsupportedPlatform is returned by CodesignVerifier on any
// non-Darwin build, since code-signing requirements are a macOS
// concept. The interface still compiles everywhere so the rest of the
// module (and its tests, which use a fake Verifier) are portable.
var ErrUnsupportedPlatform = fmt.Errorf("signature verification requires macOS")

type CodesignVerifier struct{}

func NewCodesignVerifier() *CodesignVerifier { return &CodesignVerifier{} }

func (v *CodesignVerifier) Capture(bundlePath string) (Requirement, error) {
	return nil, ErrUnsupportedPlatform
}

func (v *CodesignVerifier) Verify(bundlePath string, req Requirement) error {
	return ErrUnsupportedPlatform
}
