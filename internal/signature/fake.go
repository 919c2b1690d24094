package signature

import "bytes"

// Fake is an in-memory Verifier for tests: each bundle path is
// assigned a "signing key" byte string; Capture returns it as the
// requirement, and Verify checks for an exact match. This lets tests
// express scenarios like S2 (substitution attack) without touching the
// real OS signing machinery, which cannot run portably in CI.
type Fake struct {
	Keys map[string]string // bundlePath -> key
}

func NewFake() *Fake { return &Fake{Keys: make(map[string]string)} }

// Sign assigns bundlePath the given signing key.
func (f *Fake) Sign(bundlePath, key string) { f.Keys[bundlePath] = key }

func (f *Fake) Capture(bundlePath string) (Requirement, error) {
	key, ok := f.Keys[bundlePath]
	if !ok {
		return nil, errCapture(nil, true)
	}
	return Requirement("key:" + key), nil
}

func (f *Fake) Verify(bundlePath string, req Requirement) error {
	key, ok := f.Keys[bundlePath]
	if !ok {
		return errVerify(nil, true)
	}
	if !bytes.Equal(req, Requirement("key:"+key)) {
		return errVerify(nil, true)
	}
	return nil
}
