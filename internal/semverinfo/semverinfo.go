// Package semverinfo reads and compares a bundle's version identifier.
// Real macOS bundles carry this in Contents/Info.plist's
// CFBundleVersion key; this module models the same information as a
// portable JSON sidecar (Contents/Info.json, {"version": "..."}) so it
// can be read without a plist parser, and parses it with
// Masterminds/semver for the ordering comparison an InvalidBundleVersion
// error kind implies is needed.
package semverinfo

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"

	"shipit/internal/installerr"
)

type bundleInfo struct {
	Version string `json:"version"`
}

// Read extracts and parses the version of the bundle at bundlePath.
func Read(bundlePath string) (*semver.Version, error) {
	infoPath := filepath.Join(bundlePath, "Contents", "Info.json")
	data, err := os.ReadFile(infoPath)
	if err != nil {
		return nil, installerr.New(installerr.InvalidBundleVersion, "Signature", err)
	}

	var info bundleInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, installerr.New(installerr.InvalidBundleVersion, "Signature", err)
	}

	v, err := semver.NewVersion(info.Version)
	if err != nil {
		return nil, installerr.New(installerr.InvalidBundleVersion, "Signature", err)
	}
	return v, nil
}

// RequireNewer confirms candidatePath's version is strictly greater
// than currentPath's version. An unparsable version on either side is
// reported as a soft failure (ok=false, err=nil) rather than aborting
// the whole install over an optional, advisory check — the sole trust
// root in this system is the code signature, not the version string.
func RequireNewer(currentPath, candidatePath string) (ok bool, err error) {
	cur, cerr := Read(currentPath)
	cand, canderr := Read(candidatePath)
	if cerr != nil || canderr != nil {
		return false, nil
	}
	return cand.GreaterThan(cur), nil
}
