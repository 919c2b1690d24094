// Package record implements the one piece of durability machinery every
// persisted file in this module depends on: a versioned, self-describing
// JSON envelope written atomically (write-temp, fsync, rename) so a
// reader never observes a torn write, and a forward-compatible refusal
// of envelopes whose version it does not recognize rather than a guess
// that could silently corrupt state.
package record

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Envelope is the on-disk shape of every persisted record.
type Envelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// ErrUnknownVersion is returned by Load when the envelope's version is
// newer (or otherwise unrecognized) than what this build understands.
type ErrUnknownVersion struct {
	Path    string
	Version int
	Want    int
}

func (e *ErrUnknownVersion) Error() string {
	return fmt.Sprintf("record %s: unsupported version %d (want %d)", e.Path, e.Version, e.Want)
}

// Save serializes v into an Envelope at the given version and writes it
// atomically to path: write to a sibling temp file in the same
// directory, fsync it, then rename over the destination. The rename is
// atomic on every OS this module targets as long as temp and
// destination share a filesystem, which they do by construction.
func Save(path string, version int, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	env := Envelope{Version: version, Data: data}
	blob, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return syncDir(dir)
}

// Load reads the envelope at path and unmarshals its payload into v,
// refusing any version other than wantVersion.
func Load(path string, wantVersion int, v interface{}) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var env Envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return fmt.Errorf("record %s: malformed envelope: %w", path, err)
	}
	if env.Version != wantVersion {
		return &ErrUnknownVersion{Path: path, Version: env.Version, Want: wantVersion}
	}
	return json.Unmarshal(env.Data, v)
}

// Exists reports whether a record file is present.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Remove deletes a record file; a missing file is not an error.
func Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// syncDir fsyncs a directory so the rename itself is durable, not just
// the file contents. Best-effort: some platforms (notably Windows) do
// not support opening a directory for sync, so failures here are
// swallowed rather than surfaced as a Save failure.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer d.Close()
	_ = d.Sync()
	return nil
}
