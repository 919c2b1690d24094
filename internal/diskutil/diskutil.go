// Package diskutil provides the filesystem preconditions the installer
// checks before BackingUp and Installing: enough free space on the
// destination volume, and whether two paths share a device (so a
// same-volume move can be used instead of a copy).
package diskutil

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/shirou/gopsutil/v3/disk"
)

// spaceBuffer is held back beyond the bytes strictly required.
const spaceBuffer = 100 * 1024 * 1024

// CheckFreeSpace verifies the volume containing dir has at least
// required bytes free, plus a safety buffer.
func CheckFreeSpace(dir string, required int64) error {
	usage, err := disk.Usage(dir)
	if err != nil {
		return fmt.Errorf("diskutil: checking free space on %s: %w", dir, err)
	}
	if int64(usage.Free) < required+spaceBuffer {
		return fmt.Errorf("diskutil: insufficient space on %s: need %d, have %d", dir, required, usage.Free)
	}
	return nil
}

// DirSize walks root and sums the apparent size of every regular file,
// used to size the BackingUp and Installing free-space checks.
func DirSize(root string) (int64, error) {
	var total int64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// SameDevice reports whether a and b live on the same filesystem
// device, the condition that lets Installing use an atomic rename
// instead of a copy.
func SameDevice(a, b string) (bool, error) {
	da, err := device(a)
	if err != nil {
		return false, err
	}
	db, err := device(b)
	if err != nil {
		return false, err
	}
	return da == db, nil
}

func device(path string) (uint64, error) {
	dir := path
	for {
		info, err := os.Stat(dir)
		if err == nil {
			sys, ok := info.Sys().(*syscall.Stat_t)
			if !ok {
				return 0, fmt.Errorf("diskutil: unsupported platform stat for %s", path)
			}
			return uint64(sys.Dev), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return 0, err
		}
		dir = parent
	}
}
