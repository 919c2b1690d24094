// Package lock implements the daemon's single-instance guard: an
// advisory file lock keyed on the application identifier. Only one shipitd process may hold the
// lock for a given app id at a time; a second launch fails fast
// instead of racing the first on shipit_state.
package lock

import (
	"fmt"
	"os"
	"strconv"
	"syscall"
)

// ErrHeld is returned by Acquire when another process already holds
// the lock.
var ErrHeld = fmt.Errorf("lock held by another process")

// Lock is a held single-instance lock. Release it when the daemon run
// completes.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the advisory lock at path, creating it if necessary and
// recording the current PID inside for diagnostics. It uses flock(2)
// semantics (via syscall.Flock), which are released automatically if
// the holding process dies — unlike a plain O_EXCL pidfile, a crashed
// daemon never leaves a stale lock behind.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, ErrHeld
		}
		return nil, err
	}

	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0)

	return &Lock{file: f, path: path}, nil
}

// Release drops the lock. The lock file itself is left on disk (its
// presence is harmless; only the flock matters), matching the
//  practice of leaving sentinel/lock files in
// place and relying on the OS-level lock state rather than file
// existence.
func (l *Lock) Release() error {
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}
