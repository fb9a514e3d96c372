package archiver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// ErrLockHeld is returned when another run holds the lock. Callers
// treat it as "nothing to do now", not as a failure.
var ErrLockHeld = errors.New("run lock held by another process")

// RunLock is an exclusive lock file guaranteeing at most one
// concurrent archiver run
type RunLock struct {
	path string
}

// AcquireRunLock atomically creates the lock file. Create-and-check is
// a single O_EXCL operation so two schedulers firing together cannot
// both win. A stale lock from a killed process is not broken
// automatically; the file records the holder PID for manual cleanup.
func AcquireRunLock(path string) (*RunLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, os.ErrExist) {
		return nil, ErrLockHeld
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create run lock: %w", err)
	}

	fmt.Fprintf(f, "%d\n", os.Getpid())
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write run lock: %w", err)
	}

	log.Debug().Str("path", path).Msg("Run lock acquired")
	return &RunLock{path: path}, nil
}

// Release removes the lock file
func (l *RunLock) Release() error {
	if err := os.Remove(l.path); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	log.Debug().Str("path", l.path).Msg("Run lock released")
	return nil
}
