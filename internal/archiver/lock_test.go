package archiver

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireRunLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "archiver.lock")

	lock, err := AcquireRunLock(path)
	if err != nil {
		t.Fatalf("AcquireRunLock() error = %v", err)
	}

	// Second acquisition while held is the "another run in progress"
	// signal, not a generic failure
	if _, err := AcquireRunLock(path); !errors.Is(err, ErrLockHeld) {
		t.Errorf("expected ErrLockHeld, got %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected lock file removed, stat err = %v", err)
	}

	// Released lock can be re-acquired
	lock2, err := AcquireRunLock(path)
	if err != nil {
		t.Fatalf("re-acquire after release error = %v", err)
	}
	lock2.Release()
}

func TestAcquireRunLock_RecordsHolderPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archiver.lock")

	lock, err := AcquireRunLock(path)
	if err != nil {
		t.Fatalf("AcquireRunLock() error = %v", err)
	}
	defer lock.Release()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read lock file: %v", err)
	}
	if len(data) == 0 {
		t.Errorf("expected holder PID in lock file")
	}
}
