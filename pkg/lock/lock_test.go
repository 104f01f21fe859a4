package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir, "estore")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "deploy-estore.lock")); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := Acquire(dir, "estore"); err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
}

func TestAcquireRefusedWhileHeld(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir, "estore")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer l.Release()

	// The lock carries this test process's live pid, so a second acquire is
	// refused rather than queued.
	if _, err := Acquire(dir, "estore"); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}
}

func TestAcquirePerInstanceName(t *testing.T) {
	dir := t.TempDir()

	a, err := Acquire(dir, "estore")
	if err != nil {
		t.Fatalf("acquire estore: %v", err)
	}
	defer a.Release()

	// A different instance name is an independent lock.
	b, err := Acquire(dir, "estore-canary")
	if err != nil {
		t.Fatalf("acquire estore-canary: %v", err)
	}
	defer b.Release()
}

func TestStaleLockTakenOver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy-estore.lock")

	// Pid 0 can never be a live deployment process.
	if err := os.WriteFile(path, []byte("0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := Acquire(dir, "estore")
	if err != nil {
		t.Fatalf("takeover of stale lock: %v", err)
	}
	defer l.Release()
}
