// Package lock serializes pipeline runs per instance name with a pid lock
// file. Concurrent triggers are refused, not queued: a new run must wait for
// the current one to reach a terminal state.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrHeld is returned when another live process holds the lock.
var ErrHeld = errors.New("deployment lock held")

// Lock is one acquired instance lock.
type Lock struct {
	path string
}

// Acquire takes the lock for the instance, creating <dir>/deploy-<name>.lock
// exclusively with this process's pid. A lock left behind by a dead process
// is taken over.
func Acquire(dir, instance string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("deploy-%s.lock", instance))

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if _, werr := fmt.Fprintf(f, "%d\n", os.Getpid()); werr != nil {
				f.Close()
				_ = os.Remove(path)
				return nil, werr
			}
			if err := f.Close(); err != nil {
				_ = os.Remove(path)
				return nil, err
			}
			return &Lock{path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		pid, perr := readPid(path)
		if perr == nil && processAlive(pid) {
			return nil, fmt.Errorf("%w: %s (pid %d)", ErrHeld, path, pid)
		}
		// Stale or unreadable lock: remove and retry once.
		if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock: %w", rerr)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrHeld, path)
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func readPid(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// processAlive checks whether a pid still refers to a live process via
// signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
