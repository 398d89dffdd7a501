package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/Iron-Ham/wamux/internal/errors"
	"github.com/Iron-Ham/wamux/internal/logging"
)

// LockFileName is the root lock file name.
const LockFileName = "wamux.lock"

// RootLock marks a sessions root as managed by one live process.
type RootLock struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`

	path   string
	logger *logging.Logger
}

// LockPath returns the root lock path.
func (s *Store) LockPath() string {
	return filepath.Join(s.root, LockFileName)
}

// AcquireRootLock takes the root lock. A lock left by a dead process is
// reclaimed; a lock held by a live one fails with ErrRootLocked.
func (s *Store) AcquireRootLock() (*RootLock, error) {
	if err := s.EnsureRoot(); err != nil {
		return nil, err
	}
	path := s.LockPath()

	if held, err := ReadRootLock(path); err == nil {
		if pidAlive(held.PID) && held.PID != os.Getpid() {
			return nil, fmt.Errorf("%w: PID %d on %s since %s",
				errors.ErrRootLocked, held.PID, held.Hostname, held.StartedAt.Format(time.RFC3339))
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale root lock: %w", err)
		}
		s.logger.Warn("stale root lock reclaimed", "old_pid", held.PID, "hostname", held.Hostname)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	lock := &RootLock{
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now().UTC(),
		path:      path,
		logger:    s.logger,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal root lock: %w", err)
	}

	// O_EXCL loses the race cleanly against a concurrent starter.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: lock appeared while acquiring", errors.ErrRootLocked)
		}
		return nil, fmt.Errorf("create root lock: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write root lock: %w", err)
	}

	s.logger.Info("root lock acquired", "pid", lock.PID, "root", s.root)
	return lock, nil
}

// Release removes the lock file if this process still owns it. Safe to call
// more than once.
func (l *RootLock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	held, err := ReadRootLock(l.path)
	if err != nil || held.PID != l.PID {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if l.logger != nil {
		l.logger.Info("root lock released")
	}
	return nil
}

// ReadRootLock parses a lock file.
func ReadRootLock(path string) (*RootLock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lock RootLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parse root lock: %w", err)
	}
	lock.path = path
	return &lock, nil
}

// RootLocked returns the current lock and whether its owner is alive.
func (s *Store) RootLocked() (*RootLock, bool) {
	lock, err := ReadRootLock(s.LockPath())
	if err != nil {
		return nil, false
	}
	return lock, pidAlive(lock.PID)
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}
