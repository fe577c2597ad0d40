package local

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sneaker-boar/sneaker/internal/logging"
)

// LockFileName is the name of the lock file in the repository root.
const LockFileName = "lock"

// errRepositoryLocked is returned when another live process holds the lock.
var errRepositoryLocked = errors.New("repository is locked by another process")

// repoLock is an acquired repository lock.
type repoLock struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`

	path   string
	logger *logging.Logger
}

// acquireLock takes the lock for the repository at repoPath. A lock file left
// by a dead process is removed and retaken.
func acquireLock(repoPath string, logger *logging.Logger) (*repoLock, error) {
	lockPath := filepath.Join(repoPath, LockFileName)

	if existing, err := readLock(lockPath); err == nil {
		if isProcessAlive(existing.PID) {
			return nil, fmt.Errorf("%w: PID %d on %s", errRepositoryLocked, existing.PID, existing.Hostname)
		}
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
		logger.Warn("stale repository lock cleaned", "old_pid", existing.PID)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	lock := &repoLock{
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: time.Now(),
		path:       lockPath,
		logger:     logger,
	}

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	// O_EXCL so two openers racing past the stale check cannot both win.
	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			if existing, readErr := readLock(lockPath); readErr == nil {
				return nil, fmt.Errorf("%w: PID %d on %s", errRepositoryLocked, existing.PID, existing.Hostname)
			}
			return nil, errRepositoryLocked
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(lockPath)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	logger.Debug("repository lock acquired", "pid", lock.PID)
	return lock, nil
}

// release removes the lock file if this process still owns it.
// Safe to call more than once.
func (l *repoLock) release() error {
	if l == nil || l.path == "" {
		return nil
	}

	existing, err := readLock(l.path)
	if err != nil || existing.PID != l.PID {
		return nil
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	l.logger.Debug("repository lock released", "pid", l.PID)
	return nil
}

func readLock(lockPath string) (*repoLock, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}

	var lock repoLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	lock.path = lockPath
	return &lock, nil
}

// isProcessAlive sends signal 0 to pid.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
