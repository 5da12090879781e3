package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/steveyegge/dealfinder/internal/checkpoint"
)

// ErrLocked is returned when another live process holds the data directory.
var ErrLocked = errors.New("data directory is locked by another run")

// LockFileName is the lock file created inside the data directory.
const LockFileName = ".run.lock"

// RunLock is the lock file format. One run at a time may write the ledger
// and checkpoint in a data directory.
type RunLock struct {
	Holder    string    `json:"holder"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`
}

// AcquireLock claims dataDir for this process. A lock left by a dead process
// on this host is taken over. Returns the lock file path for release.
func AcquireLock(dataDir, holder, version string) (lockPath string, err error) {
	lockPath = filepath.Join(dataDir, LockFileName)

	if data, err := os.ReadFile(lockPath); err == nil {
		var existing RunLock
		if json.Unmarshal(data, &existing) == nil && isProcessAlive(existing.PID, existing.Hostname) {
			return "", fmt.Errorf("%w (%s PID %d on %s, started %s)", ErrLocked,
				existing.Holder, existing.PID, existing.Hostname, existing.StartedAt.Format(time.RFC3339))
		}
		// Stale or unreadable lock - will overwrite
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	lock := RunLock{
		Holder:    holder,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now().UTC(),
		Version:   version,
	}
	if err := checkpoint.WriteJSONAtomic(lockPath, lock); err != nil {
		return "", fmt.Errorf("failed to create run lock: %w", err)
	}
	return lockPath, nil
}

// ReleaseLock removes the lock file.
// Should be called on shutdown (use defer).
func ReleaseLock(lockPath string) error {
	if lockPath == "" {
		return nil
	}
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove run lock: %w", err)
	}
	return nil
}

// isProcessAlive checks if a process with the given PID exists on the given hostname.
func isProcessAlive(pid int, hostname string) bool {
	currentHost, err := os.Hostname()
	if err != nil {
		// Can't check hostname, assume remote/alive
		return true
	}
	if !strings.EqualFold(hostname, currentHost) {
		// Remote host - can't check, assume alive
		return true
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 checks existence without delivering anything
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM: process exists but belongs to someone else
	return errors.Is(err, syscall.EPERM)
}
