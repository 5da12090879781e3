package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DataFile is one known state file found in a data directory.
type DataFile struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// DataDirInfo describes what a data directory holds.
type DataDirInfo struct {
	// Path is absolute
	Path  string
	Files []DataFile

	// Lock is the current run lock, nil when the directory is unlocked
	// or the holder is no longer alive
	Lock *RunLock
}

// knownFiles are the state files a data directory may contain, in display order.
var knownFiles = []string{DatabaseFileName, StateDatabaseFileName, LedgerFileName, CheckpointFileName, DecisionsFileName}

// InspectDataDir reports the state files present in dir and the live run
// lock, if any.
func InspectDataDir(dir string) (*DataDirInfo, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	if info, err := os.Stat(absDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf(
			"no data directory at %s\n"+
				"  Run 'dealfinder run' to start collecting deals here\n"+
				"  Or use --data-dir to point at an existing one",
			absDir)
	}

	out := &DataDirInfo{Path: absDir}
	for _, name := range knownFiles {
		info, err := os.Stat(filepath.Join(absDir, name))
		if err != nil {
			continue
		}
		out.Files = append(out.Files, DataFile{Name: name, Size: info.Size(), ModTime: info.ModTime()})
	}

	if data, err := os.ReadFile(filepath.Join(absDir, LockFileName)); err == nil {
		var lock RunLock
		if json.Unmarshal(data, &lock) == nil && isProcessAlive(lock.PID, lock.Hostname) {
			out.Lock = &lock
		}
	}
	return out, nil
}
