package export

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RunLogFileName is the run log inside the data directory.
const RunLogFileName = "runs.jsonl"

// RunEntry is one finished run.
type RunEntry struct {
	RunID           string        `json:"run_id"`
	Timestamp       time.Time     `json:"timestamp"`
	State           string        `json:"state"`
	Cycles          int           `json:"cycles"`
	DurationSeconds float64       `json:"duration_seconds"`
	TherapeuticArea string        `json:"therapeutic_area,omitempty"`
	Error           string        `json:"error,omitempty"`
	Quality         QualityReport `json:"stats"`
}

// RunLog appends run entries to a JSON lines file.
type RunLog struct {
	path string
}

// NewRunLog creates a run log at path.
func NewRunLog(path string) *RunLog {
	return &RunLog{path: path}
}

// Append writes e as one line.
func (l *RunLog) Append(e RunEntry) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create run log directory: %w", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode run entry: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open run log: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("failed to append run entry: %w", err)
	}
	return f.Close()
}

// Recent returns the last n entries, oldest first. Lines that do not decode
// are skipped.
func (l *RunLog) Recent(n int) ([]RunEntry, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}
	defer f.Close()

	var entries []RunEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		var e RunEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run log: %w", err)
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}
