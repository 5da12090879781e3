// Package checkpoint persists run state and the canonical deal set at cycle
// granularity.
//
// A checkpoint is written after every cycle, before any URL from that cycle is
// ledgered. A crash between the two leaves URLs unledgered; they are
// reprocessed on resume and merge harmlessly into the restored set. The
// reverse order could ledger a URL whose deal was never persisted.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/mod/semver"

	"github.com/steveyegge/dealfinder/internal/types"
)

// SchemaVersion is the checkpoint format version. Checkpoints with the same
// major version can be read.
const SchemaVersion = "v1.1.0"

var (
	// ErrIncompatibleVersion is returned for checkpoints written by an
	// incompatible schema.
	ErrIncompatibleVersion = errors.New("incompatible checkpoint schema version")

	// ErrCorrupt is returned when a checkpoint exists but cannot be parsed.
	// Unlike the ledger, a corrupt checkpoint is not ignored: starting empty
	// would drop deals whose URLs are already ledgered.
	ErrCorrupt = errors.New("corrupt checkpoint")
)

// Checkpoint is the durable state of a run.
type Checkpoint struct {
	SchemaVersion string `json:"schema_version"`
	RunID         string `json:"run_id"`

	// State is the controller state name (DISCOVERING, CONVERGED, ABORTED)
	State     string `json:"state"`
	Cycle     int    `json:"cycle"`
	DryCycles int    `json:"dry_cycles"`
	Threshold int    `json:"threshold"`

	// NextSeq is the last ingest sequence number handed out
	NextSeq uint64 `json:"next_seq"`

	// Deals is the canonical set, keyed implicitly by each record's identity
	Deals []*types.DealRecord `json:"deals"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store loads and saves checkpoints.
type Store interface {
	// Load returns the latest checkpoint, or nil if none has been saved.
	Load(ctx context.Context) (*Checkpoint, error)
	// Save durably replaces the latest checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error
}

// CheckVersion verifies that a checkpoint schema version can be read.
func CheckVersion(v string) error {
	if !semver.IsValid(v) {
		return fmt.Errorf("%w: %q is not a semantic version", ErrIncompatibleVersion, v)
	}
	if semver.Major(v) != semver.Major(SchemaVersion) {
		return fmt.Errorf("%w: %s (supported: %s.x)", ErrIncompatibleVersion, v, semver.Major(SchemaVersion))
	}
	return nil
}

// FileStore keeps the checkpoint in a single JSON file, replaced atomically.
type FileStore struct {
	path   string
	logger *zap.Logger
}

// NewFileStore creates a file-backed store.
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{path: path, logger: logger}
}

// Path returns the checkpoint file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.logger.Warn("checkpoint is corrupt",
			zap.String("path", s.path),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	if err := CheckVersion(cp.SchemaVersion); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Save implements Store. It ignores cancellation so a stopping run can still
// write its final checkpoint.
func (s *FileStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp.SchemaVersion == "" {
		cp.SchemaVersion = SchemaVersion
	}
	cp.UpdatedAt = time.Now().UTC()
	if err := WriteJSONAtomic(s.path, cp); err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}
