package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/steveyegge/dealfinder/internal/types"
)

// DecisionStore keeps analyst review decisions keyed by canonical key.
type DecisionStore interface {
	// SaveDecision records d, replacing any earlier decision for the key.
	SaveDecision(ctx context.Context, d types.ReviewDecision) error
	// Decisions returns every decision keyed by canonical key.
	Decisions(ctx context.Context) (map[string]types.ReviewDecision, error)
}

// FileDecisionStore keeps decisions in a JSON file next to the checkpoint.
type FileDecisionStore struct {
	mu   sync.Mutex
	path string
}

// NewFileDecisionStore creates a file-backed decision store.
func NewFileDecisionStore(path string) *FileDecisionStore {
	return &FileDecisionStore{path: path}
}

// SaveDecision implements DecisionStore.
func (s *FileDecisionStore) SaveDecision(ctx context.Context, d types.ReviewDecision) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		return err
	}
	all[d.CanonicalKey] = d
	if err := WriteJSONAtomic(s.path, all); err != nil {
		return fmt.Errorf("saving review decision: %w", err)
	}
	return nil
}

// Decisions implements DecisionStore.
func (s *FileDecisionStore) Decisions(ctx context.Context) (map[string]types.ReviewDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileDecisionStore) load() (map[string]types.ReviewDecision, error) {
	all := make(map[string]types.ReviewDecision)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return all, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading review decisions: %w", err)
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("parsing review decisions %s: %w", s.path, err)
	}
	return all, nil
}
