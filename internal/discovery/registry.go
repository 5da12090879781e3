package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/dealfinder/internal/types"
)

// Registry manages discovery sources and runs them together.
type Registry struct {
	mu      sync.RWMutex
	sources []Source
	byName  map[string]Source
	logger  *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byName: make(map[string]Source),
		logger: logger,
	}
}

// FromConfig builds a registry with one FeedSource per configured feed and
// the seed file, if any.
func FromConfig(cfg Config, client *http.Client, logger *zap.Logger) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid discovery config: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	r := NewRegistry(logger)
	for _, f := range cfg.Feeds {
		if err := r.Register(NewFeedSource(f, cfg.Keywords, client, cfg.UserAgent)); err != nil {
			return nil, err
		}
	}
	if cfg.SeedFile != "" {
		seeds, err := LoadSeedFile(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		if err := r.Register(seeds); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a source to the registry.
func (r *Registry) Register(s Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("source %q already registered", name)
	}
	r.byName[name] = s
	r.sources = append(r.sources, s)
	return nil
}

// Get returns a registered source by name.
func (r *Registry) Get(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// List returns source names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for _, s := range r.sources {
		names = append(names, s.Name())
	}
	return names
}

// Discover runs every source concurrently. Candidates keep registration
// order. Failed sources are logged and skipped; the error is returned only
// when all of them fail.
func (r *Registry) Discover(ctx context.Context) ([]types.Candidate, error) {
	r.mu.RLock()
	sources := append([]Source(nil), r.sources...)
	r.mu.RUnlock()

	if len(sources) == 0 {
		return nil, errors.New("no discovery sources registered")
	}

	results := make([][]types.Candidate, len(sources))
	errs := make([]error, len(sources))

	var g errgroup.Group
	for i, s := range sources {
		g.Go(func() error {
			results[i], errs[i] = s.Discover(ctx)
			return nil
		})
	}
	_ = g.Wait()

	var out []types.Candidate
	var failed []error
	for i, s := range sources {
		if errs[i] != nil {
			r.logger.Warn("discovery source failed",
				zap.String("source", s.Name()),
				zap.Error(errs[i]))
			failed = append(failed, fmt.Errorf("%s: %w", s.Name(), errs[i]))
			continue
		}
		r.logger.Debug("discovery source done",
			zap.String("source", s.Name()),
			zap.Int("candidates", len(results[i])))
		out = append(out, results[i]...)
	}

	if len(failed) == len(sources) {
		return nil, errors.Join(failed...)
	}
	return out, nil
}
