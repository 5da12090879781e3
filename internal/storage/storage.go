// Package storage opens the persistent state of a run: the URL ledger, the
// checkpoint store and the review decision store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/steveyegge/dealfinder/internal/checkpoint"
	"github.com/steveyegge/dealfinder/internal/ledger"
	"github.com/steveyegge/dealfinder/internal/storage/postgres"
	"github.com/steveyegge/dealfinder/internal/storage/sqlite"
)

// Backend names a ledger backend.
type Backend string

const (
	BackendFile     Backend = "file"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

// IsValid checks if the backend value is valid
func (b Backend) IsValid() bool {
	switch b {
	case BackendFile, BackendSQLite, BackendPostgres, BackendRedis:
		return true
	}
	return false
}

// File names inside the data directory.
const (
	LedgerFileName     = "crawled_urls.json"
	CheckpointFileName = "checkpoint.json"
	DecisionsFileName  = "review_decisions.json"
	DatabaseFileName   = "dealfinder.db"

	// StateDatabaseFileName holds checkpoints and review decisions for the
	// sqlite backend, apart from the ledger database
	StateDatabaseFileName = "state.db"
)

// Config holds storage configuration
type Config struct {
	// Backend selects where the ledger lives.
	// Default: "sqlite"
	Backend Backend `yaml:"backend"`

	// DataDir holds local state: files, the SQLite database, the run lock.
	// Default: ".dealfinder"
	DataDir string `yaml:"data_dir"`

	// PostgresURL is required for the postgres backend
	PostgresURL string `yaml:"postgres_url"`

	// RedisURL is required for the redis backend
	RedisURL    string `yaml:"redis_url"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Backend: BackendSQLite,
		DataDir: ".dealfinder",
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if !c.Backend.IsValid() {
		return fmt.Errorf("storage.backend must be one of file, sqlite, postgres, redis (got %q)", c.Backend)
	}
	if c.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required")
	}
	if c.Backend == BackendPostgres && c.PostgresURL == "" {
		return fmt.Errorf("storage.postgres_url is required for the postgres backend")
	}
	if c.Backend == BackendRedis && c.RedisURL == "" {
		return fmt.Errorf("storage.redis_url is required for the redis backend")
	}
	return nil
}

// Stores bundles the persistent state of a run.
type Stores struct {
	Ledger      ledger.Ledger
	Checkpoints checkpoint.Store
	Decisions   checkpoint.DecisionStore

	closers []func() error
}

// Open opens the stores for cfg. Checkpoints and decisions always stay local:
// in a state database for the sqlite backend, in JSON files otherwise.
//
// Every ledger backend fails open on a corrupt local file. Checkpoint state
// never does, so it is kept out of the ledger database.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Stores, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Stores{}
	fileCheckpoints := func() {
		s.Checkpoints = checkpoint.NewFileStore(filepath.Join(cfg.DataDir, CheckpointFileName), logger)
		s.Decisions = checkpoint.NewFileDecisionStore(filepath.Join(cfg.DataDir, DecisionsFileName))
	}

	switch cfg.Backend {
	case BackendFile:
		l, err := ledger.OpenFile(filepath.Join(cfg.DataDir, LedgerFileName), logger)
		if err != nil {
			return nil, err
		}
		s.Ledger = l
		fileCheckpoints()

	case BackendSQLite:
		state, err := sqlite.Open(ctx, filepath.Join(cfg.DataDir, StateDatabaseFileName), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open state database: %w", err)
		}
		l, err := sqlite.OpenLedger(ctx, filepath.Join(cfg.DataDir, DatabaseFileName), logger)
		if err != nil {
			_ = state.Close()
			return nil, err
		}
		s.Ledger, s.Checkpoints, s.Decisions = l, state, state
		s.closers = append(s.closers, state.Close)

	case BackendPostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.PostgresURL
		l, err := postgres.New(ctx, pgCfg, logger)
		if err != nil {
			return nil, err
		}
		s.Ledger = l
		fileCheckpoints()

	case BackendRedis:
		l, err := ledger.OpenRedis(ctx, cfg.RedisURL, cfg.RedisPrefix, logger)
		if err != nil {
			return nil, err
		}
		s.Ledger = l
		fileCheckpoints()
	}

	s.closers = append(s.closers, s.Ledger.Close)
	logger.Debug("opened storage", zap.String("backend", string(cfg.Backend)), zap.String("data_dir", cfg.DataDir))
	return s, nil
}

// Close releases every backend.
func (s *Stores) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
