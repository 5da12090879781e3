// Package sqlite stores the ledger, run checkpoints and review decisions in
// SQLite databases.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/steveyegge/dealfinder/internal/storage/migrations"
)

// DB implements ledger.Ledger, checkpoint.Store and checkpoint.DecisionStore.
type DB struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open opens (or creates) the database at path and applies pending migrations.
func Open(ctx context.Context, path string, logger *zap.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// WAL mode lets readers (status, export) run beside a crawl
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	applied, err := migrations.SQLite().ApplySQLite(ctx, db.DB)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := NewFromDB(db, logger)
	if applied > 0 {
		s.logger.Info("applied sqlite migrations", zap.String("path", path), zap.Int("count", applied))
	}
	return s, nil
}

// OpenLedger opens the ledger database at path. A file that is not a
// readable SQLite database, or fails the quick integrity check, is moved
// aside with its WAL files and an empty database takes its place. Other
// errors are returned as-is.
func OpenLedger(ctx context.Context, path string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	s, err := Open(ctx, path, logger)
	if err == nil {
		err = s.quickCheck(ctx)
		if err == nil {
			return s, nil
		}
		_ = s.Close()
	}
	if path == ":memory:" || !IsCorrupt(err) {
		return nil, err
	}

	aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	if rerr := os.Rename(path, aside); rerr != nil {
		return nil, fmt.Errorf("failed to move corrupt ledger aside: %w", errors.Join(err, rerr))
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Rename(path+suffix, aside+suffix)
	}
	logger.Warn("ledger database corrupt; starting with an empty ledger",
		zap.String("path", path),
		zap.String("moved_to", aside),
		zap.Error(err))

	return Open(ctx, path, logger)
}

// ErrIntegrity is returned when a database fails PRAGMA quick_check.
var ErrIntegrity = errors.New("database integrity check failed")

// IsCorrupt reports whether err means the file is not a usable SQLite
// database.
func IsCorrupt(err error) bool {
	if errors.Is(err, ErrIntegrity) {
		return true
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrNotADB || se.Code == sqlite3.ErrCorrupt
	}
	return false
}

func (s *DB) quickCheck(ctx context.Context) error {
	var results []string
	if err := s.db.SelectContext(ctx, &results, "PRAGMA quick_check"); err != nil {
		return fmt.Errorf("failed to check database: %w", err)
	}
	if len(results) != 1 || results[0] != "ok" {
		return fmt.Errorf("%w: %v", ErrIntegrity, results)
	}
	return nil
}

// NewFromDB wraps an open database whose schema is already in place.
func NewFromDB(db *sqlx.DB, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{db: db, logger: logger}
}

// Close closes the database.
func (s *DB) Close() error {
	return s.db.Close()
}
