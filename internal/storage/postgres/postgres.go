// Package postgres provides a shared PostgreSQL ledger, so several crawler
// hosts can skip each other's processed URLs.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/steveyegge/dealfinder/internal/ledger"
	"github.com/steveyegge/dealfinder/internal/storage/migrations"
)

// Config holds PostgreSQL connection configuration
type Config struct {
	// URL is a postgres:// connection string
	URL string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	HealthCheck     time.Duration
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		URL:             "postgres://dealfinder@localhost:5432/dealfinder?sslmode=prefer",
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 1 * time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		HealthCheck:     1 * time.Minute,
	}
}

// Ledger implements ledger.Ledger on a pgx connection pool.
type Ledger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New connects, verifies the connection and applies pending migrations.
func New(ctx context.Context, cfg *Config, logger *zap.Logger) (*Ledger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheck > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheck
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	applied, err := migrations.Postgres().ApplyPostgres(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if applied > 0 {
		logger.Info("applied postgres migrations", zap.Int("count", applied))
	}

	return &Ledger{pool: pool, logger: logger}, nil
}

const entryColumns = `url, source, published_at, outcome, canonical_key, run_id, processed_at`

// IsProcessed implements ledger.Ledger.
func (l *Ledger) IsProcessed(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM processed_urls WHERE url = $1)`, url).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check ledger: %w", err)
	}
	return exists, nil
}

// MarkProcessed implements ledger.Ledger.
func (l *Ledger) MarkProcessed(ctx context.Context, url string, meta ledger.Metadata) error {
	return l.MarkBatch(ctx, []ledger.Entry{{URL: url, Metadata: meta}})
}

// MarkBatch implements ledger.Ledger. The batch is sent in one round trip
// inside a transaction.
func (l *Ledger) MarkBatch(ctx context.Context, entries []ledger.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, e := range entries {
		if e.URL == "" {
			return fmt.Errorf("cannot ledger an empty url")
		}
		if e.ProcessedAt.IsZero() {
			e.ProcessedAt = now
		}
		batch.Queue(`
			INSERT INTO processed_urls (`+entryColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (url) DO NOTHING
		`, e.URL, e.Source, e.PublishedAt, string(e.Outcome), e.CanonicalKey, e.RunID, e.ProcessedAt)
	}

	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to mark urls processed: %w", err)
	}
	return nil
}

// Get implements ledger.Ledger.
func (l *Ledger) Get(ctx context.Context, url string) (ledger.Entry, bool, error) {
	row := l.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM processed_urls WHERE url = $1`, url)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return e, true, nil
}

// Entries implements ledger.Ledger.
func (l *Ledger) Entries(ctx context.Context) ([]ledger.Entry, error) {
	rows, err := l.pool.Query(ctx, `SELECT `+entryColumns+` FROM processed_urls ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats implements ledger.Ledger.
func (l *Ledger) Stats(ctx context.Context) (ledger.Stats, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return ledger.Stats{}, err
	}
	return ledger.ComputeStats(entries), nil
}

// Reset implements ledger.Ledger.
func (l *Ledger) Reset(ctx context.Context) error {
	tag, err := l.pool.Exec(ctx, `DELETE FROM processed_urls`)
	if err != nil {
		return fmt.Errorf("failed to reset ledger: %w", err)
	}
	l.logger.Info("ledger reset", zap.Int64("removed", tag.RowsAffected()))
	return nil
}

// Close implements ledger.Ledger.
func (l *Ledger) Close() error {
	l.pool.Close()
	return nil
}

func scanEntry(row pgx.Row) (ledger.Entry, error) {
	var e ledger.Entry
	var outcome string
	err := row.Scan(&e.URL, &e.Source, &e.PublishedAt, &outcome, &e.CanonicalKey, &e.RunID, &e.ProcessedAt)
	if err != nil {
		return ledger.Entry{}, err
	}
	e.Outcome = ledger.Outcome(outcome)
	return e, nil
}
