package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/dealfinder/internal/ledger"
)

const entryColumns = `url, source, published_at, outcome, canonical_key, run_id, processed_at`

// IsProcessed implements ledger.Ledger.
func (s *DB) IsProcessed(ctx context.Context, url string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM processed_urls WHERE url = ?`, url)
	if err != nil {
		return false, fmt.Errorf("failed to check ledger: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed implements ledger.Ledger.
func (s *DB) MarkProcessed(ctx context.Context, url string, meta ledger.Metadata) error {
	return s.MarkBatch(ctx, []ledger.Entry{{URL: url, Metadata: meta}})
}

// MarkBatch implements ledger.Ledger. The batch commits in one transaction;
// URLs already present are left untouched.
func (s *DB) MarkBatch(ctx context.Context, entries []ledger.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	now := time.Now().UTC()
	added := int64(0)
	for _, e := range entries {
		if e.URL == "" {
			return fmt.Errorf("cannot ledger an empty url")
		}
		if e.ProcessedAt.IsZero() {
			e.ProcessedAt = now
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO processed_urls (`+entryColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(url) DO NOTHING
		`, e.URL, e.Source, e.PublishedAt, string(e.Outcome), e.CanonicalKey, e.RunID, e.ProcessedAt)
		if err != nil {
			return fmt.Errorf("failed to ledger %s: %w", e.URL, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			added += n
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger batch: %w", err)
	}
	s.logger.Debug("ledgered urls", zap.Int("batch", len(entries)), zap.Int64("added", added))
	return nil
}

// Get implements ledger.Ledger.
func (s *DB) Get(ctx context.Context, url string) (ledger.Entry, bool, error) {
	var e ledger.Entry
	err := s.db.GetContext(ctx, &e, `SELECT `+entryColumns+` FROM processed_urls WHERE url = ?`, url)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return e, true, nil
}

// Entries implements ledger.Ledger.
func (s *DB) Entries(ctx context.Context) ([]ledger.Entry, error) {
	var entries []ledger.Entry
	err := s.db.SelectContext(ctx, &entries, `SELECT `+entryColumns+` FROM processed_urls ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}
	return entries, nil
}

type countRow struct {
	Name  string `db:"name"`
	Count int    `db:"n"`
}

// Stats implements ledger.Ledger. Counts are aggregated in SQL.
func (s *DB) Stats(ctx context.Context) (ledger.Stats, error) {
	stats := ledger.Stats{
		BySource:  make(map[string]int),
		ByOutcome: make(map[ledger.Outcome]int),
	}

	var bySource []countRow
	err := s.db.SelectContext(ctx, &bySource, `
		SELECT COALESCE(NULLIF(source, ''), 'unknown') AS name, COUNT(*) AS n
		FROM processed_urls
		GROUP BY name
	`)
	if err != nil {
		return ledger.Stats{}, fmt.Errorf("failed to count ledger by source: %w", err)
	}
	for _, r := range bySource {
		stats.BySource[r.Name] = r.Count
		stats.Total += r.Count
	}

	var byOutcome []countRow
	err = s.db.SelectContext(ctx, &byOutcome, `
		SELECT outcome AS name, COUNT(*) AS n
		FROM processed_urls
		WHERE outcome != ''
		GROUP BY outcome
	`)
	if err != nil {
		return ledger.Stats{}, fmt.Errorf("failed to count ledger by outcome: %w", err)
	}
	for _, r := range byOutcome {
		stats.ByOutcome[ledger.Outcome(r.Name)] = r.Count
	}
	return stats, nil
}

// Reset implements ledger.Ledger.
func (s *DB) Reset(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM processed_urls`)
	if err != nil {
		return fmt.Errorf("failed to reset ledger: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Info("ledger reset", zap.Int64("removed", n))
	return nil
}
