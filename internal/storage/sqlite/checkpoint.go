package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/steveyegge/dealfinder/internal/checkpoint"
	"github.com/steveyegge/dealfinder/internal/types"
)

type runStateRow struct {
	SchemaVersion string    `db:"schema_version"`
	RunID         string    `db:"run_id"`
	State         string    `db:"state"`
	Cycle         int       `db:"cycle"`
	DryCycles     int       `db:"dry_cycles"`
	Threshold     int       `db:"threshold"`
	NextSeq       uint64    `db:"next_seq"`
	StartedAt     time.Time `db:"started_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Load implements checkpoint.Store.
func (s *DB) Load(ctx context.Context) (*checkpoint.Checkpoint, error) {
	var row runStateRow
	err := s.db.GetContext(ctx, &row, `
		SELECT schema_version, run_id, state, cycle, dry_cycles, threshold, next_seq, started_at, updated_at
		FROM run_state WHERE id = 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run state: %w", err)
	}
	if err := checkpoint.CheckVersion(row.SchemaVersion); err != nil {
		return nil, err
	}

	var payloads []string
	if err := s.db.SelectContext(ctx, &payloads, `SELECT payload FROM canonical_deals ORDER BY seq`); err != nil {
		return nil, fmt.Errorf("failed to load canonical deals: %w", err)
	}
	deals := make([]*types.DealRecord, 0, len(payloads))
	for _, p := range payloads {
		var rec types.DealRecord
		if err := json.Unmarshal([]byte(p), &rec); err != nil {
			return nil, fmt.Errorf("%w: canonical deal payload: %v", checkpoint.ErrCorrupt, err)
		}
		deals = append(deals, &rec)
	}

	return &checkpoint.Checkpoint{
		SchemaVersion: row.SchemaVersion,
		RunID:         row.RunID,
		State:         row.State,
		Cycle:         row.Cycle,
		DryCycles:     row.DryCycles,
		Threshold:     row.Threshold,
		NextSeq:       row.NextSeq,
		Deals:         deals,
		StartedAt:     row.StartedAt,
		UpdatedAt:     row.UpdatedAt,
	}, nil
}

// Save implements checkpoint.Store. Run state and the full canonical set are
// replaced in one transaction. Like the file store it does not abort on a
// cancelled context, so a stopping run can still persist its final state.
func (s *DB) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	ctx = context.WithoutCancel(ctx)
	if cp.SchemaVersion == "" {
		cp.SchemaVersion = checkpoint.SchemaVersion
	}
	cp.UpdatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin checkpoint transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.ExecContext(ctx, `
		INSERT INTO run_state (id, schema_version, run_id, state, cycle, dry_cycles, threshold, next_seq, started_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			run_id = excluded.run_id,
			state = excluded.state,
			cycle = excluded.cycle,
			dry_cycles = excluded.dry_cycles,
			threshold = excluded.threshold,
			next_seq = excluded.next_seq,
			started_at = excluded.started_at,
			updated_at = excluded.updated_at
	`, cp.SchemaVersion, cp.RunID, cp.State, cp.Cycle, cp.DryCycles, cp.Threshold, cp.NextSeq, cp.StartedAt, cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save run state: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM canonical_deals`); err != nil {
		return fmt.Errorf("failed to clear canonical deals: %w", err)
	}
	for _, rec := range cp.Deals {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to serialize deal %s: %w", rec.SourceURL, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO canonical_deals (canonical_key, seq, date_announced, needs_review, payload)
			VALUES (?, ?, ?, ?, ?)
		`, rec.CanonicalKey(), rec.Seq, rec.Identity.Date, rec.NeedsReview, string(payload))
		if err != nil {
			return fmt.Errorf("failed to save deal %s: %w", rec.CanonicalKey(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

// SaveDecision implements checkpoint.DecisionStore.
func (s *DB) SaveDecision(ctx context.Context, d types.ReviewDecision) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO review_decisions (canonical_key, decision, note, reviewer, decided_at)
		VALUES (:canonical_key, :decision, :note, :reviewer, :decided_at)
		ON CONFLICT(canonical_key) DO UPDATE SET
			decision = excluded.decision,
			note = excluded.note,
			reviewer = excluded.reviewer,
			decided_at = excluded.decided_at
	`, d)
	if err != nil {
		return fmt.Errorf("failed to save review decision: %w", err)
	}
	return nil
}

// Decisions implements checkpoint.DecisionStore.
func (s *DB) Decisions(ctx context.Context) (map[string]types.ReviewDecision, error) {
	var rows []types.ReviewDecision
	err := s.db.SelectContext(ctx, &rows, `
		SELECT canonical_key, decision, note, reviewer, decided_at FROM review_decisions
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load review decisions: %w", err)
	}
	out := make(map[string]types.ReviewDecision, len(rows))
	for _, d := range rows {
		out[d.CanonicalKey] = d
	}
	return out, nil
}
