package migrations

// SQLite returns the manager for the SQLite schema.
func SQLite() *Manager {
	return NewManager(
		Migration{
			Version:     1,
			Description: "processed url ledger",
			Up: `
				CREATE TABLE processed_urls (
					url TEXT PRIMARY KEY,
					source TEXT NOT NULL DEFAULT '',
					published_at DATETIME,
					outcome TEXT NOT NULL DEFAULT '',
					canonical_key TEXT NOT NULL DEFAULT '',
					run_id TEXT NOT NULL DEFAULT '',
					processed_at DATETIME NOT NULL
				);
				CREATE INDEX idx_processed_urls_source ON processed_urls(source);
			`,
		},
		Migration{
			Version:     2,
			Description: "run checkpoint and canonical deals",
			Up: `
				CREATE TABLE run_state (
					id INTEGER PRIMARY KEY CHECK (id = 1),
					schema_version TEXT NOT NULL,
					run_id TEXT NOT NULL,
					state TEXT NOT NULL,
					cycle INTEGER NOT NULL DEFAULT 0,
					dry_cycles INTEGER NOT NULL DEFAULT 0,
					threshold INTEGER NOT NULL DEFAULT 0,
					next_seq INTEGER NOT NULL DEFAULT 0,
					started_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				);
				CREATE TABLE canonical_deals (
					canonical_key TEXT PRIMARY KEY,
					seq INTEGER NOT NULL,
					date_announced TEXT NOT NULL,
					needs_review INTEGER NOT NULL DEFAULT 0,
					payload TEXT NOT NULL
				);
				CREATE INDEX idx_canonical_deals_review ON canonical_deals(needs_review);
			`,
		},
		Migration{
			Version:     3,
			Description: "analyst review decisions",
			Up: `
				CREATE TABLE review_decisions (
					canonical_key TEXT PRIMARY KEY,
					decision TEXT NOT NULL,
					note TEXT NOT NULL DEFAULT '',
					reviewer TEXT NOT NULL DEFAULT '',
					decided_at DATETIME NOT NULL
				);
			`,
		},
	)
}

// Postgres returns the manager for the PostgreSQL schema. Only the ledger
// lives in PostgreSQL; checkpoints stay with the local run.
func Postgres() *Manager {
	return NewManager(
		Migration{
			Version:     1,
			Description: "processed url ledger",
			Up: `
				CREATE TABLE IF NOT EXISTS processed_urls (
					url TEXT PRIMARY KEY,
					source TEXT NOT NULL DEFAULT '',
					published_at TIMESTAMPTZ,
					outcome TEXT NOT NULL DEFAULT '',
					canonical_key TEXT NOT NULL DEFAULT '',
					run_id TEXT NOT NULL DEFAULT '',
					processed_at TIMESTAMPTZ NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_processed_urls_source ON processed_urls(source);
			`,
		},
	)
}
