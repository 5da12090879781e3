package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Migration represents a single database migration
type Migration struct {
	Version     int
	Description string
	Up          string // SQL to apply the migration
}

// Manager handles database migrations
type Manager struct {
	migrations []Migration
}

// NewManager creates a new migration manager
func NewManager(migrations ...Migration) *Manager {
	m := &Manager{}
	for _, migration := range migrations {
		m.Register(migration)
	}
	return m
}

// Register adds a migration to the manager
func (m *Manager) Register(migration Migration) {
	m.migrations = append(m.migrations, migration)
}

// Latest returns the highest registered version.
func (m *Manager) Latest() int {
	latest := 0
	for _, migration := range m.migrations {
		if migration.Version > latest {
			latest = migration.Version
		}
	}
	return latest
}

// sortMigrations sorts migrations by version
func (m *Manager) sortMigrations() {
	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].Version < m.migrations[j].Version
	})
}

// SQLite migration methods

// ApplySQLite applies all pending migrations to a SQLite database and
// returns how many were applied.
func (m *Manager) ApplySQLite(ctx context.Context, db *sql.DB) (int, error) {
	if _, err := db.ExecContext(ctx, sqliteVersionTable); err != nil {
		return 0, fmt.Errorf("failed to create version table: %w", err)
	}

	current, err := SQLiteVersion(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}

	m.sortMigrations()
	applied := 0
	for _, migration := range m.migrations {
		if migration.Version <= current {
			continue
		}
		if err := applySQLiteMigration(ctx, db, migration); err != nil {
			return applied, fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
		applied++
	}
	return applied, nil
}

const sqliteVersionTable = `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)
`

// SQLiteVersion returns the applied schema version, 0 for a fresh database.
func SQLiteVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func applySQLiteMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, ?)",
		migration.Version, migration.Description, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

// PostgreSQL migration methods

// ApplyPostgres applies all pending migrations to a PostgreSQL database and
// returns how many were applied.
func (m *Manager) ApplyPostgres(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	if _, err := pool.Exec(ctx, postgresVersionTable); err != nil {
		return 0, fmt.Errorf("failed to create version table: %w", err)
	}

	var current int
	if err := pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}

	m.sortMigrations()
	applied := 0
	for _, migration := range m.migrations {
		if migration.Version <= current {
			continue
		}
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, migration.Up); err != nil {
				return fmt.Errorf("failed to execute migration SQL: %w", err)
			}
			_, err := tx.Exec(ctx,
				"INSERT INTO schema_version (version, description) VALUES ($1, $2)",
				migration.Version, migration.Description)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
		applied++
	}
	return applied, nil
}

const postgresVersionTable = `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`
