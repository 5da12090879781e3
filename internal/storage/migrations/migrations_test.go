package migrations

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// Example migration for testing
var exampleMigration = Migration{
	Version:     1,
	Description: "Add example test table",
	Up: `
		CREATE TABLE IF NOT EXISTS test_table (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL
		)
	`,
}

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=ON")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	// one connection so every query sees the same in-memory database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteMigrations(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	manager := NewManager(exampleMigration)
	applied, err := manager.ApplySQLite(ctx, db)
	if err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}
	if applied != 1 {
		t.Errorf("expected 1 migration applied, got %d", applied)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version WHERE version = 1").Scan(&version)
	if err != nil {
		t.Fatalf("version record not found: %v", err)
	}

	if _, err = db.Exec("INSERT INTO test_table (id, name) VALUES (1, 'test')"); err != nil {
		t.Fatalf("test table not created: %v", err)
	}

	// Reapplying is a no-op
	applied, err = manager.ApplySQLite(ctx, db)
	if err != nil || applied != 0 {
		t.Fatalf("expected no pending migrations, got %d (err %v)", applied, err)
	}

	// A later migration applies on top of the recorded version
	next := Migration{
		Version:     2,
		Description: "Add example column",
		Up:          `ALTER TABLE test_table ADD COLUMN note TEXT NOT NULL DEFAULT ''`,
	}
	applied, err = NewManager(next, exampleMigration).ApplySQLite(ctx, db)
	if err != nil {
		t.Fatalf("failed to apply follow-up migration: %v", err)
	}
	if applied != 1 {
		t.Errorf("expected 1 migration applied, got %d", applied)
	}
	version, err = SQLiteVersion(ctx, db)
	if err != nil || version != 2 {
		t.Fatalf("SQLiteVersion() = %d, %v; want 2", version, err)
	}
	if _, err = db.Exec("INSERT INTO test_table (id, name, note) VALUES (2, 'test', 'x')"); err != nil {
		t.Errorf("column not added: %v", err)
	}
}

func TestSQLiteSchemaApplies(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	manager := SQLite()
	applied, err := manager.ApplySQLite(ctx, db)
	if err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	if applied != manager.Latest() {
		t.Errorf("expected %d migrations applied, got %d", manager.Latest(), applied)
	}

	version, err := SQLiteVersion(ctx, db)
	if err != nil {
		t.Fatalf("SQLiteVersion() error = %v", err)
	}
	if version != manager.Latest() {
		t.Errorf("version = %d, want %d", version, manager.Latest())
	}

	for _, table := range []string{"processed_urls", "run_state", "canonical_deals", "review_decisions"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrationOrdering(t *testing.T) {
	manager := NewManager()

	// Register migrations out of order
	manager.Register(Migration{Version: 3, Description: "Third"})
	manager.Register(Migration{Version: 1, Description: "First"})
	manager.Register(Migration{Version: 2, Description: "Second"})

	manager.sortMigrations()

	if len(manager.migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(manager.migrations))
	}
	for i, want := range []int{1, 2, 3} {
		if manager.migrations[i].Version != want {
			t.Errorf("migration %d: expected version %d, got %d", i, want, manager.migrations[i].Version)
		}
	}
	if manager.Latest() != 3 {
		t.Errorf("Latest() = %d, want 3", manager.Latest())
	}
}
