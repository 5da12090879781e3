package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/dealfinder/internal/checkpoint"
	"github.com/steveyegge/dealfinder/internal/ledger"
	"github.com/steveyegge/dealfinder/internal/storage/sqlite"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"file", func(c *Config) { c.Backend = BackendFile }, false},
		{"unknown backend", func(c *Config) { c.Backend = "mongo" }, true},
		{"no data dir", func(c *Config) { c.DataDir = "" }, true},
		{"postgres without url", func(c *Config) { c.Backend = BackendPostgres }, true},
		{"redis without url", func(c *Config) { c.Backend = BackendRedis }, true},
		{"redis with url", func(c *Config) { c.Backend = BackendRedis; c.RedisURL = "redis://localhost:6379/0" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOpenFileBackend(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Backend: BackendFile, DataDir: t.TempDir()}

	s, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.IsType(t, &ledger.FileLedger{}, s.Ledger)
	assert.IsType(t, &checkpoint.FileStore{}, s.Checkpoints)

	require.NoError(t, s.Ledger.MarkProcessed(ctx, "https://a/1", ledger.Metadata{}))
	_, err = os.Stat(filepath.Join(cfg.DataDir, LedgerFileName))
	assert.NoError(t, err)
}

func TestOpenSQLiteBackend(t *testing.T) {
	cfg := Config{Backend: BackendSQLite, DataDir: t.TempDir()}

	s, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	db, ok := s.Ledger.(*sqlite.DB)
	require.True(t, ok)
	state, ok := s.Checkpoints.(*sqlite.DB)
	require.True(t, ok)
	assert.NotSame(t, db, state)
	assert.Same(t, state, s.Decisions)

	for _, name := range []string{DatabaseFileName, StateDatabaseFileName} {
		_, err := os.Stat(filepath.Join(cfg.DataDir, name))
		assert.NoError(t, err, name)
	}
}

func garbage() []byte {
	return bytes.Repeat([]byte("definitely not a sqlite database\n"), 128)
}

func TestOpenSQLiteBackendRecoversCorruptLedger(t *testing.T) {
	ctx := context.Background()
	cfg := Config{Backend: BackendSQLite, DataDir: t.TempDir()}

	// Seed a checkpoint, then clobber the ledger database
	s, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, s.Ledger.MarkProcessed(ctx, "https://a.example/1", ledger.Metadata{Source: "a"}))
	require.NoError(t, s.Checkpoints.Save(ctx, &checkpoint.Checkpoint{
		SchemaVersion: checkpoint.SchemaVersion,
		RunID:         "run-1",
		State:         "DISCOVERING",
		Cycle:         2,
		StartedAt:     time.Now().UTC(),
	}))
	require.NoError(t, s.Close())
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DataDir, DatabaseFileName), garbage(), 0644))

	s, err = Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	done, err := s.Ledger.IsProcessed(ctx, "https://a.example/1")
	require.NoError(t, err)
	assert.False(t, done, "a corrupt ledger starts empty")

	aside, err := filepath.Glob(filepath.Join(cfg.DataDir, DatabaseFileName+".corrupt-*"))
	require.NoError(t, err)
	assert.NotEmpty(t, aside)

	require.NoError(t, s.Ledger.MarkProcessed(ctx, "https://b.example/2", ledger.Metadata{Source: "b"}))
	done, err = s.Ledger.IsProcessed(ctx, "https://b.example/2")
	require.NoError(t, err)
	assert.True(t, done)

	cp, err := s.Checkpoints.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "run-1", cp.RunID)
	assert.Equal(t, 2, cp.Cycle)
}

func TestOpenSQLiteBackendRejectsCorruptState(t *testing.T) {
	cfg := Config{Backend: BackendSQLite, DataDir: t.TempDir()}
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DataDir, StateDatabaseFileName), garbage(), 0644))

	_, err := Open(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.True(t, sqlite.IsCorrupt(err))

	aside, err := filepath.Glob(filepath.Join(cfg.DataDir, "*.corrupt-*"))
	require.NoError(t, err)
	assert.Empty(t, aside)
}

func TestOpenRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := Config{Backend: BackendRedis, DataDir: t.TempDir(), RedisURL: "redis://" + mr.Addr()}

	s, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	assert.IsType(t, &ledger.RedisLedger{}, s.Ledger)
	assert.IsType(t, &checkpoint.FileStore{}, s.Checkpoints)
}

func TestRunLock(t *testing.T) {
	dir := t.TempDir()

	lockPath, err := AcquireLock(dir, "dealfinder-run", "test")
	require.NoError(t, err)

	// this process is alive, so a second claim fails
	_, err = AcquireLock(dir, "dealfinder-run", "test")
	assert.True(t, errors.Is(err, ErrLocked))

	require.NoError(t, ReleaseLock(lockPath))
	require.NoError(t, ReleaseLock(lockPath), "release is idempotent")

	lockPath, err = AcquireLock(dir, "dealfinder-run", "test")
	require.NoError(t, err)
	require.NoError(t, ReleaseLock(lockPath))
}

func TestRunLockTakesOverStaleLock(t *testing.T) {
	dir := t.TempDir()
	hostname, err := os.Hostname()
	require.NoError(t, err)

	// PIDs are bounded well below this on every supported platform
	stale := RunLock{Holder: "old", PID: 1 << 30, Hostname: hostname}
	require.NoError(t, checkpoint.WriteJSONAtomic(filepath.Join(dir, LockFileName), stale))

	lockPath, err := AcquireLock(dir, "dealfinder-run", "test")
	require.NoError(t, err)
	require.NoError(t, ReleaseLock(lockPath))
}
