package sqlite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/steveyegge/dealfinder/internal/checkpoint"
	"github.com/steveyegge/dealfinder/internal/ledger"
	"github.com/steveyegge/dealfinder/internal/ledger/ledgertest"
	"github.com/steveyegge/dealfinder/internal/types"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "dealfinder.db"), nil)
	require.NoError(t, err)
	return db
}

func TestLedgerContract(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Ledger {
		return setupTestDB(t)
	})
}

func TestReopenKeepsLedger(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dealfinder.db")

	db, err := Open(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, db.MarkProcessed(ctx, "https://a.example/1", ledger.Metadata{Source: "a"}))
	require.NoError(t, db.Close())

	db, err = Open(ctx, path, nil)
	require.NoError(t, err)
	defer db.Close()
	done, err := db.IsProcessed(ctx, "https://a.example/1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestOpenLedgerMovesCorruptFileAside(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dealfinder.db")
	garbage := bytes.Repeat([]byte("definitely not a sqlite database\n"), 128)
	require.NoError(t, os.WriteFile(path, garbage, 0644))

	_, err := Open(ctx, path, nil)
	require.Error(t, err)
	assert.True(t, IsCorrupt(err))

	core, logs := observer.New(zap.WarnLevel)
	db, err := OpenLedger(ctx, path, zap.New(core))
	require.NoError(t, err)
	defer db.Close()

	st, err := db.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Total)
	require.NoError(t, db.MarkProcessed(ctx, "https://a.example/1", ledger.Metadata{Source: "a"}))

	entries := logs.FilterMessageSnippet("ledger database corrupt").All()
	require.Len(t, entries, 1)
	aside, ok := entries[0].ContextMap()["moved_to"].(string)
	require.True(t, ok)
	kept, err := os.ReadFile(aside)
	require.NoError(t, err)
	assert.Equal(t, garbage, kept)
}

func TestOpenLedgerKeepsHealthyDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dealfinder.db")

	db, err := OpenLedger(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, db.MarkProcessed(ctx, "https://a.example/1", ledger.Metadata{Source: "a"}))
	require.NoError(t, db.Close())

	db, err = OpenLedger(ctx, path, nil)
	require.NoError(t, err)
	defer db.Close()
	done, err := db.IsProcessed(ctx, "https://a.example/1")
	require.NoError(t, err)
	assert.True(t, done)

	aside, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	assert.Empty(t, aside)
}

func TestIsCorrupt(t *testing.T) {
	assert.False(t, IsCorrupt(nil))
	assert.False(t, IsCorrupt(errors.New("disk full")))
	assert.True(t, IsCorrupt(fmt.Errorf("wrapped: %w", ErrIntegrity)))
	assert.True(t, IsCorrupt(fmt.Errorf("failed to ping database: %w", sqlite3.Error{Code: sqlite3.ErrNotADB})))
	assert.False(t, IsCorrupt(sqlite3.Error{Code: sqlite3.ErrBusy}))
}

func testDeal(url, asset string, seq uint64) *types.DealRecord {
	return &types.DealRecord{
		Seq:           seq,
		Identity:      types.Identity{Target: "arena", Acquirer: "pfizer", Asset: asset, Date: "2021-12-13"},
		Target:        "Arena",
		Acquirer:      "Pfizer",
		AssetFocus:    asset,
		DateAnnounced: time.Date(2021, 12, 13, 0, 0, 0, 0, time.UTC),
		DealType:      types.DealTypeMA,
		Stage:         types.StagePreclinical,
		NeedsReview:   seq%2 == 0,
		SourceURL:     url,
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	cp, err := db.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, cp)

	started := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	first := &checkpoint.Checkpoint{
		RunID:     "run-1",
		State:     "DISCOVERING",
		Cycle:     1,
		Threshold: 3,
		NextSeq:   2,
		Deals:     []*types.DealRecord{testDeal("https://a/1", "etrasimod", 2), testDeal("https://a/2", "undisclosed", 1)},
		StartedAt: started,
	}
	require.NoError(t, db.Save(ctx, first))

	// a later save replaces the deal set
	second := &checkpoint.Checkpoint{
		RunID:     "run-1",
		State:     "CONVERGED",
		Cycle:     4,
		DryCycles: 3,
		Threshold: 3,
		NextSeq:   2,
		Deals:     []*types.DealRecord{testDeal("https://a/1", "etrasimod", 2)},
		StartedAt: started,
	}
	require.NoError(t, db.Save(ctx, second))

	got, err := db.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, checkpoint.SchemaVersion, got.SchemaVersion)
	assert.Equal(t, "CONVERGED", got.State)
	assert.Equal(t, 4, got.Cycle)
	assert.Equal(t, 3, got.DryCycles)
	assert.Equal(t, uint64(2), got.NextSeq)
	assert.True(t, started.Equal(got.StartedAt))
	require.Len(t, got.Deals, 1)
	assert.Equal(t, second.Deals[0].CanonicalKey(), got.Deals[0].CanonicalKey())
}

func TestDecisions(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	require.NoError(t, db.SaveDecision(ctx, types.ReviewDecision{CanonicalKey: "k1", Decision: types.DecisionDeferred}))
	require.NoError(t, db.SaveDecision(ctx, types.ReviewDecision{CanonicalKey: "k1", Decision: types.DecisionConfirmed, Reviewer: "ana"}))

	all, err := db.Decisions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, types.DecisionConfirmed, all["k1"].Decision)
	assert.Equal(t, "ana", all["k1"].Reviewer)

	assert.Error(t, db.SaveDecision(ctx, types.ReviewDecision{CanonicalKey: "k2", Decision: "maybe"}))
}

func TestMarkBatchRollsBackOnError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db := NewFromDB(sqlx.NewDb(mockDB, "sqlite3"), nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO processed_urls").
		WithArgs("https://a/1", "a", sqlmock.AnyArg(), "deal", "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO processed_urls").
		WithArgs("https://a/2", "a", sqlmock.AnyArg(), "", "", "", sqlmock.AnyArg()).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = db.MarkBatch(context.Background(), []ledger.Entry{
		{URL: "https://a/1", Metadata: ledger.Metadata{Source: "a", Outcome: ledger.OutcomeDeal}},
		{URL: "https://a/2", Metadata: ledger.Metadata{Source: "a"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "https://a/2")

	if expectErr := mock.ExpectationsWereMet(); expectErr != nil {
		t.Errorf("unfulfilled expectations: %v", expectErr)
	}
}

func TestIsProcessedPropagatesErrors(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db := NewFromDB(sqlx.NewDb(mockDB, "sqlite3"), nil)
	mock.ExpectQuery("SELECT COUNT").WithArgs("https://a/1").WillReturnError(errors.New("database is locked"))

	_, err = db.IsProcessed(context.Background(), "https://a/1")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
