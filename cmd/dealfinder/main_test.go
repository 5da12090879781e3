package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/steveyegge/dealfinder/internal/checkpoint"
	"github.com/steveyegge/dealfinder/internal/config"
	"github.com/steveyegge/dealfinder/internal/export"
	"github.com/steveyegge/dealfinder/internal/storage"
	"github.com/steveyegge/dealfinder/internal/types"
)

// useTestConfig points the package globals at a file-backed temp data dir.
func useTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	c := config.Default()
	c.Storage.Backend = storage.BackendFile
	c.Storage.DataDir = filepath.Join(dir, "data")
	c.Output.Dir = filepath.Join(dir, "out")

	origCfg, origLogger := cfg, logger
	cfg, logger = c, zap.NewNop()
	t.Cleanup(func() { cfg, logger = origCfg, origLogger })
	return dir
}

func testDeal(target string, review bool) *types.DealRecord {
	total := 6700.0
	return &types.DealRecord{
		Identity:      types.Identity{Target: target, Acquirer: "pfizer", Asset: "undisclosed", Date: "2021-12-13"},
		Target:        target,
		Acquirer:      "Pfizer",
		AssetFocus:    "Undisclosed",
		DateAnnounced: time.Date(2021, 12, 13, 0, 0, 0, 0, time.UTC),
		DealType:      types.DealTypeMA,
		Stage:         types.StagePhase1,
		Money:         types.Money{TotalUSD: &total, Currency: "USD"},
		Confidence:    0.8,
		NeedsReview:   review,
		SourceURL:     "https://wire.example/" + target,
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "4.5s", formatDuration(4500*time.Millisecond))
	assert.Equal(t, "2m5s", formatDuration(125*time.Second))
	assert.Equal(t, "1h30m", formatDuration(90*time.Minute))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "3f2a9c1e", shortID("3f2a9c1e-0000-4000-8000-000000000000"))
	assert.Equal(t, "abc", shortID("abc"))
}

func TestRecordsFromCheckpointRequiresRun(t *testing.T) {
	useTestConfig(t)
	err := withStores(func(ctx context.Context, stores *storage.Stores) error {
		_, _, err := recordsFromCheckpoint(ctx, stores)
		return err
	})
	assert.ErrorContains(t, err, "no checkpoint")
}

func TestExportCommand(t *testing.T) {
	dir := useTestConfig(t)
	ctx := context.Background()

	cp := checkpoint.NewFileStore(filepath.Join(cfg.Storage.DataDir, storage.CheckpointFileName), nil)
	require.NoError(t, cp.Save(ctx, &checkpoint.Checkpoint{
		RunID: "run-1234567890",
		State: "CONVERGED",
		Deals: []*types.DealRecord{testDeal("arena", true), testDeal("acme", false)},
	}))
	decisions := checkpoint.NewFileDecisionStore(filepath.Join(cfg.Storage.DataDir, storage.DecisionsFileName))
	require.NoError(t, decisions.SaveDecision(ctx, types.ReviewDecision{
		CanonicalKey: testDeal("arena", true).CanonicalKey(),
		Decision:     types.DecisionConfirmed,
		DecidedAt:    time.Now(),
	}))

	exportOut = filepath.Join(dir, "deals.xlsx")
	exportEvidence = filepath.Join(dir, "evidence.jsonl")
	t.Cleanup(func() { exportOut, exportEvidence = "", "" })

	require.NoError(t, exportCmd.RunE(exportCmd, nil))

	f, err := excelize.OpenFile(exportOut)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(export.SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Contains(t, rows[1], "confirmed")
	assert.FileExists(t, exportEvidence)
}

func TestKeyCommand(t *testing.T) {
	useTestConfig(t)
	keyTarget, keyAcquirer, keyAsset, keyDate = "Arena", "Pfizer", "", "13/12/2021"
	t.Cleanup(func() { keyTarget, keyAcquirer, keyAsset, keyDate = "", "", "", "" })

	assert.Error(t, keyCmd.RunE(keyCmd, nil))

	keyDate = "2021-12-13"
	assert.NoError(t, keyCmd.RunE(keyCmd, nil))
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512B", humanBytes(512))
	assert.Equal(t, "2.0K", humanBytes(2048))
	assert.Equal(t, "1.5M", humanBytes(3<<19))
}
