package repl

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/dealfinder/internal/checkpoint"
	"github.com/steveyegge/dealfinder/internal/types"
)

func record(target, date string, needsReview bool) *types.DealRecord {
	d, _ := time.Parse(types.DateLayout, date)
	return &types.DealRecord{
		Identity:      types.Identity{Target: target, Acquirer: "acme", Date: date},
		Target:        target,
		Acquirer:      "Acme",
		DateAnnounced: d,
		DealType:      types.DealTypePartnership,
		Stage:         types.StagePreclinical,
		NeedsReview:   needsReview,
		ReviewReasons: []string{"stage defaulted"},
		SourceURL:     "https://wire.example/" + target,
	}
}

func newTestREPL(t *testing.T, store checkpoint.DecisionStore, records []*types.DealRecord, all bool) (*REPL, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	r, err := New(context.Background(), &Config{Store: store, Records: records, Reviewer: "kim", All: all, Out: &out})
	require.NoError(t, err)
	r.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	return r, &out
}

func TestQueueOrdersFlaggedRecords(t *testing.T) {
	records := []*types.DealRecord{
		record("beta", "2024-03-01", true),
		record("alpha", "2024-01-01", true),
		record("clean", "2024-02-01", false),
	}
	q := NewQueue(records, nil, true)
	require.Equal(t, 2, q.Len())
	assert.Equal(t, "alpha", q.Current().Target)
	assert.True(t, q.Advance())
	assert.Equal(t, "beta", q.Current().Target)
	assert.False(t, q.Advance())
	assert.Nil(t, q.Current())
	assert.False(t, q.Seek(5))
}

func TestQueueSkipsDecided(t *testing.T) {
	records := []*types.DealRecord{
		record("a", "2024-01-01", true),
		record("b", "2024-01-02", true),
		record("c", "2024-01-03", true),
	}
	decisions := map[string]types.ReviewDecision{
		records[0].CanonicalKey(): {Decision: types.DecisionConfirmed},
		records[1].CanonicalKey(): {Decision: types.DecisionDeferred},
	}
	assert.Equal(t, 2, NewQueue(records, decisions, true).Len())
	assert.Equal(t, 3, NewQueue(records, decisions, false).Len())
}

func TestDecisionsArePersisted(t *testing.T) {
	store := checkpoint.NewFileDecisionStore(filepath.Join(t.TempDir(), "decisions.json"))
	records := []*types.DealRecord{
		record("alpha", "2024-01-01", true),
		record("beta", "2024-01-02", true),
	}
	r, out := newTestREPL(t, store, records, false)

	require.NoError(t, r.processInput("confirm looks right"))
	require.NoError(t, r.processInput("r duplicate of earlier deal"))
	assert.Contains(t, out.String(), "End of queue")

	saved, err := store.Decisions(context.Background())
	require.NoError(t, err)
	require.Len(t, saved, 2)

	a := saved[records[0].CanonicalKey()]
	assert.Equal(t, types.DecisionConfirmed, a.Decision)
	assert.Equal(t, "looks right", a.Note)
	assert.Equal(t, "kim", a.Reviewer)
	assert.Equal(t, types.DecisionRejected, saved[records[1].CanonicalKey()].Decision)

	// Records themselves are untouched
	assert.True(t, records[0].NeedsReview)

	// A fresh pending queue is empty
	r2, _ := newTestREPL(t, store, records, false)
	assert.Equal(t, 0, r2.Queue().Len())
}

func TestCommands(t *testing.T) {
	store := checkpoint.NewFileDecisionStore(filepath.Join(t.TempDir(), "decisions.json"))
	records := []*types.DealRecord{
		record("alpha", "2024-01-01", true),
		record("beta", "2024-01-02", true),
	}
	r, out := newTestREPL(t, store, records, false)

	require.NoError(t, r.processInput("list"))
	assert.Contains(t, out.String(), "2024-01-01  Acme / alpha  [pending]")

	out.Reset()
	require.NoError(t, r.processInput("show 2"))
	assert.Contains(t, out.String(), "[2/2]")
	assert.Contains(t, out.String(), "stage defaulted")

	require.NoError(t, r.processInput("defer"))
	out.Reset()
	require.NoError(t, r.processInput("stats"))
	assert.Contains(t, out.String(), "deferred   1")
	assert.Contains(t, out.String(), "pending    1")

	assert.Error(t, r.processInput("show 9"))
	assert.Error(t, r.processInput("frobnicate"))
	assert.Error(t, r.processInput("confirm"), "queue is exhausted after the deferral")
	assert.Equal(t, io.EOF, r.processInput("exit"))
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(context.Background(), &Config{})
	assert.Error(t, err)
}
