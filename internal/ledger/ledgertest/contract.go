// Package ledgertest provides a behavioral test suite shared by every ledger
// backend.
package ledgertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/dealfinder/internal/ledger"
	"github.com/steveyegge/dealfinder/internal/types"
)

// Factory returns an empty ledger. The suite closes it.
type Factory func(t *testing.T) ledger.Ledger

// Run exercises l against the Ledger contract.
func Run(t *testing.T, newLedger Factory) {
	t.Run("MarkAndCheck", func(t *testing.T) {
		testMarkAndCheck(t, newLedger(t))
	})
	t.Run("IdempotentMark", func(t *testing.T) {
		testIdempotentMark(t, newLedger(t))
	})
	t.Run("Batch", func(t *testing.T) {
		testBatch(t, newLedger(t))
	})
	t.Run("InvalidBatch", func(t *testing.T) {
		testInvalidBatch(t, newLedger(t))
	})
	t.Run("NewURLs", func(t *testing.T) {
		testNewURLs(t, newLedger(t))
	})
	t.Run("Stats", func(t *testing.T) {
		testStats(t, newLedger(t))
	})
	t.Run("Reset", func(t *testing.T) {
		testReset(t, newLedger(t))
	})
}

func testMarkAndCheck(t *testing.T, l ledger.Ledger) {
	defer l.Close()
	ctx := context.Background()
	url := "https://www.prnewswire.com/news/pfizer-arena"

	done, err := l.IsProcessed(ctx, url)
	require.NoError(t, err)
	assert.False(t, done)

	published := time.Date(2021, 12, 13, 7, 0, 0, 0, time.UTC)
	require.NoError(t, l.MarkProcessed(ctx, url, ledger.Metadata{
		Source:       "prnewswire",
		PublishedAt:  &published,
		Outcome:      ledger.OutcomeDeal,
		CanonicalKey: "abc123",
		RunID:        "run-1",
	}))

	done, err = l.IsProcessed(ctx, url)
	require.NoError(t, err)
	assert.True(t, done)

	e, ok, err := l.Get(ctx, url)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, url, e.URL)
	assert.Equal(t, "prnewswire", e.Source)
	assert.Equal(t, ledger.OutcomeDeal, e.Outcome)
	assert.Equal(t, "abc123", e.CanonicalKey)
	assert.Equal(t, "run-1", e.RunID)
	require.NotNil(t, e.PublishedAt)
	assert.True(t, published.Equal(*e.PublishedAt))
	assert.False(t, e.ProcessedAt.IsZero())

	_, ok, err = l.Get(ctx, "https://unknown.example/")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testIdempotentMark(t *testing.T, l ledger.Ledger) {
	defer l.Close()
	ctx := context.Background()
	url := "https://example.com/a"

	require.NoError(t, l.MarkProcessed(ctx, url, ledger.Metadata{Source: "first", Outcome: ledger.OutcomeNoDeal}))
	before, err := l.Entries(ctx)
	require.NoError(t, err)

	require.NoError(t, l.MarkProcessed(ctx, url, ledger.Metadata{Source: "second", Outcome: ledger.OutcomeDeal}))
	after, err := l.Entries(ctx)
	require.NoError(t, err)

	require.Len(t, after, 1)
	assert.Equal(t, before[0].Source, after[0].Source)
	assert.Equal(t, before[0].Outcome, after[0].Outcome)
	assert.True(t, before[0].ProcessedAt.Equal(after[0].ProcessedAt))
}

func testBatch(t *testing.T, l ledger.Ledger) {
	defer l.Close()
	ctx := context.Background()

	require.NoError(t, l.MarkBatch(ctx, nil))
	require.NoError(t, l.MarkBatch(ctx, []ledger.Entry{
		{URL: "https://b.example/2", Metadata: ledger.Metadata{Source: "b", Outcome: ledger.OutcomeExcluded}},
		{URL: "https://a.example/1", Metadata: ledger.Metadata{Source: "a", Outcome: ledger.OutcomeMalformed}},
		{URL: "https://a.example/1", Metadata: ledger.Metadata{Source: "dup"}},
	}))

	entries, err := l.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "https://a.example/1", entries[0].URL)
	assert.Equal(t, "a", entries[0].Source)
	assert.Equal(t, "https://b.example/2", entries[1].URL)

	assert.Error(t, l.MarkBatch(ctx, []ledger.Entry{{URL: ""}}))
}

func testInvalidBatch(t *testing.T, l ledger.Ledger) {
	defer l.Close()
	ctx := context.Background()

	err := l.MarkBatch(ctx, []ledger.Entry{
		{URL: "https://a.example/1", Metadata: ledger.Metadata{Source: "a", Outcome: ledger.OutcomeDeal}},
		{URL: ""},
	})
	require.Error(t, err)

	done, err := l.IsProcessed(ctx, "https://a.example/1")
	require.NoError(t, err)
	assert.False(t, done, "a rejected batch must not ledger any of its entries")

	entries, err := l.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func testNewURLs(t *testing.T, l ledger.Ledger) {
	defer l.Close()
	ctx := context.Background()

	require.NoError(t, l.MarkProcessed(ctx, "https://old.example/1", ledger.Metadata{Source: "old"}))

	got, err := ledger.NewURLs(ctx, l, []types.Candidate{
		{URL: "https://new.example/2", Source: "feed"},
		{URL: "https://old.example/1", Source: "feed"},
		{URL: "https://new.example/2", Source: "other"},
		{URL: ""},
		{URL: "https://new.example/3", Source: "feed"},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "https://new.example/2", got[0].URL)
	assert.Equal(t, "feed", got[0].Source)
	assert.Equal(t, "https://new.example/3", got[1].URL)
}

func testStats(t *testing.T, l ledger.Ledger) {
	defer l.Close()
	ctx := context.Background()

	require.NoError(t, l.MarkBatch(ctx, []ledger.Entry{
		{URL: "https://x/1", Metadata: ledger.Metadata{Source: "fierce", Outcome: ledger.OutcomeDeal}},
		{URL: "https://x/2", Metadata: ledger.Metadata{Source: "fierce", Outcome: ledger.OutcomeNoDeal}},
		{URL: "https://x/3", Metadata: ledger.Metadata{Source: "endpoints", Outcome: ledger.OutcomeDeal}},
		{URL: "https://x/4"},
	}))

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.BySource["fierce"])
	assert.Equal(t, 1, stats.BySource["endpoints"])
	assert.Equal(t, 1, stats.BySource["unknown"])
	assert.Equal(t, 2, stats.ByOutcome[ledger.OutcomeDeal])
	assert.Equal(t, 1, stats.ByOutcome[ledger.OutcomeNoDeal])
	assert.Equal(t, []string{"fierce", "endpoints", "unknown"}, stats.SortedSources())
}

func testReset(t *testing.T, l ledger.Ledger) {
	defer l.Close()
	ctx := context.Background()

	require.NoError(t, l.MarkProcessed(ctx, "https://x/1", ledger.Metadata{Source: "s"}))
	require.NoError(t, l.Reset(ctx))

	done, err := l.IsProcessed(ctx, "https://x/1")
	require.NoError(t, err)
	assert.False(t, done)

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)

	// usable after reset
	require.NoError(t, l.MarkProcessed(ctx, "https://x/1", ledger.Metadata{Source: "s"}))
	done, err = l.IsProcessed(ctx, "https://x/1")
	require.NoError(t, err)
	assert.True(t, done)
}
