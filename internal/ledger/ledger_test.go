package ledger_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/steveyegge/dealfinder/internal/ledger"
	"github.com/steveyegge/dealfinder/internal/ledger/ledgertest"
)

func TestFileLedgerContract(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Ledger {
		l, err := ledger.OpenFile(filepath.Join(t.TempDir(), "crawled_urls.json"), nil)
		require.NoError(t, err)
		return l
	})
}

func TestRedisLedgerContract(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) ledger.Ledger {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return ledger.NewRedis(client, "test:ledger", nil)
	})
}

func TestFileLedgerPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "crawled_urls.json")

	l, err := ledger.OpenFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, l.MarkProcessed(ctx, "https://a.example/1", ledger.Metadata{Source: "a", Outcome: ledger.OutcomeDeal}))
	require.NoError(t, l.Close())

	reopened, err := ledger.OpenFile(path, nil)
	require.NoError(t, err)
	e, ok, err := reopened.Get(ctx, "https://a.example/1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", e.Source)
	assert.Equal(t, ledger.OutcomeDeal, e.Outcome)
}

func TestFileLedgerCorruptFailsOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "crawled_urls.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"crawled_urls": [`), 0644))

	core, logs := observer.New(zap.WarnLevel)
	l, err := ledger.OpenFile(path, zap.New(core))
	require.NoError(t, err, "corruption must not block the run")

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)

	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].Message, "corrupt")

	// the bad file is kept aside for inspection
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(files[0].Name(), "crawled_urls.json.corrupt-"))

	// and the ledger is writable again
	require.NoError(t, l.MarkProcessed(ctx, "https://a.example/1", ledger.Metadata{}))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestFileLedgerRejectedBatchLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "crawled_urls.json")

	l, err := ledger.OpenFile(path, nil)
	require.NoError(t, err)
	err = l.MarkBatch(ctx, []ledger.Entry{
		{URL: "https://a.example/1", Metadata: ledger.Metadata{Source: "a"}},
		{URL: ""},
	})
	require.Error(t, err)

	_, ok, err := l.Get(ctx, "https://a.example/1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "nothing should be flushed")

	// A later valid batch writes only its own entries
	require.NoError(t, l.MarkProcessed(ctx, "https://b.example/2", ledger.Metadata{Source: "b"}))
	reopened, err := ledger.OpenFile(path, nil)
	require.NoError(t, err)
	entries, err := reopened.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "https://b.example/2", entries[0].URL)
}

func TestRedisLedgerKeysAreHashed(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	l := ledger.NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "", nil)
	defer l.Close()

	require.NoError(t, l.MarkProcessed(ctx, "https://a.example/news?id=1", ledger.Metadata{Source: "a"}))

	assert.True(t, mr.Exists(ledger.DefaultRedisPrefix+":urls"))
	for _, key := range mr.Keys() {
		assert.NotContains(t, key, "https://", "entry keys must not embed raw urls")
	}
}

func TestOutcomeIsValid(t *testing.T) {
	for _, o := range []ledger.Outcome{ledger.OutcomeDeal, ledger.OutcomeNoDeal, ledger.OutcomeExcluded, ledger.OutcomeMalformed} {
		assert.True(t, o.IsValid(), o)
	}
	assert.False(t, ledger.Outcome("maybe").IsValid())
}
