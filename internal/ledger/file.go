package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/dealfinder/internal/checkpoint"
)

// fileFormat is the on-disk layout of a FileLedger.
type fileFormat struct {
	CrawledURLs []string            `json:"crawled_urls"`
	Metadata    map[string]fileMeta `json:"url_metadata"`
	LastUpdated time.Time           `json:"last_updated"`
}

type fileMeta struct {
	Metadata
	ProcessedAt time.Time `json:"processed_at"`
}

// FileLedger keeps the ledger in memory and writes it through to a JSON file
// after every change. Each write replaces the file atomically.
type FileLedger struct {
	mu      sync.RWMutex
	path    string
	logger  *zap.Logger
	entries map[string]Entry
	now     func() time.Time
}

// OpenFile loads the ledger at path. A missing file is an empty ledger. An
// unreadable or corrupt file is also treated as empty: the file is moved
// aside and a warning is logged, so the run proceeds without incremental
// savings rather than blocking.
func OpenFile(path string, logger *zap.Logger) (*FileLedger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &FileLedger{
		path:    path,
		logger:  logger,
		entries: make(map[string]Entry),
		now:     func() time.Time { return time.Now().UTC() },
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return l, nil
	case err != nil:
		l.failOpen("ledger file unreadable", err)
		return l, nil
	}

	var stored fileFormat
	if err := json.Unmarshal(data, &stored); err != nil {
		l.failOpen("ledger file corrupt", err)
		return l, nil
	}
	for _, url := range stored.CrawledURLs {
		meta := stored.Metadata[url]
		l.entries[url] = Entry{URL: url, Metadata: meta.Metadata, ProcessedAt: meta.ProcessedAt}
	}
	logger.Debug("loaded ledger", zap.String("path", path), zap.Int("urls", len(l.entries)))
	return l, nil
}

func (l *FileLedger) failOpen(msg string, cause error) {
	fields := []zap.Field{zap.String("path", l.path), zap.Error(cause)}
	aside := fmt.Sprintf("%s.corrupt-%d", l.path, time.Now().Unix())
	if err := os.Rename(l.path, aside); err == nil {
		fields = append(fields, zap.String("moved_to", aside))
	}
	l.logger.Warn(msg+"; starting with an empty ledger", fields...)
}

// Path returns the ledger file path.
func (l *FileLedger) Path() string {
	return l.path
}

// IsProcessed implements Ledger.
func (l *FileLedger) IsProcessed(ctx context.Context, url string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[url]
	return ok, nil
}

// MarkProcessed implements Ledger.
func (l *FileLedger) MarkProcessed(ctx context.Context, url string, meta Metadata) error {
	return l.MarkBatch(ctx, []Entry{{URL: url, Metadata: meta}})
}

// MarkBatch implements Ledger. The file is rewritten once per batch, and only
// if the batch added something. An invalid batch changes nothing.
func (l *FileLedger) MarkBatch(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if e.URL == "" {
			return fmt.Errorf("cannot ledger an empty url")
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var added []string
	for _, e := range entries {
		if _, ok := l.entries[e.URL]; ok {
			continue
		}
		if e.ProcessedAt.IsZero() {
			e.ProcessedAt = l.now()
		}
		l.entries[e.URL] = e
		added = append(added, e.URL)
	}
	if len(added) == 0 {
		return nil
	}

	if err := l.flushLocked(); err != nil {
		// Keep memory consistent with disk
		for _, url := range added {
			delete(l.entries, url)
		}
		return err
	}
	return nil
}

// Get implements Ledger.
func (l *FileLedger) Get(ctx context.Context, url string) (Entry, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[url]
	return e, ok, nil
}

// Entries implements Ledger.
func (l *FileLedger) Entries(ctx context.Context) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

// Stats implements Ledger.
func (l *FileLedger) Stats(ctx context.Context) (Stats, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(entries), nil
}

// Reset implements Ledger.
func (l *FileLedger) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	previous := l.entries
	l.entries = make(map[string]Entry)
	if err := l.flushLocked(); err != nil {
		l.entries = previous
		return err
	}
	l.logger.Info("ledger reset", zap.String("path", l.path), zap.Int("removed", len(previous)))
	return nil
}

// Close implements Ledger. Every change is already on disk.
func (l *FileLedger) Close() error {
	return nil
}

func (l *FileLedger) flushLocked() error {
	stored := fileFormat{
		CrawledURLs: make([]string, 0, len(l.entries)),
		Metadata:    make(map[string]fileMeta, len(l.entries)),
		LastUpdated: l.now(),
	}
	for url, e := range l.entries {
		stored.CrawledURLs = append(stored.CrawledURLs, url)
		stored.Metadata[url] = fileMeta{Metadata: e.Metadata, ProcessedAt: e.ProcessedAt}
	}
	sort.Strings(stored.CrawledURLs)

	if err := checkpoint.WriteJSONAtomic(l.path, stored); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	return nil
}
