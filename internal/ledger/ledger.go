// Package ledger records which source URLs have been processed so repeated
// runs only extract the delta.
//
// An entry is written only after the URL's extraction outcome is durable
// (see the checkpoint package). Discovery alone never ledgers a URL.
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/steveyegge/dealfinder/internal/types"
)

// Outcome is what processing a URL produced.
type Outcome string

const (
	OutcomeDeal      Outcome = "deal"
	OutcomeNoDeal    Outcome = "no_deal"
	OutcomeExcluded  Outcome = "excluded"
	OutcomeMalformed Outcome = "malformed"
)

// IsValid checks if the outcome value is valid
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeDeal, OutcomeNoDeal, OutcomeExcluded, OutcomeMalformed:
		return true
	}
	return false
}

// Metadata is stored with each processed URL.
type Metadata struct {
	Source       string     `json:"source,omitempty" db:"source"`
	PublishedAt  *time.Time `json:"published_at,omitempty" db:"published_at"`
	Outcome      Outcome    `json:"outcome,omitempty" db:"outcome"`
	CanonicalKey string     `json:"canonical_key,omitempty" db:"canonical_key"`
	RunID        string     `json:"run_id,omitempty" db:"run_id"`
}

// Entry is one processed URL.
type Entry struct {
	URL string `json:"url" db:"url"`
	Metadata
	ProcessedAt time.Time `json:"processed_at" db:"processed_at"`
}

// Stats summarizes a ledger.
type Stats struct {
	Total     int             `json:"total"`
	BySource  map[string]int  `json:"by_source"`
	ByOutcome map[Outcome]int `json:"by_outcome"`
}

// Ledger is the durable set of processed URLs.
//
// Marking is idempotent: marking an already processed URL leaves the first
// entry untouched.
type Ledger interface {
	// IsProcessed reports whether url has been ledgered.
	IsProcessed(ctx context.Context, url string) (bool, error)

	// MarkProcessed ledgers a single URL.
	MarkProcessed(ctx context.Context, url string, meta Metadata) error

	// MarkBatch ledgers many URLs at once. Implementations write the batch
	// atomically where the backend allows it.
	MarkBatch(ctx context.Context, entries []Entry) error

	// Get returns the entry for url, or false if it is not ledgered.
	Get(ctx context.Context, url string) (Entry, bool, error)

	// Entries lists all entries ordered by URL.
	Entries(ctx context.Context) ([]Entry, error)

	// Stats returns counts by source and by outcome.
	Stats(ctx context.Context) (Stats, error)

	// Reset removes every entry.
	Reset(ctx context.Context) error

	Close() error
}

// NewURLs filters candidates down to URLs that are not ledgered. The result
// preserves first-seen order and drops repeats within the batch, keeping
// the first candidate's metadata.
func NewURLs(ctx context.Context, l Ledger, candidates []types.Candidate) ([]types.Candidate, error) {
	seen := make(map[string]bool, len(candidates))
	var out []types.Candidate
	for _, c := range candidates {
		if c.URL == "" || seen[c.URL] {
			continue
		}
		seen[c.URL] = true

		done, err := l.IsProcessed(ctx, c.URL)
		if err != nil {
			return nil, err
		}
		if !done {
			out = append(out, c)
		}
	}
	return out, nil
}

// ComputeStats aggregates entries. Entries without a source count under
// "unknown".
func ComputeStats(entries []Entry) Stats {
	stats := Stats{
		Total:     len(entries),
		BySource:  make(map[string]int),
		ByOutcome: make(map[Outcome]int),
	}
	for _, e := range entries {
		source := e.Source
		if source == "" {
			source = "unknown"
		}
		stats.BySource[source]++
		if e.Outcome != "" {
			stats.ByOutcome[e.Outcome]++
		}
	}
	return stats
}

// SortedSources returns the stats' source names, most URLs first.
func (s Stats) SortedSources() []string {
	names := make([]string, 0, len(s.BySource))
	for name := range s.BySource {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if s.BySource[names[i]] != s.BySource[names[j]] {
			return s.BySource[names[i]] > s.BySource[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].URL < entries[j].URL
	})
}
