package merge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/dealfinder/internal/types"
)

// ErrFrozen is returned when folding into a set whose run has ended.
var ErrFrozen = errors.New("canonical set is frozen")

// FoldResult describes what folding one record did.
type FoldResult struct {
	// Added is true when the record became a new canonical deal
	Added bool

	// Key is the canonical key of the record now holding the deal
	Key string

	// Merges lists the merges performed, in order
	Merges []MergeDecision
}

// CanonicalSet is the accumulated set of canonical deals, bucketed by
// (normalized target, normalized acquirer) so merge evaluation only compares
// same-party records.
//
// Within a bucket, deals are the connected components of the "eligible"
// relation over every report folded so far, and each deal is rebuilt from
// its reports in survivor order. Folding order therefore never changes the
// outcome.
//
// A set has a single writer per cycle; the mutex guards against accidental
// concurrent use, not contention.
type CanonicalSet struct {
	mu       sync.Mutex
	resolver *Resolver
	logger   *zap.Logger
	buckets  map[string][]*cluster
	nextSeq  uint64
	frozen   bool
}

// cluster is one canonical deal and the reports it was built from.
// Clusters are never modified once built.
type cluster struct {
	deal    *types.DealRecord
	reports []*types.DealRecord
}

// NewCanonicalSet creates an empty set.
func NewCanonicalSet(resolver *Resolver, logger *zap.Logger) *CanonicalSet {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CanonicalSet{
		resolver: resolver,
		logger:   logger,
		buckets:  make(map[string][]*cluster),
	}
}

// Fold adds rec to the set or merges it into existing deals. The record
// must be canonicalized. A zero Seq is assigned from the set's counter.
func (s *CanonicalSet) Fold(rec *types.DealRecord) (FoldResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(rec); err != nil {
		return FoldResult{}, err
	}
	s.assignSeq(rec)

	bucket := rec.Identity.Bucket()
	updated, res := s.foldInto(s.buckets[bucket], rec)
	s.buckets[bucket] = updated
	return res, nil
}

// FoldAll folds a batch and returns how many new canonical deals it added:
// deals in the result that hold no report from before the batch. Sequence
// numbers are assigned in batch order before buckets are merged
// concurrently, so the result does not depend on scheduling.
func (s *CanonicalSet) FoldAll(ctx context.Context, recs []*types.DealRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	groups := make(map[string][]*types.DealRecord)
	var order []string
	for _, rec := range recs {
		if err := s.check(rec); err != nil {
			return 0, err
		}
		s.assignSeq(rec)
		b := rec.Identity.Bucket()
		if _, ok := groups[b]; !ok {
			order = append(order, b)
		}
		groups[b] = append(groups[b], rec)
	}

	type bucketResult struct {
		clusters []*cluster
		added    int
	}
	results := make([]bucketResult, len(order))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.resolver.cfg.Parallelism)
	for i, b := range order {
		existing := s.buckets[b]
		batch := groups[b]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			before := make(map[*types.DealRecord]bool)
			for _, c := range existing {
				for _, r := range c.reports {
					before[r] = true
				}
			}
			clusters := existing
			for _, rec := range batch {
				clusters, _ = s.foldInto(clusters, rec)
			}
			added := 0
			for _, c := range clusters {
				if !holdsAny(c, before) {
					added++
				}
			}
			results[i] = bucketResult{clusters: clusters, added: added}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("failed to fold batch: %w", err)
	}

	total := 0
	for i, b := range order {
		s.buckets[b] = results[i].clusters
		total += results[i].added
	}
	return total, nil
}

func holdsAny(c *cluster, reports map[*types.DealRecord]bool) bool {
	for _, r := range c.reports {
		if reports[r] {
			return true
		}
	}
	return false
}

// foldInto joins rec with every deal in the bucket it is eligible with and
// rebuilds the joined deal from all their reports. Returns a new slice and
// only reads immutable resolver state, so buckets can be folded concurrently.
func (s *CanonicalSet) foldInto(bucket []*cluster, rec *types.DealRecord) ([]*cluster, FoldResult) {
	out := make([]*cluster, 0, len(bucket)+1)
	reports := []*types.DealRecord{rec}
	joined := 0
	for _, c := range bucket {
		if ok, _ := s.resolver.Eligible(c.deal, rec); !ok {
			out = append(out, c)
			continue
		}
		reports = append(reports, c.reports...)
		joined++
	}
	if joined == 0 {
		out = append(out, &cluster{deal: rec, reports: reports})
		return out, FoldResult{Added: true, Key: rec.CanonicalKey()}
	}

	deal, merges := s.build(reports)
	for _, m := range merges {
		s.logger.Debug("merged duplicate deal",
			zap.String("survivor_url", m.Survivor.SourceURL),
			zap.String("absorbed_url", m.LoserURL),
			zap.String("reason", m.Reason))
	}
	out = append(out, &cluster{deal: deal, reports: reports})
	return out, FoldResult{Key: deal.CanonicalKey(), Merges: merges}
}

// build merges reports into one deal. Reports are ordered by the survivor
// rules first, so the result depends only on the set of reports.
func (s *CanonicalSet) build(reports []*types.DealRecord) (*types.DealRecord, []MergeDecision) {
	sorted := append([]*types.DealRecord(nil), reports...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return s.resolver.prefers(sorted[i], sorted[j])
	})

	deal := sorted[0]
	merges := make([]MergeDecision, 0, len(sorted)-1)
	for _, next := range sorted[1:] {
		survivor, loser, reason := s.resolver.pick(deal, next)
		deal = absorb(survivor, loser)
		merges = append(merges, MergeDecision{
			IsDuplicate: true,
			Reason:      reason,
			Survivor:    deal,
			LoserURL:    loser.SourceURL,
			RelatedURLs: deal.RelatedURLs,
		})
	}
	return deal, merges
}

func (s *CanonicalSet) check(rec *types.DealRecord) error {
	if s.frozen {
		return ErrFrozen
	}
	if rec == nil || rec.Identity.IsZero() {
		return fmt.Errorf("cannot fold record without canonical identity")
	}
	return nil
}

func (s *CanonicalSet) assignSeq(rec *types.DealRecord) {
	if rec.Seq == 0 {
		s.nextSeq++
		rec.Seq = s.nextSeq
	} else if rec.Seq > s.nextSeq {
		s.nextSeq = rec.Seq
	}
}

// Len returns the number of canonical deals.
func (s *CanonicalSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.buckets {
		n += len(b)
	}
	return n
}

// NextSeq returns the last assigned sequence number, for checkpointing.
func (s *CanonicalSet) NextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq
}

// Records returns copies of all canonical deals ordered by announcement
// date, then canonical key.
func (s *CanonicalSet) Records() []*types.DealRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.DealRecord
	for _, b := range s.buckets {
		for _, c := range b {
			out = append(out, c.deal.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DateAnnounced.Equal(out[j].DateAnnounced) {
			return out[i].DateAnnounced.Before(out[j].DateAnnounced)
		}
		return out[i].CanonicalKey() < out[j].CanonicalKey()
	})
	return out
}

// Lookup returns a copy of the deal with the given canonical key.
func (s *CanonicalSet) Lookup(key string) (*types.DealRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.buckets {
		for _, c := range b {
			if c.deal.CanonicalKey() == key {
				return c.deal.Clone(), true
			}
		}
	}
	return nil, false
}

// Restore replaces the set's contents with checkpointed records. Records are
// placed as-is; they were merged when first folded, and their report dates
// keep linking later reports as before.
func (s *CanonicalSet) Restore(recs []*types.DealRecord, nextSeq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buckets := make(map[string][]*cluster)
	for _, rec := range recs {
		if rec.Identity.IsZero() {
			return fmt.Errorf("checkpointed record %s has no canonical identity", rec.SourceURL)
		}
		c := rec.Clone()
		b := c.Identity.Bucket()
		buckets[b] = append(buckets[b], &cluster{deal: c, reports: []*types.DealRecord{c}})
		if rec.Seq > nextSeq {
			nextSeq = rec.Seq
		}
	}
	s.buckets = buckets
	s.nextSeq = nextSeq
	s.frozen = false
	return nil
}

// Freeze makes the set read-only. Records become immutable once a run
// reaches a terminal state.
func (s *CanonicalSet) Freeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = true
}

// Frozen reports whether the set is read-only.
func (s *CanonicalSet) Frozen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen
}
