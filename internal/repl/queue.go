package repl

import (
	"sort"

	"github.com/steveyegge/dealfinder/internal/types"
)

// Queue holds the canonical records that need an analyst's decision, in
// announcement order.
type Queue struct {
	items     []*types.DealRecord
	decisions map[string]types.ReviewDecision
	pos       int
}

// NewQueue builds a queue from the flagged records. Records already decided
// (other than deferred) are skipped when pendingOnly is set.
func NewQueue(records []*types.DealRecord, decisions map[string]types.ReviewDecision, pendingOnly bool) *Queue {
	if decisions == nil {
		decisions = make(map[string]types.ReviewDecision)
	}
	q := &Queue{decisions: decisions}
	for _, r := range records {
		if !r.NeedsReview {
			continue
		}
		if d, ok := decisions[r.CanonicalKey()]; pendingOnly && ok && d.Decision != types.DecisionDeferred {
			continue
		}
		q.items = append(q.items, r)
	}
	sort.SliceStable(q.items, func(i, j int) bool {
		return q.items[i].DateAnnounced.Before(q.items[j].DateAnnounced)
	})
	return q
}

// Len returns the number of queued records.
func (q *Queue) Len() int { return len(q.items) }

// Pos returns the index of the current record.
func (q *Queue) Pos() int { return q.pos }

// Current returns the record under review, or nil past the end.
func (q *Queue) Current() *types.DealRecord {
	if q.pos >= len(q.items) {
		return nil
	}
	return q.items[q.pos]
}

// Items returns the queued records.
func (q *Queue) Items() []*types.DealRecord { return q.items }

// Seek moves to index i.
func (q *Queue) Seek(i int) bool {
	if i < 0 || i >= len(q.items) {
		return false
	}
	q.pos = i
	return true
}

// Advance moves to the next record. It reports false at the end.
func (q *Queue) Advance() bool {
	if q.pos < len(q.items) {
		q.pos++
	}
	return q.pos < len(q.items)
}

// Decision returns the recorded decision for r.
func (q *Queue) Decision(r *types.DealRecord) (types.ReviewDecision, bool) {
	d, ok := q.decisions[r.CanonicalKey()]
	return d, ok
}

// Record stores d in the in-memory view.
func (q *Queue) Record(d types.ReviewDecision) {
	q.decisions[d.CanonicalKey] = d
}

// Counts tallies decisions over the queued records.
func (q *Queue) Counts() map[types.Decision]int {
	counts := make(map[types.Decision]int)
	for _, r := range q.items {
		if d, ok := q.decisions[r.CanonicalKey()]; ok {
			counts[d.Decision]++
		}
	}
	return counts
}
