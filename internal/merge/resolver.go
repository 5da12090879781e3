package merge

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/steveyegge/dealfinder/internal/types"
)

// Tie-break reasons reported in MergeDecision.Reason.
const (
	ReasonPrimarySource = "primary disclosure source"
	ReasonCompleteness  = "more complete monetary data"
	ReasonEarlierDate   = "earlier announcement date"
	ReasonFirstSeen     = "first seen"
	ReasonSourceURL     = "lexicographically smaller source url"
	ReasonIdentical     = "identical records"
)

// MergeDecision is the outcome of comparing two records. It is never persisted.
type MergeDecision struct {
	// IsDuplicate reports whether both records denote the same deal
	IsDuplicate bool

	// Reason is the tie-break rule that picked the survivor, or why the
	// records are not duplicates
	Reason string

	// Survivor is the merged record when IsDuplicate is set. It is a new
	// record; neither input is modified.
	Survivor *types.DealRecord

	// LoserURL is the source URL of the absorbed record
	LoserURL string

	// RelatedURLs is the survivor's merged related-URL set
	RelatedURLs []string
}

// Resolver decides whether records with differing keys are the same deal.
type Resolver struct {
	cfg     Config
	sources SourceClassifier
}

// NewResolver creates a resolver. A nil classifier uses the configured
// primary-source keywords.
func NewResolver(cfg Config, sources SourceClassifier) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid merge config: %w", err)
	}
	if sources == nil {
		sources = NewKeywordSourceClassifier(cfg.PrimarySourceKeywords)
	}
	return &Resolver{cfg: cfg, sources: sources}, nil
}

// Config returns the resolver configuration.
func (r *Resolver) Config() Config {
	return r.cfg
}

// Eligible reports whether a and b may be merged: same normalized target,
// acquirer and asset, announced within WindowDays of each other. For a
// merged deal every report date counts, so deals link through any report.
func (r *Resolver) Eligible(a, b *types.DealRecord) (bool, string) {
	if a.Identity.IsZero() || b.Identity.IsZero() {
		return false, "record not canonicalized"
	}
	if a.Identity.Target != b.Identity.Target || a.Identity.Acquirer != b.Identity.Acquirer {
		return false, "different parties"
	}
	if a.Identity.Asset != b.Identity.Asset {
		return false, "different asset"
	}
	days := dayDiff(a, b)
	if days > r.cfg.WindowDays {
		return false, fmt.Sprintf("announced %d days apart (window %d)", days, r.cfg.WindowDays)
	}
	return true, ""
}

// Compare decides whether a and b are one deal and, if so, merges them.
// Compare(a, b) and Compare(b, a) yield the same survivor and related URLs.
func (r *Resolver) Compare(a, b *types.DealRecord) MergeDecision {
	if ok, why := r.Eligible(a, b); !ok {
		return MergeDecision{Reason: why}
	}

	survivor, loser, reason := r.pick(a, b)
	merged := absorb(survivor, loser)
	return MergeDecision{
		IsDuplicate: true,
		Reason:      reason,
		Survivor:    merged,
		LoserURL:    loser.SourceURL,
		RelatedURLs: merged.RelatedURLs,
	}
}

// pick applies the survivor rules in order. Every rule looks only at record
// properties, never at argument order.
func (r *Resolver) pick(a, b *types.DealRecord) (survivor, loser *types.DealRecord, reason string) {
	if pa, pb := r.sources.IsPrimary(a), r.sources.IsPrimary(b); pa != pb {
		if pa {
			return a, b, ReasonPrimarySource
		}
		return b, a, ReasonPrimarySource
	}

	if ca, cb := a.Money.Completeness(), b.Money.Completeness(); ca != cb {
		if ca > cb {
			return a, b, ReasonCompleteness
		}
		return b, a, ReasonCompleteness
	}

	if da, db := types.DateOnly(a.DateAnnounced), types.DateOnly(b.DateAnnounced); !da.Equal(db) {
		if da.Before(db) {
			return a, b, ReasonEarlierDate
		}
		return b, a, ReasonEarlierDate
	}

	if a.Seq != b.Seq && a.Seq != 0 && b.Seq != 0 {
		if a.Seq < b.Seq {
			return a, b, ReasonFirstSeen
		}
		return b, a, ReasonFirstSeen
	}

	switch c := strings.Compare(a.SourceURL, b.SourceURL); {
	case c < 0:
		return a, b, ReasonSourceURL
	case c > 0:
		return b, a, ReasonSourceURL
	}
	return a, b, ReasonIdentical
}

// prefers reports whether a strictly survives a merge with b.
func (r *Resolver) prefers(a, b *types.DealRecord) bool {
	survivor, _, reason := r.pick(a, b)
	return survivor == a && reason != ReasonIdentical
}

// absorb returns a copy of survivor with loser folded in.
func absorb(survivor, loser *types.DealRecord) *types.DealRecord {
	m := survivor.Clone()

	m.RelatedURLs = types.UnionStrings(
		[]string{survivor.SourceURL},
		survivor.RelatedURLs,
		[]string{loser.SourceURL},
		loser.RelatedURLs,
	)
	m.Confidence = math.Max(survivor.Confidence, loser.Confidence)
	m.NeedsReview = survivor.NeedsReview || loser.NeedsReview
	m.ReviewReasons = types.UnionStrings(nil, survivor.ReviewReasons, loser.ReviewReasons)
	m.ReportDates = types.UnionStrings(nil, survivor.AllReportDates(), loser.AllReportDates())
	m.Money.FillFrom(loser.Money)

	if m.Geography == "" {
		m.Geography = loser.Geography
	}
	for k, v := range loser.Evidence {
		if m.Evidence == nil {
			m.Evidence = make(map[string]string)
		}
		if _, ok := m.Evidence[k]; !ok {
			m.Evidence[k] = v
		}
	}

	// The merged deal was first seen when either report was
	if loser.Seq != 0 && (m.Seq == 0 || loser.Seq < m.Seq) {
		m.Seq = loser.Seq
	}
	return m
}

// dayDiff is the smallest distance in days between any report behind a and
// any report behind b.
func dayDiff(a, b *types.DealRecord) int {
	best := -1
	for _, da := range reportDays(a) {
		for _, db := range reportDays(b) {
			d := int(math.Round(da.Sub(db).Hours() / 24))
			if d < 0 {
				d = -d
			}
			if best < 0 || d < best {
				best = d
			}
		}
	}
	return best
}

func reportDays(r *types.DealRecord) []time.Time {
	var days []time.Time
	for _, s := range r.AllReportDates() {
		if t, err := time.Parse(types.DateLayout, s); err == nil {
			days = append(days, t)
		}
	}
	if len(days) == 0 {
		days = append(days, types.DateOnly(r.DateAnnounced))
	}
	return days
}
