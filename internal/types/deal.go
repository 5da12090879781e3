// Package types defines deal records, drafts and review decisions shared by
// every stage of the pipeline.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// DateLayout is the ISO-8601 calendar date format used in canonical keys and exports.
const DateLayout = "2006-01-02"

// ParserVersion is stamped on every record produced by the intake pipeline.
const ParserVersion = "1.2.0"

// Errors for records that cannot be keyed. Both are hard exclusions.
var (
	ErrMissingDate      = errors.New("missing announcement date")
	ErrMissingSourceURL = errors.New("missing source url")
)

// MalformedRecordError reports an extraction payload missing a mandatory identity field.
// The URL is still ledgered so the source is not retried forever.
type MalformedRecordError struct {
	URL   string
	Field string
	Err   error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record from %s: %s: %v", e.URL, e.Field, e.Err)
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}

// DealType is the detailed deal classification.
type DealType string

const (
	DealTypeMA              DealType = "M&A"
	DealTypePartnership     DealType = "partnership"
	DealTypeLicensing       DealType = "licensing"
	DealTypeOptionToLicense DealType = "option-to-license"
)

// IsValid checks if the deal type value is valid
func (d DealType) IsValid() bool {
	switch d {
	case DealTypeMA, DealTypePartnership, DealTypeLicensing, DealTypeOptionToLicense:
		return true
	}
	return false
}

// OutputLabel maps the detailed type onto the two export categories.
// Licensing and option deals are reported as partnerships.
func (d DealType) OutputLabel() string {
	if d == DealTypeMA {
		return "M&A"
	}
	return "Partnership"
}

// Stage is the development stage of the lead asset at announcement.
type Stage string

const (
	StagePreclinical  Stage = "preclinical"
	StagePhase1       Stage = "phase 1"
	StageFirstInHuman Stage = "first-in-human"
	StageUnknown      Stage = "unknown"
)

// IsValid checks if the stage value is valid
func (s Stage) IsValid() bool {
	switch s {
	case StagePreclinical, StagePhase1, StageFirstInHuman, StageUnknown:
		return true
	}
	return false
}

// Identity is the normalized identity of a deal. The canonical key is derived
// from it and nothing else.
type Identity struct {
	Target   string `json:"target"`
	Acquirer string `json:"acquirer"`
	Asset    string `json:"asset"`
	Date     string `json:"date"`
}

// IsZero reports whether the identity has not been computed yet.
func (id Identity) IsZero() bool {
	return id == Identity{}
}

// Key returns hex(sha256(target|acquirer|asset|date)). A zero identity has no key.
func (id Identity) Key() string {
	if id.IsZero() {
		return ""
	}
	sum := sha256.Sum256([]byte(id.Target + "|" + id.Acquirer + "|" + id.Asset + "|" + id.Date))
	return hex.EncodeToString(sum[:])
}

// Bucket groups identities by party pair for merge evaluation.
func (id Identity) Bucket() string {
	return id.Target + "|" + id.Acquirer
}

// Time parses the identity date.
func (id Identity) Time() (time.Time, error) {
	return time.Parse(DateLayout, id.Date)
}

// Money holds deal economics in millions of USD.
type Money struct {
	UpfrontUSD    *float64 `json:"upfront_usd,omitempty"`
	ContingentUSD *float64 `json:"contingent_usd,omitempty"`
	TotalUSD      *float64 `json:"total_usd,omitempty"`
	Currency      string   `json:"currency,omitempty"`
}

// Completeness counts the monetary fields that are present.
func (m Money) Completeness() int {
	n := 0
	for _, v := range []*float64{m.UpfrontUSD, m.ContingentUSD, m.TotalUSD} {
		if v != nil {
			n++
		}
	}
	return n
}

// UpfrontPct returns upfront as a percentage of total, rounded to 0.1.
func (m Money) UpfrontPct() *float64 {
	if m.UpfrontUSD == nil || m.TotalUSD == nil || *m.TotalUSD <= 0 {
		return nil
	}
	pct := math.Round(*m.UpfrontUSD / *m.TotalUSD * 1000) / 10
	return &pct
}

// FillFrom copies fields that are missing here from other.
func (m *Money) FillFrom(other Money) {
	if m.UpfrontUSD == nil && other.UpfrontUSD != nil {
		v := *other.UpfrontUSD
		m.UpfrontUSD = &v
	}
	if m.ContingentUSD == nil && other.ContingentUSD != nil {
		v := *other.ContingentUSD
		m.ContingentUSD = &v
	}
	if m.TotalUSD == nil && other.TotalUSD != nil {
		v := *other.TotalUSD
		m.TotalUSD = &v
	}
	if m.Currency == "" {
		m.Currency = other.Currency
	}
}

// DealRecord is a candidate or canonical deal.
//
// The canonical key is not a field: it is always computed from Identity, so two
// records with equal normalized identity fields always share a key.
type DealRecord struct {
	// Seq is the ingest sequence number, assigned once when the record first
	// enters a canonical set. Lower means seen earlier.
	Seq uint64 `json:"seq"`

	// Identity holds the normalized fields the key is derived from.
	Identity Identity `json:"identity"`

	// Display fields (alias-resolved, original casing)
	Target        string    `json:"target"`
	Acquirer      string    `json:"acquirer"`
	AssetFocus    string    `json:"asset_focus"`
	DateAnnounced time.Time `json:"date_announced"`

	// Classification dimensions, always populated (see review.Policy)
	DealType        DealType `json:"deal_type"`
	Stage           Stage    `json:"stage"`
	TherapeuticArea string   `json:"therapeutic_area"`
	TopicMatch      bool     `json:"topic_match"`

	Money     Money  `json:"money"`
	Geography string `json:"geography,omitempty"`

	Confidence    float64  `json:"confidence"`
	NeedsReview   bool     `json:"needs_review"`
	ReviewReasons []string `json:"review_reasons,omitempty"`

	SourceURL   string   `json:"source_url"`
	Source      string   `json:"source,omitempty"`
	RelatedURLs []string `json:"related_urls,omitempty"`

	// ReportDates holds the announcement dates of every report merged into
	// this deal. Empty for a record that absorbed nothing.
	ReportDates []string `json:"report_dates,omitempty"`

	// Evidence maps a dimension name to the snippet that decided it
	Evidence        map[string]string `json:"evidence,omitempty"`
	InclusionReason string            `json:"inclusion_reason,omitempty"`
	ParserVersion   string            `json:"parser_version,omitempty"`
	ProcessedAt     time.Time         `json:"processed_at"`
}

// CanonicalKey returns the deterministic fingerprint of the record.
func (r *DealRecord) CanonicalKey() string {
	return r.Identity.Key()
}

// Validate checks the mandatory identity fields.
func (r *DealRecord) Validate() error {
	if strings.TrimSpace(r.SourceURL) == "" {
		return &MalformedRecordError{URL: r.SourceURL, Field: "source_url", Err: ErrMissingSourceURL}
	}
	if r.DateAnnounced.IsZero() {
		return &MalformedRecordError{URL: r.SourceURL, Field: "date_announced", Err: ErrMissingDate}
	}
	if r.Confidence < 0.0 || r.Confidence > 1.0 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0 (got %.2f)", r.Confidence)
	}
	if !r.DealType.IsValid() {
		return fmt.Errorf("invalid deal type: %s", r.DealType)
	}
	if !r.Stage.IsValid() {
		return fmt.Errorf("invalid stage: %s", r.Stage)
	}
	return nil
}

// AllURLs returns the source URL followed by related URLs.
func (r *DealRecord) AllURLs() []string {
	urls := make([]string, 0, len(r.RelatedURLs)+1)
	urls = append(urls, r.SourceURL)
	return append(urls, r.RelatedURLs...)
}

// AllReportDates returns the identity dates of every report behind the
// record: ReportDates when it absorbed others, else its own identity date.
func (r *DealRecord) AllReportDates() []string {
	if len(r.ReportDates) > 0 {
		return r.ReportDates
	}
	if r.Identity.Date == "" {
		return nil
	}
	return []string{r.Identity.Date}
}

// Clone returns a deep copy.
func (r *DealRecord) Clone() *DealRecord {
	c := *r
	c.Money = Money{Currency: r.Money.Currency}
	c.Money.FillFrom(r.Money)
	c.ReviewReasons = append([]string(nil), r.ReviewReasons...)
	c.RelatedURLs = append([]string(nil), r.RelatedURLs...)
	c.ReportDates = append([]string(nil), r.ReportDates...)
	if r.Evidence != nil {
		c.Evidence = make(map[string]string, len(r.Evidence))
		for k, v := range r.Evidence {
			c.Evidence[k] = v
		}
	}
	return &c
}

// UnionStrings merges string sets, dropping empties and the excluded values.
// The result is sorted so set equality implies slice equality.
func UnionStrings(exclude []string, sets ...[]string) []string {
	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[e] = true
	}
	seen := make(map[string]bool)
	var out []string
	for _, set := range sets {
		for _, s := range set {
			if s == "" || skip[s] || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// DateOnly truncates t to midnight UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
