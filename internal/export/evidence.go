package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/steveyegge/dealfinder/internal/checkpoint"
	"github.com/steveyegge/dealfinder/internal/types"
)

// EvidenceRecord is one line of the evidence log.
type EvidenceRecord struct {
	CanonicalKey    string            `json:"canonical_key"`
	SourceURL       string            `json:"source_url"`
	RelatedURLs     []string          `json:"related_urls"`
	Evidence        map[string]string `json:"evidence"`
	Currency        string            `json:"detected_currency,omitempty"`
	Confidence      float64           `json:"confidence"`
	NeedsReview     bool              `json:"needs_review"`
	ReviewReasons   []string          `json:"review_reasons,omitempty"`
	InclusionReason string            `json:"inclusion_reason,omitempty"`
	ParserVersion   string            `json:"parser_version,omitempty"`
	ProcessedAt     time.Time         `json:"timestamp_utc"`
}

// NewEvidenceRecord builds the evidence line for r.
func NewEvidenceRecord(r *types.DealRecord) EvidenceRecord {
	related := r.RelatedURLs
	if related == nil {
		related = []string{}
	}
	evidence := r.Evidence
	if evidence == nil {
		evidence = map[string]string{}
	}
	return EvidenceRecord{
		CanonicalKey:    r.CanonicalKey(),
		SourceURL:       r.SourceURL,
		RelatedURLs:     related,
		Evidence:        evidence,
		Currency:        r.Money.Currency,
		Confidence:      r.Confidence,
		NeedsReview:     r.NeedsReview,
		ReviewReasons:   r.ReviewReasons,
		InclusionReason: r.InclusionReason,
		ParserVersion:   r.ParserVersion,
		ProcessedAt:     r.ProcessedAt.UTC(),
	}
}

// WriteEvidence writes one JSON object per record to path.
func WriteEvidence(path string, records []*types.DealRecord) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(NewEvidenceRecord(r)); err != nil {
			return fmt.Errorf("failed to encode evidence for %s: %w", r.SourceURL, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := checkpoint.WriteFileAtomic(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write evidence log: %w", err)
	}
	return nil
}
