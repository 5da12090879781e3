package export

import (
	"fmt"

	"github.com/steveyegge/dealfinder/internal/types"
)

// Quality statuses.
const (
	StatusOK      = "OK"
	StatusWarning = "WARNING"
	StatusError   = "ERROR"
)

// Thresholds above which a dataset is flagged.
const (
	MaxNeedsReviewPct      = 80.0
	MaxMissingFinancialPct = 50.0
)

// QualityReport summarizes the quality of a canonical set.
type QualityReport struct {
	Status            string         `json:"status"`
	Total             int            `json:"total_deals"`
	NeedsReview       int            `json:"needs_review_count"`
	NeedsReviewPct    float64        `json:"needs_review_pct"`
	MissingFinancials int            `json:"missing_financials"`
	MissingGeography  int            `json:"missing_geography"`
	UpfrontOverTotal  int            `json:"upfront_over_total"`
	ByStage           map[string]int `json:"stage_distribution"`
	ByDealType        map[string]int `json:"deal_type_distribution"`
	ByArea            map[string]int `json:"ta_distribution"`
	Issues            []string       `json:"quality_issues"`
}

// CheckQuality computes dataset statistics and flags a high review share,
// mostly missing financials and upfront amounts larger than the total.
func CheckQuality(records []*types.DealRecord) QualityReport {
	q := QualityReport{
		Total:      len(records),
		ByStage:    make(map[string]int),
		ByDealType: make(map[string]int),
		ByArea:     make(map[string]int),
		Issues:     []string{},
	}
	if q.Total == 0 {
		q.Status = StatusError
		q.Issues = append(q.Issues, "no deals found")
		return q
	}

	for _, r := range records {
		if r.NeedsReview {
			q.NeedsReview++
		}
		if r.Money.Completeness() == 0 {
			q.MissingFinancials++
		}
		if r.Geography == "" {
			q.MissingGeography++
		}
		if r.Money.UpfrontUSD != nil && r.Money.TotalUSD != nil && *r.Money.UpfrontUSD > *r.Money.TotalUSD {
			q.UpfrontOverTotal++
		}
		q.ByStage[string(r.Stage)]++
		q.ByDealType[string(r.DealType)]++
		q.ByArea[r.TherapeuticArea]++
	}
	q.NeedsReviewPct = float64(q.NeedsReview) / float64(q.Total) * 100

	if q.NeedsReviewPct > MaxNeedsReviewPct {
		q.Issues = append(q.Issues, fmt.Sprintf("high needs review rate: %.1f%% (threshold: %.0f%%)", q.NeedsReviewPct, MaxNeedsReviewPct))
	}
	if float64(q.MissingFinancials) > float64(q.Total)*MaxMissingFinancialPct/100 {
		q.Issues = append(q.Issues, fmt.Sprintf("over %.0f%% of deals missing financial data: %d/%d", MaxMissingFinancialPct, q.MissingFinancials, q.Total))
	}
	if q.UpfrontOverTotal > 0 {
		q.Issues = append(q.Issues, fmt.Sprintf("%d deals with upfront greater than total", q.UpfrontOverTotal))
	}

	q.Status = StatusOK
	if len(q.Issues) > 0 {
		q.Status = StatusWarning
	}
	return q
}
