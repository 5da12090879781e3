package types

import "time"

// Draft is the raw payload produced by an extraction collaborator for one URL.
// Fields are as reported by the source; nothing is normalized yet.
type Draft struct {
	URL    string `json:"url"`
	Source string `json:"source,omitempty"`
	Title  string `json:"title,omitempty"`

	Target   string     `json:"target"`
	Acquirer string     `json:"acquirer"`
	Asset    string     `json:"asset,omitempty"`
	Date     *time.Time `json:"date,omitempty"`

	Money     Money  `json:"money"`
	Geography string `json:"geography,omitempty"`

	// Confidence is the extractor's own confidence (0.0-1.0)
	Confidence float64 `json:"confidence"`

	// Text is the English article text classifiers run over
	Text string `json:"-"`

	// Hints are classifications already made by the extractor, keyed by
	// dimension name (e.g. "stage": "phase 1"). Classifiers prefer them to Text.
	Hints map[string]string `json:"hints,omitempty"`

	// NeedsReview is set when the extractor itself was unsure of a field
	NeedsReview   bool     `json:"needs_review,omitempty"`
	ReviewReasons []string `json:"review_reasons,omitempty"`

	// NoDeal is an explicit "this article announces no deal" signal
	NoDeal bool   `json:"no_deal,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Candidate is a URL offered by discovery. The stream may repeat URLs.
type Candidate struct {
	URL         string     `json:"url"`
	Source      string     `json:"source"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}
