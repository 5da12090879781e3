package types

import (
	"fmt"
	"time"
)

// Decision is an analyst's verdict on a flagged deal.
type Decision string

const (
	DecisionConfirmed Decision = "confirmed"
	DecisionRejected  Decision = "rejected"
	DecisionDeferred  Decision = "deferred"
)

// IsValid checks if the decision value is valid
func (d Decision) IsValid() bool {
	switch d {
	case DecisionConfirmed, DecisionRejected, DecisionDeferred:
		return true
	}
	return false
}

// ReviewDecision records an analyst's verdict. It is stored beside the
// canonical set, never on the record itself, so records stay immutable
// after a run ends.
type ReviewDecision struct {
	CanonicalKey string    `json:"canonical_key" db:"canonical_key"`
	Decision     Decision  `json:"decision" db:"decision"`
	Note         string    `json:"note,omitempty" db:"note"`
	Reviewer     string    `json:"reviewer,omitempty" db:"reviewer"`
	DecidedAt    time.Time `json:"decided_at" db:"decided_at"`
}

// Validate checks required fields.
func (d *ReviewDecision) Validate() error {
	if d.CanonicalKey == "" {
		return fmt.Errorf("canonical_key is required")
	}
	if !d.Decision.IsValid() {
		return fmt.Errorf("invalid decision: %s", d.Decision)
	}
	return nil
}
