package review

import "fmt"

// Kind tags the variant held by an Outcome.
type Kind int

const (
	// KindDefinitive means the evidence decided the value.
	KindDefinitive Kind = iota
	// KindAmbiguous means the value is the dimension default and needs review.
	KindAmbiguous
	// KindExcluded means an explicit rule put the record out of scope.
	KindExcluded
)

func (k Kind) String() string {
	switch k {
	case KindDefinitive:
		return "definitive"
	case KindAmbiguous:
		return "ambiguous"
	case KindExcluded:
		return "excluded"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Outcome is the result of classifying one dimension. Construct it with
// Definitive, Ambiguous or Excluded; the zero value is not meaningful.
type Outcome struct {
	Kind Kind

	// Value is the classified value. Empty for excluded outcomes.
	Value string

	// Reason explains an ambiguous or excluded outcome
	Reason string

	// Evidence is the phrase that decided the outcome, if any
	Evidence string
}

// Definitive returns an outcome decided by evidence.
func Definitive(value, evidence string) Outcome {
	return Outcome{Kind: KindDefinitive, Value: value, Evidence: evidence}
}

// Ambiguous returns a default value flagged for review.
func Ambiguous(value, reason string) Outcome {
	return Outcome{Kind: KindAmbiguous, Value: value, Reason: reason}
}

// Excluded returns a hard exclusion.
func Excluded(reason string) Outcome {
	return Outcome{Kind: KindExcluded, Reason: reason}
}

// NeedsReview reports whether the record must be flagged.
func (o Outcome) NeedsReview() bool {
	return o.Kind == KindAmbiguous
}

// IsExcluded reports whether the record must be dropped.
func (o Outcome) IsExcluded() bool {
	return o.Kind == KindExcluded
}

func (o Outcome) String() string {
	switch o.Kind {
	case KindDefinitive:
		return fmt.Sprintf("Definitive(%s)", o.Value)
	case KindAmbiguous:
		return fmt.Sprintf("Ambiguous(%s, %s)", o.Value, o.Reason)
	default:
		return fmt.Sprintf("Excluded(%s)", o.Reason)
	}
}

// ExclusionError is returned when a dimension definitively excludes a record.
type ExclusionError struct {
	Dimension Dimension
	Reason    string
}

func (e *ExclusionError) Error() string {
	return fmt.Sprintf("excluded by %s: %s", e.Dimension, e.Reason)
}
