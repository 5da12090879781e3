package review

import (
	"fmt"

	"github.com/steveyegge/dealfinder/internal/types"
)

// Dimension names a classification dimension of a deal record.
type Dimension string

const (
	DimensionStage    Dimension = "stage"
	DimensionDealType Dimension = "deal_type"
	DimensionTopic    Dimension = "topic"
)

// Classifier decides one dimension from free text.
type Classifier interface {
	Dimension() Dimension
	Classify(text string) Outcome
}

// Stage rules, most specific first.
var (
	ambiguousStagePhrases = []string{
		"phase 1/2", "phase i/ii", "phase 1/ii", "phase i/2",
		"phase 1 2", "phase i ii", "phase 1b/2", "phase ib/ii", "phase 1b/2a",
	}

	excludedStagePhrases = []string{
		"phase 2", "phase ii", "phase 2a", "phase 2b", "phase iia", "phase iib",
		"phase 3", "phase iii", "phase 3a", "phase 3b",
		"phase 4", "phase iv",
	}

	stageRules = []keywordRule{
		{label: string(types.StageFirstInHuman), phrases: []string{"first in human", "fih", "first in man"}},
		{label: string(types.StagePhase1), phrases: []string{
			"phase 1", "phase i", "phase one", "phase 1a", "phase 1b", "phase ia", "phase ib",
		}},
		{label: string(types.StagePreclinical), phrases: []string{
			"preclinical", "pre clinical", "discovery stage", "early stage", "ind enabling",
		}},
	}
)

// StageClassifier classifies the development stage at announcement.
//
// Mixed-phase mentions (phase 1/2) are ambiguous. Later phases are excluded.
// With no stage mention at all the record is kept with the default stage.
type StageClassifier struct {
	fallback  types.Stage
	ambiguous *keywordSet
	excluded  *keywordSet
	rules     *keywordSet
}

// NewStageClassifier creates a stage classifier with the given default.
func NewStageClassifier(fallback types.Stage) *StageClassifier {
	return &StageClassifier{
		fallback:  fallback,
		ambiguous: newKeywordSet([]keywordRule{{label: "ambiguous", phrases: ambiguousStagePhrases}}),
		excluded:  newKeywordSet([]keywordRule{{label: "excluded", phrases: excludedStagePhrases}}),
		rules:     newKeywordSet(stageRules),
	}
}

func (c *StageClassifier) Dimension() Dimension { return DimensionStage }

func (c *StageClassifier) Classify(text string) Outcome {
	padded := padText(text)

	if hits := c.ambiguous.match(padded); len(hits) > 0 {
		return Ambiguous(string(c.fallback), fmt.Sprintf("mixed-phase mention %q", hits[0].phrase))
	}
	if hits := c.excluded.match(padded); len(hits) > 0 {
		return Excluded(fmt.Sprintf("asset beyond phase 1 (%q)", hits[0].phrase))
	}
	if h, ok := c.rules.first(padded, stageRules); ok {
		return Definitive(h.label, h.phrase)
	}
	return Ambiguous(string(c.fallback), "no stage mentioned")
}

// Deal type rules in precedence order.
var dealTypeRules = []keywordRule{
	{label: string(types.DealTypeMA), phrases: []string{
		"acquire", "acquires", "acquired", "acquiring", "acquisition",
		"merger", "merge", "merges", "merged", "combination", "buyout", "takeover", "m&a",
	}},
	{label: string(types.DealTypeOptionToLicense), phrases: []string{
		"option to license", "license option", "licensing option", "opt in",
	}},
	{label: string(types.DealTypeLicensing), phrases: []string{
		"license", "licenses", "licensed", "licensing", "exclusive license", "exclusive rights",
		"territory rights", "territorial rights", "asset purchase", "purchase of asset",
	}},
	{label: string(types.DealTypePartnership), phrases: []string{
		"partnership", "partner", "partners", "collaboration", "collaborative",
		"co develop", "co development", "codevelop", "co promotion", "joint venture", "jv",
		"strategic alliance",
	}},
}

// DealTypeClassifier classifies the deal type by keyword precedence.
type DealTypeClassifier struct {
	fallback types.DealType
	rules    *keywordSet
}

// NewDealTypeClassifier creates a deal type classifier with the given default.
func NewDealTypeClassifier(fallback types.DealType) *DealTypeClassifier {
	return &DealTypeClassifier{fallback: fallback, rules: newKeywordSet(dealTypeRules)}
}

func (c *DealTypeClassifier) Dimension() Dimension { return DimensionDealType }

func (c *DealTypeClassifier) Classify(text string) Outcome {
	if h, ok := c.rules.first(padText(text), dealTypeRules); ok {
		return Definitive(h.label, h.phrase)
	}
	return Ambiguous(string(c.fallback), "no deal type keyword")
}

// TopicClassifier matches text against a therapeutic area vocabulary.
//
// Include terms alone match. Include and exclude terms together match only
// when includes outnumber excludes, and are flagged. Exclude terms otherwise
// reject. No terms at all keeps the record, flagged, when explicit mentions
// are not required.
type TopicClassifier struct {
	area            string
	requireExplicit bool
	includes        *keywordSet
	excludes        *keywordSet
}

// NewTopicClassifier creates a topic classifier from a vocabulary.
func NewTopicClassifier(vocab Vocabulary, requireExplicit bool) *TopicClassifier {
	return &TopicClassifier{
		area:            vocab.TherapeuticArea,
		requireExplicit: requireExplicit,
		includes:        newKeywordSet([]keywordRule{{label: "include", phrases: vocab.expandedIncludes()}}),
		excludes:        newKeywordSet([]keywordRule{{label: "exclude", phrases: vocab.Excludes}}),
	}
}

func (c *TopicClassifier) Dimension() Dimension { return DimensionTopic }

func (c *TopicClassifier) Classify(text string) Outcome {
	padded := padText(text)
	inc := c.includes.match(padded)
	exc := c.excludes.match(padded)

	switch {
	case len(inc) > 0 && len(exc) == 0:
		return Definitive(c.area, inc[0].phrase)
	case len(inc) > len(exc):
		return Ambiguous(c.area, fmt.Sprintf("mixed indications: %d %s terms vs %d other", len(inc), c.area, len(exc)))
	case len(exc) > 0:
		return Excluded(fmt.Sprintf("primarily outside %s (%q)", c.area, exc[0].phrase))
	case c.requireExplicit:
		return Excluded(fmt.Sprintf("no %s terms", c.area))
	default:
		return Ambiguous(c.area, fmt.Sprintf("no %s terms", c.area))
	}
}
