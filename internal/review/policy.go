package review

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/dealfinder/internal/types"
)

// DimensionDate is the announcement window check applied before classification.
const DimensionDate Dimension = "date"

// Defaults are the values recorded when a dimension's evidence is ambiguous
// or absent. They encode a recall-first business choice and are configurable.
type Defaults struct {
	Stage    types.Stage    `yaml:"stage"`
	DealType types.DealType `yaml:"deal_type"`
}

// Config holds configuration for the review-flag policy
type Config struct {
	// Defaults for ambiguous stage and deal type. The topic default is the
	// vocabulary's therapeutic area.
	Defaults Defaults

	// Vocabulary drives topic matching
	Vocabulary Vocabulary

	// RequireExplicitTopic excludes records that mention no vocabulary term.
	// Default: false (keep them, flagged)
	RequireExplicitTopic bool

	// StartDate and EndDate bound the announcement window (inclusive).
	// Zero means unbounded.
	StartDate time.Time
	EndDate   time.Time
}

// DefaultConfig returns the default review configuration
func DefaultConfig() Config {
	return Config{
		Defaults: Defaults{
			Stage:    types.StagePreclinical,
			DealType: types.DealTypePartnership,
		},
		Vocabulary: Vocabulary{TherapeuticArea: "unspecified"},
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if !c.Defaults.Stage.IsValid() {
		return fmt.Errorf("defaults.stage is not a known stage (got %q)", c.Defaults.Stage)
	}
	if !c.Defaults.DealType.IsValid() {
		return fmt.Errorf("defaults.deal_type is not a known deal type (got %q)", c.Defaults.DealType)
	}
	if err := c.Vocabulary.Validate(); err != nil {
		return err
	}
	if !c.StartDate.IsZero() && !c.EndDate.IsZero() && c.EndDate.Before(c.StartDate) {
		return fmt.Errorf("end_date must not precede start_date (got %s < %s)",
			c.EndDate.Format(types.DateLayout), c.StartDate.Format(types.DateLayout))
	}
	return nil
}

// Policy resolves every classification dimension of a draft into a complete
// record. Ambiguity never drops a record: the dimension gets its default value
// and the record is flagged. Only explicit exclusion rules and missing
// identity fields yield no record.
type Policy struct {
	cfg        Config
	classifier map[Dimension]Classifier
	order      []Dimension
	logger     *zap.Logger
	now        func() time.Time
}

// NewPolicy creates a policy from configuration.
func NewPolicy(cfg Config, logger *zap.Logger) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid review config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Policy{
		cfg:        cfg,
		classifier: make(map[Dimension]Classifier),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, c := range []Classifier{
		NewStageClassifier(cfg.Defaults.Stage),
		NewDealTypeClassifier(cfg.Defaults.DealType),
		NewTopicClassifier(cfg.Vocabulary, cfg.RequireExplicitTopic),
	} {
		p.classifier[c.Dimension()] = c
		p.order = append(p.order, c.Dimension())
	}
	return p, nil
}

// Classify resolves one dimension. A hint already made by the extractor is
// tried first; when it is inconclusive the full text decides.
func (p *Policy) Classify(dim Dimension, text, hint string) Outcome {
	c, ok := p.classifier[dim]
	if !ok {
		return Excluded(fmt.Sprintf("unknown dimension %q", dim))
	}
	if strings.TrimSpace(hint) != "" {
		if o := c.Classify(hint); o.Kind != KindAmbiguous {
			return o
		}
	}
	return c.Classify(text)
}

// Apply turns a draft into a classified, unkeyed deal record.
//
// Returns *types.MalformedRecordError when the source URL or date is missing
// and *ExclusionError when a dimension rules the record out.
func (p *Policy) Apply(d *types.Draft) (*types.DealRecord, error) {
	if strings.TrimSpace(d.URL) == "" {
		return nil, &types.MalformedRecordError{URL: d.URL, Field: "source_url", Err: types.ErrMissingSourceURL}
	}
	if d.Date == nil || d.Date.IsZero() {
		return nil, &types.MalformedRecordError{URL: d.URL, Field: "date_announced", Err: types.ErrMissingDate}
	}
	date := types.DateOnly(*d.Date)
	if reason := p.outsideWindow(date); reason != "" {
		return nil, &ExclusionError{Dimension: DimensionDate, Reason: reason}
	}

	text := strings.Join([]string{d.Title, d.Text}, "\n")
	outcomes := make(map[Dimension]Outcome, len(p.order))
	for _, dim := range p.order {
		o := p.Classify(dim, text, d.Hints[string(dim)])
		if o.IsExcluded() {
			p.logger.Debug("draft excluded",
				zap.String("url", d.URL),
				zap.String("dimension", string(dim)),
				zap.String("reason", o.Reason))
			return nil, &ExclusionError{Dimension: dim, Reason: o.Reason}
		}
		outcomes[dim] = o
	}

	rec := &types.DealRecord{
		Target:          d.Target,
		Acquirer:        d.Acquirer,
		AssetFocus:      d.Asset,
		DateAnnounced:   date,
		DealType:        types.DealType(outcomes[DimensionDealType].Value),
		Stage:           types.Stage(outcomes[DimensionStage].Value),
		TherapeuticArea: outcomes[DimensionTopic].Value,
		TopicMatch:      true,
		Money:           d.Money,
		Geography:       d.Geography,
		Confidence:      clamp(d.Confidence),
		NeedsReview:     d.NeedsReview,
		ReviewReasons:   append([]string(nil), d.ReviewReasons...),
		SourceURL:       d.URL,
		Source:          d.Source,
		Evidence:        make(map[string]string),
		ParserVersion:   types.ParserVersion,
		ProcessedAt:     p.now(),
	}

	var inclusion []string
	for _, dim := range p.order {
		o := outcomes[dim]
		inclusion = append(inclusion, fmt.Sprintf("%s=%s (%s)", dim, o.Value, o.Kind))
		if o.NeedsReview() {
			rec.NeedsReview = true
			rec.ReviewReasons = append(rec.ReviewReasons, fmt.Sprintf("%s: %s", dim, o.Reason))
		}
		if o.Evidence != "" {
			rec.Evidence[string(dim)] = Snippet(text, o.Evidence, 200)
		}
	}
	rec.InclusionReason = strings.Join(inclusion, "; ")
	rec.ReviewReasons = types.UnionStrings(nil, rec.ReviewReasons)

	return rec, nil
}

func (p *Policy) outsideWindow(date time.Time) string {
	if !p.cfg.StartDate.IsZero() && date.Before(types.DateOnly(p.cfg.StartDate)) {
		return fmt.Sprintf("announced %s before window start %s",
			date.Format(types.DateLayout), p.cfg.StartDate.Format(types.DateLayout))
	}
	if !p.cfg.EndDate.IsZero() && date.After(types.DateOnly(p.cfg.EndDate)) {
		return fmt.Sprintf("announced %s after window end %s",
			date.Format(types.DateLayout), p.cfg.EndDate.Format(types.DateLayout))
	}
	return ""
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Snippet returns up to context characters either side of the first
// case-insensitive occurrence of phrase, with ellipses where text was cut.
func Snippet(text, phrase string, context int) string {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, strings.ToLower(phrase))
	if idx < 0 || idx >= len(text) {
		// keyword matching normalizes punctuation, so the raw phrase may not
		// occur verbatim
		return phrase
	}
	start := max(0, idx-context)
	end := min(len(text), idx+len(phrase)+context)

	snippet := strings.TrimSpace(text[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(text) {
		snippet += "..."
	}
	return snippet
}
