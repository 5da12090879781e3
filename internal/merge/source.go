package merge

import (
	"strings"

	ahocorasick "github.com/cloudflare/ahocorasick"

	"github.com/steveyegge/dealfinder/internal/types"
)

// SourceClassifier reports whether a record comes from a primary disclosure
// (the parties' own press release) rather than secondary coverage.
type SourceClassifier interface {
	IsPrimary(rec *types.DealRecord) bool
}

// KeywordSourceClassifier matches keywords against the source URL and source name.
type KeywordSourceClassifier struct {
	matcher *ahocorasick.Matcher
}

// NewKeywordSourceClassifier creates a classifier over the given keywords.
func NewKeywordSourceClassifier(keywords []string) *KeywordSourceClassifier {
	var kws []string
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			kws = append(kws, kw)
		}
	}
	if len(kws) == 0 {
		return &KeywordSourceClassifier{}
	}
	return &KeywordSourceClassifier{matcher: ahocorasick.NewStringMatcher(kws)}
}

// IsPrimary implements SourceClassifier.
func (c *KeywordSourceClassifier) IsPrimary(rec *types.DealRecord) bool {
	if c.matcher == nil || rec == nil {
		return false
	}
	in := strings.ToLower(rec.SourceURL + " " + rec.Source)
	return len(c.matcher.MatchThreadSafe([]byte(in))) > 0
}

// SourceClassifierFunc adapts a function to SourceClassifier.
type SourceClassifierFunc func(rec *types.DealRecord) bool

// IsPrimary implements SourceClassifier.
func (f SourceClassifierFunc) IsPrimary(rec *types.DealRecord) bool {
	return f(rec)
}
