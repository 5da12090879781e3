package review

import (
	"strings"
	"unicode"

	ahocorasick "github.com/cloudflare/ahocorasick"
)

// keywordSet matches whole-word phrases in a single pass over the text.
// Both text and keywords are normalized to space-padded token strings, so
// " phase 1 " never matches inside " phase 1/2 ".
type keywordSet struct {
	matcher  *ahocorasick.Matcher
	keywords []string // padded, in insertion order
	labels   []string // label for each keyword
}

// newKeywordSet builds a matcher over label -> phrases. Labels keep the order
// given so callers can apply precedence. A phrase listed twice keeps its first
// label.
func newKeywordSet(rules []keywordRule) *keywordSet {
	ks := &keywordSet{}
	seen := make(map[string]bool)
	for _, rule := range rules {
		for _, phrase := range rule.phrases {
			for _, variant := range phraseVariants(phrase) {
				if seen[variant] {
					continue
				}
				seen[variant] = true
				ks.keywords = append(ks.keywords, variant)
				ks.labels = append(ks.labels, rule.label)
			}
		}
	}
	if len(ks.keywords) > 0 {
		ks.matcher = ahocorasick.NewStringMatcher(ks.keywords)
	}
	return ks
}

// keywordRule maps phrases to the label they vote for.
type keywordRule struct {
	label   string
	phrases []string
}

// hit is one matched keyword.
type hit struct {
	label  string
	phrase string
}

// match returns the distinct keywords found in padded text, in keyword order.
func (ks *keywordSet) match(padded string) []hit {
	if ks.matcher == nil || padded == "" {
		return nil
	}
	idx := ks.matcher.MatchThreadSafe([]byte(padded))

	seen := make(map[int]bool, len(idx))
	for _, i := range idx {
		seen[i] = true
	}
	var hits []hit
	for i := range ks.keywords {
		if seen[i] {
			hits = append(hits, hit{label: ks.labels[i], phrase: strings.TrimSpace(ks.keywords[i])})
		}
	}
	return hits
}

// first returns the first hit for the earliest label in rules order.
func (ks *keywordSet) first(padded string, rules []keywordRule) (hit, bool) {
	hits := ks.match(padded)
	for _, rule := range rules {
		for _, h := range hits {
			if h.label == rule.label {
				return h, true
			}
		}
	}
	return hit{}, false
}

// padText lower-cases text and reduces it to space-separated tokens of
// letters, digits and slashes, padded with a space on each side.
func padText(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 2)
	b.WriteByte(' ')
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '/' {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	if !lastSpace {
		b.WriteByte(' ')
	}
	out := b.String()
	// "phase 1 / 2" and "phase 1/ 2" both mean "phase 1/2"
	out = strings.ReplaceAll(out, " / ", "/")
	out = strings.ReplaceAll(out, "/ ", "/")
	out = strings.ReplaceAll(out, " /", "/")
	return out
}

// phraseVariants pads a phrase and adds the unspaced "phase1" form.
func phraseVariants(phrase string) []string {
	p := padText(phrase)
	if strings.TrimSpace(p) == "" {
		return nil
	}
	out := []string{p}
	if strings.Contains(p, " phase ") {
		if joined := strings.Replace(p, " phase ", " phase", 1); joined != p {
			out = append(out, joined)
		}
	}
	return out
}
