package extraction

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/dealfinder/internal/types"
)

var (
	// Date patterns in precedence order
	isoDateRe   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	monthDayRe  = regexp.MustCompile(`(?i)\b(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d{1,2}),?\s+(\d{4})\b`)
	abbrevDayRe = regexp.MustCompile(`(?i)\b(Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sept|Sep|Oct|Nov|Dec)\.?\s+(\d{1,2}),?\s+(\d{4})\b`)
	dayMonthRe  = regexp.MustCompile(`(?i)\b(\d{1,2})\s+(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d{4})\b`)

	// company is a run of capitalized words, allowing a few joiners
	company = `([A-Z][\w&.'\-]*(?:\s+(?:[A-Z][\w&.'\-]*|&|and|of|de)){0,5})`

	acquireRe = regexp.MustCompile(company + `\s+(?i:to\s+acquire|acquires|will\s+acquire|has\s+acquired|agrees\s+to\s+acquire|completes\s+(?:the\s+)?acquisition\s+of)\s+` + company)
	grantRe   = regexp.MustCompile(company + `\s+(?i:grants)\s+` + company + `\s+(?i:(?:an?\s+)?(?:exclusive\s+)?(?:option|license|rights))`)
	licenseRe = regexp.MustCompile(company + `\s+(?i:in-licenses|licenses|obtains\s+(?:exclusive\s+)?rights\s+to)\s+.{0,80}?\s+(?i:from)\s+` + company)
	withRe    = regexp.MustCompile(company + `\s+(?i:(?:enters|signs|forms|announces)\s+(?:into\s+)?(?:an?\s+)?(?:[\w-]+\s+){0,3}(?:collaboration|partnership|license|licensing|option|agreement|alliance)\s+(?:agreement\s+)?with)\s+` + company)
	jointRe   = regexp.MustCompile(company + `\s+and\s+` + company + `\s+(?i:(?:announce|enter|form|sign|expand)\w*\s+(?:into\s+)?(?:an?\s+)?(?:[\w-]+\s+){0,3}(?:collaboration|partnership|license|licensing|option|agreement|alliance))`)

	moneyRe = regexp.MustCompile(`(?i)(?:US)?\$\s?(\d+(?:,\d{3})*(?:\.\d+)?)\s*(billion|million|bn|mm|m|b)\b`)

	assetLabelRe = regexp.MustCompile(`(?i)(?:asset|program|candidate|therapy|treatment|drug):\s*([A-Za-z0-9\-]+(?:\s+[A-Za-z0-9\-]+){0,3})`)
	drugCodeRe   = regexp.MustCompile(`\b([A-Z]{2,}-\d+[A-Za-z]?)\b`)
	inoNameRe    = regexp.MustCompile(`\b([A-Z][a-z]+(?:mab|nib|mod|cel|tide))\b`)
)

// leading words that are sentence furniture rather than part of a name
var leadingNoise = map[string]bool{
	"The": true, "Today": true, "Announced": true, "Update": true, "Breaking": true,
}

// title-case words that end a name ("Arena Pharmaceuticals For $6.7 Billion")
var trailingStop = map[string]bool{
	"For": true, "In": true, "To": true, "With": true, "From": true, "At": true,
	"On": true, "Deal": true, "Agreement": true, "Announce": true, "Announces": true,
	"Enter": true, "Enters": true, "Sign": true, "Signs": true,
}

// partyRule finds acquirer and target in text.
type partyRule struct {
	re *regexp.Regexp
	// acquirerGroup and targetGroup index the capture groups
	acquirerGroup, targetGroup int
	// hint is passed to the deal type classifier
	hint string
	// ambiguous roles are flagged for review
	ambiguous bool
}

var partyRules = []partyRule{
	{re: acquireRe, acquirerGroup: 1, targetGroup: 2, hint: "acquisition"},
	{re: grantRe, acquirerGroup: 2, targetGroup: 1},
	{re: licenseRe, acquirerGroup: 1, targetGroup: 2, hint: "license"},
	{re: withRe, acquirerGroup: 1, targetGroup: 2, ambiguous: true},
	{re: jointRe, acquirerGroup: 1, targetGroup: 2, ambiguous: true},
}

// RuleExtractor extracts drafts with text patterns.
type RuleExtractor struct {
	fetcher Fetcher
}

// NewRuleExtractor creates a rule-based extractor over fetcher.
func NewRuleExtractor(fetcher Fetcher) *RuleExtractor {
	return &RuleExtractor{fetcher: fetcher}
}

// Extract fetches c's page and applies the rules.
func (e *RuleExtractor) Extract(ctx context.Context, c types.Candidate) (*types.Draft, error) {
	page, err := e.fetcher.Fetch(ctx, c.URL)
	if err != nil {
		return nil, err
	}
	return ExtractPage(page, c), nil
}

// ExtractPage applies the rules to an already fetched page.
func ExtractPage(page *Page, c types.Candidate) *types.Draft {
	d := &types.Draft{
		URL:    c.URL,
		Source: c.Source,
		Title:  page.Title,
		Text:   page.Text,
		Hints:  make(map[string]string),
	}
	text := page.Title + "\n" + page.Text

	rule, acquirer, target, ok := findParties(page.Title)
	if !ok {
		rule, acquirer, target, ok = findParties(page.Text)
	}
	if !ok {
		d.NoDeal = true
		d.Reason = "no deal announcement pattern"
		return d
	}
	d.Acquirer, d.Target = acquirer, target
	if rule.hint != "" {
		d.Hints["deal_type"] = rule.hint
	}
	if rule.ambiguous {
		d.NeedsReview = true
		d.ReviewReasons = append(d.ReviewReasons, "party roles inferred from joint announcement wording")
	}

	confidence := 0.5
	if date, ok := FindDate(text); ok {
		d.Date = &date
		confidence += 0.1
	} else {
		switch {
		case page.PublishedAt != nil:
			t := *page.PublishedAt
			d.Date = &t
		case c.PublishedAt != nil:
			t := *c.PublishedAt
			d.Date = &t
		}
		if d.Date != nil {
			d.NeedsReview = true
			d.ReviewReasons = append(d.ReviewReasons, "announcement date taken from publication time")
		}
	}

	if asset, ok := FindAsset(text); ok {
		d.Asset = asset
		confidence += 0.1
	} else {
		d.NeedsReview = true
		d.ReviewReasons = append(d.ReviewReasons, "asset not identified")
	}

	d.Money = FindMoney(text)
	if d.Money.Completeness() > 0 {
		confidence += 0.1
	}
	if rule.ambiguous {
		confidence -= 0.1
	}
	d.Confidence = confidence
	return d
}

func findParties(text string) (partyRule, string, string, bool) {
	for _, r := range partyRules {
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		acquirer := cleanParty(m[r.acquirerGroup])
		target := cleanParty(m[r.targetGroup])
		if acquirer == "" || target == "" || strings.EqualFold(acquirer, target) {
			continue
		}
		return r, acquirer, target, true
	}
	return partyRule{}, "", "", false
}

func cleanParty(s string) string {
	toks := strings.Fields(s)
	for len(toks) > 1 && leadingNoise[toks[0]] {
		toks = toks[1:]
	}
	for i, tok := range toks {
		if i > 0 && trailingStop[tok] {
			toks = toks[:i]
			break
		}
	}
	for len(toks) > 0 {
		last := toks[len(toks)-1]
		if last == "and" || last == "of" || last == "&" || last == "de" {
			toks = toks[:len(toks)-1]
			continue
		}
		break
	}
	return strings.TrimRight(strings.Join(toks, " "), ",;:")
}

// FindDate returns the first date in text, trying ISO, "Month D, YYYY",
// "Mon D, YYYY" and "D Month YYYY" in that order.
func FindDate(text string) (time.Time, bool) {
	if m := isoDateRe.FindString(text); m != "" {
		if t, err := time.Parse("2006-01-02", m); err == nil {
			return t, true
		}
	}
	if m := monthDayRe.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse("January 2 2006", titleCase(m[1])+" "+m[2]+" "+m[3]); err == nil {
			return t, true
		}
	}
	if m := abbrevDayRe.FindStringSubmatch(text); m != nil {
		mon := titleCase(m[1])
		if mon == "Sept" {
			mon = "Sep"
		}
		if t, err := time.Parse("Jan 2 2006", mon+" "+m[2]+" "+m[3]); err == nil {
			return t, true
		}
	}
	if m := dayMonthRe.FindStringSubmatch(text); m != nil {
		if t, err := time.Parse("2 January 2006", m[1]+" "+titleCase(m[2])+" "+m[3]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// FindAsset returns the deal's asset: an explicitly labelled program, a
// development code like ABC-123, or an INN-style drug name.
func FindAsset(text string) (string, bool) {
	if m := assetLabelRe.FindStringSubmatch(text); m != nil {
		if a := strings.TrimSpace(m[1]); len(a) > 2 && len(a) < 100 {
			return a, true
		}
	}
	if m := drugCodeRe.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	if m := inoNameRe.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	return "", false
}

// FindMoney reads upfront, milestone and total amounts in millions of USD.
// An amount is labelled by the words right after it ("$50M upfront", "$1B in
// milestones"), else by the words before it back to the previous amount. The
// first amount for each field wins.
func FindMoney(text string) types.Money {
	var m types.Money
	locs := moneyRe.FindAllStringSubmatchIndex(text, -1)
	prevEnd := 0
	for i, loc := range locs {
		amount, err := strconv.ParseFloat(strings.ReplaceAll(text[loc[2]:loc[3]], ",", ""), 64)
		if err != nil {
			prevEnd = loc[1]
			continue
		}
		switch strings.ToLower(text[loc[4]:loc[5]]) {
		case "billion", "bn", "b":
			amount *= 1000
		}

		afterEnd := min(loc[1]+30, len(text))
		if i+1 < len(locs) && locs[i+1][0] < afterEnd {
			afterEnd = locs[i+1][0]
		}
		beforeStart := max(loc[0]-60, prevEnd)
		prevEnd = loc[1]

		label := moneyLabel(text[loc[1]:afterEnd], false)
		if label == "" {
			label = moneyLabel(text[beforeStart:loc[0]], true)
		}

		v := amount
		switch label {
		case "upfront":
			if m.UpfrontUSD == nil {
				m.UpfrontUSD = &v
			}
		case "milestone":
			if m.ContingentUSD == nil {
				m.ContingentUSD = &v
			}
		case "total":
			if m.TotalUSD == nil {
				m.TotalUSD = &v
			}
		}
	}
	if m.Completeness() > 0 {
		m.Currency = "USD"
	}
	return m
}

var moneyLabels = []struct {
	label string
	words []string
}{
	{"upfront", []string{"upfront", "up-front"}},
	{"milestone", []string{"milestone"}},
	{"total", []string{"total", "up to", "worth", "valued at", "aggregate", "approximately", " for "}},
}

// moneyLabel picks the label whose keyword sits closest to the amount. In
// the text after an amount only upfront and milestone count.
func moneyLabel(s string, before bool) string {
	s = strings.ToLower(s)
	best, bestDist := "", -1
	for _, ml := range moneyLabels {
		if !before && ml.label == "total" {
			continue
		}
		for _, w := range ml.words {
			var dist int
			if before {
				i := strings.LastIndex(s, w)
				if i < 0 {
					continue
				}
				dist = len(s) - (i + len(w))
			} else {
				i := strings.Index(s, w)
				if i < 0 {
					continue
				}
				dist = i
			}
			if bestDist < 0 || dist < bestDist {
				best, bestDist = ml.label, dist
			}
		}
	}
	return best
}
