package canonical

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/steveyegge/dealfinder/internal/types"
)

// UndisclosedAsset is substituted for an absent or undisclosed asset so that
// several undisclosed-asset reports of the same parties and date share a key.
const UndisclosedAsset = "undisclosed"

// undisclosedDisplay is the display form of UndisclosedAsset.
const undisclosedDisplay = "Undisclosed"

// DefaultLegalSuffixes are stripped from company names when no list is configured.
var DefaultLegalSuffixes = []string{
	"inc", "incorporated", "corp", "corporation", "co", "company",
	"ltd", "limited", "llc", "plc", "ag", "sa", "se", "nv", "bv",
	"gmbh", "kk", "spa", "ab", "asa", "oy", "pty", "lp", "srl",
}

// assetSynonyms normalize to UndisclosedAsset.
var assetSynonyms = map[string]bool{
	"":              true,
	"undisclosed":   true,
	"not disclosed": true,
	"n a":           true,
	"na":            true,
	"none":          true,
	"unknown":       true,
	"unspecified":   true,
	"not specified": true,
	"tbd":           true,
}

// Canonicalizer derives normalized identities from raw deal fields.
// It is immutable after construction and safe for concurrent use.
type Canonicalizer struct {
	// suffixes holds each legal suffix as a normalized token sequence
	suffixes [][]string

	// aliasNorm maps a normalized variant to the normalized canonical name
	aliasNorm map[string]string

	// aliasDisplay maps a normalized variant to the canonical display name
	aliasDisplay map[string]string
}

// New creates a canonicalizer from alias data. An empty suffix list means
// DefaultLegalSuffixes.
func New(aliases Aliases) *Canonicalizer {
	c := &Canonicalizer{
		aliasNorm:    make(map[string]string),
		aliasDisplay: make(map[string]string),
	}

	suffixes := aliases.LegalSuffixes
	if len(suffixes) == 0 {
		suffixes = DefaultLegalSuffixes
	}
	for _, s := range suffixes {
		if toks := strings.Fields(foldText(s)); len(toks) > 0 {
			c.suffixes = append(c.suffixes, toks)
		}
	}

	for canonical, variants := range aliases.CompanyAliases {
		target := c.stripSuffixes(foldText(canonical))
		if target == "" {
			continue
		}
		display := strings.TrimSpace(canonical)
		for _, v := range append([]string{canonical}, variants...) {
			key := c.stripSuffixes(foldText(v))
			if key == "" {
				continue
			}
			c.aliasNorm[key] = target
			c.aliasDisplay[key] = display
		}
	}

	return c
}

// NormalizeName lower-cases, ASCII-folds, strips punctuation and legal
// suffixes, collapses whitespace and applies the alias map.
func (c *Canonicalizer) NormalizeName(name string) string {
	n := c.stripSuffixes(foldText(name))
	if canonical, ok := c.aliasNorm[n]; ok {
		return canonical
	}
	return n
}

// NormalizeAsset normalizes asset or focus text. Absent and undisclosed values
// map to UndisclosedAsset.
func (c *Canonicalizer) NormalizeAsset(asset string) string {
	n := foldText(asset)
	if assetSynonyms[n] {
		return UndisclosedAsset
	}
	return n
}

// DisplayName returns the name used in exports: the alias canonical form when
// one matches, otherwise the trimmed input with legal suffixes removed.
func (c *Canonicalizer) DisplayName(name string) string {
	n := c.stripSuffixes(foldText(name))
	if display, ok := c.aliasDisplay[n]; ok {
		return display
	}

	words := strings.Fields(name)
	for len(words) > 1 {
		removed := false
		for _, suffix := range c.suffixes {
			if len(suffix) >= len(words) {
				continue
			}
			tail := strings.Fields(foldText(strings.Join(words[len(words)-len(suffix):], " ")))
			if equalTokens(tail, suffix) {
				words = words[:len(words)-len(suffix)]
				removed = true
				break
			}
		}
		if !removed {
			break
		}
	}
	return strings.TrimRight(strings.Join(words, " "), " ,")
}

// DisplayAsset returns the asset text used in exports.
func (c *Canonicalizer) DisplayAsset(asset string) string {
	if c.NormalizeAsset(asset) == UndisclosedAsset {
		return undisclosedDisplay
	}
	return strings.TrimSpace(asset)
}

// Identity computes the normalized identity of raw deal fields.
func (c *Canonicalizer) Identity(target, acquirer, asset string, date string) types.Identity {
	return types.Identity{
		Target:   c.NormalizeName(target),
		Acquirer: c.NormalizeName(acquirer),
		Asset:    c.NormalizeAsset(asset),
		Date:     date,
	}
}

// Canonicalize sets the record's identity and display fields.
// A record without an announcement date cannot be keyed and is rejected
// as malformed.
func (c *Canonicalizer) Canonicalize(rec *types.DealRecord) error {
	if rec.DateAnnounced.IsZero() {
		return &types.MalformedRecordError{URL: rec.SourceURL, Field: "date_announced", Err: types.ErrMissingDate}
	}

	date := types.DateOnly(rec.DateAnnounced)
	rec.DateAnnounced = date
	rec.Identity = c.Identity(rec.Target, rec.Acquirer, rec.AssetFocus, date.Format(types.DateLayout))
	if rec.Identity.Target == "" || rec.Identity.Acquirer == "" {
		return &types.MalformedRecordError{
			URL:   rec.SourceURL,
			Field: "parties",
			Err:   fmt.Errorf("target %q and acquirer %q must both be named", rec.Target, rec.Acquirer),
		}
	}

	rec.Target = c.DisplayName(rec.Target)
	rec.Acquirer = c.DisplayName(rec.Acquirer)
	rec.AssetFocus = c.DisplayAsset(rec.AssetFocus)
	return nil
}

// stripSuffixes removes trailing legal suffixes from a folded name, repeatedly,
// but never strips the name down to nothing.
func (c *Canonicalizer) stripSuffixes(folded string) string {
	toks := strings.Fields(folded)
	for {
		removed := false
		for _, suffix := range c.suffixes {
			if len(suffix) >= len(toks) {
				continue
			}
			if equalTokens(toks[len(toks)-len(suffix):], suffix) {
				toks = toks[:len(toks)-len(suffix)]
				removed = true
				break
			}
		}
		if !removed {
			return strings.Join(toks, " ")
		}
	}
}

func equalTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// asciiFold decomposes accented characters and drops everything non-ASCII.
// Chains carry buffers, so each call gets its own.
func asciiFold() transform.Transformer {
	return transform.Chain(
		norm.NFKD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Remove(runes.Predicate(func(r rune) bool { return r > unicode.MaxASCII })),
	)
}

// foldText lower-cases and ASCII-folds s, deletes apostrophes and periods,
// turns "&" into "and", replaces other punctuation with spaces and collapses
// whitespace.
func foldText(s string) string {
	folded, _, err := transform.String(asciiFold(), s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r == '\'' || r == '.':
			// "Moderna's" -> "modernas", "S.A." -> "sa"
		case r == '&':
			b.WriteString(" and ")
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
