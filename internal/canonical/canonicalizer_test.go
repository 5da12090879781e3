package canonical

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/dealfinder/internal/types"
)

func testAliases() Aliases {
	return Aliases{
		CompanyAliases: map[string][]string{
			"Bristol Myers Squibb": {"BMS", "Bristol-Myers Squibb Company"},
		},
	}
}

func TestNormalizeName(t *testing.T) {
	c := New(testAliases())

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"legal suffix with period", "Pfizer Inc.", "pfizer"},
		{"comma before suffix", "Arena Pharmaceuticals, Inc.", "arena pharmaceuticals"},
		{"stacked suffixes", "Daiichi Sankyo Co., Ltd.", "daiichi sankyo"},
		{"dotted suffix", "Novartis A.G.", "novartis"},
		{"diacritics folded", "Sanofi Société Anonyme", "sanofi societe anonyme"},
		{"whitespace collapsed", "  Ipsen   Pharma  ", "ipsen pharma"},
		{"ampersand", "Johnson & Johnson", "johnson and johnson"},
		{"alias abbreviation", "BMS", "bristol myers squibb"},
		{"alias with suffix", "Bristol-Myers Squibb Company", "bristol myers squibb"},
		{"name is only a suffix", "Corp", "corp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.NormalizeName(tt.in))
		})
	}
}

func TestNormalizeAsset(t *testing.T) {
	c := New(Aliases{})

	assert.Equal(t, UndisclosedAsset, c.NormalizeAsset(""))
	assert.Equal(t, UndisclosedAsset, c.NormalizeAsset("Undisclosed"))
	assert.Equal(t, UndisclosedAsset, c.NormalizeAsset("N/A"))
	assert.Equal(t, UndisclosedAsset, c.NormalizeAsset("  not disclosed "))
	assert.Equal(t, "etrasimod", c.NormalizeAsset("Etrasimod"))
	// Assets keep suffix-like words
	assert.Equal(t, "anti cd3 co stimulator", c.NormalizeAsset("anti-CD3 co-stimulator"))
}

func TestDisplayName(t *testing.T) {
	c := New(testAliases())

	assert.Equal(t, "Pfizer", c.DisplayName("Pfizer Inc."))
	assert.Equal(t, "Arena Pharmaceuticals", c.DisplayName("Arena Pharmaceuticals, Inc."))
	assert.Equal(t, "Bristol Myers Squibb", c.DisplayName("BMS"))
	assert.Equal(t, "Corp", c.DisplayName("Corp"))
}

// Records with identical normalized fields must share a key, whatever the
// reporting noise in the raw fields.
func TestCanonicalKeyDeterminism(t *testing.T) {
	c := New(testAliases())
	date := time.Date(2021, 12, 13, 15, 4, 5, 0, time.UTC)

	a := &types.DealRecord{SourceURL: "https://a.example/1", Target: "Arena Pharmaceuticals, Inc.", Acquirer: "Pfizer Inc.", AssetFocus: "Etrasimod", DateAnnounced: date}
	b := &types.DealRecord{SourceURL: "https://b.example/2", Target: "ARENA PHARMACEUTICALS", Acquirer: "pfizer", AssetFocus: " etrasimod ", DateAnnounced: date.Add(3 * time.Hour)}

	require.NoError(t, c.Canonicalize(a))
	require.NoError(t, c.Canonicalize(b))

	assert.Equal(t, a.Identity, b.Identity)
	assert.Equal(t, a.CanonicalKey(), b.CanonicalKey())
	assert.Equal(t, "2021-12-13", a.Identity.Date)
	assert.Equal(t, "Pfizer", a.Acquirer)
}

func TestCanonicalizeUndisclosedAssetCollides(t *testing.T) {
	c := New(testAliases())
	date := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)

	missing := &types.DealRecord{SourceURL: "https://a.example/1", Target: "IFM Therapeutics", Acquirer: "BMS", DateAnnounced: date}
	explicit := &types.DealRecord{SourceURL: "https://b.example/2", Target: "IFM Therapeutics", Acquirer: "Bristol-Myers Squibb Company", AssetFocus: "Undisclosed", DateAnnounced: date}

	require.NoError(t, c.Canonicalize(missing))
	require.NoError(t, c.Canonicalize(explicit))

	assert.Equal(t, missing.CanonicalKey(), explicit.CanonicalKey())
	assert.Equal(t, "Undisclosed", missing.AssetFocus)
}

func TestCanonicalizeMissingDate(t *testing.T) {
	c := New(Aliases{})
	rec := &types.DealRecord{SourceURL: "https://a.example/1", Target: "A", Acquirer: "B"}

	err := c.Canonicalize(rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrMissingDate))
	assert.Empty(t, rec.CanonicalKey())
}

func TestCanonicalizeMissingParty(t *testing.T) {
	c := New(Aliases{})
	rec := &types.DealRecord{SourceURL: "https://a.example/1", Target: "  ", Acquirer: "B", DateAnnounced: time.Now()}

	var malformed *types.MalformedRecordError
	require.ErrorAs(t, c.Canonicalize(rec), &malformed)
	assert.Equal(t, "parties", malformed.Field)
}

func TestLoadAliases(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		a, err := LoadAliases(filepath.Join(dir, "nope.json"))
		require.NoError(t, err)
		assert.Empty(t, a.CompanyAliases)
	})

	t.Run("json", func(t *testing.T) {
		path := filepath.Join(dir, "aliases.json")
		body := `{"company_aliases": {"Merck & Co": ["MSD", "Merck Sharp & Dohme"]}, "legal_suffixes_to_strip": ["inc", "co"]}`
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))

		a, err := LoadAliases(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"inc", "co"}, a.LegalSuffixes)

		c := New(a)
		assert.Equal(t, c.NormalizeName("Merck & Co., Inc."), c.NormalizeName("MSD"))
	})

	t.Run("yaml", func(t *testing.T) {
		path := filepath.Join(dir, "aliases.yaml")
		body := "company_aliases:\n  Roche:\n    - Hoffmann-La Roche\n    - F. Hoffmann-La Roche AG\n"
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))

		a, err := LoadAliases(path)
		require.NoError(t, err)
		c := New(a)
		assert.Equal(t, "roche", c.NormalizeName("F. Hoffmann-La Roche AG"))
	})

	t.Run("malformed", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("company_aliases: [unterminated"), 0644))

		_, err := LoadAliases(path)
		assert.Error(t, err)
	})
}

func TestAliasesMerge(t *testing.T) {
	base := Aliases{CompanyAliases: map[string][]string{"Roche": {"Genentech parent"}}, LegalSuffixes: []string{"inc"}}
	merged := base.Merge(Aliases{CompanyAliases: map[string][]string{"Roche": {"Hoffmann-La Roche"}}})

	assert.Equal(t, []string{"Genentech parent", "Hoffmann-La Roche"}, merged.CompanyAliases["Roche"])
	assert.Equal(t, []string{"inc"}, merged.LegalSuffixes)
	assert.Len(t, base.CompanyAliases["Roche"], 1)
}
