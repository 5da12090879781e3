package extraction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/dealfinder/internal/types"
)

func TestExtractPageAcquisition(t *testing.T) {
	page := &Page{
		URL:   "https://wire.example/pfizer-arena",
		Title: "Pfizer to Acquire Arena Pharmaceuticals",
		Text: "NEW YORK, December 13, 2021 -- Pfizer Inc. (NYSE: PFE) and Arena Pharmaceuticals, Inc. " +
			"today announced that the companies have entered into a definitive agreement under which " +
			"Pfizer will acquire Arena, a clinical stage company developing Etrasimod, for a total " +
			"equity value of approximately $6.7 billion.",
	}
	d := ExtractPage(page, types.Candidate{URL: page.URL, Source: "Business Wire"})

	require.False(t, d.NoDeal)
	assert.Equal(t, "Pfizer", d.Acquirer)
	assert.Equal(t, "Arena Pharmaceuticals", d.Target)
	assert.Equal(t, "Etrasimod", d.Asset)
	assert.Equal(t, "acquisition", d.Hints["deal_type"])
	assert.Equal(t, "Business Wire", d.Source)
	require.NotNil(t, d.Date)
	assert.Equal(t, "2021-12-13", d.Date.Format(types.DateLayout))
	require.NotNil(t, d.Money.TotalUSD)
	assert.InDelta(t, 6700, *d.Money.TotalUSD, 0.001)
	assert.Nil(t, d.Money.UpfrontUSD)
	assert.Equal(t, "USD", d.Money.Currency)
	assert.InDelta(t, 0.8, d.Confidence, 1e-9)
	assert.False(t, d.NeedsReview)
}

func TestExtractPageGrantWithEconomics(t *testing.T) {
	page := &Page{
		Title: "Acme Bio grants Novartis an exclusive license",
		Text: "BOSTON, 2023-03-01 -- Acme Bio will receive $50 million upfront and up to $1.2 billion " +
			"in milestones, for a total of $1.25 billion. ABX-101 is a phase 1 candidate.",
	}
	d := ExtractPage(page, types.Candidate{URL: "https://wire.example/acme"})

	require.False(t, d.NoDeal)
	assert.Equal(t, "Novartis", d.Acquirer)
	assert.Equal(t, "Acme Bio", d.Target)
	assert.Equal(t, "ABX-101", d.Asset)
	assert.Equal(t, "2023-03-01", d.Date.Format(types.DateLayout))

	require.NotNil(t, d.Money.UpfrontUSD)
	require.NotNil(t, d.Money.ContingentUSD)
	require.NotNil(t, d.Money.TotalUSD)
	assert.InDelta(t, 50, *d.Money.UpfrontUSD, 0.001)
	assert.InDelta(t, 1200, *d.Money.ContingentUSD, 0.001)
	assert.InDelta(t, 1250, *d.Money.TotalUSD, 0.001)
}

func TestExtractPageJointAnnouncementIsFlagged(t *testing.T) {
	published := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	page := &Page{
		Title: "Alpha Therapeutics and Beta Bio announce research collaboration",
		Text:  "The companies will pursue new immunology targets.",
	}
	d := ExtractPage(page, types.Candidate{URL: "https://wire.example/ab", PublishedAt: &published})

	require.False(t, d.NoDeal)
	assert.Equal(t, "Alpha Therapeutics", d.Acquirer)
	assert.Equal(t, "Beta Bio", d.Target)
	require.NotNil(t, d.Date)
	assert.True(t, d.Date.Equal(published))
	assert.True(t, d.NeedsReview)
	assert.Contains(t, d.ReviewReasons, "party roles inferred from joint announcement wording")
	assert.Contains(t, d.ReviewReasons, "announcement date taken from publication time")
	assert.Contains(t, d.ReviewReasons, "asset not identified")
	assert.InDelta(t, 0.4, d.Confidence, 1e-9)
}

func TestExtractPageNoDeal(t *testing.T) {
	d := ExtractPage(&Page{Title: "Quarterly results", Text: "Revenue grew 10% year over year."},
		types.Candidate{URL: "https://wire.example/q3"})
	assert.True(t, d.NoDeal)
	assert.NotEmpty(t, d.Reason)
}

func TestFindDate(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"announced 2021-12-13 in New York", "2021-12-13"},
		{"NEW YORK, December 13, 2021 --", "2021-12-13"},
		{"Dec. 13, 2021", "2021-12-13"},
		{"Sept 5, 2022", "2022-09-05"},
		{"on 13 December 2021 the", "2021-12-13"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := FindDate(tt.text)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.Format(types.DateLayout))
		})
	}

	_, ok := FindDate("no date in this sentence")
	assert.False(t, ok)
}

func TestFindAsset(t *testing.T) {
	a, ok := FindAsset("Lead program: ORX750 targets OX2R.")
	require.True(t, ok)
	assert.Equal(t, "ORX750 targets OX2R", a)

	a, ok = FindAsset("rights to XYZ-12 in Europe")
	require.True(t, ok)
	assert.Equal(t, "XYZ-12", a)

	_, ok = FindAsset("no named program")
	assert.False(t, ok)
}

func TestCleanParty(t *testing.T) {
	assert.Equal(t, "Arena Pharmaceuticals", cleanParty("The Arena Pharmaceuticals For"))
	assert.Equal(t, "Alpha", cleanParty("Alpha and"))
	assert.Equal(t, "Today", cleanParty("Today"))
}
