package provider

import (
	"testing"

	"github.com/listing-scanner/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasic_Normalize(t *testing.T) {
	b := &Basic{ProviderName: "tutti", BaseURL: "https://www.tutti.ch", DefaultCurrency: "CHF"}
	p := decimal.NewFromInt(250)

	out, err := b.Normalize(models.NormalizedListing{
		Provider:     "TUTTI",
		Title:        "  Velo \n Cilo  ",
		URL:          "/de/vi/bern/velo/123#photos",
		Price:        &p,
		LocationHint: " 3011   Bern ",
	})

	require.NoError(t, err)
	assert.Equal(t, "tutti", out.Provider)
	assert.Equal(t, "Velo Cilo", out.Title)
	assert.Equal(t, "https://www.tutti.ch/de/vi/bern/velo/123", out.URL)
	assert.Equal(t, "CHF", out.Currency)
	assert.Equal(t, "3011 Bern", out.LocationHint)
}

func TestBasic_NormalizeRejectsIncomplete(t *testing.T) {
	b := &Basic{ProviderName: "tutti"}

	_, err := b.Normalize(models.NormalizedListing{Title: "Velo"})
	assert.ErrorIs(t, err, ErrIncomplete)

	_, err = b.Normalize(models.NormalizedListing{URL: "https://x.ch/1", Title: "   "})
	assert.ErrorIs(t, err, ErrIncomplete)

	_, err = b.Normalize(models.NormalizedListing{URL: "/relative", Title: "Velo"})
	assert.Error(t, err)
}

func TestBasic_NormalizeDropsNegativePrice(t *testing.T) {
	b := &Basic{ProviderName: "anibis"}
	p := decimal.NewFromInt(-1)

	out, err := b.Normalize(models.NormalizedListing{Title: "Sofa", URL: "https://anibis.ch/1", Price: &p})
	require.NoError(t, err)
	assert.Nil(t, out.Price)
}

func TestBasic_NormalizeRoundsPriceToStoredScale(t *testing.T) {
	b := &Basic{ProviderName: "tutti", DefaultCurrency: "CHF"}
	p := decimal.RequireFromString("999.999")

	out, err := b.Normalize(models.NormalizedListing{Title: "Velo", URL: "https://tutti.ch/1", Price: &p})
	require.NoError(t, err)
	require.NotNil(t, out.Price)
	assert.True(t, out.Price.Equal(decimal.NewFromInt(1000)), "got %s", out.Price)
	assert.Equal(t, "999.999", p.String(), "input is not modified")
}

func TestBasic_NormalizeRejectsUnstorablePrice(t *testing.T) {
	b := &Basic{ProviderName: "tutti"}

	huge := decimal.New(1, 12)
	_, err := b.Normalize(models.NormalizedListing{Title: "Villa", URL: "https://tutti.ch/2", Price: &huge})
	assert.ErrorIs(t, err, ErrPriceOutOfRange)

	justBelow := decimal.RequireFromString("999999999999.99")
	out, err := b.Normalize(models.NormalizedListing{Title: "Villa", URL: "https://tutti.ch/2", Price: &justBelow})
	require.NoError(t, err)
	assert.True(t, out.Price.Equal(justBelow))
}

func TestBasic_Filter(t *testing.T) {
	b := &Basic{ProviderName: "tutti", IgnoreTitles: []string{"gesucht"}}

	assert.True(t, b.Filter(models.NormalizedListing{Title: "Velo"}))
	assert.False(t, b.Filter(models.NormalizedListing{Title: "GESUCHT: Velo"}))
}

func TestRegistry(t *testing.T) {
	r := Defaults()

	assert.Equal(t, "tutti", r.Get("Tutti").Name())

	unknown := r.Get("newsite")
	assert.Equal(t, "newsite", unknown.Name())
	_, err := unknown.Normalize(models.NormalizedListing{Title: "x", URL: "https://newsite.ch/1"})
	assert.NoError(t, err)
}
