package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductKeySlugRoundTrip(t *testing.T) {
	key := ProductKey{Category: CategoryGPU, Brand: "NVIDIA", Model: "RTX 5090", Variant: "32 GB"}
	assert.Equal(t, "gpu/nvidia/rtx-5090/32-gb", key.Slug())

	parsed, err := ParseSlug(key.Slug())
	require.NoError(t, err)
	assert.Equal(t, key.Slug(), parsed.Slug())
	assert.Equal(t, CategoryGPU, parsed.Category)
}

func TestProductKeySlugWithoutVariant(t *testing.T) {
	key := ProductKey{Category: CategoryCPU, Brand: "AMD", Model: "Ryzen 7 9800X3D"}
	assert.Equal(t, "cpu/amd/ryzen-7-9800x3d", key.Slug())

	_, err := ParseSlug("cpu/amd")
	assert.Error(t, err)
	_, err = ParseSlug("toaster/a/b")
	assert.Error(t, err)
}

func TestSourceKind(t *testing.T) {
	assert.Equal(t, KindPriceComparison, SourceIdealo.Kind())
	assert.Equal(t, KindPriceComparison, SourceTrovaprezzi.Kind())
	assert.Equal(t, KindSecondhand, SourceSubitoImport.Kind())
	assert.Equal(t, KindSecondhand, SourceSubitoIMAP.Kind())

	_, err := ParseSource("ebay")
	assert.Error(t, err)
	src, err := ParseSource(" Idealo ")
	require.NoError(t, err)
	assert.Equal(t, SourceIdealo, src)
}

func TestRawObservationValidateMissingFields(t *testing.T) {
	err := RawObservation{Title: "RTX 5090", URL: "https://x"}.Validate()
	var failure *IngestionFailure
	require.True(t, errors.As(err, &failure))
	assert.ElementsMatch(t, []string{"price", "currency", "observed_at", "source"}, failure.Missing)
}

func TestRawObservationValidateRejectsZeroPrice(t *testing.T) {
	zero := decimal.Zero
	now := time.Now()
	err := RawObservation{Title: "RTX 5090", URL: "https://x", Price: &zero, Currency: "EUR", ObservedAt: &now, Source: SourceIdealo}.Validate()
	assert.Error(t, err)
}

func TestThresholdsWithAndValidate(t *testing.T) {
	th := DefaultThresholds()
	th, err := th.With(FieldDealPrice, decimal.NewFromInt(500))
	require.NoError(t, err)
	th, err = th.With(FieldGoodPrice, decimal.NewFromInt(600))
	require.NoError(t, err)
	require.NoError(t, th.Validate())

	_, err = th.With(FieldMinSamples, decimal.RequireFromString("2.5"))
	assert.Error(t, err)
	_, err = th.With("bogus", decimal.NewFromInt(1))
	assert.Error(t, err)

	bad, _ := th.With(FieldGoodPrice, decimal.NewFromInt(400))
	assert.Error(t, bad.Validate())

	v, err := th.Get(FieldMinSamples)
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.NewFromInt(3)))
}

func TestObservationDedupeKeyRoundsToDay(t *testing.T) {
	key := ProductKey{Category: CategorySSD, Brand: "Samsung", Model: "990 Pro", Variant: "2TB"}
	a := Observation{Key: key, Source: SourceIdealo, URL: "u", Price: decimal.NewFromInt(150), ObservedAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	b := a
	b.ObservedAt = time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	c := a
	c.ObservedAt = time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)

	assert.Equal(t, a.DedupeKey(), b.DedupeKey())
	assert.NotEqual(t, a.DedupeKey(), c.DedupeKey())
}

func TestListingMissingFields(t *testing.T) {
	assert.ElementsMatch(t, []string{"title", "price", "location", "url", "observed_at"}, Listing{}.MissingFields())
}
