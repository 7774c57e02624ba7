package thresholds

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pc-deal-watch/internal/domain"
	"pc-deal-watch/internal/normalize"
)

type staticOverrides struct {
	values map[string]decimal.Decimal
	err    error
}

func (s staticOverrides) ListThresholdOverrides(context.Context) (map[string]decimal.Decimal, error) {
	return s.values, s.err
}

func fptr(v float64) *float64 { return &v }

func testCatalogue(t *testing.T) *normalize.Normalizer {
	t.Helper()
	n, err := normalize.New(normalize.Catalogue{Products: []normalize.Entry{
		{Category: "GPU", Brand: "AMD", Model: "RX 9070 XT", Keywords: []string{"rx 9070 xt"},
			Thresholds: normalize.ThresholdOverrides{DealPrice: fptr(600), GoodPrice: fptr(680)}},
		{Category: "CPU", Brand: "AMD", Model: "Ryzen 7 9800X3D"},
	}})
	require.NoError(t, err)
	return n
}

func TestResolvePrecedence(t *testing.T) {
	cat := testCatalogue(t)
	categories := map[string]normalize.ThresholdOverrides{
		"gpu": {DropRatio: fptr(0.9), DealPrice: fptr(1)},
		"CPU": {DealPrice: fptr(420), GoodPrice: fptr(460)},
	}
	overrides := staticOverrides{values: map[string]decimal.Decimal{
		"gpu/amd/rx-9070-xt/good_price": decimal.NewFromInt(700),
	}}

	r, err := NewResolver(domain.DefaultThresholds(), categories, cat, overrides)
	require.NoError(t, err)
	set, err := r.Snapshot(context.Background())
	require.NoError(t, err)

	gpu, _ := cat.Lookup("gpu/amd/rx-9070-xt")
	th, err := set.For(gpu)
	require.NoError(t, err)
	assert.True(t, th.DealPrice.Equal(decimal.NewFromInt(600)), "catalogue beats category")
	assert.True(t, th.GoodPrice.Equal(decimal.NewFromInt(700)), "runtime beats catalogue")
	assert.True(t, th.DropRatio.Equal(decimal.RequireFromString("0.9")), "category beats default")
	assert.True(t, th.GlitchRatio.Equal(decimal.RequireFromString("0.5")))

	cpu, _ := cat.Lookup("cpu/amd/ryzen-7-9800x3d")
	th, err = set.For(cpu)
	require.NoError(t, err)
	assert.True(t, th.DealPrice.Equal(decimal.NewFromInt(420)))
}

func TestResolveWithoutPricesFails(t *testing.T) {
	cat := testCatalogue(t)
	r, err := NewResolver(domain.DefaultThresholds(), nil, cat, nil)
	require.NoError(t, err)
	set, err := r.Snapshot(context.Background())
	require.NoError(t, err)

	cpu, _ := cat.Lookup("cpu/amd/ryzen-7-9800x3d")
	_, err = set.For(cpu)
	assert.Error(t, err)
}

func TestSnapshotPropagatesReaderError(t *testing.T) {
	r, err := NewResolver(domain.DefaultThresholds(), nil, testCatalogue(t), staticOverrides{err: errors.New("db down")})
	require.NoError(t, err)
	_, err = r.Snapshot(context.Background())
	assert.Error(t, err)
}

func TestNewResolverRejectsUnknownCategory(t *testing.T) {
	_, err := NewResolver(domain.DefaultThresholds(), map[string]normalize.ThresholdOverrides{"toaster": {}}, nil, nil)
	assert.Error(t, err)
}

func TestValidKey(t *testing.T) {
	cat := testCatalogue(t)

	key, field, err := ValidKey(cat, "gpu/amd/rx-9070-xt/deal_price")
	require.NoError(t, err)
	assert.Equal(t, "RX 9070 XT", key.Model)
	assert.Equal(t, domain.FieldDealPrice, field)

	_, _, err = ValidKey(cat, "gpu/amd/rx-9070-xt/colour")
	assert.Error(t, err)
	_, _, err = ValidKey(cat, "gpu/amd/rx-7900/deal_price")
	assert.Error(t, err)
	_, _, err = ValidKey(cat, "deal_price")
	assert.Error(t, err)
}

func TestWithOverrideDoesNotMutateSnapshot(t *testing.T) {
	cat := testCatalogue(t)
	r, err := NewResolver(domain.DefaultThresholds(), nil, cat, nil)
	require.NoError(t, err)
	set, err := r.Snapshot(context.Background())
	require.NoError(t, err)

	gpu, _ := cat.Lookup("gpu/amd/rx-9070-xt")
	preview := set.WithOverride("gpu/amd/rx-9070-xt/deal_price", decimal.NewFromInt(900))
	_, err = preview.For(gpu)
	assert.Error(t, err, "deal above good must fail validation")

	th, err := set.For(gpu)
	require.NoError(t, err)
	assert.True(t, th.DealPrice.Equal(decimal.NewFromInt(600)))
	assert.Len(t, r.Keys(), 2)
}

func TestVariantOverrideDoesNotLeakToBaseProduct(t *testing.T) {
	cat, err := normalize.New(normalize.Catalogue{Products: []normalize.Entry{
		{Category: "CPU", Brand: "AMD", Model: "Ryzen 7 9800X3D", Keywords: []string{"9800x3d"}},
		{Category: "CPU", Brand: "AMD", Model: "Ryzen 7 9800X3D", Variant: "Tray", Keywords: []string{"9800x3d tray"}},
	}})
	require.NoError(t, err)
	categories := map[string]normalize.ThresholdOverrides{
		"cpu": {DealPrice: fptr(420), GoodPrice: fptr(460)},
	}
	overrides := staticOverrides{values: map[string]decimal.Decimal{
		"cpu/amd/ryzen-7-9800x3d/tray/deal_price": decimal.NewFromInt(390),
	}}
	r, err := NewResolver(domain.DefaultThresholds(), categories, cat, overrides)
	require.NoError(t, err)
	set, err := r.Snapshot(context.Background())
	require.NoError(t, err)

	base, ok := cat.Lookup("cpu/amd/ryzen-7-9800x3d")
	require.True(t, ok)
	th, err := set.For(base)
	require.NoError(t, err)
	assert.True(t, th.DealPrice.Equal(decimal.NewFromInt(420)))

	tray, ok := cat.Lookup("cpu/amd/ryzen-7-9800x3d/tray")
	require.True(t, ok)
	th, err = set.For(tray)
	require.NoError(t, err)
	assert.True(t, th.DealPrice.Equal(decimal.NewFromInt(390)))
}
