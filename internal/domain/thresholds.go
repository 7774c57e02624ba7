package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Thresholds is the resolved, immutable rule set for one product.
type Thresholds struct {
	DealPrice    decimal.Decimal // AFFARE ceiling
	GoodPrice    decimal.Decimal // BUONO ceiling
	GlitchRatio  decimal.Decimal
	DropRatio    decimal.Decimal
	NearLowRatio decimal.Decimal
	OutlierRatio decimal.Decimal
	MinSamples   int
}

// Threshold field names, shared by overrides and the settings table.
const (
	FieldDealPrice    = "deal_price"
	FieldGoodPrice    = "good_price"
	FieldGlitchRatio  = "glitch_ratio"
	FieldDropRatio    = "drop_ratio"
	FieldNearLowRatio = "near_low_ratio"
	FieldOutlierRatio = "outlier_ratio"
	FieldMinSamples   = "min_samples"
)

// ThresholdFields lists the overridable fields in display order.
var ThresholdFields = []string{
	FieldDealPrice,
	FieldGoodPrice,
	FieldGlitchRatio,
	FieldDropRatio,
	FieldNearLowRatio,
	FieldOutlierRatio,
	FieldMinSamples,
}

// DefaultThresholds carries the ratios used when nothing else is configured.
// Prices stay zero and must come from configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		GlitchRatio:  decimal.RequireFromString("0.5"),
		DropRatio:    decimal.RequireFromString("0.85"),
		NearLowRatio: decimal.RequireFromString("1.05"),
		OutlierRatio: decimal.RequireFromString("0.6"),
		MinSamples:   3,
	}
}

// With returns a copy with one field replaced.
func (t Thresholds) With(field string, value decimal.Decimal) (Thresholds, error) {
	switch field {
	case FieldDealPrice:
		t.DealPrice = value
	case FieldGoodPrice:
		t.GoodPrice = value
	case FieldGlitchRatio:
		t.GlitchRatio = value
	case FieldDropRatio:
		t.DropRatio = value
	case FieldNearLowRatio:
		t.NearLowRatio = value
	case FieldOutlierRatio:
		t.OutlierRatio = value
	case FieldMinSamples:
		if !value.Equal(value.Truncate(0)) {
			return t, fmt.Errorf("%s must be an integer", field)
		}
		t.MinSamples = int(value.IntPart())
	default:
		return t, fmt.Errorf("unknown threshold field %q", field)
	}
	return t, nil
}

// Get reads one field as a decimal.
func (t Thresholds) Get(field string) (decimal.Decimal, error) {
	switch field {
	case FieldDealPrice:
		return t.DealPrice, nil
	case FieldGoodPrice:
		return t.GoodPrice, nil
	case FieldGlitchRatio:
		return t.GlitchRatio, nil
	case FieldDropRatio:
		return t.DropRatio, nil
	case FieldNearLowRatio:
		return t.NearLowRatio, nil
	case FieldOutlierRatio:
		return t.OutlierRatio, nil
	case FieldMinSamples:
		return decimal.NewFromInt(int64(t.MinSamples)), nil
	}
	return decimal.Decimal{}, fmt.Errorf("unknown threshold field %q", field)
}

// Validate checks internal consistency.
func (t Thresholds) Validate() error {
	if t.DealPrice.Sign() <= 0 {
		return fmt.Errorf("deal_price must be greater than zero")
	}
	if t.GoodPrice.LessThan(t.DealPrice) {
		return fmt.Errorf("good_price (%s) must not be below deal_price (%s)", t.GoodPrice, t.DealPrice)
	}
	one := decimal.NewFromInt(1)
	if t.GlitchRatio.Sign() < 0 || t.GlitchRatio.GreaterThan(one) {
		return fmt.Errorf("glitch_ratio must be within [0,1]")
	}
	if t.DropRatio.Sign() <= 0 || t.DropRatio.GreaterThan(one) {
		return fmt.Errorf("drop_ratio must be within (0,1]")
	}
	if t.NearLowRatio.LessThan(one) {
		return fmt.Errorf("near_low_ratio must be at least 1")
	}
	if t.OutlierRatio.Sign() <= 0 || t.OutlierRatio.GreaterThan(one) {
		return fmt.Errorf("outlier_ratio must be within (0,1]")
	}
	if t.MinSamples < 1 {
		return fmt.Errorf("min_samples must be at least 1")
	}
	return nil
}
