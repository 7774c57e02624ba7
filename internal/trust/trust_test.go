package trust

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pc-deal-watch/internal/domain"
)

var gpu = domain.ProductKey{Category: domain.CategoryGPU, Brand: "NVIDIA", Model: "RTX 4070 Super", Variant: "12GB"}

func thresholds() domain.Thresholds {
	th := domain.DefaultThresholds()
	th.DealPrice = decimal.NewFromInt(500)
	th.GoodPrice = decimal.NewFromInt(560)
	return th
}

func aggregate(min30 int64) domain.HistoryAggregate {
	return domain.HistoryAggregate{
		Key:            gpu,
		Min30d:         decimal.NewNullDecimal(decimal.NewFromInt(min30)),
		Mean30d:        decimal.NewNullDecimal(decimal.NewFromInt(min30 + 30)),
		SampleCount30d: 8,
	}
}

func usedObs(price int64) domain.Observation {
	return domain.Observation{
		Key:        gpu,
		Title:      "RTX 4070 Super usata",
		Price:      decimal.NewFromInt(price),
		Condition:  domain.ConditionUsed,
		Source:     domain.SourceSubitoImport,
		URL:        "https://www.subito.it/annunci/4070",
		Location:   "Milano",
		ObservedAt: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

func strongSignals() domain.SellerSignals {
	return domain.SellerSignals{
		PaymentProtected: true,
		PaymentKeywords:  []string{"pagamento protetto"},
		Rating:           decimal.NewNullDecimal(decimal.RequireFromString("4.9")),
		ReviewCount:      120,
		HasReviewCount:   true,
		ConditionHints:   []string{"come nuovo"},
		HasPhotos:        true,
		HasDetails:       true,
	}
}

func signalNames(ts domain.TrustScore) []string {
	var out []string
	for _, r := range ts.Reasons {
		out = append(out, r.Signal)
	}
	return out
}

func TestScore_MissingDataForcesReview(t *testing.T) {
	s := NewScorer(DefaultConfig())

	for _, price := range []int64{100, 400, 550, 900} {
		ts := s.Score(usedObs(price), domain.SellerSignals{HasPhotos: true, HasDetails: true}, aggregate(600), thresholds())
		assert.True(t, ts.ManualReview, "price %d", price)
		assert.Contains(t, signalNames(ts), SignalMissingData)
	}
}

func TestScore_OutlierForcesReviewDespiteStrongSignals(t *testing.T) {
	s := NewScorer(DefaultConfig())

	// 300 = 600 * 0.5, below 600 * 0.6
	ts := s.Score(usedObs(300), strongSignals(), aggregate(600), thresholds())

	assert.True(t, ts.ManualReview)
	assert.Contains(t, signalNames(ts), SignalOutlier)
}

func TestScore_TrustedListingPasses(t *testing.T) {
	s := NewScorer(DefaultConfig())

	ts := s.Score(usedObs(450), strongSignals(), aggregate(600), thresholds())

	assert.False(t, ts.ManualReview)
	assert.True(t, ts.Score.GreaterThanOrEqual(decimal.NewFromFloat(0.5)))
	assert.True(t, ts.Score.LessThanOrEqual(decimal.NewFromInt(1)))
	assert.Equal(t, SignalPaymentProtection, ts.Reasons[0].Signal)
}

func TestScore_ClampedToUnitInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights.PaymentRisk = 5
	s := NewScorer(cfg)

	sig := domain.SellerSignals{PaymentRisks: []string{"solo contanti"}}
	ts := s.Score(usedObs(450), sig, aggregate(600), thresholds())

	assert.True(t, ts.Score.Equal(decimal.Zero))
	assert.True(t, ts.ManualReview)
}

func TestScore_OutlierFallsBackToGoodPrice(t *testing.T) {
	s := NewScorer(DefaultConfig())

	// no history, good_price 560 * 0.6 = 336
	ts := s.Score(usedObs(300), strongSignals(), domain.HistoryAggregate{Key: gpu, LowConfidence: true}, thresholds())

	assert.True(t, ts.ManualReview)
	assert.Contains(t, signalNames(ts), SignalOutlier)
}

func TestMarkIncomplete(t *testing.T) {
	ts := MarkIncomplete(domain.TrustScore{Score: decimal.NewFromFloat(0.9)}, []string{"location"})

	assert.True(t, ts.ManualReview)
	require.Len(t, ts.Reasons, 1)
	assert.Equal(t, "location", ts.Reasons[0].Detail)
}

func TestExtract(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	l := domain.Listing{
		Title:     "RTX 4070 Super Founders Edition come nuovo",
		Snippets:  []string{"Venditore con 4,8/5 su 37 recensioni. Accetto pagamento protetto o paypal amici.", "Foto reali"},
		Condition: "usato",
	}

	sig := e.Extract(l)

	assert.True(t, sig.PaymentProtected)
	assert.Equal(t, []string{"pagamento protetto"}, sig.PaymentKeywords)
	assert.Contains(t, sig.PaymentRisks, "paypal amici")
	require.True(t, sig.Rating.Valid)
	assert.True(t, sig.Rating.Decimal.Equal(decimal.RequireFromString("4.8")))
	assert.True(t, sig.HasReviewCount)
	assert.Equal(t, 37, sig.ReviewCount)
	assert.Contains(t, sig.ConditionHints, "come nuovo")
	assert.True(t, sig.HasPhotos)
}

func TestExtract_StructuredFieldsWin(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	rating := decimal.RequireFromString("3.5")
	reviews := 4
	l := domain.Listing{Title: "Ryzen 5 7600", Snippets: []string{"5 stelle"}, SellerRating: &rating, ReviewCount: &reviews, HasDetails: true}

	sig := e.Extract(l)

	assert.True(t, sig.Rating.Decimal.Equal(rating))
	assert.Equal(t, 4, sig.ReviewCount)
	assert.True(t, sig.HasDetails)
	assert.False(t, sig.PaymentProtected)
}
