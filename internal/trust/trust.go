// Package trust scores secondhand listings. The score never changes a price
// verdict; it only decides whether an alert may be pushed.
package trust

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"pc-deal-watch/internal/domain"
)

// Signal names used in TrustScore reasons.
const (
	SignalPaymentProtection = "payment_protection"
	SignalPaymentRisk       = "payment_risk"
	SignalCredibility       = "seller_credibility"
	SignalCondition         = "condition"
	SignalPhotos            = "photos"
	SignalDetails           = "details"
	SignalOutlier           = "price_outlier"
	SignalMissingData       = "missing_data"
	SignalIncomplete        = "incomplete_listing"
	SignalLowScore          = "below_min_score"
)

// Weights are the additive contributions, all given as positive magnitudes.
type Weights struct {
	Base        float64 `mapstructure:"base"`
	Payment     float64 `mapstructure:"payment"`
	PaymentRisk float64 `mapstructure:"payment_risk"`
	Credibility float64 `mapstructure:"credibility"`
	Condition   float64 `mapstructure:"condition"`
	Photos      float64 `mapstructure:"photos"`
	Details     float64 `mapstructure:"details"`
	Outlier     float64 `mapstructure:"outlier"`
}

// Config is the trust section of the application config.
type Config struct {
	MinScore       float64  `mapstructure:"min_score"`
	MinDetailChars int      `mapstructure:"min_detail_chars"`
	Weights        Weights  `mapstructure:"weights"`
	PaymentGood    []string `mapstructure:"payment_good"`
	PaymentBad     []string `mapstructure:"payment_bad"`
	ConditionGood  []string `mapstructure:"condition_good"`
}

// DefaultConfig returns the built-in weights and Italian keyword lists.
func DefaultConfig() Config {
	return Config{
		MinScore:       0.5,
		MinDetailChars: 80,
		Weights: Weights{
			Base:        0.2,
			Payment:     0.25,
			PaymentRisk: 0.35,
			Credibility: 0.3,
			Condition:   0.1,
			Photos:      0.05,
			Details:     0.1,
			Outlier:     0.4,
		},
		PaymentGood:   []string{"pagamento protetto", "spedizione protetta", "tutela acquisti", "subito pay", "paypal", "ritiro a mano"},
		PaymentBad:    []string{"solo contanti", "ricarica postepay", "postepay", "bonifico anticipato", "western union", "paypal amici", "amici e parenti"},
		ConditionGood: []string{"come nuovo", "mai usato", "perfetto", "eccellente", "scontrino", "garanzia", "imballo originale"},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Weights == (Weights{}) {
		c.Weights = def.Weights
	}
	if c.MinDetailChars <= 0 {
		c.MinDetailChars = def.MinDetailChars
	}
	if c.PaymentGood == nil {
		c.PaymentGood = def.PaymentGood
	}
	if c.PaymentBad == nil {
		c.PaymentBad = def.PaymentBad
	}
	if c.ConditionGood == nil {
		c.ConditionGood = def.ConditionGood
	}
	return c
}

// Scorer combines seller signals and price plausibility into a TrustScore.
type Scorer struct {
	cfg Config
}

// NewScorer builds a scorer. Zero-valued sections take the defaults.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg.withDefaults()}
}

var (
	zero = decimal.Zero
	one  = decimal.NewFromInt(1)
	five = decimal.NewFromInt(5)
)

// Score evaluates a used observation. agg is the new-item aggregate of the
// same product; when it has no 30-day minimum, good_price is the reference.
func (s *Scorer) Score(obs domain.Observation, sig domain.SellerSignals, agg domain.HistoryAggregate, th domain.Thresholds) domain.TrustScore {
	w := s.cfg.Weights
	ts := domain.TrustScore{Score: decimal.NewFromFloat(w.Base)}

	add := func(signal string, weight decimal.Decimal, detail string) {
		ts.Score = ts.Score.Add(weight)
		ts.Reasons = append(ts.Reasons, domain.Reason{Signal: signal, Weight: weight, Detail: detail})
	}

	if sig.PaymentProtected {
		add(SignalPaymentProtection, decimal.NewFromFloat(w.Payment), strings.Join(sig.PaymentKeywords, ", "))
	}
	if len(sig.PaymentRisks) > 0 {
		add(SignalPaymentRisk, decimal.NewFromFloat(-w.PaymentRisk), strings.Join(sig.PaymentRisks, ", "))
	}
	if sig.HasCredibility() {
		factor, detail := credibility(sig)
		add(SignalCredibility, decimal.NewFromFloat(w.Credibility).Mul(factor).Round(4), detail)
	}
	if len(sig.ConditionHints) > 0 {
		add(SignalCondition, decimal.NewFromFloat(w.Condition), strings.Join(sig.ConditionHints, ", "))
	}
	if sig.HasPhotos {
		add(SignalPhotos, decimal.NewFromFloat(w.Photos), "")
	}
	if sig.HasDetails {
		add(SignalDetails, decimal.NewFromFloat(w.Details), "")
	}

	if ref, ok := outlierReference(agg, th); ok {
		limit := ref.Mul(th.OutlierRatio)
		if obs.Price.LessThan(limit) {
			add(SignalOutlier, decimal.NewFromFloat(-w.Outlier),
				fmt.Sprintf("%s < %s (%s x %s)", obs.Price.StringFixed(2), limit.StringFixed(2), ref.StringFixed(2), th.OutlierRatio))
			ts.ManualReview = true
		}
	}

	if !sig.PaymentProtected && !sig.HasCredibility() {
		ts.Reasons = append(ts.Reasons, domain.Reason{Signal: SignalMissingData, Weight: zero, Detail: "no payment protection or seller credibility found"})
		ts.ManualReview = true
	}

	ts.Score = clamp(ts.Score)
	if ts.Score.LessThan(decimal.NewFromFloat(s.cfg.MinScore)) {
		ts.Reasons = append(ts.Reasons, domain.Reason{Signal: SignalLowScore, Weight: zero, Detail: ts.Score.StringFixed(2)})
		ts.ManualReview = true
	}
	return ts
}

// MarkIncomplete forces manual review for a listing missing required fields.
func MarkIncomplete(ts domain.TrustScore, missing []string) domain.TrustScore {
	ts.Reasons = append(ts.Reasons, domain.Reason{Signal: SignalIncomplete, Weight: zero, Detail: strings.Join(missing, ",")})
	ts.ManualReview = true
	return ts
}

func credibility(sig domain.SellerSignals) (decimal.Decimal, string) {
	switch {
	case sig.Rating.Valid && sig.HasReviewCount:
		return clamp(sig.Rating.Decimal.Div(five)), fmt.Sprintf("rating %s/5, %d reviews", sig.Rating.Decimal, sig.ReviewCount)
	case sig.Rating.Valid:
		return clamp(sig.Rating.Decimal.Div(five)), fmt.Sprintf("rating %s/5", sig.Rating.Decimal)
	default:
		// review count without a rating counts half, saturating at 20 reviews
		n := sig.ReviewCount
		if n > 20 {
			n = 20
		}
		return decimal.NewFromInt(int64(n)).Div(decimal.NewFromInt(40)), fmt.Sprintf("%d reviews", sig.ReviewCount)
	}
}

func outlierReference(agg domain.HistoryAggregate, th domain.Thresholds) (decimal.Decimal, bool) {
	if agg.Min30d.Valid && agg.Min30d.Decimal.Sign() > 0 {
		return agg.Min30d.Decimal, true
	}
	if th.GoodPrice.Sign() > 0 {
		return th.GoodPrice, true
	}
	return decimal.Decimal{}, false
}

func clamp(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(zero) {
		return zero
	}
	if d.GreaterThan(one) {
		return one
	}
	return d
}
