// Package guardrail keeps implausible new prices out of the history.
package guardrail

import (
	"pc-deal-watch/internal/domain"
)

// Admit checks a normalised observation before it is appended. Only new
// items from price-comparison sources are checked: a price below
// deal_price*glitch_ratio is treated as a parse error (shipping fee, bundle
// fragment) and returned as *domain.RejectedGlitch.
func Admit(obs domain.Observation, th domain.Thresholds) error {
	if obs.Condition != domain.ConditionNew {
		return nil
	}
	if obs.Source.Kind() != domain.KindPriceComparison {
		return nil
	}

	floor := th.DealPrice.Mul(th.GlitchRatio)
	if obs.Price.LessThan(floor) {
		return &domain.RejectedGlitch{
			Key:    obs.Key,
			Price:  obs.Price,
			Floor:  floor,
			URL:    obs.URL,
			Source: obs.Source,
		}
	}
	return nil
}
