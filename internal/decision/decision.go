// Package decision turns a price, its history and thresholds into a verdict.
package decision

import (
	"pc-deal-watch/internal/domain"
)

// Decide applies the rules in order, first match wins:
//
//	price <= deal_price                                   -> AFFARE
//	price <= good_price                                   -> BUONO
//	confident && rapid drop && price <= min_30d*near_low  -> BUONO
//	otherwise                                             -> ASPETTA
func Decide(obs domain.Observation, agg domain.HistoryAggregate, th domain.Thresholds) domain.Decision {
	d := domain.Decision{
		Key:            obs.Key,
		ObservationRef: obs.ID,
		Observation:    obs,
		Aggregate:      agg,
		Thresholds:     th,
	}

	switch {
	case obs.Price.LessThanOrEqual(th.DealPrice):
		d.Verdict, d.Basis = domain.VerdictAffare, domain.BasisDealThreshold
	case obs.Price.LessThanOrEqual(th.GoodPrice):
		d.Verdict, d.Basis = domain.VerdictBuono, domain.BasisGoodThreshold
	case nearHistoricLow(obs, agg, th):
		d.Verdict, d.Basis = domain.VerdictBuono, domain.BasisNearLowDrop
	default:
		d.Verdict, d.Basis = domain.VerdictAspetta, domain.BasisNoMatch
	}
	return d
}

func nearHistoricLow(obs domain.Observation, agg domain.HistoryAggregate, th domain.Thresholds) bool {
	if agg.LowConfidence || !agg.RapidDrop || !agg.Min30d.Valid {
		return false
	}
	return obs.Price.LessThanOrEqual(agg.Min30d.Decimal.Mul(th.NearLowRatio))
}
