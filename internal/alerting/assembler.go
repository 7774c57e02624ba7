package alerting

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"pc-deal-watch/internal/domain"
)

// Assemble merges a decision and an optional trust score into an Alert.
//
// New items are pushed whenever the verdict is not ASPETTA. Used items are
// held for manual review whenever the trust score asks for it, or when no
// score is available at all. ASPETTA is always log-only.
func Assemble(d domain.Decision, ts *domain.TrustScore, now time.Time) domain.Alert {
	alert := domain.Alert{
		ID:        uuid.New(),
		Decision:  d,
		Trust:     ts,
		Route:     domain.RoutePush,
		CreatedAt: now.UTC(),
	}

	used := d.Observation.Condition == domain.ConditionUsed
	switch {
	case used && (ts == nil || ts.ManualReview):
		alert.Suppressed = true
		alert.Route = domain.RouteManualReview
	case d.Verdict == domain.VerdictAspetta:
		alert.Suppressed = true
		alert.Route = domain.RouteLogOnly
	}

	alert.Reason = explain(d, ts)
	return alert
}

func explain(d domain.Decision, ts *domain.TrustScore) string {
	price := d.Observation.Price.StringFixed(2)
	var reason string
	switch d.Basis {
	case domain.BasisDealThreshold:
		reason = fmt.Sprintf("Totale %s€ <= soglia AFFARE (%s€)", price, d.Thresholds.DealPrice.StringFixed(2))
	case domain.BasisGoodThreshold:
		reason = fmt.Sprintf("Totale %s€ <= soglia BUONO (%s€)", price, d.Thresholds.GoodPrice.StringFixed(2))
	case domain.BasisNearLowDrop:
		agg := d.Aggregate
		reason = fmt.Sprintf("Drop rapido: min(48h)=%s€ vs media(30g)=%s€, totale %s€ vicino al minimo %s€",
			agg.Min48h.Decimal.StringFixed(2), agg.Mean30d.Decimal.StringFixed(2), price, agg.Min30d.Decimal.StringFixed(2))
	default:
		if d.Aggregate.Min30d.Valid {
			reason = fmt.Sprintf("Totale %s€ sopra soglie; min(30g)=%s€ media(30g)=%s€ campioni=%d",
				price, d.Aggregate.Min30d.Decimal.StringFixed(2), d.Aggregate.Mean30d.Decimal.StringFixed(2), d.Aggregate.SampleCount30d)
		} else {
			reason = fmt.Sprintf("Totale %s€ sopra soglie (buono %s€ / affare %s€)",
				price, d.Thresholds.GoodPrice.StringFixed(2), d.Thresholds.DealPrice.StringFixed(2))
		}
	}

	if d.Observation.Condition == domain.ConditionUsed {
		switch {
		case ts == nil:
			reason += "; trust non calcolato, revisione manuale"
		case ts.ManualReview:
			reason += fmt.Sprintf("; trust %s, revisione manuale", ts.Score.StringFixed(2))
		default:
			reason += fmt.Sprintf("; trust %s", ts.Score.StringFixed(2))
		}
	}
	return reason
}
