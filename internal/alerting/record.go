package alerting

import (
	"github.com/shopspring/decimal"

	"pc-deal-watch/internal/domain"
	"pc-deal-watch/internal/storage"
)

// ToRecord flattens an alert for the alert log.
func ToRecord(a domain.Alert) storage.AlertRecord {
	rec := storage.AlertRecord{
		ID:            a.ID,
		ProductSlug:   a.Decision.Key.Slug(),
		ObservationID: a.Decision.ObservationRef,
		Verdict:       string(a.Decision.Verdict),
		Basis:         string(a.Decision.Basis),
		Price:         a.Decision.Observation.Price,
		Suppressed:    a.Suppressed,
		Route:         string(a.Route),
		Reason:        a.Reason,
		CreatedAt:     a.CreatedAt,
	}
	if a.Trust != nil {
		rec.TrustScore = decimal.NewNullDecimal(a.Trust.Score)
		for _, r := range a.Trust.Reasons {
			rec.Reasons = append(rec.Reasons, r.Signal)
		}
	}
	return rec
}
