// Package trend derives rolling price statistics from the observation log.
package trend

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"pc-deal-watch/internal/domain"
	"pc-deal-watch/internal/storage"
)

const (
	DefaultWindow     = 30 * 24 * time.Hour
	DefaultDropWindow = 48 * time.Hour
)

// Analyzer reads history and never caches aggregates.
type Analyzer struct {
	history    storage.HistoryStore
	window     time.Duration
	dropWindow time.Duration
}

// NewAnalyzer builds an analyzer; non-positive windows fall back to 30d / 48h.
func NewAnalyzer(history storage.HistoryStore, window, dropWindow time.Duration) *Analyzer {
	if window <= 0 {
		window = DefaultWindow
	}
	if dropWindow <= 0 {
		dropWindow = DefaultDropWindow
	}
	return &Analyzer{history: history, window: window, dropWindow: dropWindow}
}

// Analyze computes the aggregate for key as of asOf. Store errors come back
// wrapped as *domain.StorageFailure.
func (a *Analyzer) Analyze(ctx context.Context, key domain.ProductKey, th domain.Thresholds, asOf time.Time) (domain.HistoryAggregate, error) {
	rows, err := a.history.Query(ctx, key, storage.TimeRange{From: asOf.Add(-a.window), To: asOf})
	if err != nil {
		return domain.HistoryAggregate{Key: key, AsOf: asOf}, &domain.StorageFailure{Op: "query history", Err: err}
	}
	return Aggregate(key, rows, th, asOf, a.window, a.dropWindow), nil
}

// Aggregate is the pure replay of observations into a HistoryAggregate.
// Only condition=new rows inside the windows count; input order is irrelevant.
func Aggregate(key domain.ProductKey, rows []domain.Observation, th domain.Thresholds, asOf time.Time, window, dropWindow time.Duration) domain.HistoryAggregate {
	agg := domain.HistoryAggregate{Key: key, AsOf: asOf}

	from30 := asOf.Add(-window)
	from48 := asOf.Add(-dropWindow)

	var (
		sum   decimal.Decimal
		min30 decimal.Decimal
		min48 decimal.Decimal
		has48 bool
	)
	for _, obs := range rows {
		if obs.Condition != domain.ConditionNew {
			continue
		}
		if obs.ObservedAt.Before(from30) || obs.ObservedAt.After(asOf) {
			continue
		}
		if agg.SampleCount30d == 0 || obs.Price.LessThan(min30) {
			min30 = obs.Price
		}
		sum = sum.Add(obs.Price)
		agg.SampleCount30d++

		if !obs.ObservedAt.Before(from48) {
			if !has48 || obs.Price.LessThan(min48) {
				min48 = obs.Price
			}
			has48 = true
		}
	}

	if agg.SampleCount30d > 0 {
		mean := sum.Div(decimal.NewFromInt(int64(agg.SampleCount30d))).Round(2)
		agg.Min30d = decimal.NewNullDecimal(min30)
		agg.Mean30d = decimal.NewNullDecimal(mean)
	}
	if has48 {
		agg.Min48h = decimal.NewNullDecimal(min48)
	}

	agg.LowConfidence = agg.SampleCount30d < th.MinSamples
	if agg.Min48h.Valid && agg.Mean30d.Valid {
		agg.RapidDrop = agg.Min48h.Decimal.LessThanOrEqual(agg.Mean30d.Decimal.Mul(th.DropRatio))
	}
	return agg
}
