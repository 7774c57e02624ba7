package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pc-deal-watch/internal/alerting"
	"pc-deal-watch/internal/domain"
	"pc-deal-watch/internal/service"
	"pc-deal-watch/internal/storage/memory"
)

// Simulate feeds one synthetic record through the full pipeline on an
// in-memory store, optionally after seeding a new-price history. Nothing is
// written to the database; with opts.Notify the configured channels fire.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.Title == "" || opts.Price <= 0 {
		return errors.New("title and a positive price are required")
	}

	now := a.now().UTC()
	store := memory.NewStore(memory.WithDailyDedupe(false), memory.WithClock(a.now))

	var notifier alerting.Notifier
	if opts.Notify {
		if !a.Config.Alerting.Enabled {
			return errors.New("alerting 未启用")
		}
		notifier, _ = a.newRouter()
	}

	comps, err := a.build(store, notifier)
	if err != nil {
		return err
	}

	if len(opts.History) > 0 {
		seed := service.Batch{HistoryOnly: true}
		for i, p := range opts.History {
			// oldest first, one sample per day ending yesterday
			at := now.Add(-time.Duration(len(opts.History)-i) * 24 * time.Hour)
			price := decimal.NewFromFloat(p)
			seed.Prices = append(seed.Prices, domain.RawObservation{
				Title:      opts.Title,
				Price:      &price,
				Currency:   "EUR",
				URL:        fmt.Sprintf("simulate://history/%d", i),
				ObservedAt: &at,
				Source:     domain.SourceIdealo,
			})
		}
		if _, err := comps.pipeline.Process(ctx, seed); err != nil {
			return err
		}
	}

	price := decimal.NewFromFloat(opts.Price)
	var shipping *decimal.Decimal
	if opts.Shipping > 0 {
		s := decimal.NewFromFloat(opts.Shipping)
		shipping = &s
	}

	batch := service.Batch{}
	if opts.Used {
		l := domain.Listing{
			Title:      opts.Title,
			Price:      &price,
			Shipping:   shipping,
			Currency:   "EUR",
			Location:   opts.Location,
			URL:        "simulate://listing",
			ObservedAt: &now,
			Source:     domain.SourceSubitoImport,
		}
		if opts.Text != "" {
			l.Snippets = []string{opts.Text}
		}
		batch.Listings = append(batch.Listings, l)
	} else {
		batch.Prices = append(batch.Prices, domain.RawObservation{
			Title:      opts.Title,
			Price:      &price,
			Shipping:   shipping,
			Currency:   "EUR",
			URL:        "simulate://price",
			ObservedAt: &now,
			Source:     domain.SourceTrovaprezzi,
		})
	}

	report, err := comps.pipeline.Process(ctx, batch)
	if err != nil {
		return err
	}
	if len(report.Alerts) == 0 {
		fmt.Fprintln(a.Out, "no alert produced")
		return a.printReview(ctx, store, 10)
	}
	for _, alert := range report.Alerts {
		fmt.Fprintf(a.Out, "route: %s (suppressed %t)\n%s\n", alert.Route, alert.Suppressed, alerting.RenderText(alert))
	}
	return nil
}
