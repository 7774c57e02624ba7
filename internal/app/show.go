package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"pc-deal-watch/internal/decision"
	"pc-deal-watch/internal/domain"
	"pc-deal-watch/internal/storage"
)

// Show prints recent observations, or recent alerts with opts.Alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.Alerts {
		return a.showAlerts(ctx, store, opts.Limit)
	}
	return a.showObservations(ctx, store, opts.Limit)
}

func (a *App) showObservations(ctx context.Context, store storage.ObservationLister, limit int) error {
	rows, err := store.ListRecentObservations(ctx, limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(a.Out, "no observations found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Observed (UTC)\tProduct\tCond.\tSource\tPrice €\tTitle")
	for _, o := range rows {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			o.ObservedAt.UTC().Format(time.RFC3339),
			o.Key.Slug(),
			o.Condition,
			o.Source,
			o.Price.StringFixed(2),
			truncate(sanitizeInline(o.Title), 60),
		)
	}
	return writer.Flush()
}

func (a *App) showAlerts(ctx context.Context, store storage.AlertStore, limit int) error {
	rows, err := store.ListRecentAlerts(ctx, limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tProduct\tVerdict\tRoute\tPrice €\tTrust\tReason")
	for _, r := range rows {
		trustScore := "-"
		if r.TrustScore.Valid {
			trustScore = r.TrustScore.Decimal.StringFixed(2)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.ProductSlug,
			r.Verdict,
			r.Route,
			r.Price.StringFixed(2),
			trustScore,
			truncate(sanitizeInline(r.Reason), 80),
		)
	}
	return writer.Flush()
}

// Review prints the manual review queue.
func (a *App) Review(ctx context.Context, limit int) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	return a.printReview(ctx, store, limit)
}

func (a *App) printReview(ctx context.Context, store storage.ReviewStore, limit int) error {
	items, err := store.ListReviewItems(ctx, limit)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(a.Out, "review queue is empty")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tKind\tSource\tPrice €\tTitle\tReason\tURL")
	for _, it := range items {
		price := "-"
		if it.Price.Valid {
			price = it.Price.Decimal.StringFixed(2)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			it.CreatedAt.UTC().Format(time.RFC3339),
			it.Kind,
			it.Source,
			price,
			truncate(sanitizeInline(it.Title), 50),
			truncate(sanitizeInline(it.Reason), 60),
			it.URL,
		)
	}
	return writer.Flush()
}

// Stats prints the trend aggregate of one product and the verdict its
// latest new-item observation would get today.
func (a *App) Stats(ctx context.Context, product string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	return a.printStats(ctx, store, product)
}

func (a *App) printStats(ctx context.Context, store stores, product string) error {
	comps, err := a.build(store, nil)
	if err != nil {
		return err
	}
	key, ok := comps.catalogue.Lookup(product)
	if !ok {
		return fmt.Errorf("unknown product %q", product)
	}
	set, err := comps.resolver.Snapshot(ctx)
	if err != nil {
		return err
	}
	th, err := set.For(key)
	if err != nil {
		return err
	}

	asOf := a.now().UTC()
	agg, err := comps.analyzer.Analyze(ctx, key, th, asOf)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "%s (%s)\n", key.String(), key.Slug())
	fmt.Fprintf(a.Out, "soglie: affare ≤ %s €, buono ≤ %s €, glitch %s, drop %s, near-low %s, min campioni %d\n",
		th.DealPrice.StringFixed(2), th.GoodPrice.StringFixed(2), th.GlitchRatio, th.DropRatio, th.NearLowRatio, th.MinSamples)
	fmt.Fprintf(a.Out, "30g: min %s, media %s, campioni %d\n", nullable(agg.Min30d), nullable(agg.Mean30d), agg.SampleCount30d)
	fmt.Fprintf(a.Out, "48h: min %s, calo rapido %t, bassa confidenza %t\n", nullable(agg.Min48h), agg.RapidDrop, agg.LowConfidence)

	rows, err := store.Query(ctx, key, storage.TimeRange{From: asOf.Add(-a.Config.History.Window), To: asOf})
	if err != nil {
		return err
	}
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Condition != domain.ConditionNew {
			continue
		}
		latest := rows[i]
		d := decision.Decide(latest, agg, th)
		fmt.Fprintf(a.Out, "ultimo prezzo nuovo: %s € (%s, %s) -> %s [%s]\n",
			latest.Price.StringFixed(2), latest.Source, latest.ObservedAt.UTC().Format(time.RFC3339), d.Verdict, d.Basis)
		return nil
	}
	fmt.Fprintln(a.Out, "nessun prezzo nuovo nella finestra")
	return nil
}

func nullable(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(2) + " €"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return strings.ReplaceAll(cleaned, "\t", " ")
}
