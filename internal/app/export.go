package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/xuri/excelize/v2"

	"pc-deal-watch/internal/domain"
	"pc-deal-watch/internal/storage"
)

// Export renders one product's price history as CSV, PNG and/or XLSX.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" && opts.XLSXPath == "" {
		return errors.New("at least one of --csv, --png or --xlsx must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	catalogue, err := a.loadCatalogue()
	if err != nil {
		return err
	}
	key, ok := catalogue.Lookup(opts.Product)
	if !ok {
		return fmt.Errorf("unknown product %q", opts.Product)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := a.now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-a.Config.History.Window)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	rows, err := store.Query(ctx, key, storage.TimeRange{From: from, To: to})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.Logger.Info().Str("product", key.Slug()).Msg("no observations found for export window")
		return nil
	}

	rows = downsample(rows, opts.MaxPoints)
	a.Logger.Info().Str("product", key.Slug()).Int("exported", len(rows)).Msg("exporting observations")

	// threshold lines are drawn only when the product is fully configured
	var th *domain.Thresholds
	if set, err := a.snapshot(ctx, catalogue, store); err == nil {
		if resolved, err := set.For(key); err == nil {
			th = &resolved
		}
	}

	if opts.CSVPath != "" {
		if err := writeCSV(opts.CSVPath, rows); err != nil {
			return err
		}
	}
	if opts.XLSXPath != "" {
		if err := writeXLSX(opts.XLSXPath, key, rows); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writePNG(opts.PNGPath, key, rows, th); err != nil {
			return err
		}
	}
	return nil
}

func downsample(rows []domain.Observation, max int) []domain.Observation {
	if max <= 0 || len(rows) <= max {
		return rows
	}
	if max == 1 {
		return rows[len(rows)-1:]
	}

	result := make([]domain.Observation, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		result = append(result, rows[idx])
	}
	return result
}

var exportHeader = []string{"observed_at", "product", "condition", "source", "price_eur", "title", "url", "location"}

func exportRecord(o domain.Observation) []string {
	return []string{
		o.ObservedAt.UTC().Format(time.RFC3339),
		o.Key.Slug(),
		string(o.Condition),
		string(o.Source),
		o.Price.StringFixed(2),
		o.Title,
		o.URL,
		o.Location,
	}
}

func writeCSV(path string, rows []domain.Observation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(exportHeader); err != nil {
		return err
	}
	for _, o := range rows {
		if err := writer.Write(exportRecord(o)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func writeXLSX(path string, key domain.ProductKey, rows []domain.Observation) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Storico"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, "A1", &exportHeader); err != nil {
		return err
	}
	for i, o := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []any{
			o.ObservedAt.UTC(),
			o.Key.Slug(),
			string(o.Condition),
			string(o.Source),
			o.Price.InexactFloat64(),
			o.Title,
			o.URL,
			o.Location,
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}

	priceStyle, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return err
	}
	last := fmt.Sprintf("E%d", len(rows)+1)
	if err := f.SetCellStyle(sheet, "E2", last, priceStyle); err != nil {
		return err
	}
	_ = f.SetColWidth(sheet, "A", "A", 22)
	_ = f.SetColWidth(sheet, "F", "F", 48)
	if err := f.SetDocProps(&excelize.DocProperties{Title: key.String()}); err != nil {
		return err
	}

	return f.SaveAs(path)
}

func writePNG(path string, key domain.ProductKey, rows []domain.Observation, th *domain.Thresholds) error {
	if len(rows) < 2 {
		return errors.New("a chart needs at least two observations")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	var (
		newX, usedX []time.Time
		newY, usedY []float64
	)
	for _, o := range rows {
		if o.Condition == domain.ConditionUsed {
			usedX = append(usedX, o.ObservedAt)
			usedY = append(usedY, o.Price.InexactFloat64())
			continue
		}
		newX = append(newX, o.ObservedAt)
		newY = append(newY, o.Price.InexactFloat64())
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f €")
	}
	var series []chart.Series
	if len(newX) > 0 {
		series = append(series, chart.TimeSeries{Name: "Nuovo", XValues: newX, YValues: newY})
	}
	if len(usedX) > 0 {
		series = append(series, chart.TimeSeries{
			Name:    "Usato",
			XValues: usedX,
			YValues: usedY,
			Style: chart.Style{
				StrokeWidth: chart.Disabled,
				DotWidth:    4,
			},
		})
	}
	if th != nil {
		span := []time.Time{rows[0].ObservedAt, rows[len(rows)-1].ObservedAt}
		series = append(series,
			chart.TimeSeries{Name: "Affare", XValues: span, YValues: flat(th.DealPrice.InexactFloat64())},
			chart.TimeSeries{Name: "Buono", XValues: span, YValues: flat(th.GoodPrice.InexactFloat64())},
		)
	}

	graph := chart.Chart{
		Title:  key.String(),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Prezzo (EUR)",
			ValueFormatter: priceFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func flat(v float64) []float64 {
	return []float64{v, v}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
