package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"pc-deal-watch/internal/config"
	"pc-deal-watch/internal/domain"
	"pc-deal-watch/internal/service"
	"pc-deal-watch/internal/storage/memory"
	"pc-deal-watch/internal/trust"
)

const testCatalogue = `
products:
  - category: GPU
    brand: NVIDIA
    model: RTX 5070
    variant: 12GB
    keywords: ["rtx 5070"]
    exclude: ["laptop"]
    thresholds:
      deal_price: 520
      good_price: 580
`

var fixedNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func testApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	catPath := filepath.Join(dir, "catalogue.yaml")
	require.NoError(t, os.WriteFile(catPath, []byte(testCatalogue), 0o600))

	def := domain.DefaultThresholds()
	cfg := &config.Config{
		CataloguePath: catPath,
		History:       config.HistoryConfig{Window: 30 * 24 * time.Hour, DropWindow: 48 * time.Hour},
		Thresholds: config.ThresholdsConfig{
			GlitchRatio:  def.GlitchRatio.InexactFloat64(),
			DropRatio:    def.DropRatio.InexactFloat64(),
			NearLowRatio: def.NearLowRatio.InexactFloat64(),
			OutlierRatio: def.OutlierRatio.InexactFloat64(),
			MinSamples:   def.MinSamples,
		},
		Trust:    trust.DefaultConfig(),
		Alerting: config.AlertingConfig{Enabled: true, Cooldown: time.Hour},
		Export:   config.ExportConfig{MaxDataPoints: 1000},
	}

	var out bytes.Buffer
	a := NewApp(cfg, zerolog.Nop())
	a.Out = &out
	a.now = func() time.Time { return fixedNow }
	return a, &out
}

func TestSimulateNewPriceWithHistory(t *testing.T) {
	a, out := testApp(t)

	err := a.Simulate(context.Background(), SimulateOptions{
		Title:   "ASUS Dual GeForce RTX 5070 OC 12GB",
		Price:   450,
		History: []float64{800, 800, 800, 800},
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "route: push")
	assert.Contains(t, out.String(), "AFFARE")
}

func TestSimulateUsedOutlierGoesToReview(t *testing.T) {
	a, out := testApp(t)

	err := a.Simulate(context.Background(), SimulateOptions{
		Title:    "RTX 5070 12GB usata",
		Price:    300,
		Used:     true,
		Location: "Milano",
		Text:     "pagamento protetto, venditore 4.9/5 (120 recensioni)",
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "route: manual_review")
	assert.Contains(t, out.String(), "price_outlier")
}

func TestSimulateUnmatchedTitle(t *testing.T) {
	a, out := testApp(t)

	require.NoError(t, a.Simulate(context.Background(), SimulateOptions{Title: "Cavo HDMI 2.1", Price: 12}))
	assert.Contains(t, out.String(), "no alert produced")
	assert.Contains(t, out.String(), "unmatched")
}

func TestSimulateRequiresInput(t *testing.T) {
	a, _ := testApp(t)
	assert.Error(t, a.Simulate(context.Background(), SimulateOptions{Title: "RTX 5070"}))
}

func TestPrintStats(t *testing.T) {
	a, out := testApp(t)
	ctx := context.Background()
	store := memory.NewStore()

	comps, err := a.build(store, nil)
	require.NoError(t, err)

	batch := service.Batch{HistoryOnly: true}
	for i, p := range []string{"640", "610", "600"} {
		at := fixedNow.Add(-time.Duration(3-i) * time.Hour)
		price := decimal.RequireFromString(p)
		batch.Prices = append(batch.Prices, domain.RawObservation{
			Title: "MSI RTX 5070 Ventus 12G", Price: &price, Currency: "EUR",
			URL: "https://www.idealo.it/x", ObservedAt: &at, Source: domain.SourceIdealo,
		})
	}
	report, err := comps.pipeline.Process(ctx, batch)
	require.NoError(t, err)
	require.Equal(t, 3, report.Stored)
	assert.Empty(t, report.Alerts, "history-only batches never alert")

	require.NoError(t, a.printStats(ctx, store, "gpu/nvidia/rtx-5070/12gb"))
	assert.Contains(t, out.String(), "campioni 3")
	assert.Contains(t, out.String(), "min 600.00 €")
	assert.Contains(t, out.String(), "ultimo prezzo nuovo: 600.00 €")
	assert.Contains(t, out.String(), "-> ASPETTA")

	assert.Error(t, a.printStats(ctx, store, "gpu/amd/none"))
}

func TestBackfillDryRun(t *testing.T) {
	a, out := testApp(t)
	path := filepath.Join(t.TempDir(), "history.csv")
	require.NoError(t, os.WriteFile(path, []byte("source,title,price,url,observed_at\n"+
		"idealo,Zotac RTX 5070 Twin Edge,599,https://www.idealo.it/1,2026-05-01T08:00:00Z\n"+
		"idealo,Zotac RTX 5070 Twin Edge,120,https://www.idealo.it/1,2026-05-02T08:00:00Z\n"+
		"idealo,Tastiera meccanica,59,https://www.idealo.it/2,2026-05-02T08:00:00Z\n"), 0o600))

	require.NoError(t, a.Backfill(context.Background(), BackfillOptions{Path: path, Source: domain.SourceIdealo, Currency: "eur", DryRun: true}))
	assert.Contains(t, out.String(), "backfill: 3 rows, 1 stored, 0 duplicates, 1 rejected, 1 unmatched, 0 invalid")
}

func TestBackfillWithoutCurrencyRejectsRows(t *testing.T) {
	a, out := testApp(t)
	path := filepath.Join(t.TempDir(), "history.csv")
	require.NoError(t, os.WriteFile(path, []byte("source,title,price,currency,url,observed_at\n"+
		"idealo,Zotac RTX 5070 Twin Edge,599,,https://www.idealo.it/1,2026-05-01T08:00:00Z\n"+
		"idealo,Zotac RTX 5070 Twin Edge,589,EUR,https://www.idealo.it/1,2026-05-02T08:00:00Z\n"), 0o600))

	require.NoError(t, a.Backfill(context.Background(), BackfillOptions{Path: path, Source: domain.SourceIdealo, DryRun: true}))
	assert.Contains(t, out.String(), "backfill: 2 rows, 1 stored, 0 duplicates, 0 rejected, 0 unmatched, 1 invalid")
}

func sampleRows() []domain.Observation {
	key := domain.ProductKey{Category: domain.CategoryGPU, Brand: "NVIDIA", Model: "RTX 5070", Variant: "12GB"}
	var rows []domain.Observation
	for i, p := range []string{"610", "599.9", "585"} {
		rows = append(rows, domain.Observation{
			Key: key, Title: "RTX 5070", Price: decimal.RequireFromString(p), Condition: domain.ConditionNew,
			Source: domain.SourceTrovaprezzi, URL: "https://www.trovaprezzi.it/x",
			ObservedAt: fixedNow.Add(time.Duration(i) * 24 * time.Hour),
		})
	}
	return rows
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "history.csv")
	require.NoError(t, writeCSV(path, sampleRows()))

	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()
	records, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, exportHeader, records[0])
	assert.Equal(t, "599.90", records[2][4])
	assert.Equal(t, "gpu/nvidia/rtx-5070/12gb", records[1][1])
}

func TestWriteXLSX(t *testing.T) {
	rows := sampleRows()
	path := filepath.Join(t.TempDir(), "history.xlsx")
	require.NoError(t, writeXLSX(path, rows[0].Key, rows))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	title, err := f.GetCellValue("Storico", "A1")
	require.NoError(t, err)
	assert.Equal(t, "observed_at", title)
	source, err := f.GetCellValue("Storico", "D2")
	require.NoError(t, err)
	assert.Equal(t, "trovaprezzi", source)
}

func TestWritePNG(t *testing.T) {
	rows := sampleRows()
	th := domain.DefaultThresholds()
	th.DealPrice = decimal.NewFromInt(520)
	th.GoodPrice = decimal.NewFromInt(580)

	path := filepath.Join(t.TempDir(), "history.png")
	require.NoError(t, writePNG(path, rows[0].Key, rows, &th))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	assert.Error(t, writePNG(path, rows[0].Key, rows[:1], nil))
}

func TestDownsampleKeepsEnds(t *testing.T) {
	rows := sampleRows()
	out := downsample(rows, 2)
	require.Len(t, out, 2)
	assert.Equal(t, rows[0].ObservedAt, out[0].ObservedAt)
	assert.Equal(t, rows[2].ObservedAt, out[1].ObservedAt)
	assert.Len(t, downsample(rows, 0), 3)
}
