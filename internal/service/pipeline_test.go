package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pc-deal-watch/internal/alerting"
	"pc-deal-watch/internal/domain"
	"pc-deal-watch/internal/money"
	"pc-deal-watch/internal/normalize"
	"pc-deal-watch/internal/storage"
	"pc-deal-watch/internal/storage/memory"
	"pc-deal-watch/internal/thresholds"
	"pc-deal-watch/internal/trend"
	"pc-deal-watch/internal/trust"
)

const catalogueYAML = `
products:
  - category: GPU
    brand: NVIDIA
    model: RTX 5070
    variant: 12GB
    keywords: ["rtx 5070"]
    exclude: ["ti"]
    thresholds:
      deal_price: 500
      good_price: 600
  - category: CPU
    brand: AMD
    model: Ryzen 7 9800X3D
    keywords: ["9800x3d"]
    thresholds:
      deal_price: 420
      good_price: 460
`

var (
	rtx5070 = domain.ProductKey{Category: domain.CategoryGPU, Brand: "NVIDIA", Model: "RTX 5070", Variant: "12GB"}
	clock   = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
)

type recorder struct {
	alerts []domain.Alert
}

func (r *recorder) Notify(_ context.Context, a domain.Alert) error {
	r.alerts = append(r.alerts, a)
	return nil
}

type fixture struct {
	store    *memory.Store
	notified *recorder
	pipeline *Pipeline
}

func newFixture(t *testing.T, history storage.HistoryStore) *fixture {
	t.Helper()
	cat, err := normalize.ParseCatalogue([]byte(catalogueYAML))
	require.NoError(t, err)
	norm, err := normalize.New(cat)
	require.NoError(t, err)

	store := memory.NewStore(memory.WithClock(func() time.Time { return clock }))
	if history == nil {
		history = store
	}
	resolver, err := thresholds.NewResolver(domain.DefaultThresholds(), nil, norm, store)
	require.NoError(t, err)

	rec := &recorder{}
	p, err := NewPipeline(Deps{
		Normalizer: norm,
		Thresholds: resolver,
		History:    history,
		Analyzer:   trend.NewAnalyzer(history, 0, 0),
		Extractor:  trust.NewExtractor(trust.DefaultConfig()),
		Scorer:     trust.NewScorer(trust.DefaultConfig()),
		Converter:  money.NewConverter(map[string]float64{"USD": 0.9}),
		Alerts:     store,
		Reviews:    store,
		Cooldown:   alerting.NewCooldown(store, time.Hour),
		Notifier:   rec,
		Clock:      func() time.Time { return clock },
	}, zerolog.Nop())
	require.NoError(t, err)
	return &fixture{store: store, notified: rec, pipeline: p}
}

func raw(title string, price int64, at time.Time) domain.RawObservation {
	p := decimal.NewFromInt(price)
	return domain.RawObservation{
		Title:      title,
		Price:      &p,
		Currency:   "EUR",
		URL:        "https://www.trovaprezzi.it/" + title,
		ObservedAt: &at,
		Source:     domain.SourceTrovaprezzi,
	}
}

func TestProcess_GuardrailRejectsGlitch(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	report, err := f.pipeline.Process(ctx, Batch{Prices: []domain.RawObservation{
		raw("MSI RTX 5070 Ventus", 240, clock),
		raw("ASUS RTX 5070 Prime", 260, clock),
	}})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Rejected)
	assert.Equal(t, 1, report.Stored)
	stored, err := f.store.Query(ctx, rtx5070, storage.TimeRange{From: clock.Add(-time.Hour), To: clock})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Price.Equal(decimal.NewFromInt(260)))

	require.Len(t, f.notified.alerts, 1)
	assert.Equal(t, domain.VerdictAffare, f.notified.alerts[0].Decision.Verdict)
	assert.Equal(t, domain.RoutePush, f.notified.alerts[0].Route)
}

func TestProcess_ShippingAndCurrency(t *testing.T) {
	f := newFixture(t, nil)
	r := raw("Gigabyte RTX 5070 Windforce", 600, clock)
	ship := decimal.NewFromInt(10)
	r.Shipping = &ship
	r.Currency = "USD"

	report, err := f.pipeline.Process(context.Background(), Batch{Prices: []domain.RawObservation{r}})
	require.NoError(t, err)
	require.Len(t, report.Alerts, 1)

	// (600 + 10) * 0.9
	assert.True(t, report.Alerts[0].Decision.Observation.Price.Equal(decimal.NewFromInt(549)))
	assert.Equal(t, domain.VerdictBuono, report.Alerts[0].Decision.Verdict)
}

func TestProcess_PerRecordFailuresAreIsolated(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	missingPrice := raw("Zotac RTX 5070 Solid", 0, clock)
	missingPrice.Price = nil

	report, err := f.pipeline.Process(ctx, Batch{Prices: []domain.RawObservation{
		missingPrice,
		raw("Intel Arc B580 12GB", 270, clock),
		raw("PNY RTX 5070 Ti", 800, clock),
		raw("Palit RTX 5070 Infinity", 590, clock),
	}})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Received)
	assert.Equal(t, 1, report.Invalid)
	assert.Equal(t, 2, report.Unmatched)
	assert.Equal(t, 1, report.Stored)

	items, err := f.store.ListReviewItems(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, storage.ReviewUnmatched, item.Kind)
	}
}

func TestProcess_OtherVariantIsParkedNotAlerted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	report, err := f.pipeline.Process(ctx, Batch{Prices: []domain.RawObservation{
		raw("Gigabyte RTX 5070 Eagle 8GB", 300, clock),
	}})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Unmatched)
	assert.Zero(t, report.Stored)
	assert.Empty(t, report.Alerts)
	assert.Empty(t, f.notified.alerts)

	stored, err := f.store.Query(ctx, rtx5070, storage.TimeRange{From: clock.Add(-time.Hour), To: clock})
	require.NoError(t, err)
	assert.Empty(t, stored)

	items, err := f.store.ListReviewItems(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, storage.ReviewUnmatched, items[0].Kind)
	assert.Contains(t, items[0].Reason, domain.ErrVariantMismatch.Error())
}

func TestProcess_ConvertedPriceIsRoundedToCents(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	r := raw("Gigabyte RTX 5070 Windforce", 0, clock)
	p := decimal.RequireFromString("599.99")
	r.Price = &p
	r.Currency = "USD"

	report, err := f.pipeline.Process(ctx, Batch{Prices: []domain.RawObservation{r}})
	require.NoError(t, err)
	require.Len(t, report.Alerts, 1)

	// 599.99 * 0.9 = 539.991
	decided := report.Alerts[0].Decision.Observation.Price
	assert.Equal(t, "539.99", decided.String())

	stored, err := f.store.Query(ctx, rtx5070, storage.TimeRange{From: clock.Add(-time.Hour), To: clock})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Price.Equal(decided), "the decision sees the same price a replay of the log would")
}

func TestProcess_AspettaIsLoggedNotPushed(t *testing.T) {
	f := newFixture(t, nil)

	report, err := f.pipeline.Process(context.Background(), Batch{Prices: []domain.RawObservation{
		raw("MSI RTX 5070 Gaming Trio", 690, clock),
	}})
	require.NoError(t, err)

	require.Len(t, report.Alerts, 1)
	assert.Equal(t, domain.VerdictAspetta, report.Alerts[0].Decision.Verdict)
	assert.True(t, report.Alerts[0].Suppressed)
	assert.Equal(t, 1, report.Routes[domain.RouteLogOnly])
}

func TestProcess_NearLowOverride(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var history []domain.RawObservation
	for i := 0; i < 4; i++ {
		history = append(history, raw("MSI RTX 5070 Gaming Trio", 800, clock.Add(-time.Duration(10+i)*24*time.Hour)))
	}
	// 48h minimum of 580 against a 30-day mean near 731
	history = append(history, raw("MSI RTX 5070 Gaming Trio", 580, clock.Add(-time.Hour)))
	_, err := f.pipeline.Process(ctx, Batch{Prices: history})
	require.NoError(t, err)

	report, err := f.pipeline.Process(ctx, Batch{Prices: []domain.RawObservation{
		raw("ASUS RTX 5070 TUF", 605, clock),
	}})
	require.NoError(t, err)
	require.Len(t, report.Alerts, 1)

	d := report.Alerts[0].Decision
	assert.Equal(t, domain.VerdictBuono, d.Verdict)
	assert.Equal(t, domain.BasisNearLowDrop, d.Basis)
	assert.True(t, d.Aggregate.RapidDrop)
}

func TestProcess_RuntimeOverride(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.SetSetting(ctx, rtx5070.Slug()+"/deal_price", "650", "test"))
	require.NoError(t, f.store.SetSetting(ctx, rtx5070.Slug()+"/good_price", "700", "test"))

	report, err := f.pipeline.Process(ctx, Batch{Prices: []domain.RawObservation{
		raw("MSI RTX 5070 Gaming Trio", 640, clock),
	}})
	require.NoError(t, err)

	require.Len(t, report.Alerts, 1)
	assert.Equal(t, domain.VerdictAffare, report.Alerts[0].Decision.Verdict)
}

func TestProcess_UsedListingWithoutSignalsIsHeld(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	price := decimal.NewFromInt(380)
	at := clock

	report, err := f.pipeline.Process(ctx, Batch{Listings: []domain.Listing{{
		Title:      "RTX 5070 usata perfetta",
		Price:      &price,
		Location:   "Torino",
		URL:        "https://www.subito.it/annunci/5070",
		ObservedAt: &at,
		Source:     domain.SourceSubitoImport,
	}}})
	require.NoError(t, err)

	require.Len(t, report.Alerts, 1)
	a := report.Alerts[0]
	assert.Equal(t, domain.VerdictAffare, a.Decision.Verdict)
	require.NotNil(t, a.Trust)
	assert.True(t, a.Trust.ManualReview)
	assert.True(t, a.Suppressed)
	assert.Equal(t, domain.RouteManualReview, a.Route)

	items, err := f.store.ListReviewItems(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, storage.ReviewManualReview, items[0].Kind)
}

func TestProcess_IncompleteListing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	price := decimal.NewFromInt(450)

	report, err := f.pipeline.Process(ctx, Batch{Listings: []domain.Listing{
		{Title: "RTX 5070 con pagamento protetto, 4.9/5 su 80 recensioni", Price: &price, Source: domain.SourceSubitoIMAP},
		{Title: "", Source: domain.SourceSubitoIMAP, URL: "https://www.subito.it/x"},
	}})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Incomplete)
	require.Len(t, report.Alerts, 1)
	a := report.Alerts[0]
	assert.True(t, a.Trust.ManualReview)
	assert.Equal(t, domain.RouteManualReview, a.Route)
	assert.Equal(t, clock, a.Decision.Observation.ObservedAt)
}

type flakyHistory struct {
	storage.HistoryStore
	left int
}

func (h *flakyHistory) Append(ctx context.Context, obs domain.Observation) (domain.Observation, bool, error) {
	if h.left == 0 {
		return obs, false, errors.New("disk full")
	}
	h.left--
	return h.HistoryStore.Append(ctx, obs)
}

func TestProcess_StorageFailureAbortsBatch(t *testing.T) {
	history := &flakyHistory{HistoryStore: memory.NewStore(), left: 1}
	f := newFixture(t, history)

	report, err := f.pipeline.Process(context.Background(), Batch{Prices: []domain.RawObservation{
		raw("MSI RTX 5070 Ventus", 560, clock),
		raw("ASUS RTX 5070 Prime", 570, clock),
		raw("Zotac RTX 5070 Solid", 580, clock),
	}})

	require.Error(t, err)
	assert.True(t, domain.IsStorageFailure(err))
	require.NotNil(t, report)
	assert.True(t, report.Aborted)
	assert.Equal(t, 1, report.Stored)
	assert.Len(t, f.notified.alerts, 1)
}

func TestProcess_CooldownAcrossBatches(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.pipeline.Process(ctx, Batch{Prices: []domain.RawObservation{raw("MSI RTX 5070 Ventus", 560, clock)}})
		require.NoError(t, err)
	}

	require.Len(t, f.notified.alerts, 2)
	assert.Equal(t, domain.RoutePush, f.notified.alerts[0].Route)
	assert.Equal(t, domain.RouteLogOnly, f.notified.alerts[1].Route)

	recent, err := f.store.ListRecentAlerts(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}
