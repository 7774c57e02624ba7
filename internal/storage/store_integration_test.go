//go:build integration

package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"pc-deal-watch/internal/config"
	"pc-deal-watch/internal/domain"
	"pc-deal-watch/internal/storage"
	"pc-deal-watch/internal/storage/migrations"
)

func setupStore(t *testing.T, opts ...storage.Option) *storage.Store {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("dealwatch"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := storage.NewPool(ctx, config.DatabaseConfig{DSN: dsn, MaxOpenConns: 4})
	require.NoError(t, err)
	require.NoError(t, migrations.Up(pool, zerolog.Nop()))
	// a second run is a no-op
	require.NoError(t, migrations.Up(pool, zerolog.Nop()))

	store := storage.NewStore(pool, opts...)
	t.Cleanup(store.Close)
	return store
}

var rtx5070 = domain.ProductKey{Category: domain.CategoryGPU, Brand: "NVIDIA", Model: "RTX 5070", Variant: "12GB"}

func observation(price string, at time.Time) domain.Observation {
	return domain.Observation{
		Key:        rtx5070,
		Title:      "MSI RTX 5070 Ventus 12G",
		Price:      decimal.RequireFromString(price),
		Condition:  domain.ConditionNew,
		Source:     domain.SourceTrovaprezzi,
		URL:        "https://www.trovaprezzi.it/schede-video/prezzi-scheda-prodotto/rtx_5070",
		ObservedAt: at,
	}
}

func TestStoreAppendAndQuery(t *testing.T) {
	store := setupStore(t, storage.WithDailyDedupe(true))
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	first, stored, err := store.Append(ctx, observation("599.90", base))
	require.NoError(t, err)
	require.True(t, stored)
	assert.NotZero(t, first.ID)
	assert.False(t, first.StoredAt.IsZero())

	_, stored, err = store.Append(ctx, observation("599.90", base.Add(3*time.Hour)))
	require.NoError(t, err)
	assert.False(t, stored, "same product, source, url, price and day is a duplicate")

	used := observation("420", base.Add(24*time.Hour))
	used.Condition = domain.ConditionUsed
	used.Source = domain.SourceSubitoImport
	used.Location = "Torino"
	used.SellerSignals = &domain.SellerSignals{PaymentProtected: true, ReviewCount: 12, HasReviewCount: true}
	_, stored, err = store.Append(ctx, used)
	require.NoError(t, err)
	require.True(t, stored)

	_, stored, err = store.Append(ctx, observation("585", base.Add(48*time.Hour)))
	require.NoError(t, err)
	require.True(t, stored)

	rows, err := store.Query(ctx, rtx5070, storage.TimeRange{From: base, To: base.Add(72 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.True(t, rows[0].Price.Equal(decimal.RequireFromString("599.90")))
	assert.Equal(t, domain.ConditionUsed, rows[1].Condition)
	require.NotNil(t, rows[1].SellerSignals)
	assert.True(t, rows[1].SellerSignals.PaymentProtected)
	assert.Equal(t, "Torino", rows[1].Location)

	rows, err = store.Query(ctx, rtx5070, storage.TimeRange{From: base.Add(time.Hour), To: base.Add(30 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	recent, err := store.ListRecentObservations(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.True(t, recent[0].ObservedAt.After(recent[1].ObservedAt))

	count, err := store.CountObservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestStoreSettings(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetSetting(ctx, "gpu/nvidia/rtx-5070/12gb/deal_price", "499", "cli"))
	require.NoError(t, store.SetSetting(ctx, "gpu/nvidia/rtx-5070/12gb/deal_price", "489", "telegram:@mario"))
	require.NoError(t, store.SetSetting(ctx, "gpu/nvidia/rtx-5070/12gb/note", "n/a", "cli"))

	settings, err := store.ListSettings(ctx)
	require.NoError(t, err)
	require.Len(t, settings, 2)
	assert.Equal(t, "489", settings[0].Value)
	assert.Equal(t, "telegram:@mario", settings[0].Actor)

	overrides, err := store.ListThresholdOverrides(ctx)
	require.NoError(t, err)
	require.Len(t, overrides, 1, "non numeric values are skipped")
	assert.True(t, overrides["gpu/nvidia/rtx-5070/12gb/deal_price"].Equal(decimal.NewFromInt(489)))

	require.NoError(t, store.DeleteSetting(ctx, "gpu/nvidia/rtx-5070/12gb/deal_price"))
	overrides, err = store.ListThresholdOverrides(ctx)
	require.NoError(t, err)
	assert.Empty(t, overrides)
}

func TestStoreAlertsAndReview(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	slug := rtx5070.Slug()

	_, found, err := store.LastPushedAlert(ctx, slug)
	require.NoError(t, err)
	assert.False(t, found)

	pushed, err := store.InsertAlert(ctx, storage.AlertRecord{
		ProductSlug: slug, Verdict: "AFFARE", Basis: "threshold", Price: decimal.NewFromInt(499),
		Route: "push", Reasons: []string{"deal_price"},
	})
	require.NoError(t, err)
	_, err = store.InsertAlert(ctx, storage.AlertRecord{
		ProductSlug: slug, Verdict: "AFFARE", Basis: "threshold", Price: decimal.NewFromInt(505),
		Route: "push", Suppressed: true, Reason: "cooldown",
	})
	require.NoError(t, err)
	_, err = store.InsertAlert(ctx, storage.AlertRecord{
		ProductSlug: slug, Verdict: "BUONO", Basis: "threshold", Price: decimal.NewFromInt(380),
		Route: "manual_review", TrustScore: decimal.NewNullDecimal(decimal.RequireFromString("0.40")),
	})
	require.NoError(t, err)

	last, found, err := store.LastPushedAlert(ctx, slug)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, pushed.ID, last.ID)
	assert.True(t, last.Price.Equal(decimal.NewFromInt(499)))
	assert.Equal(t, []string{"deal_price"}, last.Reasons)

	recent, err := store.ListRecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)

	_, err = store.InsertReviewItem(ctx, storage.ReviewItem{
		Kind: storage.ReviewUnmatched, Source: "subito-import", Title: "Cavo HDMI", URL: "https://www.subito.it/1",
		Reason: "no catalogue match",
	})
	require.NoError(t, err)
	items, err := store.ListReviewItems(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.False(t, items[0].Price.Valid)
	assert.Equal(t, storage.ReviewUnmatched, items[0].Kind)
}

func TestStoreAdvisoryLock(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	unlock, ok, err := store.TryAdvisoryLock(ctx, 0x6465616c)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = store.TryAdvisoryLock(ctx, 0x6465616c)
	require.NoError(t, err)
	assert.False(t, ok, "a second session must not get the lock")

	unlock()
	unlock2, ok, err := store.TryAdvisoryLock(ctx, 0x6465616c)
	require.NoError(t, err)
	require.True(t, ok)
	unlock2()
}
