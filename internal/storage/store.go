package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"pc-deal-watch/internal/domain"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const observationColumns = `id,
        category,
        brand,
        model,
        variant,
        title,
        price::text,
        condition,
        source,
        url,
        location,
        observed_at,
        seller_signals,
        stored_at`

const (
	insertObservationSQL = `INSERT INTO observations (
        product_slug,
        category,
        brand,
        model,
        variant,
        title,
        price,
        condition,
        source,
        url,
        location,
        observed_at,
        seller_signals,
        dedupe_key
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    )
    ON CONFLICT (dedupe_key) DO NOTHING
    RETURNING id, stored_at;`

	queryObservationsSQL = `SELECT ` + observationColumns + `
    FROM observations
    WHERE product_slug = $1
      AND observed_at >= $2
      AND observed_at <= $3
    ORDER BY observed_at, id;`

	listRecentObservationsSQL = `SELECT ` + observationColumns + `
    FROM observations
    ORDER BY observed_at DESC, id DESC
    LIMIT $1;`

	countObservationsSQL = `SELECT COUNT(*) FROM observations;`

	upsertSettingSQL = `INSERT INTO settings (key, value, actor, updated_at)
    VALUES ($1, $2, $3, now())
    ON CONFLICT (key) DO UPDATE
    SET value      = EXCLUDED.value,
        actor      = EXCLUDED.actor,
        updated_at = EXCLUDED.updated_at;`

	listSettingsSQL = `SELECT key, value, actor, updated_at FROM settings ORDER BY key;`

	deleteSettingSQL = `DELETE FROM settings WHERE key = $1;`

	insertAlertSQL = `INSERT INTO alerts (
        id,
        product_slug,
        observation_id,
        verdict,
        basis,
        price,
        suppressed,
        route,
        trust_score,
        reasons,
        reason
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    )
    RETURNING created_at;`

	lastPushedAlertSQL = `SELECT
        id,
        product_slug,
        observation_id,
        verdict,
        basis,
        price::text,
        suppressed,
        route,
        trust_score::text,
        reasons,
        reason,
        created_at
    FROM alerts
    WHERE product_slug = $1
      AND route = 'push'
      AND NOT suppressed
    ORDER BY created_at DESC
    LIMIT 1;`

	listRecentAlertsSQL = `SELECT
        id,
        product_slug,
        observation_id,
        verdict,
        basis,
        price::text,
        suppressed,
        route,
        trust_score::text,
        reasons,
        reason,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	insertReviewItemSQL = `INSERT INTO review_items (kind, source, title, url, price, reason)
    VALUES ($1,$2,$3,$4,$5,$6)
    RETURNING id, created_at;`

	listReviewItemsSQL = `SELECT id, kind, source, title, url, price::text, reason, created_at
    FROM review_items
    ORDER BY created_at DESC, id DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// HistoryStore is the append-only observation log.
type HistoryStore interface {
	// Append stores obs and returns it with ID and StoredAt set. The bool is
	// false when daily de-duplication swallowed the row.
	Append(ctx context.Context, obs domain.Observation) (domain.Observation, bool, error)
	// Query returns observations of key inside window, ordered by observed_at.
	Query(ctx context.Context, key domain.ProductKey, window TimeRange) ([]domain.Observation, error)
}

// ObservationLister serves the show command.
type ObservationLister interface {
	ListRecentObservations(ctx context.Context, limit int) ([]domain.Observation, error)
}

// SettingsStore persists runtime threshold overrides.
type SettingsStore interface {
	SetSetting(ctx context.Context, key, value, actor string) error
	DeleteSetting(ctx context.Context, key string) error
	ListSettings(ctx context.Context) ([]Setting, error)
	ListThresholdOverrides(ctx context.Context) (map[string]decimal.Decimal, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	LastPushedAlert(ctx context.Context, productSlug string) (AlertRecord, bool, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
}

// ReviewStore parks records for manual review.
type ReviewStore interface {
	InsertReviewItem(ctx context.Context, item ReviewItem) (ReviewItem, error)
	ListReviewItems(ctx context.Context, limit int) ([]ReviewItem, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates Postgres access for every table.
type Store struct {
	pool        *pgxpool.Pool
	dedupeDaily bool
}

// Option tunes a Store.
type Option func(*Store)

// WithDailyDedupe makes Append drop repeats of (product, source, url, price, day).
func WithDailyDedupe(on bool) Option {
	return func(s *Store) { s.dedupeDaily = on }
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Pool exposes the pool for migrations.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// the lock dies with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Append inserts one observation in its own implicit transaction.
func (s *Store) Append(ctx context.Context, obs domain.Observation) (domain.Observation, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.Observation{}, false, err
	}

	var signals []byte
	if obs.SellerSignals != nil {
		signals, err = json.Marshal(obs.SellerSignals)
		if err != nil {
			return domain.Observation{}, false, fmt.Errorf("marshal seller signals: %w", err)
		}
	}

	var dedupe interface{}
	if s.dedupeDaily {
		dedupe = obs.DedupeKey()
	}

	obs.ObservedAt = obs.ObservedAt.UTC()
	row := pool.QueryRow(ctx, insertObservationSQL,
		obs.Key.Slug(),
		string(obs.Key.Category),
		obs.Key.Brand,
		obs.Key.Model,
		obs.Key.Variant,
		obs.Title,
		obs.Price.String(),
		string(obs.Condition),
		string(obs.Source),
		obs.URL,
		obs.Location,
		obs.ObservedAt,
		signals,
		dedupe,
	)
	if scanErr := row.Scan(&obs.ID, &obs.StoredAt); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return obs, false, nil
		}
		return domain.Observation{}, false, fmt.Errorf("append observation: %w", scanErr)
	}
	return obs, true, nil
}

// Query lists observations of key within window in observed_at order.
func (s *Store) Query(ctx context.Context, key domain.ProductKey, window TimeRange) ([]domain.Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, queryObservationsSQL, key.Slug(), window.From.UTC(), window.To.UTC())
	if queryErr != nil {
		return nil, fmt.Errorf("query observations: %w", queryErr)
	}
	defer rows.Close()

	return collectObservations(rows)
}

// ListRecentObservations lists the newest observations across products.
func (s *Store) ListRecentObservations(ctx context.Context, limit int) ([]domain.Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentObservationsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent observations: %w", queryErr)
	}
	defer rows.Close()

	return collectObservations(rows)
}

// CountObservations counts stored observations.
func (s *Store) CountObservations(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countObservationsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count observations: %w", scanErr)
	}
	return count, nil
}

// SetSetting upserts an override with its actor.
func (s *Store) SetSetting(ctx context.Context, key, value, actor string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertSettingSQL, key, value, actor); execErr != nil {
		return fmt.Errorf("set setting: %w", execErr)
	}
	return nil
}

// DeleteSetting removes an override.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, deleteSettingSQL, key)
	if execErr != nil {
		return fmt.Errorf("delete setting: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListSettings returns all overrides ordered by key.
func (s *Store) ListSettings(ctx context.Context) ([]Setting, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSettingsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list settings: %w", queryErr)
	}
	defer rows.Close()

	settings := make([]Setting, 0)
	for rows.Next() {
		var st Setting
		if err := rows.Scan(&st.Key, &st.Value, &st.Actor, &st.UpdatedAt); err != nil {
			return nil, err
		}
		settings = append(settings, st)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return settings, nil
}

// ListThresholdOverrides returns numeric settings keyed by name.
func (s *Store) ListThresholdOverrides(ctx context.Context) (map[string]decimal.Decimal, error) {
	settings, err := s.ListSettings(ctx)
	if err != nil {
		return nil, err
	}
	return numericSettings(settings), nil
}

func numericSettings(settings []Setting) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(settings))
	for _, st := range settings {
		if !strings.Contains(st.Key, "/") {
			continue
		}
		v, err := decimal.NewFromString(strings.TrimSpace(st.Value))
		if err != nil {
			continue
		}
		out[st.Key] = v
	}
	return out
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}

	var obsID interface{}
	if alert.ObservationID > 0 {
		obsID = alert.ObservationID
	}
	var trust interface{}
	if alert.TrustScore.Valid {
		trust = alert.TrustScore.Decimal.String()
	}
	reasons := alert.Reasons
	if reasons == nil {
		reasons = []string{}
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.ID,
		alert.ProductSlug,
		obsID,
		alert.Verdict,
		alert.Basis,
		alert.Price.String(),
		alert.Suppressed,
		alert.Route,
		trust,
		reasons,
		alert.Reason,
	)
	if scanErr := row.Scan(&alert.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return alert, nil
}

// LastPushedAlert returns the latest unsuppressed push alert for a product.
func (s *Store) LastPushedAlert(ctx context.Context, productSlug string) (AlertRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, false, err
	}

	rows, queryErr := pool.Query(ctx, lastPushedAlertSQL, productSlug)
	if queryErr != nil {
		return AlertRecord{}, false, fmt.Errorf("last pushed alert: %w", queryErr)
	}
	defer rows.Close()

	alerts, err := collectAlerts(rows)
	if err != nil {
		return AlertRecord{}, false, err
	}
	if len(alerts) == 0 {
		return AlertRecord{}, false, nil
	}
	return alerts[0], true, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// InsertReviewItem parks a record in the review queue.
func (s *Store) InsertReviewItem(ctx context.Context, item ReviewItem) (ReviewItem, error) {
	pool, err := s.getPool()
	if err != nil {
		return ReviewItem{}, err
	}

	var price interface{}
	if item.Price.Valid {
		price = item.Price.Decimal.String()
	}

	row := pool.QueryRow(ctx, insertReviewItemSQL, item.Kind, item.Source, item.Title, item.URL, price, item.Reason)
	if scanErr := row.Scan(&item.ID, &item.CreatedAt); scanErr != nil {
		return ReviewItem{}, fmt.Errorf("insert review item: %w", scanErr)
	}
	return item, nil
}

// ListReviewItems lists the newest review items.
func (s *Store) ListReviewItems(ctx context.Context, limit int) ([]ReviewItem, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listReviewItemsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list review items: %w", queryErr)
	}
	defer rows.Close()

	items := make([]ReviewItem, 0, limit)
	for rows.Next() {
		var (
			item     ReviewItem
			priceStr *string
		)
		if err := rows.Scan(&item.ID, &item.Kind, &item.Source, &item.Title, &item.URL, &priceStr, &item.Reason, &item.CreatedAt); err != nil {
			return nil, err
		}
		if item.Price, err = parseNullDecimal(priceStr); err != nil {
			return nil, fmt.Errorf("parse review price: %w", err)
		}
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

func collectObservations(rows pgx.Rows) ([]domain.Observation, error) {
	observations := make([]domain.Observation, 0)
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

func scanObservation(rows pgx.Rows) (domain.Observation, error) {
	var (
		obs       domain.Observation
		category  string
		priceStr  string
		condition string
		source    string
		signals   []byte
	)

	if err := rows.Scan(
		&obs.ID,
		&category,
		&obs.Key.Brand,
		&obs.Key.Model,
		&obs.Key.Variant,
		&obs.Title,
		&priceStr,
		&condition,
		&source,
		&obs.URL,
		&obs.Location,
		&obs.ObservedAt,
		&signals,
		&obs.StoredAt,
	); err != nil {
		return domain.Observation{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("parse price: %w", err)
	}

	obs.Key.Category = domain.Category(category)
	obs.Price = price
	obs.Condition = domain.Condition(condition)
	obs.Source = domain.Source(source)

	if len(signals) > 0 {
		var ss domain.SellerSignals
		if err := json.Unmarshal(signals, &ss); err != nil {
			return domain.Observation{}, fmt.Errorf("parse seller signals: %w", err)
		}
		obs.SellerSignals = &ss
	}

	return obs, nil
}

func collectAlerts(rows pgx.Rows) ([]AlertRecord, error) {
	alerts := make([]AlertRecord, 0)
	for rows.Next() {
		var (
			rec      AlertRecord
			obsID    *int64
			priceStr string
			trustStr *string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.ProductSlug,
			&obsID,
			&rec.Verdict,
			&rec.Basis,
			&priceStr,
			&rec.Suppressed,
			&rec.Route,
			&trustStr,
			&rec.Reasons,
			&rec.Reason,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		rec.Price, convErr = decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse alert price: %w", convErr)
		}
		rec.TrustScore, convErr = parseNullDecimal(trustStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse trust score: %w", convErr)
		}
		if obsID != nil {
			rec.ObservationID = *obsID
		}

		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func parseNullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

var (
	_ HistoryStore      = (*Store)(nil)
	_ ObservationLister = (*Store)(nil)
	_ SettingsStore     = (*Store)(nil)
	_ AlertStore        = (*Store)(nil)
	_ ReviewStore       = (*Store)(nil)
	_ AdvisoryLocker    = (*Store)(nil)
)
