// Package memory is an in-process implementation of the storage interfaces.
// It backs tests and the simulate command; nothing survives the process.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pc-deal-watch/internal/domain"
	"pc-deal-watch/internal/storage"
)

// ErrNotFound is returned when deleting a missing setting.
var ErrNotFound = errors.New("not found")

// Store keeps every table in maps guarded by one mutex.
type Store struct {
	mu          sync.RWMutex
	now         func() time.Time
	dedupeDaily bool

	nextObsID    int64
	observations []domain.Observation
	dedupe       map[string]struct{}

	settings map[string]storage.Setting
	alerts   []storage.AlertRecord

	nextReviewID int64
	reviews      []storage.ReviewItem
}

// Option tunes a Store.
type Option func(*Store)

// WithDailyDedupe mirrors storage.WithDailyDedupe.
func WithDailyDedupe(on bool) Option {
	return func(s *Store) { s.dedupeDaily = on }
}

// WithClock overrides the timestamp source for StoredAt and CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		now:      time.Now,
		dedupe:   make(map[string]struct{}),
		settings: make(map[string]storage.Setting),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append stores a copy of obs.
func (s *Store) Append(_ context.Context, obs domain.Observation) (domain.Observation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dedupeDaily {
		key := obs.DedupeKey()
		if _, seen := s.dedupe[key]; seen {
			return obs, false, nil
		}
		s.dedupe[key] = struct{}{}
	}

	s.nextObsID++
	obs.ID = s.nextObsID
	obs.ObservedAt = obs.ObservedAt.UTC()
	obs.StoredAt = s.now().UTC()
	if obs.SellerSignals != nil {
		signals := *obs.SellerSignals
		obs.SellerSignals = &signals
	}
	s.observations = append(s.observations, obs)
	return obs, true, nil
}

// Query returns observations of key inside window ordered by observed_at, then ID.
func (s *Store) Query(_ context.Context, key domain.ProductKey, window storage.TimeRange) ([]domain.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slug := key.Slug()
	var result []domain.Observation
	for _, obs := range s.observations {
		if obs.Key.Slug() == slug && window.Contains(obs.ObservedAt) {
			result = append(result, obs)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].ObservedAt.Equal(result[j].ObservedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].ObservedAt.Before(result[j].ObservedAt)
	})
	return result, nil
}

// ListRecentObservations returns the newest observations first.
func (s *Store) ListRecentObservations(_ context.Context, limit int) ([]domain.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Observation, len(s.observations))
	copy(result, s.observations)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ObservedAt.After(result[j].ObservedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// SetSetting upserts an override.
func (s *Store) SetSetting(_ context.Context, key, value, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[key] = storage.Setting{Key: key, Value: value, Actor: actor, UpdatedAt: s.now().UTC()}
	return nil
}

// DeleteSetting removes an override.
func (s *Store) DeleteSetting(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.settings[key]; !ok {
		return ErrNotFound
	}
	delete(s.settings, key)
	return nil
}

// ListSettings returns overrides ordered by key.
func (s *Store) ListSettings(_ context.Context) ([]storage.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.Setting, 0, len(s.settings))
	for _, st := range s.settings {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// ListThresholdOverrides returns numeric overrides.
func (s *Store) ListThresholdOverrides(ctx context.Context) (map[string]decimal.Decimal, error) {
	settings, err := s.ListSettings(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(settings))
	for _, st := range settings {
		if v, err := decimal.NewFromString(st.Value); err == nil {
			out[st.Key] = v
		}
	}
	return out, nil
}

// InsertAlert records an alert.
func (s *Store) InsertAlert(_ context.Context, alert storage.AlertRecord) (storage.AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = s.now().UTC()
	}
	s.alerts = append(s.alerts, alert)
	return alert, nil
}

// LastPushedAlert returns the most recent unsuppressed push alert for a product.
func (s *Store) LastPushedAlert(_ context.Context, productSlug string) (storage.AlertRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest storage.AlertRecord
		found  bool
	)
	for _, a := range s.alerts {
		if a.ProductSlug != productSlug || a.Suppressed || a.Route != string(domain.RoutePush) {
			continue
		}
		if !found || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
			found = true
		}
	}
	return latest, found, nil
}

// ListRecentAlerts returns the newest alerts first.
func (s *Store) ListRecentAlerts(_ context.Context, limit int) ([]storage.AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.AlertRecord, len(s.alerts))
	copy(out, s.alerts)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertReviewItem parks a record for review.
func (s *Store) InsertReviewItem(_ context.Context, item storage.ReviewItem) (storage.ReviewItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextReviewID++
	item.ID = s.nextReviewID
	item.CreatedAt = s.now().UTC()
	s.reviews = append(s.reviews, item)
	return item, nil
}

// ListReviewItems returns the newest review items first.
func (s *Store) ListReviewItems(_ context.Context, limit int) ([]storage.ReviewItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.ReviewItem, 0, len(s.reviews))
	for i := len(s.reviews) - 1; i >= 0; i-- {
		out = append(out, s.reviews[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

var (
	_ storage.HistoryStore      = (*Store)(nil)
	_ storage.ObservationLister = (*Store)(nil)
	_ storage.SettingsStore     = (*Store)(nil)
	_ storage.AlertStore        = (*Store)(nil)
	_ storage.ReviewStore       = (*Store)(nil)
)
