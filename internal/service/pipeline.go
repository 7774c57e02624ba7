package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pc-deal-watch/internal/alerting"
	"pc-deal-watch/internal/decision"
	"pc-deal-watch/internal/domain"
	"pc-deal-watch/internal/guardrail"
	"pc-deal-watch/internal/money"
	"pc-deal-watch/internal/normalize"
	"pc-deal-watch/internal/storage"
	"pc-deal-watch/internal/thresholds"
	"pc-deal-watch/internal/trend"
	"pc-deal-watch/internal/trust"
)

// Batch is one ingestion pass worth of input.
type Batch struct {
	ID       uuid.UUID
	Prices   []domain.RawObservation
	Listings []domain.Listing
	// HistoryOnly stops after the append: no decision, alert or notification.
	// Used to seed history from older exports.
	HistoryOnly bool
}

// BatchReport counts what happened to every record of a batch.
type BatchReport struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time

	Received     int
	Stored       int
	Duplicates   int
	Rejected     int
	Unmatched    int
	Incomplete   int
	Invalid      int
	NotifyErrors int

	Verdicts map[domain.Verdict]int
	Routes   map[domain.Route]int
	Alerts   []domain.Alert
	Aborted  bool

	historyOnly bool
}

// Deps are the collaborators of a Pipeline. Alerts, Reviews, Cooldown and
// Notifier are optional.
type Deps struct {
	Normalizer *normalize.Normalizer
	Thresholds *thresholds.Resolver
	History    storage.HistoryStore
	Analyzer   *trend.Analyzer
	Extractor  *trust.Extractor
	Scorer     *trust.Scorer
	Converter  *money.Converter
	Alerts     storage.AlertStore
	Reviews    storage.ReviewStore
	Cooldown   *alerting.Cooldown
	Notifier   alerting.Notifier
	Clock      func() time.Time
}

// Pipeline runs observations through normalise, guardrail, append, analyse,
// decide, score and assemble. It processes a batch sequentially, so every
// product key has a single writer.
type Pipeline struct {
	deps   Deps
	now    func() time.Time
	logger zerolog.Logger
}

// NewPipeline checks the mandatory collaborators.
func NewPipeline(deps Deps, logger zerolog.Logger) (*Pipeline, error) {
	switch {
	case deps.Normalizer == nil:
		return nil, errors.New("pipeline: normalizer is required")
	case deps.Thresholds == nil:
		return nil, errors.New("pipeline: threshold resolver is required")
	case deps.History == nil:
		return nil, errors.New("pipeline: history store is required")
	case deps.Analyzer == nil:
		return nil, errors.New("pipeline: trend analyzer is required")
	case deps.Scorer == nil || deps.Extractor == nil:
		return nil, errors.New("pipeline: trust scorer is required")
	}
	if deps.Converter == nil {
		deps.Converter = money.NewConverter(nil)
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Pipeline{deps: deps, now: now, logger: logger.With().Str("component", "pipeline").Logger()}, nil
}

// Process handles a whole batch. Per-record failures are counted and never
// stop the batch; a *domain.StorageFailure aborts it and is returned
// together with the partial report. Whatever was appended before the failure
// stays in the history.
func (p *Pipeline) Process(ctx context.Context, batch Batch) (*BatchReport, error) {
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	report := &BatchReport{
		ID:        batch.ID,
		StartedAt: p.now().UTC(),
		Received:  len(batch.Prices) + len(batch.Listings),
		Verdicts:  make(map[domain.Verdict]int),
		Routes:    make(map[domain.Route]int),

		historyOnly: batch.HistoryOnly,
	}
	logger := p.logger.With().Str("batch", batch.ID.String()).Logger()

	set, err := p.deps.Thresholds.Snapshot(ctx)
	if err != nil {
		return p.abort(logger, report, &domain.StorageFailure{Op: "load threshold overrides", Err: err})
	}

	for _, raw := range batch.Prices {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := p.processPrice(ctx, set, raw, report); err != nil {
			if domain.IsStorageFailure(err) {
				return p.abort(logger, report, err)
			}
			p.classify(logger, report, err, raw.Source, raw.URL)
		}
	}
	for _, l := range batch.Listings {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := p.processListing(ctx, set, l, report); err != nil {
			if domain.IsStorageFailure(err) {
				return p.abort(logger, report, err)
			}
			p.classify(logger, report, err, l.Source, l.URL)
		}
	}

	report.FinishedAt = p.now().UTC()
	logger.Info().
		Int("received", report.Received).
		Int("stored", report.Stored).
		Int("duplicates", report.Duplicates).
		Int("rejected", report.Rejected).
		Int("unmatched", report.Unmatched).
		Int("incomplete", report.Incomplete).
		Int("invalid", report.Invalid).
		Int("pushed", report.Routes[domain.RoutePush]).
		Int("manual_review", report.Routes[domain.RouteManualReview]).
		Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).
		Msg("batch processed")
	return report, nil
}

func (p *Pipeline) processPrice(ctx context.Context, set *thresholds.Set, raw domain.RawObservation, report *BatchReport) error {
	if err := raw.Validate(); err != nil {
		return err
	}
	price, err := p.total(*raw.Price, raw.Shipping, raw.Currency)
	if err != nil {
		return &domain.IngestionFailure{URL: raw.URL, Reason: err.Error()}
	}

	key, err := p.deps.Normalizer.Normalize(raw.Title, raw.SKUQuery)
	if err != nil {
		return p.unmatched(ctx, err, raw.Source, raw.Title, raw.URL, price)
	}
	th, err := set.For(key)
	if err != nil {
		return err
	}

	obs := domain.Observation{
		Key:        key,
		Title:      raw.Title,
		Price:      price,
		Condition:  domain.ConditionNew,
		Source:     raw.Source,
		URL:        raw.URL,
		ObservedAt: raw.ObservedAt.UTC(),
	}
	if err := guardrail.Admit(obs, th); err != nil {
		return err
	}
	return p.record(ctx, obs, th, nil, report)
}

func (p *Pipeline) processListing(ctx context.Context, set *thresholds.Set, l domain.Listing, report *BatchReport) error {
	missing := l.MissingFields()
	if l.Title == "" || l.Price == nil || l.Price.Sign() <= 0 {
		// nothing to decide on
		if err := p.park(ctx, storage.ReviewItem{
			Kind:   storage.ReviewIncomplete,
			Source: string(l.Source),
			Title:  l.Title,
			URL:    l.URL,
			Reason: "missing " + strings.Join(missing, ","),
		}); err != nil {
			return err
		}
		return &domain.IncompleteListing{URL: l.URL, Missing: missing}
	}

	currency := l.Currency
	if currency == "" {
		currency = "EUR"
	}
	price, err := p.total(*l.Price, l.Shipping, currency)
	if err != nil {
		return &domain.IngestionFailure{URL: l.URL, Reason: err.Error()}
	}

	key, err := p.deps.Normalizer.Normalize(l.Title, "")
	if err != nil {
		return p.unmatched(ctx, err, l.Source, l.Title, l.URL, price)
	}
	th, err := set.For(key)
	if err != nil {
		return err
	}

	observedAt := p.now().UTC()
	if l.ObservedAt != nil && !l.ObservedAt.IsZero() {
		observedAt = l.ObservedAt.UTC()
	}
	signals := p.deps.Extractor.Extract(l)
	obs := domain.Observation{
		Key:           key,
		Title:         l.Title,
		Price:         price,
		Condition:     domain.ConditionUsed,
		Source:        l.Source,
		URL:           l.URL,
		Location:      l.Location,
		ObservedAt:    observedAt,
		SellerSignals: &signals,
	}
	if err := guardrail.Admit(obs, th); err != nil {
		return err
	}

	if len(missing) > 0 {
		report.Incomplete++
		p.logger.Warn().
			Str("product", key.Slug()).
			Str("source", string(l.Source)).
			Str("url", l.URL).
			Strs("missing", missing).
			Msg("incomplete listing, forcing manual review")
	}
	return p.record(ctx, obs, th, missing, report)
}

// record appends obs and turns it into an alert.
func (p *Pipeline) record(ctx context.Context, obs domain.Observation, th domain.Thresholds, missing []string, report *BatchReport) error {
	stored, ok, err := p.deps.History.Append(ctx, obs)
	if err != nil {
		return &domain.StorageFailure{Op: "append observation", Err: err}
	}
	if !ok {
		report.Duplicates++
		return nil
	}
	report.Stored++
	if report.historyOnly {
		return nil
	}

	agg, err := p.deps.Analyzer.Analyze(ctx, stored.Key, th, stored.ObservedAt)
	if err != nil {
		return err
	}
	d := decision.Decide(stored, agg, th)

	var ts *domain.TrustScore
	if stored.Condition == domain.ConditionUsed {
		score := p.deps.Scorer.Score(stored, *stored.SellerSignals, agg, th)
		if len(missing) > 0 {
			score = trust.MarkIncomplete(score, missing)
		}
		ts = &score
	}

	return p.emit(ctx, alerting.Assemble(d, ts, p.now()), report)
}

func (p *Pipeline) emit(ctx context.Context, alert domain.Alert, report *BatchReport) error {
	alert, err := p.deps.Cooldown.Apply(ctx, alert)
	if err != nil {
		return &domain.StorageFailure{Op: "cooldown lookup", Err: err}
	}
	if p.deps.Alerts != nil {
		if _, err := p.deps.Alerts.InsertAlert(ctx, alerting.ToRecord(alert)); err != nil {
			return &domain.StorageFailure{Op: "insert alert", Err: err}
		}
	}
	if alert.Route == domain.RouteManualReview {
		obs := alert.Decision.Observation
		if err := p.park(ctx, storage.ReviewItem{
			Kind:   storage.ReviewManualReview,
			Source: string(obs.Source),
			Title:  obs.Title,
			URL:    obs.URL,
			Price:  decimal.NewNullDecimal(obs.Price),
			Reason: alert.Reason,
		}); err != nil {
			return err
		}
	}

	report.Verdicts[alert.Decision.Verdict]++
	report.Routes[alert.Route]++
	report.Alerts = append(report.Alerts, alert)

	p.logger.Debug().
		Str("product", alert.Decision.Key.Slug()).
		Str("verdict", string(alert.Decision.Verdict)).
		Str("basis", string(alert.Decision.Basis)).
		Str("route", string(alert.Route)).
		Bool("suppressed", alert.Suppressed).
		Msg("alert assembled")

	if p.deps.Notifier != nil {
		if err := p.deps.Notifier.Notify(ctx, alert); err != nil {
			report.NotifyErrors++
		}
	}
	return nil
}

func (p *Pipeline) total(price decimal.Decimal, shipping *decimal.Decimal, currency string) (decimal.Decimal, error) {
	total, err := p.deps.Converter.ToEUR(price, currency)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if shipping != nil {
		ship, err := p.deps.Converter.ToEUR(*shipping, currency)
		if err != nil {
			return decimal.Decimal{}, err
		}
		total = total.Add(ship)
	}
	return total, nil
}

// unmatched parks a normalisation failure for review and passes it on.
func (p *Pipeline) unmatched(ctx context.Context, cause error, source domain.Source, title, url string, price decimal.Decimal) error {
	if err := p.park(ctx, storage.ReviewItem{
		Kind:   storage.ReviewUnmatched,
		Source: string(source),
		Title:  title,
		URL:    url,
		Price:  decimal.NewNullDecimal(price),
		Reason: cause.Error(),
	}); err != nil {
		return err
	}
	return cause
}

func (p *Pipeline) park(ctx context.Context, item storage.ReviewItem) error {
	if p.deps.Reviews == nil {
		return nil
	}
	if _, err := p.deps.Reviews.InsertReviewItem(ctx, item); err != nil {
		return &domain.StorageFailure{Op: "insert review item", Err: err}
	}
	return nil
}

func (p *Pipeline) classify(logger zerolog.Logger, report *BatchReport, err error, source domain.Source, url string) {
	var (
		glitch     *domain.RejectedGlitch
		unmatched  *domain.NormalizationFailure
		incomplete *domain.IncompleteListing
		ingestion  *domain.IngestionFailure
	)
	event := logger.Warn().Err(err).Str("source", string(source)).Str("url", url)
	switch {
	case errors.As(err, &glitch):
		report.Rejected++
		event.Str("product", glitch.Key.Slug()).Msg("guardrail rejected observation")
	case errors.As(err, &unmatched):
		report.Unmatched++
		event.Msg("title not in catalogue, parked for review")
	case errors.As(err, &incomplete):
		report.Incomplete++
		event.Msg("incomplete listing parked for review")
	case errors.As(err, &ingestion):
		report.Invalid++
		event.Msg("observation not ingestible")
	default:
		report.Invalid++
		event.Msg("observation skipped")
	}
}

func (p *Pipeline) abort(logger zerolog.Logger, report *BatchReport, err error) (*BatchReport, error) {
	report.Aborted = true
	report.FinishedAt = p.now().UTC()
	logger.Error().Err(err).
		Int("stored", report.Stored).
		Msg("batch aborted on storage failure")
	return report, err
}
