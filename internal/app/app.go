package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pc-deal-watch/internal/alerting"
	"pc-deal-watch/internal/config"
	"pc-deal-watch/internal/control"
	"pc-deal-watch/internal/domain"
	"pc-deal-watch/internal/fetcher"
	"pc-deal-watch/internal/ingest"
	"pc-deal-watch/internal/money"
	"pc-deal-watch/internal/normalize"
	"pc-deal-watch/internal/scheduler"
	"pc-deal-watch/internal/service"
	"pc-deal-watch/internal/storage"
	"pc-deal-watch/internal/storage/memory"
	"pc-deal-watch/internal/storage/migrations"
	"pc-deal-watch/internal/thresholds"
	"pc-deal-watch/internal/trend"
	"pc-deal-watch/internal/trust"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
	now    func() time.Time
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
		now:    time.Now,
	}
}

// stores is what the pipeline and commands need from a backend. Both the
// Postgres store and the in-memory store satisfy it.
type stores interface {
	storage.HistoryStore
	storage.ObservationLister
	storage.SettingsStore
	storage.AlertStore
	storage.ReviewStore
}

var (
	_ stores = (*storage.Store)(nil)
	_ stores = (*memory.Store)(nil)
)

// components are the long-lived collaborators built from config.
type components struct {
	catalogue *normalize.Normalizer
	resolver  *thresholds.Resolver
	analyzer  *trend.Analyzer
	pipeline  *service.Pipeline
	control   *control.Handler
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn 未配置 (set DEALWATCH_DATABASE_DSN)")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	if a.Config.Database.AutoMigrate {
		if err := migrations.Up(pool, a.Logger); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}

	store := storage.NewStore(pool, storage.WithDailyDedupe(a.Config.History.DedupeDaily))
	return store, store.Close, nil
}

func (a *App) loadCatalogue() (*normalize.Normalizer, error) {
	cat, err := normalize.LoadCatalogue(a.Config.CataloguePath)
	if err != nil {
		return nil, err
	}
	return normalize.New(cat)
}

func (a *App) snapshot(ctx context.Context, catalogue *normalize.Normalizer, overrides thresholds.OverrideReader) (*thresholds.Set, error) {
	resolver, err := thresholds.NewResolver(a.Config.Thresholds.Base(), a.Config.Thresholds.Categories, catalogue, overrides)
	if err != nil {
		return nil, err
	}
	return resolver.Snapshot(ctx)
}

// build wires the decision pipeline over st. notifier may be nil.
func (a *App) build(st stores, notifier alerting.Notifier) (*components, error) {
	catalogue, err := a.loadCatalogue()
	if err != nil {
		return nil, err
	}
	resolver, err := thresholds.NewResolver(a.Config.Thresholds.Base(), a.Config.Thresholds.Categories, catalogue, st)
	if err != nil {
		return nil, err
	}
	analyzer := trend.NewAnalyzer(st, a.Config.History.Window, a.Config.History.DropWindow)

	var cooldown *alerting.Cooldown
	if a.Config.Alerting.Enabled {
		cooldown = alerting.NewCooldown(st, a.Config.Alerting.Cooldown)
	}

	pipeline, err := service.NewPipeline(service.Deps{
		Normalizer: catalogue,
		Thresholds: resolver,
		History:    st,
		Analyzer:   analyzer,
		Extractor:  trust.NewExtractor(a.Config.Trust),
		Scorer:     trust.NewScorer(a.Config.Trust),
		Converter:  money.NewConverter(a.Config.Currency),
		Alerts:     st,
		Reviews:    st,
		Cooldown:   cooldown,
		Notifier:   notifier,
		Clock:      a.now,
	}, a.Logger)
	if err != nil {
		return nil, err
	}

	return &components{
		catalogue: catalogue,
		resolver:  resolver,
		analyzer:  analyzer,
		pipeline:  pipeline,
		control:   control.NewHandler(catalogue, resolver, st, a.Logger),
	}, nil
}

// newRouter registers the configured channels. The Telegram client is
// returned too so that the command poller can share it.
func (a *App) newRouter() (*alerting.Router, *alerting.TelegramClient) {
	cfg := a.Config.Alerting
	router := alerting.NewRouter(a.Logger)
	if !cfg.Enabled {
		return router, nil
	}
	if cfg.Console {
		router.Register(alerting.NewConsoleNotifier(a.Out), domain.RoutePush, domain.RouteManualReview)
	}
	if cfg.FileLog != "" {
		router.Register(alerting.NewFileLogNotifier(cfg.FileLog), domain.RoutePush, domain.RouteManualReview, domain.RouteLogOnly)
	}

	var client *alerting.TelegramClient
	if cfg.Telegram.Enabled {
		client = alerting.NewTelegramClient(cfg.Telegram.BotToken, cfg.Telegram.APIBase, cfg.Telegram.Timeout)
		router.Register(alerting.NewTelegramNotifier(client, cfg.Telegram.ChatID, a.Logger), domain.RoutePush)
	}
	return router, client
}

func (a *App) newFetchers() []fetcher.Fetcher {
	src := a.Config.Sources
	opts := src.FetchOptions()

	var out []fetcher.Fetcher
	if src.Trovaprezzi.Enabled && len(src.Trovaprezzi.Targets) > 0 {
		out = append(out, fetcher.NewTrovaprezzi(src.Trovaprezzi.Targets, opts, a.Logger))
	}
	if src.Idealo.Enabled && len(src.Idealo.Targets) > 0 {
		out = append(out, fetcher.NewIdealo(src.Idealo.Targets, opts, a.Logger))
	}
	return out
}

func (a *App) newListingSources() []ingest.ListingSource {
	var out []ingest.ListingSource
	if a.Config.Ingest.Dir != "" {
		out = append(out, ingest.NewFolder(a.Config.Ingest.Dir, a.Config.Ingest.Archive, a.Logger))
	}
	if a.Config.Ingest.IMAP.Enabled {
		out = append(out, ingest.NewIMAP(a.Config.Ingest.IMAP, a.Logger))
	}
	return out
}

// newService builds the full service over the Postgres store.
func (a *App) newService(store *storage.Store, notifier alerting.Notifier) (*service.Service, *components, error) {
	comps, err := a.build(store, notifier)
	if err != nil {
		return nil, nil, err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   true,
	}, a.Logger)

	svc := service.New(sched, comps.pipeline, a.newFetchers(), a.newListingSources(), store, service.Options{
		Concurrency: a.Config.Sources.Concurrency,
		LockKey:     a.Config.Scheduler.AdvisoryLockKey,
	}, a.Logger)
	return svc, comps, nil
}

// Run executes the long-running monitoring service, plus the Telegram
// command poller when enabled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	router, client := a.newRouter()
	svc, comps, err := a.newService(store, router)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting monitoring service")
		return svc.Run(gctx)
	})

	tg := a.Config.Alerting.Telegram
	if client != nil && tg.Commands {
		poller := control.NewPoller(client, comps.control, tg.ChatID, tg.PollInterval, a.Logger)
		g.Go(func() error {
			return poller.Run(gctx)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// RunOnce performs a single fetch and import round and prints the report.
func (a *App) RunOnce(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	router, _ := a.newRouter()
	svc, _, err := a.newService(store, router)
	if err != nil {
		return err
	}

	report, err := svc.RunOnce(ctx)
	if report != nil {
		a.printReport(report)
	} else if err == nil {
		fmt.Fprintln(a.Out, "another instance is running; nothing done")
	}
	return err
}

// Import processes every listing file in dir once.
func (a *App) Import(ctx context.Context, opts ImportOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	router, _ := a.newRouter()
	svc, _, err := a.newService(store, router)
	if err != nil {
		return err
	}

	dir := opts.Dir
	if dir == "" {
		dir = a.Config.Ingest.Dir
	}
	report, err := svc.Import(ctx, ingest.NewFolder(dir, opts.Archive, a.Logger))
	if report != nil {
		a.printReport(report)
	}
	return err
}

func (a *App) printReport(r *service.BatchReport) {
	fmt.Fprintf(a.Out, "batch %s: received %d, stored %d, duplicates %d, rejected %d, unmatched %d, incomplete %d, invalid %d\n",
		r.ID, r.Received, r.Stored, r.Duplicates, r.Rejected, r.Unmatched, r.Incomplete, r.Invalid)
	fmt.Fprintf(a.Out, "verdicts: AFFARE %d, BUONO %d, ASPETTA %d; routes: push %d, manual_review %d, log_only %d\n",
		r.Verdicts[domain.VerdictAffare], r.Verdicts[domain.VerdictBuono], r.Verdicts[domain.VerdictAspetta],
		r.Routes[domain.RoutePush], r.Routes[domain.RouteManualReview], r.Routes[domain.RouteLogOnly])
	if r.NotifyErrors > 0 {
		fmt.Fprintf(a.Out, "notification errors: %d\n", r.NotifyErrors)
	}
	if r.Aborted {
		fmt.Fprintln(a.Out, "batch aborted on storage failure")
	}
}

// ImportOptions configure the import command.
type ImportOptions struct {
	Dir     string
	Archive bool
}

// ExportOptions hold parameters for exporting a product's price history.
type ExportOptions struct {
	Product   string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	XLSXPath  string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}

// BackfillOptions configure history seeding.
type BackfillOptions struct {
	Path   string
	Source domain.Source
	// Currency is applied to rows that carry none. Empty leaves them to be
	// rejected by validation.
	Currency string
	DryRun   bool
}

// SimulateOptions describe one synthetic record.
type SimulateOptions struct {
	Title    string
	Price    float64
	Shipping float64
	Used     bool
	Text     string
	Location string
	History  []float64
	Notify   bool
}
