package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"pc-deal-watch/internal/domain"
	"pc-deal-watch/internal/fetcher"
	"pc-deal-watch/internal/ingest"
	"pc-deal-watch/internal/logging"
	"pc-deal-watch/internal/normalize"
	"pc-deal-watch/internal/trust"
)

// EnvPrefix prefixes every environment override, e.g. DEALWATCH_DATABASE_DSN.
const EnvPrefix = "DEALWATCH"

// Config materialises application configuration.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Logging       logging.Config     `mapstructure:"logging"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Scheduler     SchedulerConfig    `mapstructure:"scheduler"`
	History       HistoryConfig      `mapstructure:"history"`
	Thresholds    ThresholdsConfig   `mapstructure:"thresholds"`
	CataloguePath string             `mapstructure:"catalogue_path"`
	Currency      map[string]float64 `mapstructure:"currency"`
	Sources       SourcesConfig      `mapstructure:"sources"`
	Ingest        IngestConfig       `mapstructure:"ingest"`
	Trust         trust.Config       `mapstructure:"trust"`
	Alerting      AlertingConfig     `mapstructure:"alerting"`
	Export        ExportConfig       `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// SchedulerConfig governs fetch cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// HistoryConfig sets the trend windows.
type HistoryConfig struct {
	Window      time.Duration `mapstructure:"window"`
	DropWindow  time.Duration `mapstructure:"drop_window"`
	DedupeDaily bool          `mapstructure:"dedupe_daily"`
}

// ThresholdsConfig carries the global defaults and per-category overrides.
type ThresholdsConfig struct {
	DealPrice    float64                                 `mapstructure:"deal_price"`
	GoodPrice    float64                                 `mapstructure:"good_price"`
	GlitchRatio  float64                                 `mapstructure:"glitch_ratio"`
	DropRatio    float64                                 `mapstructure:"drop_ratio"`
	NearLowRatio float64                                 `mapstructure:"near_low_ratio"`
	OutlierRatio float64                                 `mapstructure:"outlier_ratio"`
	MinSamples   int                                     `mapstructure:"min_samples"`
	Categories   map[string]normalize.ThresholdOverrides `mapstructure:"categories"`
}

// Base converts the global section into domain thresholds.
func (t ThresholdsConfig) Base() domain.Thresholds {
	return domain.Thresholds{
		DealPrice:    decimal.NewFromFloat(t.DealPrice),
		GoodPrice:    decimal.NewFromFloat(t.GoodPrice),
		GlitchRatio:  decimal.NewFromFloat(t.GlitchRatio),
		DropRatio:    decimal.NewFromFloat(t.DropRatio),
		NearLowRatio: decimal.NewFromFloat(t.NearLowRatio),
		OutlierRatio: decimal.NewFromFloat(t.OutlierRatio),
		MinSamples:   t.MinSamples,
	}
}

// SourcesConfig lists the price-comparison pages to poll.
type SourcesConfig struct {
	UserAgent   string        `mapstructure:"user_agent"`
	Timeout     time.Duration `mapstructure:"timeout"`
	PoliteDelay time.Duration `mapstructure:"polite_delay"`
	Retries     int           `mapstructure:"retries"`
	Concurrency int           `mapstructure:"concurrency"`
	Trovaprezzi SourceConfig  `mapstructure:"trovaprezzi"`
	Idealo      SourceConfig  `mapstructure:"idealo"`
}

// SourceConfig toggles one source and lists its pages.
type SourceConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Targets []fetcher.Target `mapstructure:"targets"`
}

// FetchOptions builds the shared HTTP options of every fetcher.
func (s SourcesConfig) FetchOptions() fetcher.Options {
	return fetcher.Options{
		UserAgent:   s.UserAgent,
		Timeout:     s.Timeout,
		PoliteDelay: s.PoliteDelay,
		Retries:     s.Retries,
	}
}

// IngestConfig covers secondhand listing import.
type IngestConfig struct {
	Dir     string            `mapstructure:"dir"`
	Archive bool              `mapstructure:"archive"`
	IMAP    ingest.IMAPConfig `mapstructure:"imap"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Console  bool           `mapstructure:"console"`
	FileLog  string         `mapstructure:"file_log"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警与命令参数。
type TelegramConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	BotToken     string        `mapstructure:"bot_token"`
	ChatID       string        `mapstructure:"chat_id"`
	APIBase      string        `mapstructure:"api_base"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Commands     bool          `mapstructure:"commands"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int    `mapstructure:"max_data_points"`
	Dir           string `mapstructure:"dir"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotEnv reads ./.env when present. Variables already set win.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "dealwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	// secrets have empty defaults so that AutomaticEnv can bind them
	v.SetDefault("database.dsn", "")
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("ingest.imap.host", "")
	v.SetDefault("ingest.imap.username", "")
	v.SetDefault("ingest.imap.password", "")

	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("scheduler.interval", "3h")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x6465616c))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("history.window", "720h")
	v.SetDefault("history.drop_window", "48h")
	v.SetDefault("history.dedupe_daily", true)

	def := domain.DefaultThresholds()
	v.SetDefault("thresholds.glitch_ratio", def.GlitchRatio.InexactFloat64())
	v.SetDefault("thresholds.drop_ratio", def.DropRatio.InexactFloat64())
	v.SetDefault("thresholds.near_low_ratio", def.NearLowRatio.InexactFloat64())
	v.SetDefault("thresholds.outlier_ratio", def.OutlierRatio.InexactFloat64())
	v.SetDefault("thresholds.min_samples", def.MinSamples)

	v.SetDefault("catalogue_path", "catalogue.yaml")

	v.SetDefault("sources.user_agent", "Mozilla/5.0 (compatible; dealwatch/1.0)")
	v.SetDefault("sources.timeout", "20s")
	v.SetDefault("sources.polite_delay", "3s")
	v.SetDefault("sources.retries", 1)
	v.SetDefault("sources.concurrency", 2)
	v.SetDefault("sources.trovaprezzi.enabled", true)
	v.SetDefault("sources.idealo.enabled", true)

	v.SetDefault("ingest.dir", "imports")
	v.SetDefault("ingest.archive", true)
	v.SetDefault("ingest.imap.enabled", false)
	v.SetDefault("ingest.imap.port", 993)
	v.SetDefault("ingest.imap.folder", "INBOX")
	v.SetDefault("ingest.imap.search", "subito")
	v.SetDefault("ingest.imap.mark_seen", true)
	v.SetDefault("ingest.imap.timeout", "30s")

	tc := trust.DefaultConfig()
	v.SetDefault("trust.min_score", tc.MinScore)
	v.SetDefault("trust.min_detail_chars", tc.MinDetailChars)
	v.SetDefault("trust.weights.base", tc.Weights.Base)
	v.SetDefault("trust.weights.payment", tc.Weights.Payment)
	v.SetDefault("trust.weights.payment_risk", tc.Weights.PaymentRisk)
	v.SetDefault("trust.weights.credibility", tc.Weights.Credibility)
	v.SetDefault("trust.weights.condition", tc.Weights.Condition)
	v.SetDefault("trust.weights.photos", tc.Weights.Photos)
	v.SetDefault("trust.weights.details", tc.Weights.Details)
	v.SetDefault("trust.weights.outlier", tc.Weights.Outlier)
	v.SetDefault("trust.payment_good", tc.PaymentGood)
	v.SetDefault("trust.payment_bad", tc.PaymentBad)
	v.SetDefault("trust.condition_good", tc.ConditionGood)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.cooldown", "12h")
	v.SetDefault("alerting.console", true)
	v.SetDefault("alerting.file_log", "alerts.log")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")
	v.SetDefault("alerting.telegram.commands", false)
	v.SetDefault("alerting.telegram.poll_interval", "30s")

	v.SetDefault("export.max_data_points", 100000)
	v.SetDefault("export.dir", "exports")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.History.Window <= 0 || c.History.DropWindow <= 0 {
		return fmt.Errorf("history.window and history.drop_window must be greater than zero")
	}
	if c.History.DropWindow > c.History.Window {
		return fmt.Errorf("history.drop_window cannot exceed history.window")
	}
	if c.CataloguePath == "" {
		return fmt.Errorf("catalogue_path 必须配置")
	}
	for label := range c.Thresholds.Categories {
		if _, err := domain.ParseCategory(label); err != nil {
			return fmt.Errorf("thresholds.categories: %w", err)
		}
	}
	if c.Thresholds.GlitchRatio < 0 || c.Thresholds.GlitchRatio > 1 {
		return fmt.Errorf("thresholds.glitch_ratio must be within [0,1]")
	}
	if c.Thresholds.MinSamples < 1 {
		return fmt.Errorf("thresholds.min_samples must be at least 1")
	}
	for code, rate := range c.Currency {
		if rate <= 0 {
			return fmt.Errorf("currency.%s must be greater than zero", code)
		}
	}
	if c.Sources.Concurrency < 1 {
		return fmt.Errorf("sources.concurrency must be at least 1")
	}
	if c.Trust.MinScore < 0 || c.Trust.MinScore > 1 {
		return fmt.Errorf("trust.min_score must be within [0,1]")
	}
	if c.Alerting.Cooldown < 0 {
		return fmt.Errorf("alerting.cooldown cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Ingest.IMAP.Enabled && (c.Ingest.IMAP.Host == "" || c.Ingest.IMAP.Username == "") {
		return fmt.Errorf("ingest.imap.host and ingest.imap.username 必须配置")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
