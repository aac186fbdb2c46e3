package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"chain-tracker/internal/logging"
)

// Config materialises application configuration. It is loaded once and
// passed explicitly; nothing reads it from package state.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StorageConfig locates snapshot files and the pull log.
type StorageConfig struct {
	DataDir  string `mapstructure:"data_dir"`
	PullLog  string `mapstructure:"pull_log"`
	KeepDays int    `mapstructure:"keep_days"`
}

// DatabaseConfig encapsulates the optional PostgreSQL mirror.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs when the daily run fires.
type SchedulerConfig struct {
	Cron            string        `mapstructure:"cron"`
	Timezone        string        `mapstructure:"timezone"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// FetchConfig tunes the shared document/JSON fetcher.
type FetchConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	Burst           int           `mapstructure:"burst"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// SourcesConfig is the source registry.
type SourcesConfig struct {
	DolarHoy HTMLSourceConfig `mapstructure:"dolarhoy"`
	BCRA     HTMLSourceConfig `mapstructure:"bcra"`
	FRED     FREDSourceConfig `mapstructure:"fred"`
}

// HTMLSourceConfig describes a scraped source.
type HTMLSourceConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// FREDSourceConfig describes the FRED observations API.
type FREDSourceConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	URL     string            `mapstructure:"url"`
	APIKey  string            `mapstructure:"api_key"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Limit   int               `mapstructure:"limit"`
	Series  map[string]string `mapstructure:"series"`
}

// PipelineConfig controls per-source execution.
type PipelineConfig struct {
	Workers int `mapstructure:"workers"`
}

// AnalysisConfig holds classifier thresholds and sparkline bounds.
type AnalysisConfig struct {
	Thresholds ThresholdConfig `mapstructure:"thresholds"`
	Sparklines SparklineConfig `mapstructure:"sparklines"`
}

// ThresholdConfig mirrors the layer classification cut-offs.
type ThresholdConfig struct {
	GlobalElevatedBps     float64 `mapstructure:"global_elevated_bps"`
	GlobalStressedBps     float64 `mapstructure:"global_stressed_bps"`
	ReservesElevatedMM    float64 `mapstructure:"reserves_elevated_mm"`
	ReservesStressedMM    float64 `mapstructure:"reserves_stressed_mm"`
	MonetaryElevatedMM    float64 `mapstructure:"monetary_elevated_mm"`
	SpreadElevatedPct     float64 `mapstructure:"spread_elevated_pct"`
	SpreadStressedPct     float64 `mapstructure:"spread_stressed_pct"`
	SpreadDeltaElevatedPP float64 `mapstructure:"spread_delta_elevated_pp"`
	SpreadDeltaStressedPP float64 `mapstructure:"spread_delta_stressed_pp"`
}

// SparklineConfig bounds each sparkline series.
type SparklineConfig struct {
	Reserves int `mapstructure:"reserves"`
	Spread   int `mapstructure:"spread"`
	Yield    int `mapstructure:"yield"`
}

// AlertingConfig defines digest routing.
type AlertingConfig struct {
	Enabled   bool           `mapstructure:"enabled"`
	MinStatus string         `mapstructure:"min_status"`
	Channels  []string       `mapstructure:"channels"`
	Telegram  TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram notifier.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MetricsConfig exposes Prometheus metrics while the service runs.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("CHAINTRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("sources.fred.api_key", "CHAINTRACKER_SOURCES_FRED_API_KEY", "FRED_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

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

	cfg.Sources.FRED.Series = upperKeys(cfg.Sources.FRED.Series)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// upperKeys normalizes FRED series ids; viper lowercases keys read from
// files but not those of defaults.
func upperKeys(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToUpper(k)] = v
	}
	return out
}

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
	v.SetDefault("app.name", "chaintracker")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.pull_log", "logs/pull_log.jsonl")
	v.SetDefault("storage.keep_days", 21)

	v.SetDefault("scheduler.cron", "30 21 * * 1-5")
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x41524354))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", false)

	v.SetDefault("fetch.timeout", "25s")
	v.SetDefault("fetch.user_agent", "ArgentinaChainTracker/1.0")
	v.SetDefault("fetch.rate_per_second", 2.0)
	v.SetDefault("fetch.burst", 2)
	v.SetDefault("fetch.breaker_failures", 3)
	v.SetDefault("fetch.breaker_cooldown", "60s")
	v.SetDefault("fetch.max_body_bytes", int64(8<<20))

	v.SetDefault("sources.dolarhoy.enabled", true)
	v.SetDefault("sources.dolarhoy.url", "https://dolarhoy.com/")
	v.SetDefault("sources.bcra.enabled", true)
	v.SetDefault("sources.bcra.url", "https://www.bcra.gob.ar/PublicacionesEstadisticas/Principales_variables_datos.asp")
	v.SetDefault("sources.fred.enabled", true)
	v.SetDefault("sources.fred.url", "https://api.stlouisfed.org/fred/series/observations")
	v.SetDefault("sources.fred.limit", 10)
	v.SetDefault("sources.fred.series", map[string]string{
		"DGS2":  "us_2y_yield",
		"DGS10": "us_10y_yield",
		"DGS30": "us_30y_yield",
	})

	v.SetDefault("pipeline.workers", 3)

	v.SetDefault("analysis.thresholds.global_elevated_bps", 4.0)
	v.SetDefault("analysis.thresholds.global_stressed_bps", 10.0)
	v.SetDefault("analysis.thresholds.reserves_elevated_mm", -50.0)
	v.SetDefault("analysis.thresholds.reserves_stressed_mm", -200.0)
	v.SetDefault("analysis.thresholds.monetary_elevated_mm", 300000.0)
	v.SetDefault("analysis.thresholds.spread_elevated_pct", 15.0)
	v.SetDefault("analysis.thresholds.spread_stressed_pct", 25.0)
	v.SetDefault("analysis.thresholds.spread_delta_elevated_pp", 0.5)
	v.SetDefault("analysis.thresholds.spread_delta_stressed_pp", 2.0)
	v.SetDefault("analysis.sparklines.reserves", 30)
	v.SetDefault("analysis.sparklines.spread", 90)
	v.SetDefault("analysis.sparklines.yield", 30)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.min_status", "elevated")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9108")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("export.max_data_points", 365)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must be set")
	}
	if c.Storage.PullLog == "" {
		return fmt.Errorf("storage.pull_log must be set")
	}
	if c.Storage.KeepDays < 1 {
		return fmt.Errorf("storage.keep_days must be at least 1")
	}
	if c.Scheduler.Cron == "" {
		return fmt.Errorf("scheduler.cron must be set")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be greater than zero")
	}
	if c.Fetch.RatePerSecond < 0 {
		return fmt.Errorf("fetch.rate_per_second cannot be negative")
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1")
	}
	if c.Sources.FRED.Enabled && len(c.Sources.FRED.Series) == 0 {
		return fmt.Errorf("sources.fred.series must not be empty")
	}
	sp := c.Analysis.Sparklines
	if sp.Reserves <= 0 || sp.Spread <= 0 || sp.Yield <= 0 {
		return fmt.Errorf("analysis.sparklines limits must be greater than zero")
	}
	th := c.Analysis.Thresholds
	if th.GlobalElevatedBps > th.GlobalStressedBps {
		return fmt.Errorf("analysis.thresholds: global elevated must not exceed stressed")
	}
	if th.ReservesStressedMM > th.ReservesElevatedMM {
		return fmt.Errorf("analysis.thresholds: reserves stressed must not exceed elevated")
	}
	if th.SpreadElevatedPct > th.SpreadStressedPct || th.SpreadDeltaElevatedPP > th.SpreadDeltaStressedPP {
		return fmt.Errorf("analysis.thresholds: spread elevated must not exceed stressed")
	}
	switch c.Alerting.MinStatus {
	case "elevated", "stressed":
	default:
		return fmt.Errorf("alerting.min_status must be elevated or stressed")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be set")
		}
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
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

// Location returns the scheduler timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
