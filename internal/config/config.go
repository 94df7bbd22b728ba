// Package config loads mfscore configuration from config.yaml and MFSCORE_*
// environment variables and initializes the global logger.
package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Scoring  ScoringConfig  `yaml:"scoring" mapstructure:"scoring"`
	Feeds    FeedsConfig    `yaml:"feeds" mapstructure:"feeds"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Schedule ScheduleConfig `yaml:"schedule" mapstructure:"schedule"`
	Monitor  MonitorConfig  `yaml:"monitor" mapstructure:"monitor"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ScoringConfig configures a scoring batch.
type ScoringConfig struct {
	Concurrency      int `yaml:"concurrency" mapstructure:"concurrency"`
	FetchTimeoutSecs int `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	WriteTimeoutSecs int `yaml:"write_timeout_secs" mapstructure:"write_timeout_secs"`

	RetryMaxAttempts      int     `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryInitialBackoffMs int     `yaml:"retry_initial_backoff_ms" mapstructure:"retry_initial_backoff_ms"`
	RetryMaxBackoffMs     int     `yaml:"retry_max_backoff_ms" mapstructure:"retry_max_backoff_ms"`
	RetryMultiplier       float64 `yaml:"retry_multiplier" mapstructure:"retry_multiplier"`
	RetryJitter           float64 `yaml:"retry_jitter" mapstructure:"retry_jitter"`
	CircuitThreshold      int     `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSecs      int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`

	RiskLookbackDays int     `yaml:"risk_lookback_days" mapstructure:"risk_lookback_days"`
	RiskFreeRate     float64 `yaml:"risk_free_rate" mapstructure:"risk_free_rate"`
	// RiskFreeSource is "config" (use RiskFreeRate) or "fred" (latest
	// observation of Feeds.FREDSeries, falling back to RiskFreeRate).
	RiskFreeSource   string  `yaml:"risk_free_source" mapstructure:"risk_free_source"`
	OutlierThreshold float64 `yaml:"outlier_threshold" mapstructure:"outlier_threshold"`
	MinDailyReturns  int     `yaml:"min_daily_returns" mapstructure:"min_daily_returns"`
	MinNavPoints     int     `yaml:"min_nav_points" mapstructure:"min_nav_points"`

	GroupBy          string `yaml:"group_by" mapstructure:"group_by"`
	MinReliableGroup int    `yaml:"min_reliable_group" mapstructure:"min_reliable_group"`
	BenchmarkFile    string `yaml:"benchmark_file" mapstructure:"benchmark_file"`

	Budgets       BudgetConfig       `yaml:"budgets" mapstructure:"budgets"`
	PeriodWeights map[string]float64 `yaml:"period_weights" mapstructure:"period_weights"`
}

// BudgetConfig sets the point budget of each score component.
type BudgetConfig struct {
	Historical   float64 `yaml:"historical" mapstructure:"historical"`
	Risk         float64 `yaml:"risk" mapstructure:"risk"`
	Fundamentals float64 `yaml:"fundamentals" mapstructure:"fundamentals"`
	Other        float64 `yaml:"other" mapstructure:"other"`
}

// FeedsConfig configures the NAV and market data collectors.
type FeedsConfig struct {
	TempDir           string   `yaml:"temp_dir" mapstructure:"temp_dir"`
	AMFIURL           string   `yaml:"amfi_url" mapstructure:"amfi_url"`
	MFAPIBaseURL      string   `yaml:"mfapi_base_url" mapstructure:"mfapi_base_url"`
	MFAPIBackfillMax  int      `yaml:"mfapi_backfill_max" mapstructure:"mfapi_backfill_max"`
	FREDKey           string   `yaml:"fred_api_key" mapstructure:"fred_api_key"`
	FREDBaseURL       string   `yaml:"fred_base_url" mapstructure:"fred_base_url"`
	FREDSeries        string   `yaml:"fred_series" mapstructure:"fred_series"`
	AlphaVantageKey   string   `yaml:"alphavantage_api_key" mapstructure:"alphavantage_api_key"`
	AlphaVantageURL   string   `yaml:"alphavantage_base_url" mapstructure:"alphavantage_base_url"`
	IndexSymbols      []string `yaml:"index_symbols" mapstructure:"index_symbols"`
	RequestsPerSecond float64  `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// ServerConfig configures the read-only score API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// ScheduleConfig configures the long-running scheduler.
type ScheduleConfig struct {
	NavSyncCron string `yaml:"navsync_cron" mapstructure:"navsync_cron"`
	ScoreCron   string `yaml:"score_cron" mapstructure:"score_cron"`
}

// MonitorConfig configures the integrity audit and its alerts.
type MonitorConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
	// StaleNavDays is how far a fund's latest NAV may lag the newest NAV
	// in the store before it counts as stale.
	StaleNavDays      int `yaml:"stale_nav_days" mapstructure:"stale_nav_days"`
	LookbackHours     int `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	CheckIntervalSecs int `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	// StaleFundThreshold is the share of stale funds that raises an alert.
	StaleFundThreshold float64 `yaml:"stale_fund_threshold" mapstructure:"stale_fund_threshold"`
}

// Validate checks required fields for the given scope. Valid scopes are
// "store", "feeds", "scoring" and "server".
func (c *Config) Validate(scope string) error {
	var errs []string
	switch scope {
	case "store":
		errs = append(errs, c.validateStore()...)
	case "feeds":
		errs = append(errs, c.validateStore()...)
		if c.Feeds.RequestsPerSecond <= 0 {
			errs = append(errs, "feeds.requests_per_second must be > 0")
		}
		if c.Feeds.AMFIURL == "" {
			errs = append(errs, "feeds.amfi_url is required")
		}
		if c.Feeds.MFAPIBaseURL == "" {
			errs = append(errs, "feeds.mfapi_base_url is required")
		}
	case "scoring":
		errs = append(errs, c.validateStore()...)
		if c.Scoring.Concurrency <= 0 {
			errs = append(errs, "scoring.concurrency must be > 0")
		}
		switch c.Scoring.GroupBy {
		case "subcategory", "category", "universe":
		default:
			errs = append(errs, fmt.Sprintf("scoring.group_by must be subcategory, category or universe, got %q", c.Scoring.GroupBy))
		}
		switch c.Scoring.RiskFreeSource {
		case "config", "fred":
		default:
			errs = append(errs, fmt.Sprintf("scoring.risk_free_source must be config or fred, got %q", c.Scoring.RiskFreeSource))
		}
	case "server":
		errs = append(errs, c.validateStore()...)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
	default:
		return eris.Errorf("config: unknown validation scope %q", scope)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required for the postgres driver"}
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return []string{"store.sqlite_path is required for the sqlite driver"}
		}
	default:
		return []string{fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver)}
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MFSCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "mfscore.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("scoring.concurrency", 8)
	v.SetDefault("scoring.fetch_timeout_secs", 15)
	v.SetDefault("scoring.write_timeout_secs", 10)
	v.SetDefault("scoring.retry_max_attempts", 3)
	v.SetDefault("scoring.retry_initial_backoff_ms", 250)
	v.SetDefault("scoring.retry_max_backoff_ms", 5000)
	v.SetDefault("scoring.retry_multiplier", 2.0)
	v.SetDefault("scoring.retry_jitter", 0.25)
	v.SetDefault("scoring.circuit_threshold", 5)
	v.SetDefault("scoring.circuit_reset_secs", 30)
	v.SetDefault("scoring.risk_lookback_days", 365)
	v.SetDefault("scoring.risk_free_rate", 6.0)
	v.SetDefault("scoring.risk_free_source", "config")
	v.SetDefault("scoring.outlier_threshold", 0.5)
	v.SetDefault("scoring.min_daily_returns", 100)
	v.SetDefault("scoring.min_nav_points", 20)
	v.SetDefault("scoring.group_by", "subcategory")
	v.SetDefault("scoring.min_reliable_group", 4)
	v.SetDefault("scoring.benchmark_file", "")
	v.SetDefault("scoring.budgets.historical", 40)
	v.SetDefault("scoring.budgets.risk", 30)
	v.SetDefault("scoring.budgets.fundamentals", 20)
	v.SetDefault("scoring.budgets.other", 10)

	v.SetDefault("feeds.temp_dir", "/tmp/mfscore")
	v.SetDefault("feeds.amfi_url", "https://www.amfiindia.com/spages/NAVAll.txt")
	v.SetDefault("feeds.mfapi_base_url", "https://api.mfapi.in")
	v.SetDefault("feeds.mfapi_backfill_max", 500)
	v.SetDefault("feeds.fred_api_key", "")
	v.SetDefault("feeds.fred_base_url", "https://api.stlouisfed.org/fred")
	v.SetDefault("feeds.fred_series", "INDIRLTLT01STM")
	v.SetDefault("feeds.alphavantage_api_key", "")
	v.SetDefault("feeds.alphavantage_base_url", "https://www.alphavantage.co")
	v.SetDefault("feeds.index_symbols", []string{"NIFTY 50=NIFTYBEES.BSE", "NIFTY BANK=BANKBEES.BSE", "NIFTY IT=ITBEES.BSE"})
	v.SetDefault("feeds.requests_per_second", 2.0)

	v.SetDefault("server.port", 8080)
	v.SetDefault("schedule.navsync_cron", "30 22 * * *")
	v.SetDefault("schedule.score_cron", "0 23 * * *")

	v.SetDefault("monitor.webhook_url", "")
	v.SetDefault("monitor.stale_nav_days", 5)
	v.SetDefault("monitor.lookback_hours", 24)
	v.SetDefault("monitor.check_interval_secs", 3600)
	v.SetDefault("monitor.stale_fund_threshold", 0.1)
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
