package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/gensync/internal/timeseries"
)

// Config holds the full application configuration.
type Config struct {
	Entsoe  EntsoeConfig  `yaml:"entsoe" mapstructure:"entsoe"`
	Sync    SyncConfig    `yaml:"sync" mapstructure:"sync"`
	Retry   RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Catalog CatalogConfig `yaml:"catalog" mapstructure:"catalog"`
	Report  ReportConfig  `yaml:"report" mapstructure:"report"`
	Notify  NotifyConfig  `yaml:"notify" mapstructure:"notify"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// EntsoeConfig configures the Transparency Platform client.
type EntsoeConfig struct {
	Token             string  `yaml:"token" mapstructure:"token"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	Area              string  `yaml:"area" mapstructure:"area"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	MaxRequestHours   int     `yaml:"max_request_hours" mapstructure:"max_request_hours"`
}

// SyncConfig configures planning, the data directory and reconciliation.
type SyncConfig struct {
	DataDir              string `yaml:"data_dir" mapstructure:"data_dir"`
	Zone                 string `yaml:"zone" mapstructure:"zone"`
	Mode                 string `yaml:"mode" mapstructure:"mode"`
	GapThresholdMins     int    `yaml:"gap_threshold_mins" mapstructure:"gap_threshold_mins"`
	MaxSpanHours         int    `yaml:"max_span_hours" mapstructure:"max_span_hours"`
	DefaultLookbackHours int    `yaml:"default_lookback_hours" mapstructure:"default_lookback_hours"`
	FuelMarker           string `yaml:"fuel_marker" mapstructure:"fuel_marker"`
	ConsumptionMarker    string `yaml:"consumption_marker" mapstructure:"consumption_marker"`
	RawSuffix            string `yaml:"raw_suffix" mapstructure:"raw_suffix"`
	CanonicalSuffix      string `yaml:"canonical_suffix" mapstructure:"canonical_suffix"`
}

// GapThreshold returns the gap threshold as a duration.
func (s SyncConfig) GapThreshold() time.Duration {
	return time.Duration(s.GapThresholdMins) * time.Minute
}

// MaxSpan returns the maximum window span.
func (s SyncConfig) MaxSpan() time.Duration {
	return time.Duration(s.MaxSpanHours) * time.Hour
}

// DefaultLookback returns the append lookback used with no history.
func (s SyncConfig) DefaultLookback() time.Duration {
	return time.Duration(s.DefaultLookbackHours) * time.Hour
}

// RetryConfig configures the fetch retry policy.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// CatalogConfig locates the unit catalog.
type CatalogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ReportConfig configures the fleet report.
type ReportConfig struct {
	LowOutputRatio    float64 `yaml:"low_output_ratio" mapstructure:"low_output_ratio"`
	WatchUnit         string  `yaml:"watch_unit" mapstructure:"watch_unit"`
	MissingWindowMins int     `yaml:"missing_window_mins" mapstructure:"missing_window_mins"`
}

// NotifyConfig holds the report delivery channels. A channel is enabled when
// its credentials are set.
type NotifyConfig struct {
	TelegramToken   string `yaml:"telegram_token" mapstructure:"telegram_token"`
	TelegramChatID  string `yaml:"telegram_chat_id" mapstructure:"telegram_chat_id"`
	TelegramBaseURL string `yaml:"telegram_base_url" mapstructure:"telegram_base_url"`
	WebhookURL      string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// legacyEnv maps keys to the variable names of the original deployment.
var legacyEnv = map[string]string{
	"entsoe.token":            "API_TOKEN",
	"sync.data_dir":           "DATA_DIRECTORY",
	"notify.telegram_token":   "TELEGRAM_BOT_TOKEN",
	"notify.telegram_chat_id": "TELEGRAM_CHAT_ID",
}

// Load reads configuration from file and environment. A .env file in the
// working directory is loaded first; it never overrides variables that are
// already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GENSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		if err := v.BindEnv(key, "GENSYNC_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), legacy); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("entsoe.token", "")
	v.SetDefault("entsoe.base_url", "https://web-api.tp.entsoe.eu/api")
	v.SetDefault("entsoe.area", "10YFR-RTE------C")
	v.SetDefault("entsoe.timeout_secs", 60)
	v.SetDefault("entsoe.requests_per_second", 5)
	v.SetDefault("entsoe.max_request_hours", 24)
	v.SetDefault("sync.data_dir", "data")
	v.SetDefault("sync.zone", "Europe/Paris")
	v.SetDefault("sync.mode", "append")
	v.SetDefault("sync.gap_threshold_mins", 180)
	v.SetDefault("sync.max_span_hours", 240)
	v.SetDefault("sync.default_lookback_hours", 2)
	v.SetDefault("sync.fuel_marker", "nuclear")
	v.SetDefault("sync.consumption_marker", "actual consumption")
	v.SetDefault("sync.raw_suffix", "_output.csv")
	v.SetDefault("sync.canonical_suffix", "_filtered.csv")
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_ms", 60000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "production.db")
	v.SetDefault("catalog.path", "units.yaml")
	v.SetDefault("report.low_output_ratio", 0.2)
	v.SetDefault("report.watch_unit", "FLAMANVILLE 3")
	v.SetDefault("report.missing_window_mins", 2)
	v.SetDefault("notify.telegram_token", "")
	v.SetDefault("notify.telegram_chat_id", "")
	v.SetDefault("notify.telegram_base_url", "https://api.telegram.org")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	if _, err := timeseries.ParseMode(c.Sync.Mode); err != nil {
		return eris.Wrap(err, "config: sync.mode")
	}
	if c.Sync.GapThresholdMins <= 0 {
		return eris.New("config: sync.gap_threshold_mins must be positive")
	}
	if c.Sync.MaxSpanHours <= 0 {
		return eris.New("config: sync.max_span_hours must be positive")
	}
	if c.Sync.DefaultLookbackHours <= 0 {
		return eris.New("config: sync.default_lookback_hours must be positive")
	}
	if _, err := time.LoadLocation(c.Sync.Zone); err != nil {
		return eris.Wrapf(err, "config: sync.zone %q", c.Sync.Zone)
	}
	if c.Sync.RawSuffix == "" || c.Sync.CanonicalSuffix == "" || c.Sync.RawSuffix == c.Sync.CanonicalSuffix {
		return eris.New("config: sync.raw_suffix and sync.canonical_suffix must be set and distinct")
	}

	switch strings.ToLower(c.Store.Driver) {
	case "sqlite", "postgres", "postgresql", "pgx":
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
	}

	if c.Report.LowOutputRatio <= 0 || c.Report.LowOutputRatio > 1 {
		return eris.Errorf("config: report.low_output_ratio must be in (0, 1], got %v", c.Report.LowOutputRatio)
	}
	return nil
}

// ValidateFetch checks the settings needed to call the remote source.
func (c *Config) ValidateFetch() error {
	if c.Entsoe.Token == "" {
		return eris.New("config: entsoe.token is required (GENSYNC_ENTSOE_TOKEN or API_TOKEN)")
	}
	if c.Entsoe.MaxRequestHours <= 0 {
		return eris.New("config: entsoe.max_request_hours must be positive")
	}
	return nil
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
