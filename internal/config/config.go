// Package config loads service configuration from config.yaml and
// SCRAPING_* environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/scraping-service/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Firecrawl  FirecrawlConfig  `yaml:"firecrawl" mapstructure:"firecrawl"`
	KeyService KeyServiceConfig `yaml:"keyservice" mapstructure:"keyservice"`
	Runs       RunsConfig       `yaml:"runs" mapstructure:"runs"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" mapstructure:"telemetry"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Pricing    cost.Rates       `yaml:"pricing" mapstructure:"pricing"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// FirecrawlConfig holds Firecrawl API settings. Keys come from the key
// service per request, never from config.
type FirecrawlConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst       int     `yaml:"burst" mapstructure:"burst"`
}

// KeyServiceConfig holds the key vault connection.
type KeyServiceConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// RunsConfig holds the runs service connection and its circuit breaker.
type RunsConfig struct {
	URL              string `yaml:"url" mapstructure:"url"`
	APIKey           string `yaml:"api_key" mapstructure:"api_key"`
	AppID            string `yaml:"app_id" mapstructure:"app_id"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	FailureThreshold int    `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int    `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// TelemetryConfig bounds detached run reporting.
type TelemetryConfig struct {
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// CacheConfig configures result caching.
type CacheConfig struct {
	TTLHours int `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	APIKey             string   `yaml:"api_key" mapstructure:"api_key"`
	CORSOrigins        []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	ShutdownSecs       int      `yaml:"shutdown_secs" mapstructure:"shutdown_secs"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml (if present) and environment
// variables. Env vars use the SCRAPING_ prefix with underscores replacing
// dots, e.g. SCRAPING_STORE_DATABASE_URL.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SCRAPING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")
	v.SetDefault("firecrawl.timeout_secs", 60)
	v.SetDefault("firecrawl.rate_per_sec", 10)
	v.SetDefault("firecrawl.burst", 10)
	v.SetDefault("keyservice.url", "")
	v.SetDefault("keyservice.api_key", "")
	v.SetDefault("keyservice.timeout_secs", 10)
	v.SetDefault("runs.url", "https://runs.mcpfactory.org")
	v.SetDefault("runs.api_key", "")
	v.SetDefault("runs.app_id", "mcpfactory")
	v.SetDefault("runs.timeout_secs", 10)
	v.SetDefault("runs.failure_threshold", 5)
	v.SetDefault("runs.reset_timeout_secs", 30)
	v.SetDefault("telemetry.timeout_secs", 30)
	v.SetDefault("telemetry.max_attempts", 3)
	v.SetDefault("cache.ttl_hours", 168)
	v.SetDefault("pricing.firecrawl.plan_monthly", 19.00)
	v.SetDefault("pricing.firecrawl.credits_included", 3000)
	v.SetDefault("server.port", 3010)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_secs", 30)
	v.SetDefault("server.request_timeout_secs", 120)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the settings a command needs. Mode is one of "serve",
// "scrape" (one-off scrape or map from the CLI) or "store" (migrate, cache
// maintenance).
func (c *Config) Validate(mode string) error {
	var errs []string
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
		}
	}

	storeChecks := func() {
		switch c.Store.Driver {
		case "postgres", "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
		}
		check(c.Store.DatabaseURL != "", "store.database_url is required")
	}
	upstreamChecks := func() {
		check(c.KeyService.URL != "", "keyservice.url is required")
		check(c.KeyService.APIKey != "", "keyservice.api_key is required")
		check(c.Cache.TTLHours > 0, "cache.ttl_hours must be > 0")
		check(c.Telemetry.MaxAttempts >= 1 && c.Telemetry.MaxAttempts <= 10, "telemetry.max_attempts must be between 1 and 10")
	}

	switch mode {
	case "serve":
		storeChecks()
		upstreamChecks()
		check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port must be > 0 and < 65536")
		check(c.Server.APIKey != "", "server.api_key is required")
	case "scrape":
		storeChecks()
		upstreamChecks()
	case "store":
		storeChecks()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.KeyService.APIKey = mask(c.KeyService.APIKey)
	c.Runs.APIKey = mask(c.Runs.APIKey)
	c.Server.APIKey = mask(c.Server.APIKey)
	c.Store.DatabaseURL = redactURLPassword(c.Store.DatabaseURL)
	return c
}

// redactURLPassword masks the password in a user:pass@host DSN.
func redactURLPassword(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	scheme := strings.Index(dsn, "://")
	start := 0
	if scheme >= 0 {
		start = scheme + 3
	}
	colon := strings.Index(dsn[start:at], ":")
	if colon < 0 {
		return dsn
	}
	return dsn[:start+colon+1] + "********" + dsn[at:]
}

// InitLogger configures the global zap logger.
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
