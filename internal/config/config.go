// Package config loads the YAML configuration file and applies environment
// variable overrides.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the market data engine.
type Config struct {
	Storage   Storage   `yaml:"storage"`
	Server    Server    `yaml:"server"`
	Providers Providers `yaml:"providers"`
	Sync      Sync      `yaml:"sync"`
	Logging   Logging   `yaml:"logging"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Providers controls upstream adapter behaviour and ordering. Orderings are
// lists of adapter names; unknown names are ignored at wiring time.
type Providers struct {
	TimeoutSeconds  int      `yaml:"timeout_seconds"`
	MaxRetries      int      `yaml:"max_retries"`
	RetryBaseDelay  float64  `yaml:"retry_base_delay_seconds"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min"`
	QuoteOrder      []string `yaml:"quote_order"`
	BarOrderSmall   []string `yaml:"bar_order_small"`
	BarOrderLarge   []string `yaml:"bar_order_large"`
	IntradayOrder   []string `yaml:"intraday_order"`
	IndexOrder      []string `yaml:"index_order"`
}

// Sync controls background synchronization.
type Sync struct {
	Workers             int     `yaml:"workers"`
	BackfillPageDays    int     `yaml:"backfill_page_days"`
	BackfillMaxIter     int     `yaml:"backfill_max_iterations"`
	BackfillDelaySecond float64 `yaml:"backfill_delay_seconds"`
	MinDataDays         int     `yaml:"min_data_days"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the built-in configuration used when no file is present.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/stock_data.db",
		},
		Server: Server{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Providers: Providers{
			TimeoutSeconds:  15,
			MaxRetries:      3,
			RetryBaseDelay:  2.0,
			RateLimitPerMin: 60,
			QuoteOrder:      []string{"sina", "tencent", "eastmoney"},
			BarOrderSmall:   []string{"tencent", "eastmoney", "sina"},
			BarOrderLarge:   []string{"eastmoney", "tencent", "sina"},
			IntradayOrder:   []string{"eastmoney", "tencent"},
			IndexOrder:      []string{"sina", "tencent", "eastmoney", "yahoo"},
		},
		Sync: Sync{
			Workers:             2,
			BackfillPageDays:    640,
			BackfillMaxIter:     10,
			BackfillDelaySecond: 1.0,
			MinDataDays:         60,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML configuration file at the given path, parses it over
// the defaults, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// RequestTimeout returns the per-upstream-call timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Providers.TimeoutSeconds) * time.Second
}

// RetryBaseDelay returns the initial retry backoff as a duration.
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Providers.RetryBaseDelay * float64(time.Second))
}

// BackfillDelay returns the pause between backfill pages as a duration.
func (c *Config) BackfillDelay() time.Duration {
	return time.Duration(c.Sync.BackfillDelaySecond * float64(time.Second))
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MARKETD_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("MARKETD_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("MARKETD_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
