// Package config loads engine configuration from an optional YAML file with
// environment-variable overrides. Defaults are complete enough to run the
// engine with no file and no environment at all.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the trading engine.
type Config struct {
	Server ServerConfig  `yaml:"server"`
	Store  StoreConfig   `yaml:"store"`
	Feed   FeedConfig    `yaml:"feed"`
	Chain  ChainConfig   `yaml:"chain"`
	Assets []AssetConfig `yaml:"assets"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects the persistence backend. DatabaseURL takes precedence
// over RedisURL; with neither set the engine uses the in-memory store.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
}

// FeedConfig holds price-feed settings.
type FeedConfig struct {
	// OracleURL is the primary quote source ("<url>/prices"). Empty disables
	// the primary source; quotes come from synthesis.
	OracleURL string `yaml:"oracle_url"`
	// Timeout bounds every external feed call.
	Timeout time.Duration `yaml:"timeout"`
	// WindowSeconds is the width of the quote determinism window.
	WindowSeconds int `yaml:"window_seconds"`
	// MaxHistoryPoints caps history requests.
	MaxHistoryPoints int `yaml:"max_history_points"`
}

// ChainConfig holds blockchain collaborator settings.
type ChainConfig struct {
	MiddlewareURL string        `yaml:"middleware_url"`
	Timeout       time.Duration `yaml:"timeout"`
	// DefaultBalanceAE is used when the balance query fails or no middleware
	// is configured.
	DefaultBalanceAE float64 `yaml:"default_balance_ae"`
}

// AssetConfig declares one tradable asset. BasePrice anchors the synthetic
// walk, Volatility is the max fractional move per 5-second window, and
// Precision is the number of decimal places quotes are rounded to.
type AssetConfig struct {
	Symbol     string  `yaml:"symbol"`
	BasePrice  float64 `yaml:"base_price"`
	Volatility float64 `yaml:"volatility"`
	Precision  int32   `yaml:"precision"`
}

// Default returns the built-in configuration: the four launch assets with
// the historical base prices and per-asset volatility/precision.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Feed: FeedConfig{
			Timeout:          5 * time.Second,
			WindowSeconds:    5,
			MaxHistoryPoints: 1000,
		},
		Chain: ChainConfig{
			MiddlewareURL:    "https://mainnet.aeternity.io/mdw",
			Timeout:          10 * time.Second,
			DefaultBalanceAE: 1000,
		},
		Assets: []AssetConfig{
			{Symbol: "AE", BasePrice: 0.03, Volatility: 0.002, Precision: 4},
			{Symbol: "BTC", BasePrice: 68000, Volatility: 0.003, Precision: 2},
			{Symbol: "ETH", BasePrice: 3500, Volatility: 0.0025, Precision: 2},
			{Symbol: "SOL", BasePrice: 150, Volatility: 0.004, Precision: 2},
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Store.RedisURL = v
	}
	if v := os.Getenv("ORACLE_API_URL"); v != "" {
		c.Feed.OracleURL = v
	}
	if v := os.Getenv("MIDDLEWARE_URL"); v != "" {
		c.Chain.MiddlewareURL = v
	}
}

func (c *Config) validate() error {
	if len(c.Assets) == 0 {
		return fmt.Errorf("config: at least one asset must be declared")
	}
	seen := make(map[string]bool, len(c.Assets))
	for _, a := range c.Assets {
		if a.Symbol == "" {
			return fmt.Errorf("config: asset with empty symbol")
		}
		if seen[a.Symbol] {
			return fmt.Errorf("config: duplicate asset %s", a.Symbol)
		}
		seen[a.Symbol] = true
		if a.BasePrice <= 0 {
			return fmt.Errorf("config: asset %s: base_price must be positive", a.Symbol)
		}
		if a.Volatility <= 0 {
			return fmt.Errorf("config: asset %s: volatility must be positive", a.Symbol)
		}
		if a.Precision < 0 {
			return fmt.Errorf("config: asset %s: precision must be non-negative", a.Symbol)
		}
	}
	if c.Feed.WindowSeconds <= 0 {
		return fmt.Errorf("config: feed window_seconds must be positive")
	}
	return nil
}
