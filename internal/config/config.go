// Package config loads the market engine configuration: built-in defaults,
// then an optional TOML file, then PROPHET_* environment variables (a .env
// file in the working directory is honoured).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override, e.g. PROPHET_SERVER_PORT.
const EnvPrefix = "PROPHET_"

// Config is the top-level configuration.
type Config struct {
	LogLevel string         `toml:"log_level" env:"LOG_LEVEL"`
	Server   ServerConfig   `toml:"server" envPrefix:"SERVER_"`
	Database DatabaseConfig `toml:"database" envPrefix:"DATABASE_"`
	Redis    RedisConfig    `toml:"redis" envPrefix:"REDIS_"`
	Market   MarketConfig   `toml:"market" envPrefix:"MARKET_"`
	Risk     RiskConfig     `toml:"risk" envPrefix:"RISK_"`
	Review   ReviewConfig   `toml:"review" envPrefix:"REVIEW_"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port int `toml:"port" env:"PORT"`
	// APIKey guards deposits and review callbacks. Empty disables those
	// endpoints.
	APIKey          string   `toml:"api_key" env:"API_KEY"`
	CORSOrigins     []string `toml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
	ReadTimeout     Duration `toml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    Duration `toml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig selects PostgreSQL. An empty DSN means the in-memory store.
type DatabaseConfig struct {
	DSN           string `toml:"dsn" env:"DSN"`
	MaxConns      int32  `toml:"max_conns" env:"MAX_CONNS"`
	RunMigrations bool   `toml:"run_migrations" env:"RUN_MIGRATIONS"`
}

// RedisConfig enables the read-through cache and, optionally, the
// distributed market lock. An empty URL disables Redis.
type RedisConfig struct {
	URL             string   `toml:"url" env:"URL"`
	CacheTTL        Duration `toml:"cache_ttl" env:"CACHE_TTL"`
	DistributedLock bool     `toml:"distributed_lock" env:"DISTRIBUTED_LOCK"`
	LockTTL         Duration `toml:"lock_ttl" env:"LOCK_TTL"`
}

// MarketConfig selects the price curve.
type MarketConfig struct {
	Curve      string  `toml:"curve" env:"CURVE"` // linear | exponential
	Baseline   float64 `toml:"baseline" env:"BASELINE"`
	Slope      float64 `toml:"slope" env:"SLOPE"`
	Liquidity  float64 `toml:"liquidity" env:"LIQUIDITY"`
	MaxPrice   float64 `toml:"max_price" env:"MAX_PRICE"` // 0 = uncapped
	MaxRetries int     `toml:"max_retries" env:"MAX_RETRIES"`
}

// RiskConfig caps cost basis per wallet. Zero disables a limit.
type RiskConfig struct {
	MaxPerClaim  float64 `toml:"max_per_claim" env:"MAX_PER_CLAIM"`
	MaxPerFamily float64 `toml:"max_per_family" env:"MAX_PER_FAMILY"`
}

// ReviewConfig configures the AI reviewer and its worker pool.
type ReviewConfig struct {
	Provider      string   `toml:"provider" env:"PROVIDER"` // heuristic | openai | none
	Model         string   `toml:"model" env:"MODEL"`
	APIKey        string   `toml:"api_key" env:"API_KEY"`
	BaseURL       string   `toml:"base_url" env:"BASE_URL"`
	Workers       int      `toml:"workers" env:"WORKERS"`
	QueueSize     int      `toml:"queue_size" env:"QUEUE_SIZE"`
	RatePerSecond float64  `toml:"rate_per_second" env:"RATE_PER_SECOND"`
	Burst         int      `toml:"burst" env:"BURST"`
	Timeout       Duration `toml:"timeout" env:"TIMEOUT"`
}

// Duration wraps time.Duration so TOML and env values can be written as
// "5m" or "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a configuration that runs fully in memory.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Port:            8080,
			CORSOrigins:     []string{"*"},
			ReadTimeout:     Duration{10 * time.Second},
			WriteTimeout:    Duration{10 * time.Second},
			ShutdownTimeout: Duration{5 * time.Second},
		},
		Database: DatabaseConfig{
			MaxConns:      10,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			CacheTTL: Duration{30 * time.Second},
			LockTTL:  Duration{10 * time.Second},
		},
		Market: MarketConfig{
			Curve:      "linear",
			Baseline:   1,
			Slope:      0.01,
			Liquidity:  100,
			MaxRetries: 3,
		},
		Review: ReviewConfig{
			Provider:      "heuristic",
			Workers:       2,
			QueueSize:     256,
			RatePerSecond: 2,
			Burst:         2,
			Timeout:       Duration{45 * time.Second},
		},
	}
}

// Load merges the TOML file at path (skipped when path is empty) over
// Defaults and applies environment overrides. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// Missing .env is fine.
	_ = godotenv.Load()

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Review.APIKey == "" {
		cfg.Review.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return &cfg, nil
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, "server: port must be between 1 and 65535")
	}
	if c.Database.MaxConns < 1 {
		errs = append(errs, "database: max_conns must be >= 1")
	}
	if c.Redis.DistributedLock && c.Redis.URL == "" {
		errs = append(errs, "redis: distributed_lock requires url")
	}

	switch c.Market.Curve {
	case "linear":
		if c.Market.Slope < 0 {
			errs = append(errs, "market: slope must not be negative")
		}
	case "exponential":
		if c.Market.Liquidity <= 0 {
			errs = append(errs, "market: liquidity must be > 0 for the exponential curve")
		}
	default:
		errs = append(errs, fmt.Sprintf("market: unknown curve %q (valid: linear, exponential)", c.Market.Curve))
	}
	if c.Market.Baseline <= 0 {
		errs = append(errs, "market: baseline must be > 0")
	}
	if c.Market.MaxPrice != 0 && c.Market.MaxPrice < c.Market.Baseline {
		errs = append(errs, "market: max_price must be 0 or >= baseline")
	}
	if c.Market.MaxRetries < 1 {
		errs = append(errs, "market: max_retries must be >= 1")
	}

	if c.Risk.MaxPerClaim < 0 || c.Risk.MaxPerFamily < 0 {
		errs = append(errs, "risk: limits must not be negative")
	}

	switch c.Review.Provider {
	case "none", "heuristic":
	case "openai":
		if c.Review.APIKey == "" {
			errs = append(errs, "review: api_key (or OPENAI_API_KEY) is required for provider openai")
		}
	default:
		errs = append(errs, fmt.Sprintf("review: unknown provider %q (valid: heuristic, openai, none)", c.Review.Provider))
	}
	if c.Review.Provider != "none" && c.Review.Workers < 1 {
		errs = append(errs, "review: workers must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// SlogLevel maps LogLevel to a slog.Level. Unknown values map to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
