package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prophet.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults_Valid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "linear", cfg.Market.Curve)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"

[server]
port = 9000
cors_origins = ["https://prophet.example"]
write_timeout = "15s"

[market]
curve = "exponential"
liquidity = 250.0

[risk]
max_per_claim = 500.0

[review]
provider = "openai"
api_key = "from-file"
`)
	t.Setenv("PROPHET_SERVER_PORT", "9090")
	t.Setenv("PROPHET_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("PROPHET_REDIS_CACHE_TTL", "1m")
	t.Setenv("PROPHET_RISK_MAX_PER_FAMILY", "2000")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.Server.Port, "env overrides file")
	assert.Equal(t, []string{"https://prophet.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout.Duration)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout.Duration, "unset keys keep defaults")
	assert.Equal(t, "exponential", cfg.Market.Curve)
	assert.Equal(t, 250.0, cfg.Market.Liquidity)
	assert.Equal(t, 1.0, cfg.Market.Baseline)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, time.Minute, cfg.Redis.CacheTTL.Duration)
	assert.Equal(t, 500.0, cfg.Risk.MaxPerClaim)
	assert.Equal(t, 2000.0, cfg.Risk.MaxPerFamily)
	assert.Equal(t, "from-file", cfg.Review.APIKey)
	require.NoError(t, cfg.Validate())
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("PROPHET_REVIEW_PROVIDER", "none")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.Review.Provider)
}

func TestLoad_OpenAIKeyFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Review.APIKey)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "[server\nport = 1"))
	assert.Error(t, err)

	t.Setenv("PROPHET_SERVER_PORT", "not-a-number")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"port", func(c *Config) { c.Server.Port = 0 }, "server: port"},
		{"curve", func(c *Config) { c.Market.Curve = "lmsr" }, "unknown curve"},
		{"baseline", func(c *Config) { c.Market.Baseline = 0 }, "baseline"},
		{"slope", func(c *Config) { c.Market.Slope = -1 }, "slope"},
		{"liquidity", func(c *Config) { c.Market.Curve = "exponential"; c.Market.Liquidity = 0 }, "liquidity"},
		{"max price", func(c *Config) { c.Market.MaxPrice = 0.5 }, "max_price"},
		{"risk", func(c *Config) { c.Risk.MaxPerClaim = -1 }, "risk"},
		{"lock without redis", func(c *Config) { c.Redis.DistributedLock = true }, "distributed_lock"},
		{"openai key", func(c *Config) { c.Review.Provider = "openai"; c.Review.APIKey = "" }, "api_key"},
		{"provider", func(c *Config) { c.Review.Provider = "oracle" }, "unknown provider"},
		{"workers", func(c *Config) { c.Review.Workers = 0 }, "workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "error %q should mention %q", err, tt.want)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "warn"
	assert.Equal(t, "WARN", cfg.SlogLevel().String())
	cfg.LogLevel = "bogus"
	assert.Equal(t, "INFO", cfg.SlogLevel().String())
}
