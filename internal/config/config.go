// Package config loads process settings from the environment (optionally
// primed from a .env file) and the model catalog from YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds process-level settings.
type Config struct {
	Port        string        `env:"PORT" envDefault:"8080"`
	DatabaseURL string        `env:"DATABASE_URL"`
	RedisURL    string        `env:"REDIS_URL"`
	CacheTTL    time.Duration `env:"CACHE_TTL" envDefault:"30s"`

	MarketDataURL string   `env:"MARKET_DATA_URL"`
	MarketDataKey string   `env:"MARKET_DATA_API_KEY"`
	MarketDataRPM int      `env:"MARKET_DATA_RPM" envDefault:"120"`
	Universe      []string `env:"MARKET_UNIVERSE" envSeparator:","`
	Holidays      []string `env:"MARKET_HOLIDAYS" envSeparator:","`
	Timezone      string   `env:"TIMEZONE" envDefault:"Asia/Shanghai"`

	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"90s"`
	CatalogPath     string        `env:"CATALOG_PATH"`
	JournalPath     string        `env:"JOURNAL_PATH" envDefault:"arena-journal.db"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads .env files (missing files are ignored, and variables already
// set win) and then parses the environment into a Config.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ProviderTimeout <= 0 {
		return nil, fmt.Errorf("parse env: PROVIDER_TIMEOUT must be positive, got %s", cfg.ProviderTimeout)
	}
	return &cfg, nil
}

// Location resolves the market timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SlogLevel maps LOG_LEVEL to a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
