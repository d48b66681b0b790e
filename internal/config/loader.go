package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment conventions.
const (
	EnvPrefix     = "OPENPLAY_"
	EnvConfigFile = "OPENPLAY_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New)
//  2. file (YAML) if OPENPLAY_CONFIG is set
//  3. env (prefix OPENPLAY_)
func Load(_ context.Context) (*Config, error) {
	base := New()
	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// OPENPLAY_LOCK_WAIT_MS -> lock_wait_ms. Keys are flat, so underscores
	// are kept to match the koanf tags.
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	switch {
	case c.Addr == "":
		return invalid("addr must not be empty")
	case c.Store != StoreMemory && c.Store != StorePostgres:
		return invalid("unknown store %q", c.Store)
	case c.Store == StorePostgres && c.DatabaseURL == "":
		return invalid("database_url is required for the postgres store")
	case c.Lock != LockLocal && c.Lock != LockRedis:
		return invalid("unknown lock %q", c.Lock)
	case c.Lock == LockRedis && c.RedisAddr == "":
		return invalid("redis_addr is required for the redis lock")
	case c.LogFormat != "text" && c.LogFormat != "json":
		return invalid("unknown log_format %q", c.LogFormat)
	case c.SwapProbability < 0 || c.SwapProbability > 1:
		return invalid("swap_probability must be in [0,1], got %v", c.SwapProbability)
	case c.KFactor <= 0:
		return invalid("k_factor must be positive, got %v", c.KFactor)
	case c.DefaultRating <= 0:
		return invalid("default_rating must be positive, got %v", c.DefaultRating)
	case c.MaxCourts < 1 || c.MaxDurationHours < 1 || c.MaxLeaderboardLimit < 1:
		return invalid("max_courts, max_duration_hours and max_leaderboard_limit must be positive")
	case c.LockWaitMS < 0 || c.LockTTLMS <= 0:
		return invalid("lock_ttl_ms must be positive and lock_wait_ms not negative")
	case c.ConflictRetries < 0:
		return invalid("conflict_retries must not be negative")
	}
	return nil
}
