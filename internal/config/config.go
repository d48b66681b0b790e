// Package config defines service configuration and its koanf loader.
package config

import "time"

// Store and lock backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	LockLocal     = "local"
	LockRedis     = "redis"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Store selects the storage backend: memory or postgres.
	Store string `koanf:"store"`
	// DatabaseURL is the lib/pq connection string for the postgres store.
	DatabaseURL    string `koanf:"database_url"`
	DBMaxOpenConns int    `koanf:"db_max_open_conns"`
	// DBMigrate applies the embedded schema at startup.
	DBMigrate bool `koanf:"db_migrate"`
	// ConflictRetries bounds retries of serialization failures.
	ConflictRetries int `koanf:"conflict_retries"`

	// Lock selects the session lock backend: local or redis.
	Lock          string `koanf:"lock"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	// LockTTLMS is the redis lease length.
	LockTTLMS int `koanf:"lock_ttl_ms"`
	// LockWaitMS bounds how long an operation waits for a session lock.
	LockWaitMS int `koanf:"lock_wait_ms"`

	// KFactor is the rating model's maximum swing per match.
	KFactor float64 `koanf:"k_factor"`
	// DefaultRating is assigned to new players.
	DefaultRating float64 `koanf:"default_rating"`
	// SwapProbability drives the scheduler's 4th/5th swap.
	SwapProbability float64 `koanf:"swap_probability"`
	// RandomSeed seeds the scheduler; 0 means time-based.
	RandomSeed int64 `koanf:"random_seed"`

	MaxCourts           int `koanf:"max_courts"`
	MaxDurationHours    int `koanf:"max_duration_hours"`
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		Store:               StoreMemory,
		DBMaxOpenConns:      25,
		DBMigrate:           true,
		ConflictRetries:     5,
		Lock:                LockLocal,
		RedisAddr:           "localhost:6379",
		LockTTLMS:           10_000,
		LockWaitMS:          5_000,
		KFactor:             32,
		DefaultRating:       1200,
		SwapProbability:     0.2,
		MaxCourts:           20,
		MaxDurationHours:    6,
		MaxLeaderboardLimit: 100,
	}
}

// LockTTL returns LockTTLMS as a duration.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLMS) * time.Millisecond
}

// LockWait returns LockWaitMS as a duration.
func (c *Config) LockWait() time.Duration {
	return time.Duration(c.LockWaitMS) * time.Millisecond
}
