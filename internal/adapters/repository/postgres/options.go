package postgres

import (
	"time"

	"github.com/okian/openplay/pkg/logger"
)

// Default pool and retry settings.
const (
	defaultMaxOpenConns = 25
	defaultConnLifetime = 5 * time.Minute
	defaultRetries      = 5
	defaultRetryBackoff = 10 * time.Millisecond
	defaultPingTimeout  = 5 * time.Second
)

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithMaxOpenConns caps the connection pool.
func WithMaxOpenConns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxOpenConns = n
		}
	}
}

// WithRetries sets how many times a serialization failure is retried before
// it surfaces as a conflict.
func WithRetries(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.retries = n
		}
	}
}

// WithRetryBackoff sets the base backoff between retries. It doubles on each
// attempt.
func WithRetryBackoff(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.backoff = d
		}
	}
}

// WithMigrate applies the embedded schema on Open.
func WithMigrate(migrate bool) Option {
	return func(s *Store) {
		s.migrate = migrate
	}
}

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}
