package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/okian/openplay/pkg/logger"
	"github.com/okian/openplay/pkg/metrics"
)

const (
	redisBackend       = "redis"
	defaultRedisTTL    = 10 * time.Second
	defaultRedisWait   = 5 * time.Second
	defaultRedisRetry  = 20 * time.Millisecond
	maxRedisRetryDelay = 200 * time.Millisecond
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock re-acquired by another holder is left alone.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// renewScript extends the lease only while it still holds our token.
const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`

// RedisGateway is the subset of the go-redis client the lock needs.
type RedisGateway interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisOption applies a configuration option to Redis.
type RedisOption func(*Redis)

// WithTTL sets the lock lease. A crashed holder blocks the key for at most
// this long. Live holders renew it every third of the TTL until release.
func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithWait bounds how long Acquire keeps retrying.
func WithWait(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.wait = d
		}
	}
}

// WithRetryInterval sets the first retry delay. It doubles up to 200ms.
func WithRetryInterval(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.retry = d
		}
	}
}

// WithPrefix namespaces lock keys.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithRedisLogger sets the lock logger.
func WithRedisLogger(l logger.Logger) RedisOption {
	return func(r *Redis) {
		if l != nil {
			r.logger = l
		}
	}
}

// Redis is a lease-based distributed lock: SET NX PX with a random token, a
// background renewal while held and a compare-and-delete release.
type Redis struct {
	client RedisGateway
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
	prefix string
	logger logger.Logger
}

// NewRedis creates a Redis lock over client.
func NewRedis(client RedisGateway, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		ttl:    defaultRedisTTL,
		wait:   defaultRedisWait,
		retry:  defaultRedisRetry,
		prefix: "openplay:lock:",
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire retries SET NX with backoff until it wins, ctx ends or the wait
// bound passes.
func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	start := time.Now()
	full := r.prefix + key
	token := uuid.NewString()
	deadline := start.Add(r.wait)
	delay := r.retry

	for {
		ok, err := r.client.SetNX(ctx, full, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			metrics.RecordLockWait(redisBackend, sinceMs(start))
			stop, done := make(chan struct{}), make(chan struct{})
			go r.renew(full, token, stop, done)
			return r.releaser(full, token, stop, done), nil
		}

		if time.Now().Add(delay).After(deadline) {
			metrics.RecordLockConflict(redisBackend)
			return nil, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRedisRetryDelay)
	}
}

// renew keeps the lease alive until stop is closed or the lease turns out to
// belong to someone else.
func (r *Redis) renew(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := max(r.ttl/3, time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		n, err := r.client.Eval(ctx, renewScript, []string{key}, token, r.ttl.Milliseconds()).Int64()
		cancel()
		switch {
		case err != nil:
			r.logger.Warn(ctx, "failed to renew redis lock",
				logger.String("key", key), logger.Error(err))
		case n == 0:
			metrics.RecordLockConflict(redisBackend)
			r.logger.Warn(ctx, "redis lock lease lost", logger.String("key", key))
			return
		}
	}
}

func (r *Redis) releaser(key, token string, stop chan<- struct{}, done <-chan struct{}) Release {
	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := r.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
				r.logger.Warn(ctx, "failed to release redis lock",
					logger.String("key", key), logger.Error(err))
			}
		})
	}
}
