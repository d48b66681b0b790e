package lock

import (
	"context"
	"sync"
	"time"

	"github.com/okian/openplay/pkg/metrics"
)

const (
	localBackend     = "local"
	defaultLocalWait = 5 * time.Second
)

// LocalOption applies a configuration option to Local.
type LocalOption func(*Local)

// WithLocalWait bounds how long Acquire waits. Zero waits until ctx ends.
func WithLocalWait(d time.Duration) LocalOption {
	return func(l *Local) {
		if d >= 0 {
			l.wait = d
		}
	}
}

type slot struct {
	ch   chan struct{}
	refs int
}

// Local is an in-process keyed lock. Slots are created on demand and freed
// once nobody holds or waits for them.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
	wait  time.Duration
}

// NewLocal creates a Local lock.
func NewLocal(opts ...LocalOption) *Local {
	l := &Local{slots: make(map[string]*slot), wait: defaultLocalWait}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until key is free, ctx ends or the wait bound passes.
func (l *Local) Acquire(ctx context.Context, key string) (Release, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	start := time.Now()
	sl := l.ref(key)

	var timeout <-chan time.Time
	if l.wait > 0 {
		t := time.NewTimer(l.wait)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case sl.ch <- struct{}{}:
		metrics.RecordLockWait(localBackend, sinceMs(start))
		var once sync.Once
		return func() {
			once.Do(func() {
				<-sl.ch
				l.unref(key, sl)
			})
		}, nil
	case <-ctx.Done():
		l.unref(key, sl)
		return nil, ctx.Err()
	case <-timeout:
		l.unref(key, sl)
		metrics.RecordLockConflict(localBackend)
		return nil, ErrTimeout
	}
}

func (l *Local) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl, ok := l.slots[key]
	if !ok {
		sl = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = sl
	}
	sl.refs++
	return sl
}

func (l *Local) unref(key string, sl *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(l.slots, key)
	}
}

// Len reports how many keys are currently held or awaited.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
