// Package lock provides per-session mutual exclusion for the scheduling
// critical sections. Local serves a single process; Redis coordinates
// several replicas sharing one database.
package lock

import (
	"context"
	"time"
)

// Release gives the lock back. It is safe to call once.
type Release func()

// Locker acquires an exclusive lock on key. Acquisition that cannot finish
// within the configured wait fails with ErrTimeout, which is a conflict.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// SessionKey is the lock key guarding one session's courts and queue.
func SessionKey(sessionID string) string {
	return "session:" + sessionID
}

func sinceMs(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
