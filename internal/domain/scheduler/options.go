package scheduler

import (
	"math/rand"
	"time"

	"github.com/okian/openplay/pkg/logger"
)

// DefaultSwapProbability is the chance of swapping a group's 4th player with
// the next one in line.
const DefaultSwapProbability = 0.2

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithRand injects the random source used for the swap heuristic.
func WithRand(rng *rand.Rand) Option {
	return func(s *Scheduler) {
		if rng != nil {
			s.rng = rng
		}
	}
}

// WithSeed seeds a private random source. Zero keeps the time-based seed.
func WithSeed(seed int64) Option {
	return func(s *Scheduler) {
		if seed != 0 {
			s.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // not security sensitive
		}
	}
}

// WithSwapProbability sets the swap probability, clamped to [0, 1].
func WithSwapProbability(p float64) Option {
	return func(s *Scheduler) {
		s.swapProbability = min(max(p, 0), 1)
	}
}

// WithClock overrides the time source for match timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides how match ids are produced.
func WithIDGenerator(newID func() string) Option {
	return func(s *Scheduler) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}
