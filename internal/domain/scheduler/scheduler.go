// Package scheduler turns waiting players into doubles matches on free
// courts.
//
// Matching order is rating ascending (stable, so ties keep arrival order),
// which groups players of similar skill. Before each group of four, when a
// fifth player exists, the group's 4th player is swapped with the next one
// with a configurable probability. The swap only adds variety between
// repeated generations; it is not a fairness guarantee.
package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/openplay/internal/adapters/lock"
	repository "github.com/okian/openplay/internal/adapters/repository"
	"github.com/okian/openplay/internal/domain/errs"
	"github.com/okian/openplay/internal/domain/model"
	"github.com/okian/openplay/internal/domain/queue"
	"github.com/okian/openplay/pkg/logger"
	"github.com/okian/openplay/pkg/metrics"
)

// Scheduler allocates courts and forms matches. Generate and Start run under
// the per-session lock and inside one atomic storage unit.
type Scheduler struct {
	store  repository.Store
	locker lock.Locker

	rngMu           sync.Mutex
	rng             *rand.Rand
	swapProbability float64

	now    func() time.Time
	newID  func() string
	logger logger.Logger
}

// New creates a Scheduler.
func New(store repository.Store, locker lock.Locker, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:           store,
		locker:          locker,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // not security sensitive
		swapProbability: DefaultSwapProbability,
		now:             time.Now,
		newID:           uuid.NewString,
		logger:          logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate fills the session's free courts from its queue. Having no free
// court or fewer than four waiting players is a successful empty result.
func (s *Scheduler) Generate(ctx context.Context, sessionID string) ([]model.Match, error) {
	const op = "scheduler.generate"
	start := time.Now()

	release, err := s.locker.Acquire(ctx, lock.SessionKey(sessionID))
	if err != nil {
		metrics.RecordErrorByComponent("scheduler", errs.KindOf(err))
		return nil, errs.Wrap(op, err)
	}
	defer release()

	var created []model.Match
	err = s.store.Atomic(ctx, func(ctx context.Context, repos repository.Repositories) error {
		session, err := queue.ActiveSession(ctx, repos, sessionID)
		if err != nil {
			return err
		}
		created, err = s.GenerateTx(ctx, repos, session)
		return err
	})
	if err != nil {
		metrics.RecordErrorByComponent("scheduler", errs.KindOf(err))
		return nil, errs.Wrap(op, err)
	}

	s.ReportLoad(ctx, sessionID)
	metrics.RecordGenerateLatency(float64(time.Since(start).Microseconds()) / 1000)
	metrics.RecordMatchesGenerated(len(created), false)
	s.logger.Info(ctx, "matches generated",
		logger.String("session_id", sessionID),
		logger.Int("created", len(created)),
		logger.Duration("took", time.Since(start)))
	return created, nil
}

// GenerateTx runs one generation pass with repositories bound to an atomic
// unit the caller already holds, under the session lock the caller already
// holds. The rating engine uses it to backfill freed courts in the same
// critical section as the finish. It publishes no gauges: the unit may still
// roll back, so callers use ReportLoad once it has committed.
func (s *Scheduler) GenerateTx(ctx context.Context, repos repository.Repositories, session model.Session) ([]model.Match, error) {
	const op = "scheduler.generate_tx"

	live, err := repos.Matches.ListBySession(ctx, session.ID, model.LiveStatuses...)
	if err != nil {
		return nil, errs.Wrap(op, err)
	}
	available := max(0, session.Courts-len(live))
	if available == 0 {
		return nil, nil
	}

	entries, err := repos.Queue.List(ctx, session.ID)
	if err != nil {
		return nil, errs.Wrap(op, err)
	}
	if len(entries) < model.PlayersPerMatch {
		return nil, nil
	}

	order, err := s.matchingOrder(ctx, repos, entries)
	if err != nil {
		return nil, errs.Wrap(op, err)
	}
	courts := FreeCourts(session.Courts, live, available)

	now := s.now()
	var created []model.Match
	for i := 0; len(created) < available && i+model.PlayersPerMatch <= len(order); i += model.PlayersPerMatch {
		if i+model.PlayersPerMatch < len(order) && s.roll() {
			order[i+3], order[i+4] = order[i+4], order[i+3]
		}
		var group [model.PlayersPerMatch]string
		copy(group[:], order[i:i+model.PlayersPerMatch])

		m := model.NewMatch(s.newID(), session.ID, courts[len(created)], group, now)
		if err := m.Validate(); err != nil {
			return nil, errs.Wrap(op, err)
		}
		if err := repos.Matches.Create(ctx, m); err != nil {
			return nil, errs.Wrap(op, err)
		}
		if _, err := repos.Queue.Delete(ctx, session.ID, group[:]...); err != nil {
			return nil, errs.Wrap(op, err)
		}
		created = append(created, m)
	}
	return created, nil
}

// ReportLoad publishes the committed court and queue load of a session. It
// must run after the atomic unit that changed them has committed and before
// the session lock is released.
func (s *Scheduler) ReportLoad(ctx context.Context, sessionID string) {
	repos := s.store.Repositories()
	live, err := repos.Matches.CountBySession(ctx, sessionID, model.LiveStatuses...)
	if err != nil {
		s.logger.Warn(ctx, "load report skipped", logger.String("session_id", sessionID), logger.Error(err))
		return
	}
	entries, err := repos.Queue.List(ctx, sessionID)
	if err != nil {
		s.logger.Warn(ctx, "load report skipped", logger.String("session_id", sessionID), logger.Error(err))
		return
	}
	metrics.UpdateCourtsInUse(sessionID, live)
	metrics.UpdateQueueLength(sessionID, len(entries))
}

// matchingOrder returns the queued player ids sorted by rating ascending.
// The sort is stable over arrival order.
func (s *Scheduler) matchingOrder(ctx context.Context, repos repository.Repositories, entries []model.QueueEntry) ([]string, error) {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.PlayerID
	}
	players, err := repos.Players.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(ids, func(i, j int) bool {
		return players[ids[i]].Rating < players[ids[j]].Rating
	})
	return ids, nil
}

func (s *Scheduler) roll() bool {
	if s.swapProbability <= 0 {
		return false
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64() < s.swapProbability
}

// FreeCourts returns up to n of the lowest court numbers in [1, capacity]
// not held by a live match.
func FreeCourts(capacity int, live []model.Match, n int) []int {
	used := make(map[int]struct{}, len(live))
	for _, m := range live {
		if m.Status.Live() {
			used[m.Court] = struct{}{}
		}
	}
	free := make([]int, 0, n)
	for c := 1; c <= capacity && len(free) < n; c++ {
		if _, taken := used[c]; !taken {
			free = append(free, c)
		}
	}
	return free
}

// Start moves a SCHEDULED match to ONGOING.
func (s *Scheduler) Start(ctx context.Context, matchID string) (model.Match, error) {
	const op = "scheduler.start"

	current, err := s.store.Repositories().Matches.Get(ctx, matchID)
	if err != nil {
		return model.Match{}, errs.Wrap(op, err)
	}

	release, err := s.locker.Acquire(ctx, lock.SessionKey(current.SessionID))
	if err != nil {
		return model.Match{}, errs.Wrap(op, err)
	}
	defer release()

	var started model.Match
	err = s.store.Atomic(ctx, func(ctx context.Context, repos repository.Repositories) error {
		m, err := repos.Matches.Get(ctx, matchID)
		if err != nil {
			return err
		}
		if err := m.Start(s.now()); err != nil {
			return err
		}
		if err := repos.Matches.Update(ctx, m); err != nil {
			return err
		}
		started = m
		return nil
	})
	if err != nil {
		metrics.RecordErrorByComponent("scheduler", errs.KindOf(err))
		if errors.Is(err, errs.ErrInvalidTransition) {
			return model.Match{}, err
		}
		return model.Match{}, errs.Wrap(op, err)
	}

	metrics.RecordMatchStarted()
	s.logger.Info(ctx, "match started",
		logger.String("match_id", matchID),
		logger.Int("court", started.Court))
	return started, nil
}
