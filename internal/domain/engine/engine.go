// Package engine applies match results to player ratings.
//
// Finishing a match is one critical section under the session lock and one
// atomic storage unit: the FINISHED transition, the four rating updates, the
// four history entries and the backfill of freed courts either all commit or
// none do. The backfill is a deliberate synchronous cascade into the
// scheduler; it is skipped once the session has been deactivated.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/okian/openplay/internal/adapters/lock"
	repository "github.com/okian/openplay/internal/adapters/repository"
	"github.com/okian/openplay/internal/domain/errs"
	"github.com/okian/openplay/internal/domain/model"
	"github.com/okian/openplay/internal/domain/rating"
	"github.com/okian/openplay/pkg/logger"
	"github.com/okian/openplay/pkg/metrics"
)

// Backfiller fills free courts inside an atomic unit the caller holds and
// reports the session load once that unit has committed.
type Backfiller interface {
	GenerateTx(ctx context.Context, repos repository.Repositories, session model.Session) ([]model.Match, error)
	ReportLoad(ctx context.Context, sessionID string)
}

// Result is the outcome of finishing a match.
type Result struct {
	Match model.Match
	// Deltas maps each of the four players to the rating change applied.
	Deltas map[string]float64
	// Backfill lists matches created on the freed courts.
	Backfill []model.Match
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithRatingModel replaces the default K=32 model.
func WithRatingModel(m *rating.Model) Option {
	return func(e *Engine) {
		if m != nil {
			e.model = m
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides how history entry ids are produced.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Engine is the rating engine.
type Engine struct {
	store    repository.Store
	locker   lock.Locker
	backfill Backfiller
	model    *rating.Model
	now      func() time.Time
	newID    func() string
	logger   logger.Logger
}

// New creates an Engine.
func New(store repository.Store, locker lock.Locker, backfill Backfiller, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		locker:   locker,
		backfill: backfill,
		model:    rating.New(),
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Finish records winnerTeam for matchID, applies the rating change and
// backfills the session's free courts.
func (e *Engine) Finish(ctx context.Context, matchID string, winnerTeam int) (Result, error) {
	const op = "engine.finish"
	start := time.Now()

	current, err := e.store.Repositories().Matches.Get(ctx, matchID)
	if err != nil {
		return Result{}, e.fail(op, err)
	}
	if err := model.ValidateWinner(winnerTeam); err != nil {
		return Result{}, e.fail(op, err)
	}
	if current.Status.Terminal() {
		return Result{}, e.fail(op, errs.Newf(op, errs.ErrInvalidTransition, "match %s is already %s", matchID, current.Status))
	}

	release, err := e.locker.Acquire(ctx, lock.SessionKey(current.SessionID))
	if err != nil {
		return Result{}, e.fail(op, err)
	}
	defer release()

	var res Result
	err = e.store.Atomic(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		res, err = e.finishTx(ctx, repos, matchID, winnerTeam)
		return err
	})
	if err != nil {
		return Result{}, e.fail(op, err)
	}

	e.backfill.ReportLoad(ctx, res.Match.SessionID)
	metrics.RecordMatchFinished()
	metrics.RecordMatchesGenerated(len(res.Backfill), true)
	metrics.RecordFinishLatency(float64(time.Since(start).Microseconds()) / 1000)
	for _, d := range res.Deltas {
		metrics.RecordRatingDelta(d)
	}
	e.logger.Info(ctx, "match finished",
		logger.String("match_id", matchID),
		logger.Int("winner_team", winnerTeam),
		logger.Float64("team1_delta", res.Deltas[res.Match.Team1[0]]),
		logger.Int("backfilled", len(res.Backfill)))
	return res, nil
}

func (e *Engine) finishTx(ctx context.Context, repos repository.Repositories, matchID string, winnerTeam int) (Result, error) {
	// Re-read under the lock: another finish may have won the race.
	m, err := repos.Matches.Get(ctx, matchID)
	if err != nil {
		return Result{}, err
	}
	ids := m.Players()
	players, err := repos.Players.GetMany(ctx, ids)
	if err != nil {
		return Result{}, err
	}

	now := e.now()
	if err := m.Finish(winnerTeam, now); err != nil {
		return Result{}, err
	}
	outcome, err := e.model.Apply(
		[2]float64{players[m.Team1[0]].Rating, players[m.Team1[1]].Rating},
		[2]float64{players[m.Team2[0]].Rating, players[m.Team2[1]].Rating},
		winnerTeam)
	if err != nil {
		return Result{}, err
	}

	if err := repos.Matches.Update(ctx, m); err != nil {
		return Result{}, err
	}

	deltas := make(map[string]float64, len(ids))
	history := make([]model.RatingHistoryEntry, 0, len(ids))
	for _, id := range ids {
		delta := outcome.For(m.TeamOf(id))
		next := players[id].Rating + delta
		if err := repos.Players.UpdateRating(ctx, id, next); err != nil {
			return Result{}, err
		}
		deltas[id] = delta
		history = append(history, model.RatingHistoryEntry{
			ID:        e.newID(),
			PlayerID:  id,
			MatchID:   m.ID,
			Delta:     delta,
			Rating:    next,
			CreatedAt: now,
		})
	}
	if err := repos.History.Append(ctx, history...); err != nil {
		return Result{}, err
	}

	res := Result{Match: m, Deltas: deltas}
	session, err := repos.Sessions.Get(ctx, m.SessionID)
	if err != nil {
		return Result{}, err
	}
	if !session.Active {
		e.logger.Debug(ctx, "session inactive, skipping backfill", logger.String("session_id", session.ID))
		return res, nil
	}
	res.Backfill, err = e.backfill.GenerateTx(ctx, repos, session)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (e *Engine) fail(op string, err error) error {
	metrics.RecordErrorByComponent("engine", errs.KindOf(err))
	var kindErr *errs.Error
	if errors.As(err, &kindErr) && kindErr.Op == op {
		return err
	}
	return errs.Wrap(op, err)
}
