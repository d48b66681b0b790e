// Package queue manages the per-session waiting list. Listing returns arrival
// order; the scheduler applies its own rating order when matching.
package queue

import (
	"context"
	"errors"
	"time"

	repository "github.com/okian/openplay/internal/adapters/repository"
	"github.com/okian/openplay/internal/domain/errs"
	"github.com/okian/openplay/internal/domain/model"
	"github.com/okian/openplay/pkg/logger"
	"github.com/okian/openplay/pkg/metrics"
)

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithClock overrides the time source for JoinedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the queue logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store is the queue component. It needs no session lock: position
// assignment happens inside one atomic storage unit.
type Store struct {
	store  repository.Store
	now    func() time.Time
	logger logger.Logger
}

// New creates a queue Store over the given storage.
func New(store repository.Store, opts ...Option) *Store {
	s := &Store{
		store:  store,
		now:    time.Now,
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Join queues playerID in sessionID at position max+1. Joining twice returns
// the existing entry.
func (s *Store) Join(ctx context.Context, sessionID, playerID string) (model.QueueEntry, error) {
	const op = "queue.join"

	var (
		entry  model.QueueEntry
		joined bool
		length int
	)
	err := s.store.Atomic(ctx, func(ctx context.Context, repos repository.Repositories) error {
		if _, err := ActiveSession(ctx, repos, sessionID); err != nil {
			return err
		}
		if _, err := repos.Players.Get(ctx, playerID); err != nil {
			return errs.Wrap(op, err)
		}

		existing, err := repos.Queue.Get(ctx, sessionID, playerID)
		switch {
		case err == nil:
			entry = existing
			return nil
		case !errors.Is(err, repository.ErrNotFound):
			return errs.Wrap(op, err)
		}

		live, err := repos.Matches.ListBySession(ctx, sessionID, model.LiveStatuses...)
		if err != nil {
			return errs.Wrap(op, err)
		}
		for _, m := range live {
			if m.TeamOf(playerID) != 0 {
				return errs.Newf(op, errs.ErrConflict, "player %s is playing in match %s", playerID, m.ID)
			}
		}

		maxPos, err := repos.Queue.MaxPosition(ctx, sessionID)
		if err != nil {
			return errs.Wrap(op, err)
		}
		entry = model.QueueEntry{
			SessionID: sessionID,
			PlayerID:  playerID,
			Position:  maxPos + 1,
			JoinedAt:  s.now(),
		}
		if err := repos.Queue.Insert(ctx, entry); err != nil {
			return errs.Wrap(op, err)
		}
		joined = true

		entries, err := repos.Queue.List(ctx, sessionID)
		length = len(entries)
		return errs.Wrap(op, err)
	})
	if err != nil {
		metrics.RecordErrorByComponent("queue", errs.KindOf(err))
		return model.QueueEntry{}, err
	}

	if joined {
		metrics.RecordQueueJoin()
		metrics.UpdateQueueLength(sessionID, length)
		s.logger.Debug(ctx, "player joined queue",
			logger.String("session_id", sessionID),
			logger.String("player_id", playerID),
			logger.Int64("position", entry.Position))
	}
	return entry, nil
}

// List returns the session's queue in arrival order. Inactive sessions can
// still be listed; unknown ones cannot.
func (s *Store) List(ctx context.Context, sessionID string) ([]model.QueueEntry, error) {
	const op = "queue.list"
	repos := s.store.Repositories()
	if _, err := repos.Sessions.Get(ctx, sessionID); err != nil {
		return nil, sessionErr(op, err)
	}
	entries, err := repos.Queue.List(ctx, sessionID)
	if err != nil {
		return nil, errs.Wrap(op, err)
	}
	return entries, nil
}

// Remove deletes the given players from the queue. Absent players are
// ignored.
func (s *Store) Remove(ctx context.Context, sessionID string, playerIDs ...string) error {
	const op = "queue.remove"
	var removed, length int
	err := s.store.Atomic(ctx, func(ctx context.Context, repos repository.Repositories) error {
		n, err := repos.Queue.Delete(ctx, sessionID, playerIDs...)
		if err != nil {
			return err
		}
		removed = n
		entries, err := repos.Queue.List(ctx, sessionID)
		length = len(entries)
		return err
	})
	if err != nil {
		return errs.Wrap(op, err)
	}
	for i := 0; i < removed; i++ {
		metrics.RecordQueueLeave()
	}
	metrics.UpdateQueueLength(sessionID, length)
	return nil
}

// ActiveSession loads sessionID through repos and fails with
// errs.ErrInvalidSession when it is missing or inactive.
func ActiveSession(ctx context.Context, repos repository.Repositories, sessionID string) (model.Session, error) {
	const op = "session.require_active"
	session, err := repos.Sessions.Get(ctx, sessionID)
	if err != nil {
		return model.Session{}, sessionErr(op, err)
	}
	if !session.Active {
		return model.Session{}, errs.Newf(op, errs.ErrInvalidSession, "session %s is not active", sessionID)
	}
	return session, nil
}

func sessionErr(op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return errs.WrapKind(op, errs.ErrInvalidSession, err)
	}
	return errs.Wrap(op, err)
}
