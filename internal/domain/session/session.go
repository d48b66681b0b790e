// Package session owns session lifecycle. Creating a session deactivates
// every other one, so at most one session is active at a time.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	repository "github.com/okian/openplay/internal/adapters/repository"
	"github.com/okian/openplay/internal/domain/errs"
	"github.com/okian/openplay/internal/domain/model"
	"github.com/okian/openplay/pkg/logger"
	"github.com/okian/openplay/pkg/metrics"
)

// Bounds accepted by Start unless overridden.
const (
	DefaultMaxCourts        = 20
	DefaultMaxDurationHours = 6
)

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithLimits overrides the upper bounds for courts and duration.
func WithLimits(maxCourts, maxDurationHours int) Option {
	return func(m *Manager) {
		if maxCourts > 0 {
			m.maxCourts = maxCourts
		}
		if maxDurationHours > 0 {
			m.maxHours = maxDurationHours
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator overrides how session ids are produced.
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) {
		if newID != nil {
			m.newID = newID
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager is the session manager.
type Manager struct {
	store     repository.Store
	maxCourts int
	maxHours  int
	now       func() time.Time
	newID     func() string
	logger    logger.Logger
}

// New creates a Manager.
func New(store repository.Store, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		maxCourts: DefaultMaxCourts,
		maxHours:  DefaultMaxDurationHours,
		now:       time.Now,
		newID:     uuid.NewString,
		logger:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start opens a new active session running from now for durationHours.
// Every previously active session is deactivated in the same atomic unit.
func (m *Manager) Start(ctx context.Context, courts, durationHours int) (model.Session, error) {
	const op = "session.start"
	if courts < 1 || courts > m.maxCourts {
		return model.Session{}, errs.Newf(op, errs.ErrValidation, "courts must be in [1,%d], got %d", m.maxCourts, courts)
	}
	if durationHours < 1 || durationHours > m.maxHours {
		return model.Session{}, errs.Newf(op, errs.ErrValidation, "duration must be in [1,%d] hours, got %d", m.maxHours, durationHours)
	}

	now := m.now()
	s := model.Session{
		ID:        m.newID(),
		StartsAt:  now,
		EndsAt:    now.Add(time.Duration(durationHours) * time.Hour),
		Courts:    courts,
		Active:    true,
		CreatedAt: now,
	}

	var deactivated int
	err := m.store.Atomic(ctx, func(ctx context.Context, repos repository.Repositories) error {
		n, err := repos.Sessions.DeactivateAll(ctx)
		if err != nil {
			return err
		}
		deactivated = n
		return repos.Sessions.Create(ctx, s)
	})
	if err != nil {
		metrics.RecordErrorByComponent("session", errs.KindOf(err))
		return model.Session{}, errs.Wrap(op, err)
	}

	metrics.RecordSessionStarted()
	m.logger.Info(ctx, "session started",
		logger.String("session_id", s.ID),
		logger.Int("courts", courts),
		logger.Int("duration_hours", durationHours),
		logger.Int("deactivated", deactivated))
	return s, nil
}

// Active returns the most recently created active session, or
// errs.ErrNotFound when there is none.
func (m *Manager) Active(ctx context.Context) (model.Session, error) {
	s, err := m.store.Repositories().Sessions.Active(ctx)
	if err != nil {
		return model.Session{}, errs.Wrap("session.active", err)
	}
	return s, nil
}

// Get returns a session by id.
func (m *Manager) Get(ctx context.Context, sessionID string) (model.Session, error) {
	s, err := m.store.Repositories().Sessions.Get(ctx, sessionID)
	if err != nil {
		return model.Session{}, errs.Wrap("session.get", err)
	}
	return s, nil
}

// End deactivates a session. Ending an inactive session is a no-op. Live
// matches keep running and can still be finished; they are not backfilled.
func (m *Manager) End(ctx context.Context, sessionID string) (model.Session, error) {
	const op = "session.end"
	var (
		ended   model.Session
		changed bool
	)
	err := m.store.Atomic(ctx, func(ctx context.Context, repos repository.Repositories) error {
		s, err := repos.Sessions.Get(ctx, sessionID)
		if err != nil {
			return err
		}
		if s.Active {
			if err := repos.Sessions.SetActive(ctx, sessionID, false); err != nil {
				return err
			}
			s.Active = false
			changed = true
		}
		ended = s
		return nil
	})
	if err != nil {
		return model.Session{}, errs.Wrap(op, err)
	}
	if changed {
		metrics.RecordSessionEnded()
		m.logger.Info(ctx, "session ended", logger.String("session_id", sessionID))
	}
	return ended, nil
}
