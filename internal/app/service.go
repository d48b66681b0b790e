// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/okian/openplay/internal/adapters/lock"
	repository "github.com/okian/openplay/internal/adapters/repository"
	"github.com/okian/openplay/internal/domain/engine"
	"github.com/okian/openplay/internal/domain/errs"
	"github.com/okian/openplay/internal/domain/model"
	"github.com/okian/openplay/internal/domain/queue"
	"github.com/okian/openplay/internal/domain/rating"
	"github.com/okian/openplay/internal/domain/scheduler"
	"github.com/okian/openplay/internal/domain/session"
	"github.com/okian/openplay/pkg/logger"
	"github.com/okian/openplay/pkg/metrics"
)

// Defaults used when no option overrides them.
const (
	DefaultMaxLeaderboardLimit = 100
	MaxNameLength              = 64
)

// Service implements the API dependencies for open-play sessions.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	locker    lock.Locker
	queue     *queue.Store
	scheduler *scheduler.Scheduler
	engine    *engine.Engine
	sessions  *session.Manager

	// Configuration
	kFactor             float64
	defaultRating       float64
	swapProbability     float64
	seed                int64
	schedulerOpts       []scheduler.Option
	maxCourts           int
	maxDurationHours    int
	maxLeaderboardLimit int

	now   func() time.Time
	newID func() string

	// State
	started bool

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithKFactor sets the rating model's K.
func WithKFactor(k float64) Option {
	return func(s *Service) {
		if k > 0 {
			s.kFactor = k
		}
	}
}

// WithDefaultRating sets the rating given to newly registered players.
func WithDefaultRating(r float64) Option {
	return func(s *Service) {
		if r > 0 {
			s.defaultRating = r
		}
	}
}

// WithSwapProbability sets the scheduler's 4th/5th swap probability.
func WithSwapProbability(p float64) Option {
	return func(s *Service) {
		s.swapProbability = p
	}
}

// WithSeed seeds the scheduler. Zero keeps a time-based seed.
func WithSeed(seed int64) Option {
	return func(s *Service) {
		s.seed = seed
	}
}

// WithSchedulerOption passes an option straight to the scheduler, e.g.
// scheduler.WithRand in tests.
func WithSchedulerOption(opt scheduler.Option) Option {
	return func(s *Service) {
		s.schedulerOpts = append(s.schedulerOpts, opt)
	}
}

// WithLimits bounds courts and duration for new sessions.
func WithLimits(maxCourts, maxDurationHours int) Option {
	return func(s *Service) {
		if maxCourts > 0 {
			s.maxCourts = maxCourts
		}
		if maxDurationHours > 0 {
			s.maxDurationHours = maxDurationHours
		}
	}
}

// WithMaxLeaderboardLimit bounds the leaderboard page size.
func WithMaxLeaderboardLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxLeaderboardLimit = n
		}
	}
}

// WithClock overrides the time source of every component.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides how ids are produced by every component.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// New wires the engine components over store and locker.
func New(store repository.Store, locker lock.Locker, opts ...Option) *Service {
	s := &Service{
		store:               store,
		locker:              locker,
		kFactor:             rating.DefaultKFactor,
		defaultRating:       model.DefaultRating,
		swapProbability:     scheduler.DefaultSwapProbability,
		maxCourts:           session.DefaultMaxCourts,
		maxDurationHours:    session.DefaultMaxDurationHours,
		maxLeaderboardLimit: DefaultMaxLeaderboardLimit,
		now:                 time.Now,
		newID:               uuid.NewString,
		logger:              logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.queue = queue.New(store,
		queue.WithClock(s.now),
		queue.WithLogger(s.logger.Named("queue")))

	schedOpts := []scheduler.Option{
		scheduler.WithSeed(s.seed),
		scheduler.WithSwapProbability(s.swapProbability),
		scheduler.WithClock(s.now),
		scheduler.WithIDGenerator(s.newID),
		scheduler.WithLogger(s.logger.Named("scheduler")),
	}
	s.scheduler = scheduler.New(store, locker, append(schedOpts, s.schedulerOpts...)...)

	s.engine = engine.New(store, locker, s.scheduler,
		engine.WithRatingModel(rating.New(rating.WithKFactor(s.kFactor))),
		engine.WithClock(s.now),
		engine.WithIDGenerator(s.newID),
		engine.WithLogger(s.logger.Named("engine")))

	s.sessions = session.New(store,
		session.WithLimits(s.maxCourts, s.maxDurationHours),
		session.WithClock(s.now),
		session.WithIDGenerator(s.newID),
		session.WithLogger(s.logger.Named("session")))
	return s
}

// Start marks the service ready.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.started = true
	s.logger.Info(ctx, "openplay service started",
		logger.Float64("k_factor", s.kFactor),
		logger.Float64("swap_probability", s.swapProbability),
		logger.Int("max_courts", s.maxCourts))
	return nil
}

// Stop closes the store. It is safe to call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	if err := s.store.Close(); err != nil && !errors.Is(err, repository.ErrClosed) {
		s.logger.Warn(context.Background(), "close store", logger.Error(err))
	}
	s.started = false
	s.logger.Info(context.Background(), "openplay service stopped")
}

// RegisterPlayer creates a player with the default rating.
func (s *Service) RegisterPlayer(ctx context.Context, name string) (model.Player, error) {
	const op = "service.register_player"
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Player{}, errs.Newf(op, errs.ErrValidation, "name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return model.Player{}, errs.Newf(op, errs.ErrValidation, "name longer than %d characters", MaxNameLength)
	}
	p := model.Player{
		ID:        s.newID(),
		Name:      name,
		Rating:    s.defaultRating,
		CreatedAt: s.now(),
	}
	if err := s.store.Repositories().Players.Create(ctx, p); err != nil {
		return model.Player{}, errs.Wrap(op, err)
	}
	metrics.RecordPlayerRegistered()
	return p, nil
}

// GetPlayer returns a player by id.
func (s *Service) GetPlayer(ctx context.Context, playerID string) (model.Player, error) {
	p, err := s.store.Repositories().Players.Get(ctx, playerID)
	if err != nil {
		return model.Player{}, errs.Wrap("service.get_player", err)
	}
	return p, nil
}

// RatingHistory returns the player's rating changes, oldest first.
func (s *Service) RatingHistory(ctx context.Context, playerID string) ([]model.RatingHistoryEntry, error) {
	const op = "service.rating_history"
	repos := s.store.Repositories()
	if _, err := repos.Players.Get(ctx, playerID); err != nil {
		return nil, errs.Wrap(op, err)
	}
	entries, err := repos.History.ListByPlayer(ctx, playerID)
	if err != nil {
		return nil, errs.Wrap(op, err)
	}
	return entries, nil
}

// JoinQueue appends playerID to the session's queue.
func (s *Service) JoinQueue(ctx context.Context, sessionID, playerID string) (model.QueueEntry, error) {
	return s.queue.Join(ctx, sessionID, playerID)
}

// ListQueue returns the session's queue in arrival order.
func (s *Service) ListQueue(ctx context.Context, sessionID string) ([]model.QueueEntry, error) {
	return s.queue.List(ctx, sessionID)
}

// LeaveQueue removes playerID from the session's queue. Leaving twice is not
// an error.
func (s *Service) LeaveQueue(ctx context.Context, sessionID, playerID string) error {
	return s.queue.Remove(ctx, sessionID, playerID)
}

// GenerateMatches fills the session's free courts.
func (s *Service) GenerateMatches(ctx context.Context, sessionID string) ([]model.Match, error) {
	return s.scheduler.Generate(ctx, sessionID)
}

// StartMatch moves a scheduled match to ongoing.
func (s *Service) StartMatch(ctx context.Context, matchID string) (model.Match, error) {
	return s.scheduler.Start(ctx, matchID)
}

// FinishMatch records the result, updates ratings and backfills the court.
func (s *Service) FinishMatch(ctx context.Context, matchID string, winnerTeam int) (model.Match, error) {
	res, err := s.engine.Finish(ctx, matchID, winnerTeam)
	if err != nil {
		return model.Match{}, err
	}
	return res.Match, nil
}

// GetMatch returns a match by id.
func (s *Service) GetMatch(ctx context.Context, matchID string) (model.Match, error) {
	m, err := s.store.Repositories().Matches.Get(ctx, matchID)
	if err != nil {
		return model.Match{}, errs.Wrap("service.get_match", err)
	}
	return m, nil
}

// ListMatches returns a session's matches, optionally filtered by status.
func (s *Service) ListMatches(ctx context.Context, sessionID string, statuses ...model.MatchStatus) ([]model.Match, error) {
	const op = "service.list_matches"
	repos := s.store.Repositories()
	if _, err := repos.Sessions.Get(ctx, sessionID); err != nil {
		return nil, errs.Wrap(op, err)
	}
	for _, st := range statuses {
		if !st.Valid() {
			return nil, errs.Newf(op, errs.ErrValidation, "unknown status %d", st)
		}
	}
	ms, err := repos.Matches.ListBySession(ctx, sessionID, statuses...)
	if err != nil {
		return nil, errs.Wrap(op, err)
	}
	return ms, nil
}

// StartSession opens a new active session and deactivates the previous one.
func (s *Service) StartSession(ctx context.Context, courts, durationHours int) (model.Session, error) {
	return s.sessions.Start(ctx, courts, durationHours)
}

// ActiveSession returns the active session or errs.ErrNotFound.
func (s *Service) ActiveSession(ctx context.Context) (model.Session, error) {
	return s.sessions.Active(ctx)
}

// EndSession deactivates a session.
func (s *Service) EndSession(ctx context.Context, sessionID string) (model.Session, error) {
	return s.sessions.End(ctx, sessionID)
}

// Leaderboard returns up to limit players by rating desc, then name, then id.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]model.Player, error) {
	const op = "service.leaderboard"
	if limit < 1 || limit > s.maxLeaderboardLimit {
		return nil, errs.Newf(op, errs.ErrValidation, "limit must be in [1, %d], got %d", s.maxLeaderboardLimit, limit)
	}
	players, err := s.store.Repositories().Players.Top(ctx, limit)
	if err != nil {
		return nil, errs.Wrap(op, err)
	}
	return players, nil
}

// MaxLeaderboardLimit returns the largest accepted leaderboard limit.
func (s *Service) MaxLeaderboardLimit() int {
	return s.maxLeaderboardLimit
}

// PlayersSnapshot returns every player in leaderboard order.
func (s *Service) PlayersSnapshot(ctx context.Context) ([]model.Player, error) {
	players, err := s.store.Repositories().Players.List(ctx)
	if err != nil {
		return nil, errs.Wrap("service.players_snapshot", err)
	}
	repository.SortLeaderboard(players)
	return players, nil
}

// MatchesSnapshot returns every match of every session.
func (s *Service) MatchesSnapshot(ctx context.Context) ([]model.Match, error) {
	ms, err := s.store.Repositories().Matches.List(ctx)
	if err != nil {
		return nil, errs.Wrap("service.matches_snapshot", err)
	}
	return ms, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	stats := map[string]any{
		"started":          started,
		"k_factor":         s.kFactor,
		"swap_probability": s.swapProbability,
	}

	repos := s.store.Repositories()
	if players, err := repos.Players.List(ctx); err == nil {
		stats["total_players"] = len(players)
	}
	active, err := repos.Sessions.Active(ctx)
	if err != nil {
		stats["active_session"] = nil
	} else {
		stats["active_session"] = active.ID
		stats["courts"] = active.Courts
		if entries, err := repos.Queue.List(ctx, active.ID); err == nil {
			stats["queue_length"] = len(entries)
			metrics.UpdateQueueLength(active.ID, len(entries))
		}
		if live, err := repos.Matches.CountBySession(ctx, active.ID, model.LiveStatuses...); err == nil {
			stats["live_matches"] = live
			metrics.UpdateCourtsInUse(active.ID, live)
		}
	}

	heap, goroutines := metrics.CollectSystem()
	stats["heap_bytes"] = heap
	stats["goroutines"] = goroutines
	return stats
}
