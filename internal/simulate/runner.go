// Package simulate drives a running openplay service through a full session
// over HTTP and verifies its invariants: no court is double-booked and every
// finished match moved ratings by a zero-sum amount.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/openplay/pkg/logger"
)

// Runner configuration constants.
const (
	PercentageMultiplier = 100
	conflictBackoff      = 25 * time.Millisecond
)

// Runner executes a simulation against one service.
type Runner struct {
	cfg    *Config
	client *HTTPClient
	log    logger.Logger

	mu    sync.Mutex
	rng   *rand.Rand
	stats Stats
}

// NewRunner creates a Runner. Zero-valued config fields get defaults.
func NewRunner(cfg *Config, log logger.Logger) *Runner {
	c := *cfg
	if c.Players < 4 {
		c.Players = 4
	}
	if c.Courts < 1 {
		c.Courts = 1
	}
	if c.DurationHours < 1 {
		c.DurationHours = 1
	}
	if c.Rounds < 1 {
		c.Rounds = c.Players
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	seed := c.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{
		cfg:    &c,
		client: NewHTTPClient(c.BaseURL, c.Timeout),
		log:    log,
		rng:    rand.New(rand.NewSource(seed)), //nolint:gosec // not security sensitive
	}
}

// Run executes the complete simulation.
func Run(ctx context.Context, cfg *Config) (Stats, error) {
	return NewRunner(cfg, logger.Get().Named("simulate")).Run(ctx)
}

// Run executes the complete simulation and returns its statistics.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	r.stats = Stats{StartTime: time.Now()}
	r.log.Info(ctx, "starting openplay session simulation",
		logger.String("baseURL", r.cfg.BaseURL),
		logger.Int("players", r.cfg.Players),
		logger.Int("courts", r.cfg.Courts),
		logger.Int("workers", r.cfg.Workers))

	// Step 1: Check service health
	if err := r.client.Do(ctx, http.MethodGet, "/healthz", nil, nil); err != nil {
		return r.stats, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Register players concurrently
	players, err := r.registerPlayers(ctx)
	if err != nil {
		return r.stats, fmt.Errorf("player registration failed: %w", err)
	}

	// Step 3: Open a session
	var session Session
	body := map[string]int{"courts": r.cfg.Courts, "duration_hours": r.cfg.DurationHours}
	if err := r.client.Do(ctx, http.MethodPost, "/sessions", body, &session); err != nil {
		return r.stats, fmt.Errorf("session start failed: %w", err)
	}

	// Step 4: Everyone joins and asks for matches concurrently
	if err := r.joinAll(ctx, session.ID, players); err != nil {
		return r.stats, fmt.Errorf("queue join failed: %w", err)
	}
	if err := r.verifyLive(ctx, session.ID); err != nil {
		return r.stats, err
	}

	// Step 5: Finish live matches round by round; each finish backfills
	for r.stats.Rounds < r.cfg.Rounds {
		live, err := r.liveMatches(ctx, session.ID)
		if err != nil {
			return r.stats, err
		}
		if len(live) == 0 {
			break
		}
		if err := r.finishAll(ctx, live); err != nil {
			return r.stats, fmt.Errorf("round %d: %w", r.stats.Rounds+1, err)
		}
		r.stats.Rounds++
		if err := r.verifyLive(ctx, session.ID); err != nil {
			return r.stats, err
		}
	}

	// Step 6: Verify rating history and leaderboard
	if err := r.verifyRatings(ctx, session.ID, players); err != nil {
		return r.stats, fmt.Errorf("result verification failed: %w", err)
	}

	// Step 7: Close the session
	if err := r.client.Do(ctx, http.MethodPost, "/sessions/"+session.ID+"/end", nil, nil); err != nil {
		return r.stats, fmt.Errorf("session end failed: %w", err)
	}

	r.stats.EndTime = time.Now()
	r.stats.Duration = r.stats.EndTime.Sub(r.stats.StartTime)
	r.displayFinalStats(ctx)
	return r.stats, nil
}

func (r *Runner) registerPlayers(ctx context.Context) ([]Player, error) {
	players := make([]Player, r.cfg.Players)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i := range players {
		g.Go(func() error {
			body := map[string]string{"name": fmt.Sprintf("sim-%04d", i)}
			return r.client.Do(gctx, http.MethodPost, "/players", body, &players[i])
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	r.stats.PlayersRegistered = len(players)
	return players, nil
}

func (r *Runner) joinAll(ctx context.Context, sessionID string, players []Player) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, p := range players {
		g.Go(func() error {
			body := map[string]string{"player_id": p.ID}
			if err := r.client.Do(gctx, http.MethodPost, "/sessions/"+sessionID+"/queue", body, nil); err != nil {
				return err
			}
			var created []Match
			err := r.retry(gctx, func() error {
				return r.client.Do(gctx, http.MethodPost, "/sessions/"+sessionID+"/generate", nil, &created)
			})
			r.mu.Lock()
			r.stats.QueueJoins++
			r.stats.MatchesGenerated += len(created)
			r.mu.Unlock()
			return err
		})
	}
	return g.Wait()
}

func (r *Runner) finishAll(ctx context.Context, live []Match) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, m := range live {
		winner := r.pickWinner()
		g.Go(func() error {
			path := "/matches/" + m.ID
			if m.Status == "SCHEDULED" && winner == 1 {
				// Exercise the optional start transition on some matches.
				if err := r.client.Do(gctx, http.MethodPost, path+"/start", nil, nil); err != nil {
					return err
				}
			}
			err := r.retry(gctx, func() error {
				return r.client.Do(gctx, http.MethodPost, path+"/finish", map[string]int{"winner_team": winner}, nil)
			})
			if err != nil {
				return err
			}
			r.mu.Lock()
			r.stats.MatchesFinished++
			r.mu.Unlock()
			if r.cfg.Verbose {
				r.log.Debug(gctx, "match finished", logger.String("match", m.ID), logger.Int("court", m.Court), logger.Int("winner", winner))
			}
			return nil
		})
	}
	return g.Wait()
}

// retry repeats fn while the service reports lock or transaction contention.
func (r *Runner) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= r.cfg.Retries; attempt++ {
		if err = fn(); !errors.Is(err, ErrConflict) {
			return err
		}
		r.mu.Lock()
		r.stats.Conflicts++
		r.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(conflictBackoff << attempt):
		}
	}
	return err
}

func (r *Runner) pickWinner() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return 1 + r.rng.Intn(2)
}

func (r *Runner) liveMatches(ctx context.Context, sessionID string) ([]Match, error) {
	var live []Match
	if err := r.client.Do(ctx, http.MethodGet, "/sessions/"+sessionID+"/matches?status=scheduled,ongoing", nil, &live); err != nil {
		return nil, fmt.Errorf("list live matches: %w", err)
	}
	return live, nil
}

func (r *Runner) verifyLive(ctx context.Context, sessionID string) error {
	live, err := r.liveMatches(ctx, sessionID)
	if err != nil {
		return err
	}
	var queue []QueueEntry
	if err := r.client.Do(ctx, http.MethodGet, "/sessions/"+sessionID+"/queue", nil, &queue); err != nil {
		return fmt.Errorf("list queue: %w", err)
	}
	if err := VerifyCourts(live, r.cfg.Courts); err != nil {
		return err
	}
	return VerifySeating(live, queue)
}

func (r *Runner) verifyRatings(ctx context.Context, sessionID string, players []Player) error {
	var all []Match
	if err := r.client.Do(ctx, http.MethodGet, "/sessions/"+sessionID+"/matches?status=finished", nil, &all); err != nil {
		return fmt.Errorf("list finished matches: %w", err)
	}

	histories := make([][]HistoryEntry, len(players))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, p := range players {
		g.Go(func() error {
			return r.client.Do(gctx, http.MethodGet, "/players/"+p.ID+"/history", nil, &histories[i])
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	var entries []HistoryEntry
	for _, h := range histories {
		entries = append(entries, h...)
	}
	r.stats.HistoryEntries = len(entries)
	if err := VerifyZeroSum(all, entries); err != nil {
		return err
	}

	var board []Player
	limit := min(len(players), 100)
	if err := r.client.Do(ctx, http.MethodGet, fmt.Sprintf("/leaderboard?limit=%d", limit), nil, &board); err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}
	return VerifyLeaderboard(board)
}

// displayFinalStats logs the final simulation statistics.
func (r *Runner) displayFinalStats(ctx context.Context) {
	var conflictRate float64
	if calls := r.stats.QueueJoins + r.stats.MatchesFinished; calls > 0 {
		conflictRate = float64(r.stats.Conflicts) / float64(calls) * PercentageMultiplier
	}
	r.log.Info(ctx, "final statistics",
		logger.Int("playersRegistered", r.stats.PlayersRegistered),
		logger.Int("queueJoins", r.stats.QueueJoins),
		logger.Int("matchesGenerated", r.stats.MatchesGenerated),
		logger.Int("matchesFinished", r.stats.MatchesFinished),
		logger.Int("rounds", r.stats.Rounds),
		logger.Int("historyEntries", r.stats.HistoryEntries),
		logger.Int("conflicts", r.stats.Conflicts),
		logger.Float64("conflictRate", conflictRate),
		logger.Duration("duration", r.stats.Duration))
}
