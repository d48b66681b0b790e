// Package domaintest builds in-memory fixtures for engine component tests.
package domaintest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/openplay/internal/adapters/lock"
	repository "github.com/okian/openplay/internal/adapters/repository"
	"github.com/okian/openplay/internal/domain/model"
	"github.com/okian/openplay/internal/domain/queue"
	"github.com/okian/openplay/pkg/metrics"
)

// Fixture wires a memory store, a local lock and a queue together.
type Fixture struct {
	Store  *repository.MemoryStore
	Locker *lock.Local
	Queue  *queue.Store

	mu    sync.Mutex
	clock time.Time
}

// New returns an empty fixture with a deterministic clock.
func New() *Fixture {
	f := &Fixture{
		Store:  repository.NewMemoryStore(),
		Locker: lock.NewLocal(lock.WithLocalWait(5 * time.Second)),
		clock:  time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC),
	}
	f.Queue = queue.New(f.Store, queue.WithClock(f.Now))
	return f
}

// Now advances the fixture clock by one millisecond per call.
func (f *Fixture) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(time.Millisecond)
	return f.clock
}

// Repos returns the live repositories.
func (f *Fixture) Repos() repository.Repositories {
	return f.Store.Repositories()
}

// AddPlayers registers one player per rating, named p0, p1, ...
func (f *Fixture) AddPlayers(ctx context.Context, ratings ...float64) []model.Player {
	out := make([]model.Player, len(ratings))
	for i, r := range ratings {
		p := model.Player{ID: uuid.NewString(), Name: fmt.Sprintf("p%d", i), Rating: r, CreatedAt: f.Now()}
		if err := f.Repos().Players.Create(ctx, p); err != nil {
			panic(err)
		}
		out[i] = p
	}
	return out
}

// OpenSession creates an active session with the given courts.
func (f *Fixture) OpenSession(ctx context.Context, courts int) model.Session {
	now := f.Now()
	s := model.Session{
		ID:        uuid.NewString(),
		StartsAt:  now,
		EndsAt:    now.Add(2 * time.Hour),
		Courts:    courts,
		Active:    true,
		CreatedAt: now,
	}
	if err := f.Repos().Sessions.Create(ctx, s); err != nil {
		panic(err)
	}
	return s
}

// Enqueue joins players in the given order.
func (f *Fixture) Enqueue(ctx context.Context, sessionID string, players ...model.Player) {
	for _, p := range players {
		if _, err := f.Queue.Join(ctx, sessionID, p.ID); err != nil {
			panic(err)
		}
	}
}

// QueuedIDs lists the session queue's player ids in arrival order.
func (f *Fixture) QueuedIDs(ctx context.Context, sessionID string) []string {
	entries, err := f.Repos().Queue.List(ctx, sessionID)
	if err != nil {
		panic(err)
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.PlayerID
	}
	return ids
}

// IDs returns the ids of players.
func IDs(players ...model.Player) []string {
	out := make([]string, len(players))
	for i, p := range players {
		out[i] = p.ID
	}
	return out
}

// LiveCourtsUnique reports whether no two live matches of the session share
// a court.
func (f *Fixture) LiveCourtsUnique(ctx context.Context, sessionID string) bool {
	live, err := f.Repos().Matches.ListBySession(ctx, sessionID, model.LiveStatuses...)
	if err != nil {
		panic(err)
	}
	seen := map[int]bool{}
	for _, m := range live {
		if seen[m.Court] {
			return false
		}
		seen[m.Court] = true
	}
	return true
}

// SessionGauge reads a per-session gauge such as
// openplay_scheduler_queue_length from the metrics registry.
func SessionGauge(name, sessionID string) (float64, bool) {
	families, err := metrics.GetRegistry().Gather()
	if err != nil {
		return 0, false
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "session" && l.GetValue() == sessionID {
					return m.GetGauge().GetValue(), true
				}
			}
		}
	}
	return 0, false
}
