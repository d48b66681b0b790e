package repository

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/okian/openplay/internal/domain/model"
	"github.com/okian/openplay/pkg/logger"
	"github.com/okian/openplay/pkg/metrics"
)

const memoryBackend = "memory"

// state is the full in-memory dataset. Atomic units work on a clone and swap
// it in on success. The history log is append-only, so a clone shares its
// backing array and a rollback only has to forget the appended tail.
type state struct {
	players  map[string]model.Player
	sessions map[string]model.Session
	matches  map[string]model.Match
	queue    map[string]map[string]model.QueueEntry // session -> player -> entry
	history  []model.RatingHistoryEntry
}

func newState() *state {
	return &state{
		players:  make(map[string]model.Player),
		sessions: make(map[string]model.Session),
		matches:  make(map[string]model.Match),
		queue:    make(map[string]map[string]model.QueueEntry),
	}
}

func (st *state) clone() *state {
	c := &state{
		players:  make(map[string]model.Player, len(st.players)),
		sessions: make(map[string]model.Session, len(st.sessions)),
		matches:  make(map[string]model.Match, len(st.matches)),
		queue:    make(map[string]map[string]model.QueueEntry, len(st.queue)),
		history:  st.history,
	}
	for k, v := range st.players {
		c.players[k] = v
	}
	for k, v := range st.sessions {
		c.sessions[k] = v
	}
	for k, v := range st.matches {
		c.matches[k] = v
	}
	for sid, entries := range st.queue {
		inner := make(map[string]model.QueueEntry, len(entries))
		for pid, e := range entries {
			inner[pid] = e
		}
		c.queue[sid] = inner
	}
	return c
}

// MemoryStore is a Store kept entirely in process memory. Atomic units are
// serialized by a single mutex and run against a staged copy, so a failed
// unit leaves no trace.
type MemoryStore struct {
	mu     sync.RWMutex
	state  *state
	closed bool
	logger logger.Logger
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		state:  newState(),
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Repositories returns repositories over the live state.
func (s *MemoryStore) Repositories() Repositories {
	return view{store: s}.repositories()
}

// Atomic runs fn against a staged copy of the state and commits it when fn
// succeeds.
func (s *MemoryStore) Atomic(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		metrics.RecordStoreTx(memoryBackend, float64(time.Since(start).Microseconds())/1000)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	staged := s.state.clone()
	if err := fn(ctx, view{store: s, tx: staged}.repositories()); err != nil {
		s.rollback(staged)
		s.logger.Debug(ctx, "atomic unit rolled back", logger.Error(err))
		return err
	}
	if err := ctx.Err(); err != nil {
		s.rollback(staged)
		return err
	}
	s.state = staged
	return nil
}

// rollback drops history appended by a discarded unit. The live slice keeps
// its length; the tail beyond it is zeroed so the entries can be collected.
func (s *MemoryStore) rollback(staged *state) {
	if n := len(s.state.history); len(staged.history) > n {
		clear(staged.history[n:])
	}
}

// Close marks the store closed. Later atomic units fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// view binds repositories either to the live state (tx == nil, guarded by
// the store mutex) or to a staged copy owned by a running atomic unit.
type view struct {
	store *MemoryStore
	tx    *state
}

func (v view) repositories() Repositories {
	return Repositories{
		Players:  memPlayers{v},
		Sessions: memSessions{v},
		Matches:  memMatches{v},
		Queue:    memQueue{v},
		History:  memHistory{v},
	}
}

func (v view) read() (*state, func()) {
	if v.tx != nil {
		return v.tx, func() {}
	}
	v.store.mu.RLock()
	return v.store.state, v.store.mu.RUnlock
}

func (v view) write() (*state, func()) {
	if v.tx != nil {
		return v.tx, func() {}
	}
	v.store.mu.Lock()
	return v.store.state, v.store.mu.Unlock
}

type memPlayers struct{ view }

func (r memPlayers) Create(_ context.Context, p model.Player) error {
	st, done := r.write()
	defer done()
	if _, ok := st.players[p.ID]; ok {
		return ErrDuplicate
	}
	st.players[p.ID] = p
	return nil
}

func (r memPlayers) Get(_ context.Context, id string) (model.Player, error) {
	st, done := r.read()
	defer done()
	p, ok := st.players[id]
	if !ok {
		return model.Player{}, ErrNotFound
	}
	return p, nil
}

func (r memPlayers) GetMany(_ context.Context, ids []string) (map[string]model.Player, error) {
	st, done := r.read()
	defer done()
	out := make(map[string]model.Player, len(ids))
	for _, id := range ids {
		p, ok := st.players[id]
		if !ok {
			return nil, ErrNotFound
		}
		out[id] = p
	}
	return out, nil
}

func (r memPlayers) UpdateRating(_ context.Context, id string, rating float64) error {
	st, done := r.write()
	defer done()
	p, ok := st.players[id]
	if !ok {
		return ErrNotFound
	}
	p.Rating = rating
	st.players[id] = p
	return nil
}

func (r memPlayers) Top(ctx context.Context, limit int) ([]model.Player, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	SortLeaderboard(all)
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r memPlayers) List(_ context.Context) ([]model.Player, error) {
	st, done := r.read()
	defer done()
	out := make([]model.Player, 0, len(st.players))
	for _, p := range st.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SortLeaderboard orders players by rating desc, then name, then id.
func SortLeaderboard(players []model.Player) {
	sort.SliceStable(players, func(i, j int) bool {
		a, b := players[i], players[j]
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}

type memSessions struct{ view }

func (r memSessions) Create(_ context.Context, s model.Session) error {
	st, done := r.write()
	defer done()
	if _, ok := st.sessions[s.ID]; ok {
		return ErrDuplicate
	}
	st.sessions[s.ID] = s
	return nil
}

func (r memSessions) Get(_ context.Context, id string) (model.Session, error) {
	st, done := r.read()
	defer done()
	s, ok := st.sessions[id]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return s, nil
}

func (r memSessions) Active(_ context.Context) (model.Session, error) {
	st, done := r.read()
	defer done()
	var (
		best  model.Session
		found bool
	)
	for _, s := range st.sessions {
		if !s.Active {
			continue
		}
		if !found || s.CreatedAt.After(best.CreatedAt) || (s.CreatedAt.Equal(best.CreatedAt) && s.ID > best.ID) {
			best, found = s, true
		}
	}
	if !found {
		return model.Session{}, ErrNotFound
	}
	return best, nil
}

func (r memSessions) SetActive(_ context.Context, id string, active bool) error {
	st, done := r.write()
	defer done()
	s, ok := st.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Active = active
	st.sessions[id] = s
	return nil
}

func (r memSessions) DeactivateAll(_ context.Context) (int, error) {
	st, done := r.write()
	defer done()
	n := 0
	for id, s := range st.sessions {
		if s.Active {
			s.Active = false
			st.sessions[id] = s
			n++
		}
	}
	return n, nil
}

type memMatches struct{ view }

func (r memMatches) Create(_ context.Context, m model.Match) error {
	st, done := r.write()
	defer done()
	if _, ok := st.matches[m.ID]; ok {
		return ErrDuplicate
	}
	st.matches[m.ID] = m
	return nil
}

func (r memMatches) Get(_ context.Context, id string) (model.Match, error) {
	st, done := r.read()
	defer done()
	m, ok := st.matches[id]
	if !ok {
		return model.Match{}, ErrNotFound
	}
	return m, nil
}

func (r memMatches) Update(_ context.Context, m model.Match) error {
	st, done := r.write()
	defer done()
	if _, ok := st.matches[m.ID]; !ok {
		return ErrNotFound
	}
	st.matches[m.ID] = m
	return nil
}

func (r memMatches) ListBySession(_ context.Context, sessionID string, statuses ...model.MatchStatus) ([]model.Match, error) {
	st, done := r.read()
	defer done()
	var out []model.Match
	for _, m := range st.matches {
		if m.SessionID == sessionID && statusIn(m.Status, statuses) {
			out = append(out, m)
		}
	}
	sortMatches(out)
	return out, nil
}

func (r memMatches) CountBySession(ctx context.Context, sessionID string, statuses ...model.MatchStatus) (int, error) {
	ms, err := r.ListBySession(ctx, sessionID, statuses...)
	return len(ms), err
}

func (r memMatches) List(_ context.Context) ([]model.Match, error) {
	st, done := r.read()
	defer done()
	out := make([]model.Match, 0, len(st.matches))
	for _, m := range st.matches {
		out = append(out, m)
	}
	sortMatches(out)
	return out, nil
}

func statusIn(s model.MatchStatus, statuses []model.MatchStatus) bool {
	return len(statuses) == 0 || slices.Contains(statuses, s)
}

func sortMatches(ms []model.Match) {
	sort.Slice(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.Court != b.Court {
			return a.Court < b.Court
		}
		return a.ID < b.ID
	})
}

type memQueue struct{ view }

func (r memQueue) Get(_ context.Context, sessionID, playerID string) (model.QueueEntry, error) {
	st, done := r.read()
	defer done()
	e, ok := st.queue[sessionID][playerID]
	if !ok {
		return model.QueueEntry{}, ErrNotFound
	}
	return e, nil
}

func (r memQueue) MaxPosition(_ context.Context, sessionID string) (int64, error) {
	st, done := r.read()
	defer done()
	var maxPos int64
	for _, e := range st.queue[sessionID] {
		maxPos = max(maxPos, e.Position)
	}
	return maxPos, nil
}

func (r memQueue) Insert(_ context.Context, e model.QueueEntry) error {
	st, done := r.write()
	defer done()
	entries, ok := st.queue[e.SessionID]
	if !ok {
		entries = make(map[string]model.QueueEntry)
		st.queue[e.SessionID] = entries
	}
	if _, dup := entries[e.PlayerID]; dup {
		return ErrDuplicate
	}
	entries[e.PlayerID] = e
	return nil
}

func (r memQueue) List(_ context.Context, sessionID string) ([]model.QueueEntry, error) {
	st, done := r.read()
	defer done()
	out := make([]model.QueueEntry, 0, len(st.queue[sessionID]))
	for _, e := range st.queue[sessionID] {
		out = append(out, e)
	}
	SortQueue(out)
	return out, nil
}

func (r memQueue) Delete(_ context.Context, sessionID string, playerIDs ...string) (int, error) {
	st, done := r.write()
	defer done()
	entries := st.queue[sessionID]
	n := 0
	for _, pid := range playerIDs {
		if _, ok := entries[pid]; ok {
			delete(entries, pid)
			n++
		}
	}
	return n, nil
}

// SortQueue orders entries by arrival: position, then joined-at, then player.
func SortQueue(entries []model.QueueEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.PlayerID < b.PlayerID
	})
}

type memHistory struct{ view }

func (r memHistory) Append(_ context.Context, entries ...model.RatingHistoryEntry) error {
	st, done := r.write()
	defer done()
	st.history = append(st.history, entries...)
	return nil
}

func (r memHistory) ListByPlayer(_ context.Context, playerID string) ([]model.RatingHistoryEntry, error) {
	return r.filter(func(e model.RatingHistoryEntry) bool { return e.PlayerID == playerID }), nil
}

func (r memHistory) ListByMatch(_ context.Context, matchID string) ([]model.RatingHistoryEntry, error) {
	return r.filter(func(e model.RatingHistoryEntry) bool { return e.MatchID == matchID }), nil
}

func (r memHistory) filter(keep func(model.RatingHistoryEntry) bool) []model.RatingHistoryEntry {
	st, done := r.read()
	defer done()
	var out []model.RatingHistoryEntry
	for _, e := range st.history {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
