// Package repository defines the storage contract consumed by the scheduling
// and rating engine, plus an in-memory implementation.
package repository

import (
	"context"

	"github.com/okian/openplay/internal/domain/model"
)

// Players stores participants and their ratings.
type Players interface {
	Create(ctx context.Context, p model.Player) error
	// Get returns ErrNotFound when the player is unknown.
	Get(ctx context.Context, id string) (model.Player, error)
	// GetMany returns the requested players keyed by id. Unknown ids are
	// reported with ErrNotFound.
	GetMany(ctx context.Context, ids []string) (map[string]model.Player, error)
	UpdateRating(ctx context.Context, id string, rating float64) error
	// Top returns up to limit players by rating desc, then name, then id.
	Top(ctx context.Context, limit int) ([]model.Player, error)
	List(ctx context.Context) ([]model.Player, error)
}

// Sessions stores play sessions.
type Sessions interface {
	Create(ctx context.Context, s model.Session) error
	Get(ctx context.Context, id string) (model.Session, error)
	// Active returns the most recently created active session or ErrNotFound.
	Active(ctx context.Context) (model.Session, error)
	SetActive(ctx context.Context, id string, active bool) error
	// DeactivateAll clears the active flag everywhere and reports how many
	// sessions changed.
	DeactivateAll(ctx context.Context) (int, error)
}

// Matches stores matches and answers court occupancy questions.
type Matches interface {
	Create(ctx context.Context, m model.Match) error
	Get(ctx context.Context, id string) (model.Match, error)
	Update(ctx context.Context, m model.Match) error
	// ListBySession returns the session's matches ordered by creation then
	// court. With no statuses every match is returned.
	ListBySession(ctx context.Context, sessionID string, statuses ...model.MatchStatus) ([]model.Match, error)
	CountBySession(ctx context.Context, sessionID string, statuses ...model.MatchStatus) (int, error)
	List(ctx context.Context) ([]model.Match, error)
}

// Queue stores waiting players per session.
type Queue interface {
	Get(ctx context.Context, sessionID, playerID string) (model.QueueEntry, error)
	// MaxPosition returns 0 for an empty queue.
	MaxPosition(ctx context.Context, sessionID string) (int64, error)
	// Insert returns ErrDuplicate when the pair is already queued.
	Insert(ctx context.Context, e model.QueueEntry) error
	// List returns entries by position asc, then joined-at asc.
	List(ctx context.Context, sessionID string) ([]model.QueueEntry, error)
	// Delete removes the given players and reports how many were present.
	Delete(ctx context.Context, sessionID string, playerIDs ...string) (int, error)
}

// History is the append-only rating audit log.
type History interface {
	Append(ctx context.Context, entries ...model.RatingHistoryEntry) error
	ListByPlayer(ctx context.Context, playerID string) ([]model.RatingHistoryEntry, error)
	ListByMatch(ctx context.Context, matchID string) ([]model.RatingHistoryEntry, error)
}

// Repositories groups the per-entity repositories bound to one view of the
// store: either the live state or an open atomic unit.
type Repositories struct {
	Players  Players
	Sessions Sessions
	Matches  Matches
	Queue    Queue
	History  History
}

// Store is the persistence collaborator.
type Store interface {
	// Repositories returns repositories outside any atomic unit. Each call is
	// individually consistent.
	Repositories() Repositories
	// Atomic runs fn against repositories bound to one atomic unit. Every
	// write is committed when fn returns nil and discarded otherwise.
	// Atomic must not be nested.
	Atomic(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
	Close() error
}
