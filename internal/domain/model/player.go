// Package model contains the domain entities shared between the engine
// components and the storage adapters.
package model

import "time"

// DefaultRating is assigned to newly registered players.
const DefaultRating = 1200.0

// Player is a participant with a single mutable skill rating. Only the rating
// engine changes Rating.
type Player struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Rating    float64   `json:"rating"`
	CreatedAt time.Time `json:"created_at"`
}

// RatingHistoryEntry is an append-only audit record of one rating change.
type RatingHistoryEntry struct {
	ID        string    `json:"id"`
	PlayerID  string    `json:"player_id"`
	MatchID   string    `json:"match_id"`
	Delta     float64   `json:"delta"`
	Rating    float64   `json:"rating"`
	CreatedAt time.Time `json:"created_at"`
}
