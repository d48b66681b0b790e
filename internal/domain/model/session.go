package model

import "time"

// Session is a bounded window of play with a fixed number of courts.
// Courts are numbered 1..Courts.
type Session struct {
	ID        string    `json:"id"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	Courts    int       `json:"courts"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// QueueEntry marks a player waiting in a session. Position is the arrival
// order within the session; JoinedAt breaks ties.
type QueueEntry struct {
	SessionID string    `json:"session_id"`
	PlayerID  string    `json:"player_id"`
	Position  int64     `json:"position"`
	JoinedAt  time.Time `json:"joined_at"`
}
