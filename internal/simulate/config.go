package simulate

import "time"

// Config holds configuration for a simulated session.
type Config struct {
	BaseURL       string        // Base URL of the service
	Players       int           // Players to register and queue
	Courts        int           // Courts of the simulated session
	DurationHours int           // Session duration
	Rounds        int           // Upper bound on finish rounds
	Workers       int           // Concurrent requests in flight
	Timeout       time.Duration // HTTP request timeout
	Seed          int64         // Seed for match winners; 0 means time-based
	Retries       int           // Retries on 409 conflict responses
	Verbose       bool          // Enable verbose logging
}

// Player mirrors the player resource.
type Player struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Rating float64 `json:"rating"`
}

// Session mirrors the session resource.
type Session struct {
	ID     string `json:"id"`
	Courts int    `json:"courts"`
	Active bool   `json:"active"`
}

// QueueEntry mirrors a queue entry.
type QueueEntry struct {
	PlayerID string `json:"player_id"`
	Position int64  `json:"position"`
}

// Match mirrors the match resource.
type Match struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Court      int       `json:"court"`
	Status     string    `json:"status"`
	Team1      [2]string `json:"team1"`
	Team2      [2]string `json:"team2"`
	WinnerTeam int       `json:"winner_team"`
}

// Players returns the four participants.
func (m Match) Players() []string {
	return []string{m.Team1[0], m.Team1[1], m.Team2[0], m.Team2[1]}
}

// HistoryEntry mirrors a rating history entry.
type HistoryEntry struct {
	PlayerID string  `json:"player_id"`
	MatchID  string  `json:"match_id"`
	Delta    float64 `json:"delta"`
	Rating   float64 `json:"rating"`
}

// Stats holds simulation statistics.
type Stats struct {
	PlayersRegistered int
	QueueJoins        int
	MatchesGenerated  int
	MatchesFinished   int
	Rounds            int
	Conflicts         int
	HistoryEntries    int
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}
