package model

import (
	"time"

	"github.com/okian/openplay/internal/domain/errs"
)

// PlayersPerMatch is fixed: doubles, two per team.
const PlayersPerMatch = 4

// Team numbers accepted as a winner.
const (
	Team1 = 1
	Team2 = 2
)

// Team is a pair of player ids.
type Team [2]string

// Match is one doubles game on one court.
type Match struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"session_id"`
	Court      int         `json:"court"`
	Status     MatchStatus `json:"status"`
	Team1      Team        `json:"team1"`
	Team2      Team        `json:"team2"`
	WinnerTeam int         `json:"winner_team,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	EndedAt    *time.Time  `json:"ended_at,omitempty"`
}

// NewMatch builds a SCHEDULED match from a rating-ordered group of four:
// the first two form team 1, the last two team 2.
func NewMatch(id, sessionID string, court int, group [PlayersPerMatch]string, now time.Time) Match {
	return Match{
		ID:        id,
		SessionID: sessionID,
		Court:     court,
		Status:    StatusScheduled,
		Team1:     Team{group[0], group[1]},
		Team2:     Team{group[2], group[3]},
		CreatedAt: now,
	}
}

// Players returns the four player ids, team 1 first.
func (m Match) Players() []string {
	return []string{m.Team1[0], m.Team1[1], m.Team2[0], m.Team2[1]}
}

// TeamOf returns 1 or 2 for a seated player, 0 otherwise.
func (m Match) TeamOf(playerID string) int {
	switch playerID {
	case m.Team1[0], m.Team1[1]:
		return Team1
	case m.Team2[0], m.Team2[1]:
		return Team2
	default:
		return 0
	}
}

// Validate checks the structural invariants: four distinct non-empty
// players, a positive court and a declared status.
func (m Match) Validate() error {
	const op = "match.validate"
	seen := make(map[string]struct{}, PlayersPerMatch)
	for _, p := range m.Players() {
		if p == "" {
			return errs.Newf(op, errs.ErrValidation, "match %s has an empty player slot", m.ID)
		}
		if _, dup := seen[p]; dup {
			return errs.Newf(op, errs.ErrValidation, "player %s appears twice in match %s", p, m.ID)
		}
		seen[p] = struct{}{}
	}
	if m.Court < 1 {
		return errs.Newf(op, errs.ErrValidation, "match %s has court %d", m.ID, m.Court)
	}
	if !m.Status.Valid() {
		return errs.Newf(op, errs.ErrValidation, "match %s has status %s", m.ID, m.Status)
	}
	return nil
}
