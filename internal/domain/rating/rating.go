// Package rating implements the Elo-style team rating model used for doubles
// matches. It is a pure computation with no storage dependencies.
package rating

import (
	"math"

	"github.com/okian/openplay/internal/domain/errs"
	"github.com/okian/openplay/internal/domain/model"
)

// Default model parameters.
const (
	DefaultKFactor = 32.0
	DefaultScale   = 400.0
)

// Option applies a configuration option to the Model.
type Option func(*Model)

// WithKFactor sets the maximum rating swing per match.
func WithKFactor(k float64) Option {
	return func(m *Model) {
		if k > 0 {
			m.k = k
		}
	}
}

// WithScale sets the logistic scale (400 in classic Elo).
func WithScale(scale float64) Option {
	return func(m *Model) {
		if scale > 0 {
			m.scale = scale
		}
	}
}

// Model computes rating deltas from a match outcome.
type Model struct {
	k     float64
	scale float64
}

// New creates a Model with K=32 and scale 400 unless overridden.
func New(opts ...Option) *Model {
	m := &Model{k: DefaultKFactor, scale: DefaultScale}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// KFactor returns the configured K.
func (m *Model) KFactor() float64 { return m.k }

// Expected is the expected score of a side rated rx against a side rated ry.
func (m *Model) Expected(rx, ry float64) float64 {
	return 1 / (1 + math.Pow(10, (ry-rx)/m.scale))
}

// Outcome holds the change applied to each member of each team.
type Outcome struct {
	Team1Avg   float64
	Team2Avg   float64
	Team1Delta float64
	Team2Delta float64
}

// For returns the delta for team 1 or 2.
func (o Outcome) For(team int) float64 {
	if team == model.Team1 {
		return o.Team1Delta
	}
	return o.Team2Delta
}

// Apply computes the outcome of a doubles match given each team's two
// ratings and the winning team. Both members of a team move by the same
// amount and the two teams move by opposite amounts, so the four deltas
// sum to zero.
//
// Each member moves by the full team delta K·(score−expected), not half of
// it, so 1200 vs 1200 gives +16 to each winner and −16 to each loser and the
// team average moves by exactly the team delta.
func (m *Model) Apply(team1, team2 [2]float64, winnerTeam int) (Outcome, error) {
	if err := model.ValidateWinner(winnerTeam); err != nil {
		return Outcome{}, errs.Wrap("rating.apply", err)
	}

	avg1 := (team1[0] + team1[1]) / 2
	avg2 := (team2[0] + team2[1]) / 2

	score1 := 0.0
	if winnerTeam == model.Team1 {
		score1 = 1
	}

	delta := m.k * (score1 - m.Expected(avg1, avg2))
	return Outcome{
		Team1Avg:   avg1,
		Team2Avg:   avg2,
		Team1Delta: delta,
		Team2Delta: -delta,
	}, nil
}
