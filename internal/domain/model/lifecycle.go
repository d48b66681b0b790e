package model

import (
	"time"

	"github.com/okian/openplay/internal/domain/errs"
)

// Start moves a SCHEDULED match to ONGOING.
func (m *Match) Start(now time.Time) error {
	const op = "match.start"
	if m.Status != StatusScheduled || !m.Status.CanTransitionTo(StatusOngoing) {
		return errs.Newf(op, errs.ErrInvalidTransition, "match %s is %s, want SCHEDULED", m.ID, m.Status)
	}
	m.Status = StatusOngoing
	m.StartedAt = &now
	return nil
}

// Finish records the winner and moves the match to FINISHED. Both SCHEDULED
// and ONGOING matches may finish.
func (m *Match) Finish(winnerTeam int, now time.Time) error {
	const op = "match.finish"
	if err := ValidateWinner(winnerTeam); err != nil {
		return errs.Wrap(op, err)
	}
	if !m.Status.CanTransitionTo(StatusFinished) {
		return errs.Newf(op, errs.ErrInvalidTransition, "match %s is already %s", m.ID, m.Status)
	}
	m.Status = StatusFinished
	m.WinnerTeam = winnerTeam
	m.EndedAt = &now
	return nil
}

// ValidateWinner accepts only team 1 or team 2. Draws are not modelled.
func ValidateWinner(winnerTeam int) error {
	if winnerTeam != Team1 && winnerTeam != Team2 {
		return errs.Newf("match.validate_winner", errs.ErrValidation, "winner team must be 1 or 2, got %d", winnerTeam)
	}
	return nil
}
