package simulate

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvariant reports a violated service invariant.
var ErrInvariant = errors.New("invariant violated")

const zeroSumTolerance = 1e-6

// VerifyCourts checks that live matches use distinct courts within capacity.
func VerifyCourts(live []Match, capacity int) error {
	seen := make(map[int]string, len(live))
	for _, m := range live {
		if m.Court < 1 || m.Court > capacity {
			return fmt.Errorf("%w: match %s on court %d outside [1,%d]", ErrInvariant, m.ID, m.Court, capacity)
		}
		if other, ok := seen[m.Court]; ok {
			return fmt.Errorf("%w: matches %s and %s share court %d", ErrInvariant, other, m.ID, m.Court)
		}
		seen[m.Court] = m.ID
	}
	return nil
}

// VerifySeating checks that nobody sits in two live matches or is queued
// while seated, and that every match has four distinct players.
func VerifySeating(live []Match, queue []QueueEntry) error {
	seated := make(map[string]string)
	for _, m := range live {
		distinct := make(map[string]bool, 4)
		for _, id := range m.Players() {
			distinct[id] = true
			if other, ok := seated[id]; ok {
				return fmt.Errorf("%w: player %s seated in %s and %s", ErrInvariant, id, other, m.ID)
			}
			seated[id] = m.ID
		}
		if len(distinct) != 4 {
			return fmt.Errorf("%w: match %s does not have four distinct players", ErrInvariant, m.ID)
		}
	}
	for _, e := range queue {
		if mid, ok := seated[e.PlayerID]; ok {
			return fmt.Errorf("%w: player %s queued while seated in %s", ErrInvariant, e.PlayerID, mid)
		}
	}
	return nil
}

// VerifyZeroSum checks that every finished match has four history entries
// whose deltas cancel out.
func VerifyZeroSum(finished []Match, entries []HistoryEntry) error {
	sums := make(map[string]float64, len(finished))
	counts := make(map[string]int, len(finished))
	for _, e := range entries {
		sums[e.MatchID] += e.Delta
		counts[e.MatchID]++
	}
	for _, m := range finished {
		if counts[m.ID] != 4 {
			return fmt.Errorf("%w: match %s has %d history entries", ErrInvariant, m.ID, counts[m.ID])
		}
		if math.Abs(sums[m.ID]) > zeroSumTolerance {
			return fmt.Errorf("%w: match %s deltas sum to %.9f", ErrInvariant, m.ID, sums[m.ID])
		}
	}
	return nil
}

// VerifyLeaderboard checks rating descending order, ties by name then id.
func VerifyLeaderboard(board []Player) error {
	for i := 1; i < len(board); i++ {
		a, b := board[i-1], board[i]
		ordered := a.Rating > b.Rating ||
			(a.Rating == b.Rating && (a.Name < b.Name || (a.Name == b.Name && a.ID < b.ID)))
		if !ordered {
			return fmt.Errorf("%w: leaderboard out of order at %d (%s %.3f, %s %.3f)",
				ErrInvariant, i, a.Name, a.Rating, b.Name, b.Rating)
		}
	}
	return nil
}
