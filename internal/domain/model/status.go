package model

import (
	"fmt"
	"strings"
)

// MatchStatus is the lifecycle state of a match.
type MatchStatus uint8

// Match states. The zero value is not a valid status.
const (
	StatusScheduled MatchStatus = iota + 1
	StatusOngoing
	StatusFinished
)

// LiveStatuses are the states that occupy a court.
var LiveStatuses = []MatchStatus{StatusScheduled, StatusOngoing}

// transitions is the complete forward graph. FINISHED has no way out, and a
// match may be finished without ever being started.
var transitions = map[MatchStatus][]MatchStatus{
	StatusScheduled: {StatusOngoing, StatusFinished},
	StatusOngoing:   {StatusFinished},
}

func (s MatchStatus) String() string {
	switch s {
	case StatusScheduled:
		return "SCHEDULED"
	case StatusOngoing:
		return "ONGOING"
	case StatusFinished:
		return "FINISHED"
	default:
		return fmt.Sprintf("MatchStatus(%d)", uint8(s))
	}
}

// Valid reports whether s is one of the declared states.
func (s MatchStatus) Valid() bool {
	return s >= StatusScheduled && s <= StatusFinished
}

// Live reports whether a match in this state holds its court.
func (s MatchStatus) Live() bool {
	return s == StatusScheduled || s == StatusOngoing
}

// Terminal reports whether no transition leaves s.
func (s MatchStatus) Terminal() bool {
	return s == StatusFinished
}

// CanTransitionTo reports whether the lifecycle allows s -> next.
func (s MatchStatus) CanTransitionTo(next MatchStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseMatchStatus accepts the names produced by String, case-insensitively.
func ParseMatchStatus(v string) (MatchStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "SCHEDULED":
		return StatusScheduled, nil
	case "ONGOING":
		return StatusOngoing, nil
	case "FINISHED":
		return StatusFinished, nil
	default:
		return 0, fmt.Errorf("unknown match status %q", v)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s MatchStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid match status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *MatchStatus) UnmarshalText(b []byte) error {
	parsed, err := ParseMatchStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
