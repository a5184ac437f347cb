package models

import (
	"time"
)

// SessionStatus defines the lifecycle state of a session.
type SessionStatus string

const (
	SessionStatusLobby  SessionStatus = "lobby"
	SessionStatusActive SessionStatus = "active"
)

// DefaultDurationSeconds is the round length a new session starts with.
const DefaultDurationSeconds = 480

// AllowedDurations lists the round lengths a session owner may pick, in seconds.
var AllowedDurations = []int{300, 360, 420, 480, 540, 600}

// DurationAllowed reports whether seconds is one of the permitted round lengths.
func DurationAllowed(seconds int) bool {
	for _, d := range AllowedDurations {
		if d == seconds {
			return true
		}
	}
	return false
}

// Session is one game lobby/round instance, stored as a single remote
// document keyed by its code. Location is non-nil exactly while the
// session is active.
type Session struct {
	Code            string        `json:"code"`
	Status          SessionStatus `json:"status"`
	DurationSeconds int           `json:"durationSeconds"`
	Location        *string       `json:"location"`
	OwnerID         string        `json:"ownerId"`
	LastInteraction time.Time     `json:"lastInteraction"`
}

// InRound reports whether a round is currently running.
func (s *Session) InRound() bool {
	return s.Status == SessionStatusActive
}
