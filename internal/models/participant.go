// internal/models/participant.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is a seat within a versus series. At most one *connected* participant
// may hold a captain role at a time; the in-memory session registry enforces
// this, not the database (which keeps historical rows for reclaim).
type Role string

const (
	RoleBlueCaptain Role = "blue_captain"
	RoleRedCaptain  Role = "red_captain"
	RoleSpectator   Role = "spectator"
)

// IsCaptain reports whether r is one of the two captain seats.
func (r Role) IsCaptain() bool {
	return r == RoleBlueCaptain || r == RoleRedCaptain
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r.IsCaptain() || r == RoleSpectator
}

// Team returns the side a captain role belongs to. Spectators have no side.
func (r Role) Team() (Team, bool) {
	switch r {
	case RoleBlueCaptain:
		return TeamBlue, true
	case RoleRedCaptain:
		return TeamRed, true
	default:
		return "", false
	}
}

// CaptainRole returns the captain role for a side.
func CaptainRole(t Team) Role {
	if t == TeamBlue {
		return RoleBlueCaptain
	}
	return RoleRedCaptain
}

// Participant is the persisted record of a seat holder in a series. The
// reclaim token is a rotating secret that lets a disconnected captain regain
// their seat without re-authentication; it is nulled on explicit release and
// whenever the seat is claimed fresh by anyone.
type Participant struct {
	ID           uuid.UUID  `json:"id"`
	SeriesID     uuid.UUID  `json:"seriesId"`
	UserID       *uuid.UUID `json:"userId,omitempty"`
	Role         Role       `json:"role"`
	Username     string     `json:"username,omitempty"`
	LastSeenAt   time.Time  `json:"lastSeenAt"`
	ReclaimToken *string    `json:"reclaimToken,omitempty"`
}
