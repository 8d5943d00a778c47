package models

import "github.com/google/uuid"

// User is an account row. Accounts are optional: captains and spectators may
// participate anonymously, in which case Participant.UserID stays nil.
type User struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Password string    `json:"password,omitempty"`
	Username string    `json:"username"`

	IsEphemeral bool `json:"is_ephemeral"`
	IsAdmin     bool `json:"is_admin"`
}
