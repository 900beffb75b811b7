package models

import "time"

// Account is a registered operator. Password is never serialized.
type Account struct {
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // bcrypt hash of the generated password
	Verified     bool      `json:"verified"`
	CreatedAt    time.Time `json:"created_at"`
}

// ConfirmationToken proves control of an email address. Single-use.
type ConfirmationToken struct {
	Token     string    `json:"-"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token is no longer valid at now.
func (t ConfirmationToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
