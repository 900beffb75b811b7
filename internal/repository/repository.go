package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"sensor_monitor/internal/models"
)

// Store-level sentinel errors. Services translate them into domain errors.
var (
	ErrAccountVerified = errors.New("account already verified")
	ErrTokenNotFound   = errors.New("confirmation token not found or expired")
	ErrConcurrentWrite = errors.New("concurrent write to the same account")
)

// AccountRepo is the TokenStore: accounts and their confirmation tokens.
// Lookups return (nil, nil) when the record does not exist.
type AccountRepo interface {
	GetAccount(ctx context.Context, email string) (*models.Account, error)
	// SaveRegistration creates or replaces an unverified account together with
	// its new token, deleting any earlier token of the same email, as one
	// atomic unit. Returns ErrAccountVerified for a verified account.
	SaveRegistration(ctx context.Context, acct models.Account, tok models.ConfirmationToken) error
	// DeleteRegistration undoes SaveRegistration while the account is still
	// unverified.
	DeleteRegistration(ctx context.Context, email, token string) error
	GetToken(ctx context.Context, token string) (*models.ConfirmationToken, error)
	// ConsumeToken deletes a token valid at now and marks its account
	// verified, atomically. Returns the account email, or ErrTokenNotFound.
	ConsumeToken(ctx context.Context, token string, now time.Time) (string, error)
	DeleteToken(ctx context.Context, token string) error
}

// ReadingRepo is the append-only time-series store.
type ReadingRepo interface {
	Append(ctx context.Context, r models.Reading) (int64, error)
	// List returns readings in [from, to] (inclusive) ordered ascending.
	// A zero bound means unbounded on that side.
	List(ctx context.Context, from, to time.Time) ([]models.Reading, error)
}

type Repository struct {
	Accounts AccountRepo
	Readings ReadingRepo
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		Accounts: NewAccountSQLite(db),
		Readings: NewReadingSQLite(db),
	}
}
