package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sensor_monitor/internal/models"
	"sensor_monitor/internal/timeutil"
)

type AccountSQLite struct {
	db *sql.DB
}

func NewAccountSQLite(db *sql.DB) *AccountSQLite {
	return &AccountSQLite{db: db}
}

// Ensure implementation of AccountRepo interface at compile time.
var _ AccountRepo = (*AccountSQLite)(nil)

const (
	selectAccountSQL   = `SELECT email, password_hash, verified, created_at FROM accounts WHERE email = ?`
	selectVerifiedSQL  = `SELECT verified FROM accounts WHERE email = ?`
	deleteTokensForSQL = `DELETE FROM confirmation_tokens WHERE email = ?`
	upsertAccountSQL   = `
		INSERT INTO accounts (email, password_hash, verified, created_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(email) DO UPDATE SET
			password_hash=excluded.password_hash,
			verified=0,
			created_at=excluded.created_at
	`
	insertTokenSQL          = `INSERT INTO confirmation_tokens (token, email, expires_at) VALUES (?, ?, ?)`
	selectTokenSQL          = `SELECT token, email, expires_at FROM confirmation_tokens WHERE token = ?`
	selectLiveTokenSQL      = `SELECT email FROM confirmation_tokens WHERE token = ? AND expires_at > ?`
	deleteTokenSQL          = `DELETE FROM confirmation_tokens WHERE token = ?`
	markVerifiedSQL         = `UPDATE accounts SET verified = 1 WHERE email = ?`
	deleteUnverifiedAcctSQL = `DELETE FROM accounts WHERE email = ? AND verified = 0`
)

// GetAccount fetches an account by email. Returns (nil, nil) if not found.
func (r *AccountSQLite) GetAccount(ctx context.Context, email string) (*models.Account, error) {
	var (
		a       models.Account
		created string
	)
	err := r.db.QueryRowContext(ctx, selectAccountSQL, email).Scan(&a.Email, &a.PasswordHash, &a.Verified, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select account %q: %w", email, err)
	}
	if a.CreatedAt, err = timeutil.ParseStored(created); err != nil {
		return nil, fmt.Errorf("account %q created_at: %w", email, err)
	}
	return &a, nil
}

// SaveRegistration writes the account/token pair in a single transaction.
func (r *AccountSQLite) SaveRegistration(ctx context.Context, acct models.Account, tok models.ConfirmationToken) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		var verified bool
		err := tx.QueryRowContext(ctx, selectVerifiedSQL, acct.Email).Scan(&verified)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("select account %q: %w", acct.Email, err)
		case verified:
			return ErrAccountVerified
		}

		if _, err := tx.ExecContext(ctx, deleteTokensForSQL, acct.Email); err != nil {
			return fmt.Errorf("delete previous tokens for %q: %w", acct.Email, err)
		}
		if _, err := tx.ExecContext(ctx, upsertAccountSQL, acct.Email, acct.PasswordHash, timeutil.Format(acct.CreatedAt)); err != nil {
			return fmt.Errorf("upsert account %q: %w", acct.Email, err)
		}
		if _, err := tx.ExecContext(ctx, insertTokenSQL, tok.Token, acct.Email, tok.ExpiresAt.UnixMilli()); err != nil {
			return fmt.Errorf("insert token for %q: %w", acct.Email, err)
		}
		return nil
	})
}

// DeleteRegistration removes the token and the account if it is unverified.
func (r *AccountSQLite) DeleteRegistration(ctx context.Context, email, token string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, deleteTokenSQL, token); err != nil {
			return fmt.Errorf("delete token for %q: %w", email, err)
		}
		if _, err := tx.ExecContext(ctx, deleteUnverifiedAcctSQL, email); err != nil {
			return fmt.Errorf("delete account %q: %w", email, err)
		}
		return nil
	})
}

// GetToken fetches a token record. Returns (nil, nil) if not found.
func (r *AccountSQLite) GetToken(ctx context.Context, token string) (*models.ConfirmationToken, error) {
	var (
		t         models.ConfirmationToken
		expiresMs int64
	)
	err := r.db.QueryRowContext(ctx, selectTokenSQL, token).Scan(&t.Token, &t.Email, &expiresMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select token: %w", err)
	}
	t.ExpiresAt = time.UnixMilli(expiresMs).UTC()
	return &t, nil
}

// ConsumeToken deletes the token and verifies its account in one transaction.
func (r *AccountSQLite) ConsumeToken(ctx context.Context, token string, now time.Time) (string, error) {
	var email string
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, selectLiveTokenSQL, token, now.UnixMilli()).Scan(&email)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrTokenNotFound
			}
			return fmt.Errorf("select token: %w", err)
		}
		if _, err := tx.ExecContext(ctx, deleteTokenSQL, token); err != nil {
			return fmt.Errorf("delete token: %w", err)
		}
		res, err := tx.ExecContext(ctx, markVerifiedSQL, email)
		if err != nil {
			return fmt.Errorf("verify account %q: %w", email, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("token references missing account %q: %w", email, ErrTokenNotFound)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return email, nil
}

// DeleteToken removes a token; a missing token is not an error.
func (r *AccountSQLite) DeleteToken(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, deleteTokenSQL, token); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

func (r *AccountSQLite) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
