package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"html"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"sensor_monitor/internal/config"
	"sensor_monitor/internal/logger"
	"sensor_monitor/internal/mail"
	"sensor_monitor/internal/models"
	"sensor_monitor/internal/repository"
	"sensor_monitor/internal/retry"
)

const (
	passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*()_+"
	passwordLength   = 12
	tokenAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	tokenLength      = 32

	confirmSubject  = "Confirm Your Email"
	rollbackTimeout = 5 * time.Second
)

var validate = validator.New()

// RegisterResult carries the generated password back to the caller once.
type RegisterResult struct {
	Password string
}

// AuthService handles registration, email confirmation and sessions.
type AuthService struct {
	accounts repository.AccountRepo
	mailer   mail.Mailer
	cfg      config.AuthConfig
	sendPol  retry.Policy
	locks    *keyedMutex
	log      *logger.Logger

	now func() time.Time
}

func NewAuthService(accounts repository.AccountRepo, mailer mail.Mailer, cfg config.AuthConfig, sendAttempts int, log *logger.Logger) *AuthService {
	if log == nil {
		log = logger.Nop()
	}
	s := &AuthService{
		accounts: accounts,
		mailer:   mailer,
		cfg:      cfg,
		locks:    newKeyedMutex(),
		log:      log,
		now:      time.Now,
	}
	s.sendPol = retry.Policy{
		MaxAttempts: sendAttempts,
		MaxInterval: 2 * time.Second,
		Jitter:      true,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			s.log.Warnw("auth_confirmation_mail_retry", "attempt", attempt, "retry_in", wait, "error", err)
		},
	}
	return s
}

// Register creates (or replaces) an unverified account with a fresh password
// and confirmation token and mails the confirmation link.
func (s *AuthService) Register(ctx context.Context, email string) (RegisterResult, error) {
	email = normalizeEmail(email)
	if err := validate.Var(email, "required,email"); err != nil {
		return RegisterResult{}, fmt.Errorf("%w: a valid email is required", ErrValidation)
	}

	unlock := s.locks.Lock(email)
	defer unlock()

	existing, err := s.accounts.GetAccount(ctx, email)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("%w: %w", ErrDependency, err)
	}
	if existing != nil && existing.Verified {
		return RegisterResult{}, ErrConflict
	}

	password, err := randomString(passwordAlphabet, passwordLength)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("%w: generate password: %w", ErrDependency, err)
	}
	token, err := randomString(tokenAlphabet, tokenLength)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("%w: generate token: %w", ErrDependency, err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("%w: hash password: %w", ErrDependency, err)
	}

	now := s.now().UTC()
	acct := models.Account{Email: email, PasswordHash: string(hash), CreatedAt: now}
	tok := models.ConfirmationToken{Token: token, Email: email, ExpiresAt: now.Add(s.cfg.TokenTTL)}

	if err := s.accounts.SaveRegistration(ctx, acct, tok); err != nil {
		switch {
		case errors.Is(err, repository.ErrAccountVerified), errors.Is(err, repository.ErrConcurrentWrite):
			return RegisterResult{}, ErrConflict
		default:
			return RegisterResult{}, fmt.Errorf("%w: %w", ErrDependency, err)
		}
	}

	body := confirmationBody(s.confirmLink(token))
	err = s.sendPol.Do(ctx, func(ctx context.Context) error {
		return s.mailer.SendEmail(ctx, email, confirmSubject, body)
	})
	if err != nil {
		s.log.Errorw("auth_confirmation_mail_failed", "email", email, "error", err)
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
		if rbErr := s.accounts.DeleteRegistration(rbCtx, email, token); rbErr != nil {
			s.log.Errorw("auth_registration_rollback_failed", "email", email, "error", rbErr)
		}
		return RegisterResult{}, fmt.Errorf("%w: send confirmation email: %w", ErrDependency, err)
	}

	s.log.Infow("auth_registered", "email", email, "token_expires_at", tok.ExpiresAt)
	return RegisterResult{Password: password}, nil
}

// Confirm consumes a confirmation token and marks its account verified.
func (s *AuthService) Confirm(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidToken
	}

	tok, err := s.accounts.GetToken(ctx, token)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDependency, err)
	}
	if tok == nil {
		return ErrInvalidToken
	}

	unlock := s.locks.Lock(tok.Email)
	defer unlock()

	now := s.now()
	if tok.Expired(now) {
		if err := s.accounts.DeleteToken(ctx, token); err != nil {
			s.log.Warnw("auth_expired_token_cleanup_failed", "email", tok.Email, "error", err)
		}
		return ErrInvalidToken
	}

	email, err := s.accounts.ConsumeToken(ctx, token, now)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return ErrInvalidToken
		}
		return fmt.Errorf("%w: %w", ErrDependency, err)
	}
	s.log.Infow("auth_email_confirmed", "email", email)
	return nil
}

// Claims is the session grant payload.
type Claims struct {
	jwt.RegisteredClaims
}

// Login checks the password of a verified account and issues a session token.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	email = normalizeEmail(email)
	acct, err := s.accounts.GetAccount(ctx, email)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDependency, err)
	}
	if acct == nil {
		return "", ErrNotFound
	}
	if !acct.Verified {
		return "", ErrUnverified
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueSession(email)
}

// ParseSession validates a session token and returns the account email.
func (s *AuthService) ParseSession(accessToken string) (string, error) {
	token, err := jwt.ParseWithClaims(accessToken, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.SigningKey), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func (s *AuthService) issueSession(email string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ID:        ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.SessionTTL)),
		},
	})
	signed, err := token.SignedString([]byte(s.cfg.SigningKey))
	if err != nil {
		return "", fmt.Errorf("%w: sign session: %w", ErrDependency, err)
	}
	return signed, nil
}

func (s *AuthService) confirmLink(token string) string {
	return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/confirm?token=" + url.QueryEscape(token)
}

func confirmationBody(link string) string {
	return `<p>Please confirm your account by clicking <a href="` + html.EscapeString(link) + `">here</a>.</p>`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// randomString draws n characters uniformly from alphabet using crypto/rand.
func randomString(alphabet string, n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b), nil
}
