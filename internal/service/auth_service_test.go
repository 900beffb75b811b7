package service

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sensor_monitor/internal/config"
	"sensor_monitor/internal/logger"
	"sensor_monitor/internal/repository"
)

var testAuthCfg = config.AuthConfig{
	SigningKey:    "test-signing-key-0123456789",
	SessionTTL:    time.Hour,
	TokenTTL:      24 * time.Hour,
	PublicBaseURL: "http://localhost:8080/",
}

func newAuth(t *testing.T) (*AuthService, *memAccounts, *mockMailer) {
	t.Helper()
	repo := newMemAccounts()
	mailer := &mockMailer{}
	return NewAuthService(repo, mailer, testAuthCfg, 2, logger.Nop()), repo, mailer
}

var linkRe = regexp.MustCompile(`href="([^"]+)"`)

// tokenFromMail extracts the confirmation token from the last mail sent.
func tokenFromMail(t *testing.T, m *mockMailer) string {
	t.Helper()
	match := linkRe.FindStringSubmatch(m.last().body)
	if match == nil {
		t.Fatalf("no link in mail body %q", m.last().body)
	}
	u, err := url.Parse(match[1])
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	if u.Path != "/confirm" {
		t.Fatalf("link path = %q", u.Path)
	}
	return u.Query().Get("token")
}

func TestAuthService_RegisterConfirmLogin(t *testing.T) {
	svc, _, mailer := newAuth(t)
	ctx := context.Background()

	res, err := svc.Register(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if len(res.Password) != passwordLength {
		t.Fatalf("password length = %d", len(res.Password))
	}
	for _, c := range res.Password {
		if !strings.ContainsRune(passwordAlphabet, c) {
			t.Fatalf("password has char %q outside alphabet", c)
		}
	}
	if got := mailer.last(); got.to != "a@x.com" || got.subject != confirmSubject {
		t.Fatalf("unexpected mail %+v", got)
	}

	if _, err := svc.Login(ctx, "a@x.com", res.Password); !errors.Is(err, ErrUnverified) {
		t.Fatalf("login before confirm: expected ErrUnverified, got %v", err)
	}

	token := tokenFromMail(t, mailer)
	if len(token) != tokenLength {
		t.Fatalf("token length = %d", len(token))
	}
	if err := svc.Confirm(ctx, token); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if err := svc.Confirm(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("second confirm: expected ErrInvalidToken, got %v", err)
	}

	session, err := svc.Login(ctx, "a@x.com", res.Password)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	email, err := svc.ParseSession(session)
	if err != nil || email != "a@x.com" {
		t.Fatalf("ParseSession: %q %v", email, err)
	}

	if _, err := svc.Login(ctx, "a@x.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Register(ctx, "a@x.com"); !errors.Is(err, ErrConflict) {
		t.Fatalf("re-register verified: expected ErrConflict, got %v", err)
	}
}

func TestAuthService_Register_InvalidEmail(t *testing.T) {
	svc, repo, mailer := newAuth(t)
	for _, in := range []string{"", "   ", "not-an-email", "a@"} {
		if _, err := svc.Register(context.Background(), in); !errors.Is(err, ErrValidation) {
			t.Errorf("Register(%q): expected ErrValidation, got %v", in, err)
		}
	}
	if len(repo.accounts) != 0 || mailer.calls != 0 {
		t.Fatal("nothing should be written or sent")
	}
}

func TestAuthService_Register_NormalizesEmail(t *testing.T) {
	svc, repo, _ := newAuth(t)
	if _, err := svc.Register(context.Background(), "  A@X.com "); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, ok := repo.accounts["a@x.com"]; !ok {
		t.Fatal("expected account stored under normalized email")
	}
}

func TestAuthService_Reregister_ReplacesToken(t *testing.T) {
	svc, repo, mailer := newAuth(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "a@x.com"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	first := tokenFromMail(t, mailer)
	res, err := svc.Register(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("Register again: %v", err)
	}
	second := tokenFromMail(t, mailer)

	if toks := repo.tokensFor("a@x.com"); len(toks) != 1 || toks[0].Token != second {
		t.Fatalf("expected only the second token, got %+v", toks)
	}
	if err := svc.Confirm(ctx, first); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("old token: expected ErrInvalidToken, got %v", err)
	}
	if err := svc.Confirm(ctx, second); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if _, err := svc.Login(ctx, "a@x.com", res.Password); err != nil {
		t.Fatalf("Login with latest password: %v", err)
	}
}

func TestAuthService_ConcurrentRegister_SingleLiveToken(t *testing.T) {
	svc, repo, _ := newAuth(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Register(context.Background(), "race@x.com")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil && !errors.Is(err, ErrConflict) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if n := len(repo.tokensFor("race@x.com")); n != 1 {
		t.Fatalf("live tokens = %d, want 1", n)
	}
	if svc.locks.size() != 0 {
		t.Fatal("keyed mutex leaked entries")
	}
}

func TestAuthService_Register_StoreConflict(t *testing.T) {
	svc, repo, _ := newAuth(t)
	repo.saveErr = repository.ErrConcurrentWrite
	if _, err := svc.Register(context.Background(), "a@x.com"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestAuthService_Register_MailFailureRollsBack(t *testing.T) {
	svc, repo, mailer := newAuth(t)
	mailer.err = errors.New("smtp down")

	_, err := svc.Register(context.Background(), "a@x.com")
	if !errors.Is(err, ErrDependency) {
		t.Fatalf("expected ErrDependency, got %v", err)
	}
	if mailer.calls != 2 {
		t.Fatalf("send attempts = %d, want 2", mailer.calls)
	}
	if len(repo.accounts) != 0 || len(repo.tokens) != 0 {
		t.Fatalf("registration not rolled back: %+v %+v", repo.accounts, repo.tokens)
	}
}

func TestAuthService_Confirm_Expired(t *testing.T) {
	svc, repo, mailer := newAuth(t)
	ctx := context.Background()

	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }
	if _, err := svc.Register(ctx, "a@x.com"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	token := tokenFromMail(t, mailer)

	svc.now = func() time.Time { return start.Add(testAuthCfg.TokenTTL) }
	if err := svc.Confirm(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, ok := repo.tokens[token]; ok {
		t.Fatal("expired token should be deleted")
	}
	if acct := repo.accounts["a@x.com"]; acct.Verified {
		t.Fatal("account must stay unverified")
	}
}

func TestAuthService_Confirm_UnknownOrEmpty(t *testing.T) {
	svc, _, _ := newAuth(t)
	for _, tok := range []string{"", "  ", "nope"} {
		if err := svc.Confirm(context.Background(), tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Confirm(%q): expected ErrInvalidToken, got %v", tok, err)
		}
	}
}

func TestAuthService_Login_NotFound(t *testing.T) {
	svc, _, _ := newAuth(t)
	if _, err := svc.Login(context.Background(), "ghost@x.com", "pw"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuthService_ParseSession_Rejects(t *testing.T) {
	svc, _, _ := newAuth(t)

	other := NewAuthService(newMemAccounts(), &mockMailer{}, config.AuthConfig{SigningKey: "another-signing-key-987654", SessionTTL: time.Hour}, 1, nil)
	foreign, err := other.issueSession("a@x.com")
	if err != nil {
		t.Fatalf("issueSession: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := svc.issueSession("a@x.com")
	if err != nil {
		t.Fatalf("issueSession: %v", err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "a@x.com",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "a@x.com"}).
		SignedString([]byte(testAuthCfg.SigningKey))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	for name, tok := range map[string]string{
		"garbage":   "not.a.jwt",
		"foreign":   foreign,
		"expired":   expired,
		"alg none":  none,
		"no expiry": noExp,
	} {
		if _, err := svc.ParseSession(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestRandomString_Alphabet(t *testing.T) {
	s, err := randomString("ab", 64)
	if err != nil {
		t.Fatalf("randomString: %v", err)
	}
	if len(s) != 64 || strings.Trim(s, "ab") != "" {
		t.Fatalf("unexpected %q", s)
	}
}
