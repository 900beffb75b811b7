package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"sensor_monitor/internal/models"
	"sensor_monitor/internal/repository"
	"sensor_monitor/internal/telemetry"
)

// memAccounts is an in-memory repository.AccountRepo.
type memAccounts struct {
	mu       sync.Mutex
	accounts map[string]models.Account
	tokens   map[string]models.ConfirmationToken

	saveErr error
}

func newMemAccounts() *memAccounts {
	return &memAccounts{
		accounts: map[string]models.Account{},
		tokens:   map[string]models.ConfirmationToken{},
	}
}

var _ repository.AccountRepo = (*memAccounts)(nil)

func (m *memAccounts) GetAccount(_ context.Context, email string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[email]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *memAccounts) SaveRegistration(_ context.Context, acct models.Account, tok models.ConfirmationToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	if a, ok := m.accounts[acct.Email]; ok && a.Verified {
		return repository.ErrAccountVerified
	}
	for k, t := range m.tokens {
		if t.Email == acct.Email {
			delete(m.tokens, k)
		}
	}
	acct.Verified = false
	m.accounts[acct.Email] = acct
	m.tokens[tok.Token] = tok
	return nil
}

func (m *memAccounts) DeleteRegistration(_ context.Context, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
	if a, ok := m.accounts[email]; ok && !a.Verified {
		delete(m.accounts, email)
	}
	return nil
}

func (m *memAccounts) GetToken(_ context.Context, token string) (*models.ConfirmationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *memAccounts) ConsumeToken(_ context.Context, token string, now time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok || t.Expired(now) {
		return "", repository.ErrTokenNotFound
	}
	delete(m.tokens, token)
	a := m.accounts[t.Email]
	a.Verified = true
	m.accounts[t.Email] = a
	return t.Email, nil
}

func (m *memAccounts) DeleteToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
	return nil
}

func (m *memAccounts) tokensFor(email string) []models.ConfirmationToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ConfirmationToken
	for _, t := range m.tokens {
		if t.Email == email {
			out = append(out, t)
		}
	}
	return out
}

// mockMailer records sent mail and can fail on demand.
type mockMailer struct {
	mu    sync.Mutex
	sent  []sentMail
	calls int
	err   error
}

type sentMail struct{ to, subject, body string }

func (m *mockMailer) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to, subject, body})
	return nil
}

func (m *mockMailer) last() sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

// memReadings is an in-memory repository.ReadingRepo.
type memReadings struct {
	mu        sync.Mutex
	rows      []models.Reading
	listErr   error
	appendErr error
}

func (m *memReadings) Append(_ context.Context, r models.Reading) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return 0, m.appendErr
	}
	r.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, r)
	return r.ID, nil
}

func (m *memReadings) List(_ context.Context, from, to time.Time) ([]models.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.Reading
	for _, r := range m.rows {
		if (!from.IsZero() && r.Timestamp.Before(from)) || (!to.IsZero() && r.Timestamp.After(to)) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *memReadings) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// fakeChannel is a telemetry.Channel driven by the test.
type fakeChannel struct {
	opts telemetry.Options

	mu         sync.Mutex
	published  []telemetry.Message
	publishErr error
}

func (f *fakeChannel) Run(ctx context.Context) error {
	f.opts.OnStatus(models.StatusConnected, nil)
	<-ctx.Done()
	f.opts.OnStatus(models.StatusDisconnected, nil)
	return nil
}

func (f *fakeChannel) Publish(_ context.Context, topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, telemetry.Message{Topic: topic, Payload: payload})
	return nil
}

func (f *fakeChannel) deliver(topic, payload string) {
	f.opts.OnMessage(telemetry.Message{Topic: topic, Payload: []byte(payload)})
}

func (f *fakeChannel) sent() []telemetry.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]telemetry.Message(nil), f.published...)
}

// channelFactory returns a factory that records the channel it built.
func channelFactory(out **fakeChannel) ChannelFactory {
	return func(opts telemetry.Options) (telemetry.Channel, error) {
		if opts.OnStatus == nil {
			opts.OnStatus = func(models.Status, error) {}
		}
		ch := &fakeChannel{opts: opts}
		*out = ch
		return ch, nil
	}
}
