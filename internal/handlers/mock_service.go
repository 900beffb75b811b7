package handlers

import (
	"context"
	"net/http"

	"sensor_monitor/internal/models"
	"sensor_monitor/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	registerPassword string
	registerErr      error
	confirmErr       error
	loginToken       string
	loginErr         error
	parseEmail       string
	parseErr         error

	lastRegisterEmail string
	lastConfirmToken  string
	lastLoginEmail    string
	lastLoginPassword string
	lastParseToken    string
}

func (m *mockAuth) Register(_ context.Context, email string) (service.RegisterResult, error) {
	m.lastRegisterEmail = email
	if m.registerErr != nil {
		return service.RegisterResult{}, m.registerErr
	}
	return service.RegisterResult{Password: m.registerPassword}, nil
}
func (m *mockAuth) Confirm(_ context.Context, token string) error {
	m.lastConfirmToken = token
	return m.confirmErr
}
func (m *mockAuth) Login(_ context.Context, email, password string) (string, error) {
	m.lastLoginEmail = email
	m.lastLoginPassword = password
	return m.loginToken, m.loginErr
}
func (m *mockAuth) ParseSession(token string) (string, error) {
	m.lastParseToken = token
	return m.parseEmail, m.parseErr
}

type mockLive struct {
	samples []models.LiveSample
	status  models.PipelineStatus
	sendErr error

	lastName  string
	lastValue string
	sendCalls int
}

func (m *mockLive) Start(context.Context) error { return nil }
func (m *mockLive) Stop()                       {}
func (m *mockLive) SendCommand(_ context.Context, name, value string) error {
	m.sendCalls++
	m.lastName = name
	m.lastValue = value
	return m.sendErr
}
func (m *mockLive) Snapshot() []models.LiveSample  { return m.samples }
func (m *mockLive) Status() models.PipelineStatus { return m.status }

type mockHistory struct {
	resp     []models.Reading
	err      error
	lastFrom string
	lastTo   string
	calls    int
}

func (m *mockHistory) Query(_ context.Context, from, to string) ([]models.Reading, error) {
	m.calls++
	m.lastFrom = from
	m.lastTo = to
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
