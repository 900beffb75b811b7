package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"sensor_monitor/internal/models"
	"sensor_monitor/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func newWSServer(t *testing.T, s *service.Service) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(s, nil).WithPushInterval(20 * time.Millisecond)
	r.GET("/ws", h.wsConnect)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, token string) string {
	u, _ := url.Parse(srv.URL)
	u.Scheme = "ws"
	u.Path = "/ws"
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func TestWebSocket_LiveStream_InitialAndPeriodic(t *testing.T) {
	live := &mockLive{
		status: models.PipelineStatus{Status: models.StatusConnected, Received: 3, Window: 1},
		samples: []models.LiveSample{{
			Raw:     "24.50,40.00,30.00,OFF,120.00,0",
			Reading: models.Reading{Temperature: 24.5, Humidity: 40, Distance: 30, ActuatorOutput: 120},
		}},
	}
	s := &service.Service{Authorization: &mockAuth{parseEmail: "op@example.com"}, Live: live}
	srv := newWSServer(t, s)

	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := dialer.Dial(wsURL(srv, "tok"), nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	type envelope struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read initial: %v", err)
	}
	if env.Type != "live" || len(env.Data) == 0 {
		t.Fatalf("bad envelope: %+v", env)
	}
	var view liveView
	if err := json.Unmarshal(env.Data, &view); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if view.Status.Status != models.StatusConnected || len(view.Samples) != 1 || view.Samples[0].Reading.Temperature != 24.5 {
		t.Fatalf("unexpected view: %+v", view)
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	env = envelope{}
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read second: %v", err)
	}
	if env.Type != "live" {
		t.Fatalf("expected type=live, got %+v", env)
	}
}

func TestWebSocket_BearerHeaderAccepted(t *testing.T) {
	auth := &mockAuth{parseEmail: "op@example.com"}
	srv := newWSServer(t, &service.Service{Authorization: auth, Live: &mockLive{}})

	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := dialer.Dial(wsURL(srv, ""), authHeader("hdr-token"))
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	// Without the header there is no token at all, so a completed
	// handshake means it was read.
	conn.Close()
}

func TestWebSocket_RejectsWithoutSession(t *testing.T) {
	cases := []struct {
		name  string
		token string
		auth  *mockAuth
	}{
		{"no token", "", &mockAuth{}},
		{"bad token", "forged", &mockAuth{parseErr: errors.New("signature")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newWSServer(t, &service.Service{Authorization: tc.auth, Live: &mockLive{}})
			dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
			conn, resp, err := dialer.Dial(wsURL(srv, tc.token), nil)
			if err == nil {
				conn.Close()
				t.Fatal("expected handshake failure")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %+v", resp)
			}
		})
	}
}
