package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sensor_monitor/internal/service"
)

func postJSON(t *testing.T, s *service.Service, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := newTestRouter(s)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestRegister(t *testing.T) {
	cases := []struct {
		name string
		err  error
		body string
		code int
	}{
		{"success", nil, `{"email":"a@b.co"}`, http.StatusOK},
		{"missing body field", nil, `{}`, http.StatusBadRequest},
		{"invalid email", fmt.Errorf("%w: bad", service.ErrValidation), `{"email":"nope"}`, http.StatusBadRequest},
		{"already verified", service.ErrConflict, `{"email":"a@b.co"}`, http.StatusConflict},
		{"mail down", fmt.Errorf("%w: smtp", service.ErrDependency), `{"email":"a@b.co"}`, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			auth := &mockAuth{registerPassword: "Secret123!ab", registerErr: tc.err}
			w := postJSON(t, &service.Service{Authorization: auth}, "/register", tc.body)
			if w.Code != tc.code {
				t.Fatalf("status=%d, want %d, body=%s", w.Code, tc.code, w.Body.String())
			}
			if tc.code != http.StatusOK {
				return
			}
			var m map[string]string
			_ = json.Unmarshal(w.Body.Bytes(), &m)
			if m["password"] != "Secret123!ab" || m["message"] != msgRegistered {
				t.Fatalf("unexpected body %v", m)
			}
			if auth.lastRegisterEmail != "a@b.co" {
				t.Fatalf("service got %q", auth.lastRegisterEmail)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"success", nil, http.StatusOK},
		{"unknown email", service.ErrNotFound, http.StatusNotFound},
		{"unverified", service.ErrUnverified, http.StatusForbidden},
		{"wrong password", service.ErrInvalidCredentials, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			auth := &mockAuth{loginToken: "tok123", loginErr: tc.err}
			w := postJSON(t, &service.Service{Authorization: auth}, "/login", `{"email":"a@b.co","password":"pw"}`)
			if w.Code != tc.code {
				t.Fatalf("status=%d, want %d, body=%s", w.Code, tc.code, w.Body.String())
			}
			if tc.code == http.StatusOK {
				var m map[string]string
				_ = json.Unmarshal(w.Body.Bytes(), &m)
				if m["token"] != "tok123" {
					t.Fatalf("expected token tok123, got %v", m)
				}
			}
		})
	}

	// invalid body → 400
	w := postJSON(t, &service.Service{Authorization: &mockAuth{}}, "/login", `{"email":1}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad body, got %d", w.Code)
	}
}

func TestConfirm(t *testing.T) {
	get := func(auth *mockAuth, query string) *httptest.ResponseRecorder {
		r := newTestRouter(&service.Service{Authorization: auth})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/confirm"+query, nil))
		return w
	}

	auth := &mockAuth{}
	w := get(auth, "?token=abc")
	if w.Code != http.StatusOK || w.Body.String() != msgConfirmed {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type %q", ct)
	}
	if auth.lastConfirmToken != "abc" {
		t.Fatalf("service got token %q", auth.lastConfirmToken)
	}

	w = get(&mockAuth{}, "")
	if w.Code != http.StatusBadRequest || w.Body.String() != msgConfirmError {
		t.Fatalf("missing token: status=%d body=%q", w.Code, w.Body.String())
	}

	w = get(&mockAuth{confirmErr: service.ErrInvalidToken}, "?token=old")
	if w.Code != http.StatusBadRequest || w.Body.String() != msgConfirmError {
		t.Fatalf("expired token: status=%d body=%q", w.Code, w.Body.String())
	}

	w = get(&mockAuth{confirmErr: service.ErrDependency}, "?token=x")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("store failure: status=%d", w.Code)
	}
}
