package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestAuthMiddleware(t *testing.T) {
	verifier := func(ctx context.Context, token string) (*oidc.IDToken, error) {
		if token == "valid-token" {
			return &oidc.IDToken{Subject: "user-1"}, nil
		}
		return nil, assert.AnError
	}

	tests := []struct {
		name       string
		method     string
		path       string
		auth       string
		verifier   tokenVerifier
		wantStatus int
		wantCalled bool
	}{
		{name: "get without token", method: http.MethodGet, path: "/api/devices", verifier: verifier, wantStatus: http.StatusOK},
		{name: "post without token", method: http.MethodPost, path: "/api/devices/1/toggle", verifier: verifier, wantStatus: http.StatusUnauthorized},
		{name: "post with non bearer", method: http.MethodPost, path: "/api/devices/1/toggle", auth: "Basic abc", verifier: verifier, wantStatus: http.StatusUnauthorized},
		{name: "post with empty bearer", method: http.MethodPost, path: "/api/devices/1/toggle", auth: "Bearer ", verifier: verifier, wantStatus: http.StatusUnauthorized},
		{name: "post with bad token", method: http.MethodPost, path: "/api/devices/1/toggle", auth: "Bearer nope", verifier: verifier, wantStatus: http.StatusUnauthorized},
		{name: "post with valid token", method: http.MethodPost, path: "/api/devices/1/toggle", auth: "Bearer valid-token", verifier: verifier, wantStatus: http.StatusOK, wantCalled: true},
		{name: "auth disabled", method: http.MethodPost, path: "/api/devices/1/toggle", wantStatus: http.StatusOK, wantCalled: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, e, _ := newTestServer()
			srv.oidcVerifier = tt.verifier
			e.On("Devices").Return(nil).Maybe()
			e.On("ToggleDevice", mock.Anything, int64(1)).Return(true, nil).Maybe()

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(""))
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			w := serve(srv, req)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCalled {
				e.AssertCalled(t, "ToggleDevice", mock.Anything, int64(1))
			} else {
				e.AssertNotCalled(t, "ToggleDevice", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestAuthMiddlewareSubject(t *testing.T) {
	srv := &Server{
		oidcVerifier: func(ctx context.Context, token string) (*oidc.IDToken, error) {
			return &oidc.IDToken{Subject: "user-7"}, nil
		},
	}
	var subject string
	h := srv.authMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = getSubject(r)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/analysis", nil)
	req.Header.Set("Authorization", "Bearer anything")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "user-7", subject)
}

func TestCheckOrigin(t *testing.T) {
	srv := &Server{allowedOrigin: "https://dash.example.com"}

	tests := map[string]struct {
		origin string
		want   bool
	}{
		"no origin":      {"", true},
		"same host":      {"http://gridsync.local:8080", true},
		"same host tls":  {"https://gridsync.local:8080", true},
		"allowed":        {"https://dash.example.com", true},
		"other":          {"https://evil.example.com", false},
		"other scheme":   {"ftp://gridsync.local:8080", false},
		"different port": {"http://gridsync.local:9090", false},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://gridsync.local:8080/api/stream", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, srv.checkOrigin(req))
		})
	}
}
