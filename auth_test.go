package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func authProbe(am *AuthMiddleware, req *http.Request) int {
	rr := httptest.NewRecorder()
	am.Check(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})).ServeHTTP(rr, req)
	return rr.Code
}

func TestAuthMiddleware(t *testing.T) {
	am := NewAuthMiddleware("secret")

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"health is public", "/health", "", http.StatusTeapot},
		{"metrics is public", "/metrics", "", http.StatusTeapot},
		{"missing token", "/api/status", "", http.StatusUnauthorized},
		{"bearer", "/api/status", "Bearer secret", http.StatusTeapot},
		{"lowercase scheme", "/api/status", "bearer secret", http.StatusTeapot},
		{"wrong token", "/api/status", "Bearer nope", http.StatusUnauthorized},
		{"query token", "/api/status?token=secret", "", http.StatusTeapot},
		{"basic scheme", "/api/status", "Basic secret", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := authProbe(am, req); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStreamTokenRoundTrip(t *testing.T) {
	am := NewAuthMiddleware("secret")
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	am.now = func() time.Time { return now }

	token, expires, err := am.GenerateStreamToken()
	if err != nil {
		t.Fatalf("GenerateStreamToken: %v", err)
	}
	if !expires.Equal(now.Add(StreamTokenTTL)) {
		t.Errorf("expires = %v", expires)
	}
	if err := am.VerifyStreamToken(token); err != nil {
		t.Fatalf("VerifyStreamToken: %v", err)
	}

	if err := NewAuthMiddleware("other").VerifyStreamToken(token); err == nil {
		t.Error("token verified with the wrong key")
	}

	now = now.Add(StreamTokenTTL + time.Minute)
	if err := am.VerifyStreamToken(token); err == nil {
		t.Error("expired token accepted")
	}
}

func TestStreamTokenScope(t *testing.T) {
	am := NewAuthMiddleware("secret")
	token, _, err := am.GenerateStreamToken()
	if err != nil {
		t.Fatalf("GenerateStreamToken: %v", err)
	}

	allowed := []string{
		"/api/stream/mjpeg",
		"/api/stream/frame",
		"/api/ws/status",
		"/api/events/0f8fad5b-d9cb-469f-a165-70867728950e/clip",
	}
	for _, path := range allowed {
		if got := authProbe(am, httptest.NewRequest(http.MethodGet, path+"?st="+token, nil)); got != http.StatusTeapot {
			t.Errorf("%s: status %d", path, got)
		}
	}

	denied := []string{"/api/stream/token", "/api/events", "/api/config"}
	for _, path := range denied {
		if got := authProbe(am, httptest.NewRequest(http.MethodGet, path+"?st="+token, nil)); got != http.StatusUnauthorized {
			t.Errorf("%s: status %d, want 401", path, got)
		}
	}
}
