package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestCsrfWhenSession checks that cross-origin protection applies only to
// requests that do not authenticate with a Bearer token.
func TestCsrfWhenSession(t *testing.T) {
	mockCSRF := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-CSRF-Applied", "true")
			next.ServeHTTP(w, r)
		})
	}
	handler := csrfWhenSession(mockCSRF)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name        string
		auth        string
		wantApplied bool
	}{
		{name: "cookie session", auth: "", wantApplied: true},
		{name: "bearer token", auth: "Bearer abc123", wantApplied: false},
		{name: "lowercase bearer", auth: "bearer abc123", wantApplied: false},
		{name: "basic auth", auth: "Basic dXNlcjpwYXNz", wantApplied: true},
		{name: "bare scheme", auth: "Bearer", wantApplied: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/focus-sessions", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			applied := rec.Header().Get("X-CSRF-Applied") == "true"
			if applied != tt.wantApplied {
				t.Errorf("CSRF applied = %v, want %v", applied, tt.wantApplied)
			}
		})
	}
}

func TestCrossOriginProtection(t *testing.T) {
	s := NewServer(Deps{AllowedOrigins: []string{"https://app.unwatch.example"}})
	handler := s.newCSRFMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		method     string
		headers    map[string]string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "cross-site POST is blocked",
			method:     "POST",
			headers:    map[string]string{"Sec-Fetch-Site": "cross-site", "Origin": "https://evil.example"},
			wantStatus: http.StatusForbidden,
			wantBody:   `{"error":"Cross-origin request blocked"}`,
		},
		{
			name:       "untrusted origin without fetch metadata is blocked",
			method:     "DELETE",
			headers:    map[string]string{"Origin": "https://evil.example"},
			wantStatus: http.StatusForbidden,
			wantBody:   `{"error":"Cross-origin request blocked"}`,
		},
		{
			name:       "same-origin POST passes",
			method:     "POST",
			headers:    map[string]string{"Sec-Fetch-Site": "same-origin"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "trusted origin passes",
			method:     "POST",
			headers:    map[string]string{"Sec-Fetch-Site": "cross-site", "Origin": "https://app.unwatch.example"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "non-browser request passes",
			method:     "POST",
			wantStatus: http.StatusOK,
		},
		{
			name:       "cross-site GET passes",
			method:     "GET",
			headers:    map[string]string{"Sec-Fetch-Site": "cross-site", "Origin": "https://evil.example"},
			wantStatus: http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/auth/logout", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantBody != "" {
				if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
					t.Errorf("Content-Type = %q, want application/json", ct)
				}
				if got := strings.TrimSpace(rec.Body.String()); got != tt.wantBody {
					t.Errorf("body = %s, want %s", got, tt.wantBody)
				}
			}
		})
	}
}
