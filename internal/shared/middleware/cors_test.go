package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsOriginAllowed(t *testing.T) {
	tests := []struct {
		origin  string
		allowed []string
		want    bool
	}{
		{"http://example.com:8080", []string{"example.com:8080"}, true},
		{"https://example.com:3000", []string{"example.com"}, true},
		{"http://Example.COM", []string{"example.com"}, true},
		{"https://app.tradstry.app", []string{"*.tradstry.app"}, true},
		{"http://sub.example.com", []string{"example.com"}, false},
		{"http://evil.com", []string{"example.com"}, false},
		{"://invalid", []string{"example.com"}, false},
		{"null", []string{"example.com"}, false},
	}

	for _, tt := range tests {
		if got := isOriginAllowed(tt.origin, tt.allowed); got != tt.want {
			t.Errorf("isOriginAllowed(%q, %q) = %v, want %v", tt.origin, tt.allowed, got, tt.want)
		}
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name            string
		allowed         []string
		method          string
		origin          string
		wantCode        int
		wantAllowOrigin string
		wantCredentials bool
		wantNext        bool
	}{
		{"open config", nil, http.MethodGet, "http://any.example", http.StatusOK, "*", false, true},
		{"allowed origin", []string{"example.com"}, http.MethodGet, "http://example.com", http.StatusOK, "http://example.com", true, true},
		{"disallowed origin", []string{"example.com"}, http.MethodGet, "http://evil.com", http.StatusForbidden, "", false, false},
		{"no origin", []string{"example.com"}, http.MethodPost, "", http.StatusOK, "", false, true},
		{"preflight", []string{"example.com"}, http.MethodOptions, "http://example.com", http.StatusNoContent, "http://example.com", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := CORS(tt.allowed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(tt.method, "/api/connections", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			if called != tt.wantNext {
				t.Errorf("next called = %v, want %v", called, tt.wantNext)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllowOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllowOrigin)
			}
			if got := rr.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.wantCredentials {
				t.Errorf("Allow-Credentials = %v, want %v", got, tt.wantCredentials)
			}
		})
	}
}

func TestCORS_PreflightHeaders(t *testing.T) {
	handler := CORS(nil)(http.NotFoundHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/api/unmatched/", nil))

	if got := rr.Header().Get("Access-Control-Allow-Methods"); got != corsMethods {
		t.Errorf("Allow-Methods = %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); got != corsHeaders {
		t.Errorf("Allow-Headers = %q", got)
	}
}
