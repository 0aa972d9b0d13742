package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsHostAllowed(t *testing.T) {
	tests := []struct {
		host    string
		allowed []string
		want    bool
	}{
		{"example.com", nil, true},
		{"example.com", []string{"example.com"}, true},
		{"example.com:8080", []string{"example.com"}, true},
		{"example.com", []string{"example.com:8443"}, true},
		{"EXAMPLE.com", []string{" example.COM "}, true},
		{"api.tradstry.app", []string{"*.tradstry.app"}, true},
		{"tradstry.app", []string{"*.tradstry.app"}, false},
		{"eviltradstry.app", []string{"*.tradstry.app"}, false},
		{"[::1]:8080", []string{"::1"}, true},
		{"::1", []string{"[::1]:8080"}, true},
		{"[fe80::1%lo0]:8080", []string{"fe80::1%lo0"}, true},
		{"evil.com", []string{"example.com"}, false},
		{"example.com.evil.com", []string{"example.com"}, false},
		{"", []string{"example.com"}, false},
		{"example.com", []string{"", "example.com"}, true},
	}

	for _, tt := range tests {
		if got := IsHostAllowed(tt.host, tt.allowed); got != tt.want {
			t.Errorf("IsHostAllowed(%q, %q) = %v, want %v", tt.host, tt.allowed, got, tt.want)
		}
	}
}

func TestHSTS(t *testing.T) {
	handler := HSTS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if got := rr.Header().Get("Strict-Transport-Security"); got != "max-age=31536000; includeSubDomains" {
		t.Errorf("Strict-Transport-Security = %q", got)
	}
}
