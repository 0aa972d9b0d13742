package middleware

import (
	"net"
	"net/http"
	"strings"
)

// HSTS tells browsers to use HTTPS for a year, subdomains included.
func HSTS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		next.ServeHTTP(w, r)
	})
}

// IsHostAllowed reports whether host matches an entry of allowedHosts.
// Ports are ignored on both sides, IPv6 brackets are optional, and an entry
// of the form "*.example.com" matches any subdomain of example.com. With no
// entries every host is allowed.
func IsHostAllowed(host string, allowedHosts []string) bool {
	if len(allowedHosts) == 0 {
		return true
	}

	h := bareHost(host)
	if h == "" {
		return false
	}

	for _, allowed := range allowedHosts {
		a := bareHost(allowed)
		if a == "" {
			continue
		}
		if suffix, ok := strings.CutPrefix(a, "*."); ok {
			if strings.HasSuffix(h, "."+suffix) {
				return true
			}
			continue
		}
		if h == a {
			return true
		}
	}
	return false
}

// bareHost lowercases host and strips any port and IPv6 brackets.
func bareHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
}
