package gatekeeper

import (
	"net/http"
	"strings"
)

type headerPair struct {
	name  string
	value string
}

// securityHeaders builds the header set stamped on every response, allowed or
// not. origins extends the content security policy's script, style and
// connect sources beyond self.
func securityHeaders(origins []string) []headerPair {
	sources := "'self'"
	if len(origins) > 0 {
		sources += " " + strings.Join(origins, " ")
	}
	csp := strings.Join([]string{
		"default-src 'self'",
		"script-src " + sources,
		"style-src " + sources + " 'unsafe-inline'",
		"connect-src " + sources,
		"frame-ancestors 'none'",
		"base-uri 'self'",
	}, "; ")

	return []headerPair{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"X-XSS-Protection", "1; mode=block"},
		{"Referrer-Policy", "strict-origin-when-cross-origin"},
		{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
		{"Content-Security-Policy", csp},
	}
}

// StampHeaders writes the security header set.
func (g *Gatekeeper) StampHeaders(h http.Header) {
	for _, pair := range g.headers {
		h.Set(pair.name, pair.value)
	}
}
