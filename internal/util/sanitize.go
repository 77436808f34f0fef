package util

import (
	"html"
	"net/http"
	"strings"
)

// SanitizeInput trims and escapes HTML/script-like characters before a value
// is embedded in an outbound HTML email body.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// ClientIP extracts the originating client address, preferring the first hop
// of X-Forwarded-For when the service sits behind a load balancer.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		if ip := strings.TrimSpace(fwd); ip != "" {
			return ip
		}
	}
	host := r.RemoteAddr
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	if host == "" {
		return "unknown"
	}
	return host
}
