package guardpost

import (
	"net"
	"net/http"
	"strings"
)

// ClientIPExtractor is a function that takes a request as input and returns
// the originating client IP for use in the SecurityContext and as the CSRF
// session-key fallback. An empty string means the IP could not be resolved.
type ClientIPExtractor func(r *http.Request) string

// ForwardedClientIP is a ClientIPExtractor that honors X-Forwarded-For and
// X-Real-IP set by trusted proxies before falling back to the connection's
// remote address.
func ForwardedClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RemoteAddrClientIP is a ClientIPExtractor that trusts only the
// connection's remote address, for deployments with no proxy in front.
func RemoteAddrClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
