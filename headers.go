package guardpost

import "net/http"

// Response header names the pipeline emits.
const (
	HeaderRequestID    = "X-Request-ID"
	HeaderResponseTime = "X-Response-Time"

	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// DefaultAPIKeyHeader is the request header checked for API keys unless a
// route configures another name.
const DefaultAPIKeyHeader = "X-API-Key"

// HeaderOptions configures the baseline security headers attached to every
// response the pipeline produces, success or failure.
type HeaderOptions struct {
	ContentTypeNosniff    bool
	FrameOptions          string
	XSSProtection         string
	ReferrerPolicy        string
	PermissionsPolicy     string
	ContentSecurityPolicy string
}

// DefaultHeaderOptions returns the restrictive defaults.
func DefaultHeaderOptions() HeaderOptions {
	return HeaderOptions{
		ContentTypeNosniff:    true,
		FrameOptions:          "DENY",
		XSSProtection:         "1; mode=block",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		PermissionsPolicy:     "geolocation=(), microphone=(), camera=()",
		ContentSecurityPolicy: "default-src 'self'; frame-ancestors 'none'; base-uri 'self'",
	}
}

func (o HeaderOptions) apply(h http.Header) {
	if o.ContentTypeNosniff {
		h.Set("X-Content-Type-Options", "nosniff")
	}
	if o.FrameOptions != "" {
		h.Set("X-Frame-Options", o.FrameOptions)
	}
	if o.XSSProtection != "" {
		h.Set("X-XSS-Protection", o.XSSProtection)
	}
	if o.ReferrerPolicy != "" {
		h.Set("Referrer-Policy", o.ReferrerPolicy)
	}
	if o.PermissionsPolicy != "" {
		h.Set("Permissions-Policy", o.PermissionsPolicy)
	}
	if o.ContentSecurityPolicy != "" {
		h.Set("Content-Security-Policy", o.ContentSecurityPolicy)
	}
}
