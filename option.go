package guardpost

import (
	"errors"
	"net/http"
	"time"

	"github.com/guardpost/go-guardpost/authenticator"
	"github.com/guardpost/go-guardpost/csrf"
	"github.com/guardpost/go-guardpost/ratelimit"
	"github.com/guardpost/go-guardpost/schema"
)

// Option configures an Endpoint. Returns an error for invalid values.
type Option func(*Endpoint) error

// WithAuthenticator sets the authenticator backing the auth check.
// Required whenever WithAuthLevel or WithAllowedRoles is used.
func WithAuthenticator(a *authenticator.Authenticator) Option {
	return func(e *Endpoint) error {
		if a == nil {
			return errors.New("authenticator must not be nil")
		}
		e.authn = a
		return nil
	}
}

// WithAuthLevel sets the credential requirement for the route.
func WithAuthLevel(level authenticator.Level) Option {
	return func(e *Endpoint) error {
		e.authLevel = level
		return nil
	}
}

// WithAllowedRoles restricts the route to callers holding at least one of
// the given roles. Implies authentication.
func WithAllowedRoles(roles ...string) Option {
	return func(e *Endpoint) error {
		if len(roles) == 0 {
			return errors.New("at least one role is required")
		}
		e.allowedRoles = roles
		if e.authLevel < authenticator.LevelRequired {
			e.authLevel = authenticator.LevelRequired
		}
		return nil
	}
}

// WithAPIKeys enables the API key check against the given set of valid keys.
func WithAPIKeys(keys ...string) Option {
	return func(e *Endpoint) error {
		if len(keys) == 0 {
			return errors.New("at least one API key is required")
		}
		for _, key := range keys {
			if key == "" {
				return errors.New("API keys must not be empty")
			}
		}
		e.apiKeys = keys
		return nil
	}
}

// WithAPIKeyHeader overrides the header the API key is read from.
// Defaults to X-API-Key.
func WithAPIKeyHeader(name string) Option {
	return func(e *Endpoint) error {
		if name == "" {
			return errors.New("API key header must not be empty")
		}
		e.apiKeyHeader = name
		return nil
	}
}

// WithRateLimiter enables request throttling.
func WithRateLimiter(l ratelimit.Limiter) Option {
	return func(e *Endpoint) error {
		if l == nil {
			return errors.New("rate limiter must not be nil")
		}
		e.limiter = l
		return nil
	}
}

// WithInputSchema enables request body validation for body-bearing methods.
// The parsed value is available to the handler via Body.
func WithInputSchema(s schema.Schema) Option {
	return func(e *Endpoint) error {
		if s == nil {
			return errors.New("input schema must not be nil")
		}
		e.inputSchema = s
		return nil
	}
}

// WithCORSAllowedOrigins enables CORS handling for the given origins.
// Origins are matched exactly, case-insensitively.
func WithCORSAllowedOrigins(origins ...string) Option {
	return func(e *Endpoint) error {
		if len(origins) == 0 {
			return errors.New("at least one origin is required")
		}
		e.corsAllowedOrigins = origins
		return nil
	}
}

// WithCSRFStore enables anti-forgery protection on state-mutating methods.
func WithCSRFStore(s *csrf.Store) Option {
	return func(e *Endpoint) error {
		if s == nil {
			return errors.New("CSRF store must not be nil")
		}
		e.csrfStore = s
		return nil
	}
}

// WithMaxRequestBytes caps the request body size. Both the declared
// Content-Length and the actual streamed bytes are enforced.
func WithMaxRequestBytes(n int64) Option {
	return func(e *Endpoint) error {
		if n <= 0 {
			return errors.New("max request bytes must be positive")
		}
		e.maxRequestBytes = n
		return nil
	}
}

// WithCustomValidation adds a route-specific check that runs last, after
// every built-in check has passed. A non-nil error rejects with 400 and the
// error text as the client-facing message.
func WithCustomValidation(fn func(r *http.Request) error) Option {
	return func(e *Endpoint) error {
		if fn == nil {
			return errors.New("custom validation must not be nil")
		}
		e.customValidation = fn
		return nil
	}
}

// WithSecurityHeaders overrides the baseline security header set.
func WithSecurityHeaders(h HeaderOptions) Option {
	return func(e *Endpoint) error {
		e.headers = h
		return nil
	}
}

// WithDevMode includes diagnostic detail, such as panic messages, in error
// responses. Never enable in production.
func WithDevMode(enabled bool) Option {
	return func(e *Endpoint) error {
		e.devMode = enabled
		return nil
	}
}

// WithLogger sets the logger. Defaults to the standard library logger.
func WithLogger(l Logger) Option {
	return func(e *Endpoint) error {
		if l == nil {
			return errors.New("logger must not be nil")
		}
		e.logger = l
		return nil
	}
}

// WithMetrics sets the metrics sink. Defaults to a no-op implementation.
func WithMetrics(m Metrics) Option {
	return func(e *Endpoint) error {
		if m == nil {
			return errors.New("metrics must not be nil")
		}
		e.metrics = m
		return nil
	}
}

// WithTracer sets the tracer. Defaults to a no-op implementation.
func WithTracer(t Tracer) Option {
	return func(e *Endpoint) error {
		if t == nil {
			return errors.New("tracer must not be nil")
		}
		e.tracer = t
		return nil
	}
}

// WithClientIPExtractor overrides how the client IP is derived from a
// request. Defaults to ForwardedClientIP.
func WithClientIPExtractor(fn ClientIPExtractor) Option {
	return func(e *Endpoint) error {
		if fn == nil {
			return errors.New("client IP extractor must not be nil")
		}
		e.clientIP = fn
		return nil
	}
}

// WithRequestIDFunc overrides request ID generation. Defaults to UUIDs.
func WithRequestIDFunc(fn func() string) Option {
	return func(e *Endpoint) error {
		if fn == nil {
			return errors.New("request ID func must not be nil")
		}
		e.newReqID = fn
		return nil
	}
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(e *Endpoint) error {
		if now == nil {
			return errors.New("now func must not be nil")
		}
		e.now = now
		return nil
	}
}
