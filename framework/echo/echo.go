package guardpostecho

import (
	"github.com/labstack/echo/v4"

	guardpost "github.com/guardpost/go-guardpost"
)

// DefaultContextKey is the Echo context key the security context is stored
// under when no override is configured.
const DefaultContextKey = "guardpost"

type echoMiddlewareConfig struct {
	contextKey string
}

// Option configures the Echo middleware.
type Option func(*echoMiddlewareConfig)

// WithContextKey overrides the Echo context key the security context is
// stored under.
func WithContextKey(key string) Option {
	return func(config *echoMiddlewareConfig) {
		config.contextKey = key
	}
}

// Middleware adapts an Endpoint to an Echo middleware. Rejections are
// written by the pipeline and stop the chain; on success the security
// context is stored on the Echo context and the chain continues.
func Middleware(endpoint *guardpost.Endpoint, opts ...Option) echo.MiddlewareFunc {
	config := &echoMiddlewareConfig{contextKey: DefaultContextKey}
	for _, opt := range opts {
		opt(config)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r, ok := endpoint.Check(c.Response(), c.Request())
			if !ok {
				// The pipeline already wrote the error envelope.
				return nil
			}

			c.SetRequest(r)
			if sc, found := guardpost.FromContext(r.Context()); found {
				c.Set(config.contextKey, sc)
			}
			return next(c)
		}
	}
}

// GetSecurityContext extracts the security context stored by Middleware.
func GetSecurityContext(c echo.Context, contextKey string) (*guardpost.SecurityContext, bool) {
	sc, ok := c.Get(contextKey).(*guardpost.SecurityContext)
	return sc, ok
}
