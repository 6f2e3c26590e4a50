package guardpostgin

import (
	"errors"

	"github.com/gin-gonic/gin"

	guardpost "github.com/guardpost/go-guardpost"
)

// DefaultContextKey is the Gin context key the security context is stored
// under when no override is configured.
const DefaultContextKey = "guardpost"

// ErrMissingSecurityContext is returned by GetSecurityContext when the
// middleware did not run or the key is wrong.
var ErrMissingSecurityContext = errors.New("no security context found in gin context")

type ginMiddlewareConfig struct {
	contextKey string
}

// Option configures the Gin middleware.
type Option func(*ginMiddlewareConfig)

// WithContextKey overrides the Gin context key the security context is
// stored under.
func WithContextKey(key string) Option {
	return func(config *ginMiddlewareConfig) {
		config.contextKey = key
	}
}

// Middleware adapts an Endpoint to a Gin middleware. Rejections are written
// by the pipeline and abort the chain; on success the security context is
// stored on the Gin context and the chain continues.
func Middleware(endpoint *guardpost.Endpoint, opts ...Option) gin.HandlerFunc {
	config := &ginMiddlewareConfig{contextKey: DefaultContextKey}
	for _, opt := range opts {
		opt(config)
	}

	return func(c *gin.Context) {
		r, ok := endpoint.Check(c.Writer, c.Request)
		if !ok {
			c.Abort()
			return
		}

		c.Request = r
		if sc, found := guardpost.FromContext(r.Context()); found {
			c.Set(config.contextKey, sc)
		}
		c.Next()
	}
}

// GetSecurityContext extracts the security context stored by Middleware.
func GetSecurityContext(c *gin.Context, contextKey string) (*guardpost.SecurityContext, error) {
	value, exists := c.Get(contextKey)
	if !exists {
		return nil, ErrMissingSecurityContext
	}
	sc, ok := value.(*guardpost.SecurityContext)
	if !ok {
		return nil, ErrMissingSecurityContext
	}
	return sc, nil
}
