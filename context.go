package guardpost

import (
	"context"
	"errors"
	"fmt"

	"github.com/guardpost/go-guardpost/identity"
)

// ErrNoSecurityContext is returned when the request context does not carry
// a SecurityContext, i.e. the handler was not wrapped by an Endpoint.
var ErrNoSecurityContext = errors.New("no security context in request context")

// SecurityContext is the per-request state the pipeline resolves and hands
// to the wrapped handler. It is created fresh per request and never
// persisted.
type SecurityContext struct {
	// RequestID correlates log lines and the X-Request-ID header.
	RequestID string

	ClientIP string

	// User is set only when authentication succeeded.
	User *identity.Identity

	// APIKeyUsed holds the accepted API key, when the route requires one.
	// Never log it whole.
	APIKeyUsed string

	// ValidatedBody is the canonicalized request body produced by the
	// input schema, so handlers never re-validate. Use Body[T] to
	// retrieve it typed.
	ValidatedBody any
}

type contextKey struct{}

// NewContext returns a context carrying the SecurityContext.
func NewContext(ctx context.Context, sc *SecurityContext) context.Context {
	return context.WithValue(ctx, contextKey{}, sc)
}

// FromContext retrieves the SecurityContext placed by the pipeline.
func FromContext(ctx context.Context) (*SecurityContext, bool) {
	sc, ok := ctx.Value(contextKey{}).(*SecurityContext)
	return sc, ok
}

// Body retrieves the validated request body with type safety. The type
// parameter must match the struct the route's input schema decodes into.
//
// Example:
//
//	payload, err := guardpost.Body[createUserRequest](r.Context())
//	if err != nil {
//	    http.Error(w, "bad pipeline wiring", http.StatusInternalServerError)
//	    return
//	}
func Body[T any](ctx context.Context) (*T, error) {
	sc, ok := FromContext(ctx)
	if !ok {
		return nil, ErrNoSecurityContext
	}
	if sc.ValidatedBody == nil {
		return nil, errors.New("no validated body: route has no input schema or method carries no body")
	}
	value, ok := sc.ValidatedBody.(*T)
	if !ok {
		return nil, fmt.Errorf("validated body is %T, not %T", sc.ValidatedBody, (*T)(nil))
	}
	return value, nil
}
