package identity

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTokenExpired is returned when a token's own validity window has
	// passed. Callers may want to prompt re-authentication for this case.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid is returned for malformed, badly signed, revoked or
	// otherwise unverifiable tokens.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrUserNotFound is returned by GetUser for unknown subjects.
	ErrUserNotFound = errors.New("user not found")
)

// Identity describes an authenticated principal as resolved by a Provider.
type Identity struct {
	// SubjectID is the stable identity of the principal.
	SubjectID string

	Email         string
	EmailVerified bool

	// Claims holds arbitrary authorization claims, including a "roles"
	// list. Claims from the provider's user record are merged over the
	// token's own claims at verification time.
	Claims map[string]any

	// ExpiresAt is the expiry of the underlying credential, when known.
	// Caches use it to make sure a cached identity never outlives the
	// token it was derived from.
	ExpiresAt time.Time
}

// Roles returns the "roles" claim as a string slice. It tolerates the
// claim being absent, a single string, or a list of any values.
func (i Identity) Roles() []string {
	if i.Claims == nil {
		return nil
	}
	switch typed := i.Claims["roles"].(type) {
	case []string:
		return append([]string{}, typed...)
	case []any:
		roles := make([]string, 0, len(typed))
		for _, item := range typed {
			if role, ok := item.(string); ok {
				roles = append(roles, role)
			}
		}
		return roles
	case string:
		return []string{typed}
	default:
		return nil
	}
}

// HasRole reports whether the identity carries the given role.
func (i Identity) HasRole(role string) bool {
	if role == "" {
		return false
	}
	for _, item := range i.Roles() {
		if item == role {
			return true
		}
	}
	return false
}

// Provider verifies bearer tokens and manages per-subject claims. It is the
// boundary to the identity system; implementations must map their own error
// types onto ErrTokenExpired / ErrTokenInvalid so that callers never see raw
// provider error text.
type Provider interface {
	// VerifyToken verifies a raw bearer token and resolves the principal
	// behind it, including the subject's current custom claims.
	VerifyToken(ctx context.Context, token string) (Identity, error)

	// GetUser returns the current user record for a subject.
	GetUser(ctx context.Context, subjectID string) (Identity, error)

	// SetCustomClaims replaces the subject's custom claims. Callers that
	// cache verification results must invalidate the subject afterwards.
	SetCustomClaims(ctx context.Context, subjectID string, claims map[string]any) error

	// RevokeRefreshTokens revokes the subject's outstanding credentials,
	// so tokens issued before the revocation stop verifying.
	RevokeRefreshTokens(ctx context.Context, subjectID string) error
}
