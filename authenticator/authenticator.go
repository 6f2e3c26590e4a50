// Package authenticator turns a raw Authorization header plus an
// authentication-level requirement into an auth result, consulting a token
// cache before the identity provider.
package authenticator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/guardpost/go-guardpost/identity"
	"github.com/guardpost/go-guardpost/tokencache"
)

// Level is an authentication requirement. Each level is a superset of the
// requirements of the previous one.
type Level int

const (
	// LevelNone requires no Authorization header.
	LevelNone Level = iota
	// LevelOptional parses the header if present but never fails on absence.
	LevelOptional
	// LevelRequired makes the header mandatory.
	LevelRequired
	// LevelVerified additionally requires a verified email.
	LevelVerified
	// LevelAdmin additionally requires the admin role claim.
	LevelAdmin
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelOptional:
		return "optional"
	case LevelRequired:
		return "required"
	case LevelVerified:
		return "verified"
	case LevelAdmin:
		return "admin"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Error taxonomy surfaced to callers. Provider-side exceptions are mapped
// into these rather than leaking raw provider error text.
var (
	ErrMissingHeader    = errors.New("missing-header")
	ErrMalformedHeader  = errors.New("malformed-header")
	ErrExpiredToken     = errors.New("expired-token")
	ErrInvalidToken     = errors.New("invalid-token")
	ErrEmailNotVerified = errors.New("email-not-verified")
	ErrInsufficientRole = errors.New("insufficient-role")
)

// IsAuthorizationError reports whether the failure is an authorization
// (role) denial as opposed to an identity failure. Callers map the former
// to 403 and the latter to 401.
func IsAuthorizationError(err error) bool {
	return errors.Is(err, ErrInsufficientRole) || errors.Is(err, ErrEmailNotVerified)
}

// Result is the outcome of authenticating a request. On denial, User is
// still populated when the identity could be resolved, so callers can log
// who attempted the forbidden action.
type Result struct {
	Authenticated bool
	User          *identity.Identity
	Err           error
}

// Reason returns the coarse error category string, or "".
func (r Result) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// DefaultCacheTTL bounds how long a verification result stays cached. It is
// clamped further by each token's own remaining validity.
const DefaultCacheTTL = 55 * time.Minute

// cacheMargin keeps a cached identity from expiring at the same instant as
// its token; the cache entry always dies first.
const cacheMargin = time.Minute

// Authenticator verifies bearer tokens through a token cache and enforces
// authentication levels and role requirements.
type Authenticator struct {
	provider   identity.Provider
	cache      tokencache.Cache
	cacheTTL   time.Duration
	adminRoles []string
	now        func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator) error

// WithCache sets the token cache. Without one, every request hits the
// identity provider.
func WithCache(cache tokencache.Cache) Option {
	return func(a *Authenticator) error {
		if cache == nil {
			return errors.New("cache must not be nil")
		}
		a.cache = cache
		return nil
	}
}

// WithCacheTTL bounds cache-entry lifetime. Entries are additionally
// clamped below each token's remaining validity.
func WithCacheTTL(ttl time.Duration) Option {
	return func(a *Authenticator) error {
		if ttl <= 0 {
			return errors.New("cache ttl must be positive")
		}
		a.cacheTTL = ttl
		return nil
	}
}

// WithAdminRoles sets which roles satisfy LevelAdmin. Defaults to "admin".
func WithAdminRoles(roles ...string) Option {
	return func(a *Authenticator) error {
		if len(roles) == 0 {
			return errors.New("at least one admin role is required")
		}
		a.adminRoles = roles
		return nil
	}
}

// WithNow overrides the time source. Intended for tests.
func WithNow(now func() time.Time) Option {
	return func(a *Authenticator) error {
		if now == nil {
			return errors.New("now func must not be nil")
		}
		a.now = now
		return nil
	}
}

// New builds an Authenticator around the required identity provider.
func New(provider identity.Provider, opts ...Option) (*Authenticator, error) {
	if provider == nil {
		return nil, errors.New("identity provider is required but was nil")
	}

	a := &Authenticator{
		provider:   provider,
		cacheTTL:   DefaultCacheTTL,
		adminRoles: []string{"admin"},
		now:        time.Now,
	}

	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	return a, nil
}

// Authenticate resolves the Authorization header value against the level
// and optional role list. Roles have any-of semantics: holding any one of
// them is sufficient.
func (a *Authenticator) Authenticate(ctx context.Context, authorization string, level Level, roles ...string) Result {
	token, err := bearerToken(authorization)
	if err != nil {
		// A header that is present but malformed is an error even when
		// credentials are optional: the client tried and failed to
		// supply one. LevelNone asks for nothing and ignores it.
		if level == LevelNone {
			return Result{}
		}
		return Result{Err: ErrMalformedHeader}
	}
	if token == "" {
		if level <= LevelOptional {
			return Result{}
		}
		return Result{Err: ErrMissingHeader}
	}

	id, err := a.resolve(ctx, token)
	if err != nil {
		if level == LevelNone {
			return Result{}
		}
		return Result{Err: err}
	}

	if err := a.authorize(id, level, roles); err != nil {
		return Result{User: &id, Err: err}
	}

	return Result{Authenticated: true, User: &id}
}

// resolve returns the identity behind the token, from cache when possible.
// Two concurrent misses for the same token may both verify; the second
// store overwrites the first with equivalent data, which is wasteful but
// not unsafe.
func (a *Authenticator) resolve(ctx context.Context, token string) (identity.Identity, error) {
	if a.cache != nil {
		if id, ok := a.cache.Lookup(token); ok {
			return id, nil
		}
	}

	id, err := a.provider.VerifyToken(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrTokenExpired):
			return identity.Identity{}, ErrExpiredToken
		default:
			return identity.Identity{}, ErrInvalidToken
		}
	}

	if a.cache != nil {
		a.cache.Store(token, id, a.entryTTL(id))
	}
	return id, nil
}

// entryTTL is the configured TTL clamped strictly below the token's own
// remaining validity, so a cache hit can never outlive the credential.
func (a *Authenticator) entryTTL(id identity.Identity) time.Duration {
	ttl := a.cacheTTL
	if id.ExpiresAt.IsZero() {
		return ttl
	}
	remaining := id.ExpiresAt.Sub(a.now()) - cacheMargin
	if remaining < ttl {
		ttl = remaining
	}
	return ttl
}

func (a *Authenticator) authorize(id identity.Identity, level Level, roles []string) error {
	if level >= LevelVerified && !id.EmailVerified {
		return ErrEmailNotVerified
	}
	if level >= LevelAdmin && !hasAnyRole(id, a.adminRoles) {
		return ErrInsufficientRole
	}
	if len(roles) > 0 && !hasAnyRole(id, roles) {
		return ErrInsufficientRole
	}
	return nil
}

func hasAnyRole(id identity.Identity, roles []string) bool {
	for _, role := range roles {
		if id.HasRole(role) {
			return true
		}
	}
	return false
}

// SetClaims replaces the subject's custom claims at the provider, then
// invalidates the cache and revokes outstanding credentials so the stale
// role set cannot remain authoritative past the mutation.
func (a *Authenticator) SetClaims(ctx context.Context, subjectID string, claims map[string]any) error {
	if err := a.provider.SetCustomClaims(ctx, subjectID, claims); err != nil {
		return fmt.Errorf("could not set custom claims: %w", err)
	}
	if a.cache != nil {
		a.cache.InvalidateSubject(subjectID)
	}
	if err := a.provider.RevokeRefreshTokens(ctx, subjectID); err != nil {
		return fmt.Errorf("could not revoke refresh tokens: %w", err)
	}
	return nil
}

// Invalidate drops the subject's cached entries and revokes outstanding
// credentials.
func (a *Authenticator) Invalidate(ctx context.Context, subjectID string) error {
	if a.cache != nil {
		a.cache.InvalidateSubject(subjectID)
	}
	if err := a.provider.RevokeRefreshTokens(ctx, subjectID); err != nil {
		return fmt.Errorf("could not revoke refresh tokens: %w", err)
	}
	return nil
}

// bearerToken extracts the token from an Authorization header value. An
// empty header is not an error; a header that is present but not of the
// form "Bearer <token>" is.
func bearerToken(authorization string) (string, error) {
	if authorization == "" {
		return "", nil
	}
	parts := strings.Fields(authorization)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrMalformedHeader
	}
	return parts[1], nil
}
