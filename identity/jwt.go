package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// KeyFunc resolves the verification key for incoming tokens. It is called
// per verification so implementations can rotate keys underneath.
type KeyFunc func(ctx context.Context) (any, error)

// JWTProvider is a Provider that verifies JWT bearer tokens locally and
// keeps per-subject custom claims and revocation state in memory. It is
// suitable for single-process deployments and as the reference
// implementation of the Provider contract.
type JWTProvider struct {
	keyFunc          KeyFunc
	alg              jwa.SignatureAlgorithm
	issuer           string
	audience         string
	allowedClockSkew time.Duration
	now              func() time.Time

	mu    sync.RWMutex
	users map[string]*userRecord
}

type userRecord struct {
	customClaims map[string]any
	revokedAt    time.Time
}

// JWTOption configures a JWTProvider.
type JWTOption func(*JWTProvider) error

// WithIssuer requires the iss claim to match.
func WithIssuer(issuer string) JWTOption {
	return func(p *JWTProvider) error {
		p.issuer = issuer
		return nil
	}
}

// WithAudience requires the aud claim to contain the given audience.
func WithAudience(audience string) JWTOption {
	return func(p *JWTProvider) error {
		p.audience = audience
		return nil
	}
}

// WithClockSkew tolerates clock drift when checking time claims.
func WithClockSkew(skew time.Duration) JWTOption {
	return func(p *JWTProvider) error {
		if skew < 0 {
			return errors.New("clock skew must not be negative")
		}
		p.allowedClockSkew = skew
		return nil
	}
}

// WithNow overrides the time source. Intended for tests.
func WithNow(now func() time.Time) JWTOption {
	return func(p *JWTProvider) error {
		if now == nil {
			return errors.New("now func must not be nil")
		}
		p.now = now
		return nil
	}
}

// NewJWTProvider builds a JWTProvider with the required keyFunc and
// signature algorithm plus custom options.
func NewJWTProvider(keyFunc KeyFunc, alg jwa.SignatureAlgorithm, opts ...JWTOption) (*JWTProvider, error) {
	if keyFunc == nil {
		return nil, errors.New("keyFunc is required but was nil")
	}

	p := &JWTProvider{
		keyFunc: keyFunc,
		alg:     alg,
		now:     time.Now,
		users:   make(map[string]*userRecord),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	return p, nil
}

// VerifyToken parses and verifies the token, then resolves the subject's
// current custom claims over the token's own claims. Provider-level parse
// errors are mapped onto ErrTokenExpired / ErrTokenInvalid and never leak.
func (p *JWTProvider) VerifyToken(ctx context.Context, token string) (Identity, error) {
	key, err := p.keyFunc(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: could not resolve verification key", ErrTokenInvalid)
	}

	parsed, err := jwt.Parse(
		[]byte(token),
		jwt.WithKey(p.alg, key),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(p.now)),
		jwt.WithAcceptableSkew(p.allowedClockSkew),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, ErrTokenInvalid
	}

	if p.issuer != "" && parsed.Issuer() != p.issuer {
		return Identity{}, ErrTokenInvalid
	}
	if p.audience != "" && !containsAudience(parsed.Audience(), p.audience) {
		return Identity{}, ErrTokenInvalid
	}

	subject := parsed.Subject()
	if subject == "" {
		return Identity{}, ErrTokenInvalid
	}

	claims := parsed.PrivateClaims()
	id := Identity{
		SubjectID: subject,
		Claims:    claims,
		ExpiresAt: parsed.Expiration(),
	}
	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}
	if verified, ok := claims["email_verified"].(bool); ok {
		id.EmailVerified = verified
	}

	p.mu.RLock()
	record := p.users[subject]
	if record != nil {
		if !record.revokedAt.IsZero() && !parsed.IssuedAt().After(record.revokedAt) {
			p.mu.RUnlock()
			return Identity{}, ErrTokenInvalid
		}
		// Overlay the subject's live custom claims so mutations made
		// after issuance (role grants) win over the stale token copy.
		merged := make(map[string]any, len(claims)+len(record.customClaims))
		for k, v := range claims {
			merged[k] = v
		}
		for k, v := range record.customClaims {
			merged[k] = v
		}
		id.Claims = merged
	}
	p.mu.RUnlock()

	return id, nil
}

// GetUser returns the subject's current user record.
func (p *JWTProvider) GetUser(_ context.Context, subjectID string) (Identity, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	record, ok := p.users[subjectID]
	if !ok {
		return Identity{}, ErrUserNotFound
	}

	claims := make(map[string]any, len(record.customClaims))
	for k, v := range record.customClaims {
		claims[k] = v
	}
	return Identity{SubjectID: subjectID, Claims: claims}, nil
}

// SetCustomClaims replaces the subject's custom claims.
func (p *JWTProvider) SetCustomClaims(_ context.Context, subjectID string, claims map[string]any) error {
	if subjectID == "" {
		return errors.New("subject id must not be empty")
	}

	copied := make(map[string]any, len(claims))
	for k, v := range claims {
		copied[k] = v
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	record := p.users[subjectID]
	if record == nil {
		record = &userRecord{}
		p.users[subjectID] = record
	}
	record.customClaims = copied
	return nil
}

// RevokeRefreshTokens marks the subject revoked as of now. Tokens issued at
// or before the revocation instant stop verifying.
func (p *JWTProvider) RevokeRefreshTokens(_ context.Context, subjectID string) error {
	if subjectID == "" {
		return errors.New("subject id must not be empty")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	record := p.users[subjectID]
	if record == nil {
		record = &userRecord{}
		p.users[subjectID] = record
	}
	record.revokedAt = p.now()
	return nil
}

func containsAudience(audiences []string, expected string) bool {
	for _, aud := range audiences {
		if aud == expected {
			return true
		}
	}
	return false
}
