package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-signing-key-needs-enough-bits")

func staticKey(ctx context.Context) (any, error) {
	return testKey, nil
}

type tokenSpec struct {
	subject  string
	issuer   string
	audience string
	issuedAt time.Time
	expires  time.Time
	claims   map[string]any
}

func mintToken(t *testing.T, spec tokenSpec) string {
	t.Helper()

	builder := jwt.NewBuilder().
		Subject(spec.subject).
		IssuedAt(spec.issuedAt).
		Expiration(spec.expires)
	if spec.issuer != "" {
		builder = builder.Issuer(spec.issuer)
	}
	if spec.audience != "" {
		builder = builder.Audience([]string{spec.audience})
	}
	for name, value := range spec.claims {
		builder = builder.Claim(name, value)
	}

	token, err := builder.Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, testKey))
	require.NoError(t, err)
	return string(signed)
}

func TestIdentityRoles(t *testing.T) {
	testCases := []struct {
		name  string
		id    Identity
		want  []string
		admin bool
	}{
		{
			name: "no claims",
			id:   Identity{},
			want: nil,
		},
		{
			name: "roles absent",
			id:   Identity{Claims: map[string]any{"email": "a@example.com"}},
			want: nil,
		},
		{
			name: "string list",
			id:   Identity{Claims: map[string]any{"roles": []string{"admin", "editor"}}},
			want: []string{"admin", "editor"},
			admin: true,
		},
		{
			name: "json decoded list",
			id:   Identity{Claims: map[string]any{"roles": []any{"admin", 42, "editor"}}},
			want: []string{"admin", "editor"},
			admin: true,
		},
		{
			name: "single string",
			id:   Identity{Claims: map[string]any{"roles": "editor"}},
			want: []string{"editor"},
		},
		{
			name: "wrong type",
			id:   Identity{Claims: map[string]any{"roles": 7}},
			want: nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.id.Roles())
			assert.Equal(t, tc.admin, tc.id.HasRole("admin"))
			assert.False(t, tc.id.HasRole(""))
		})
	}
}

func TestVerifyTokenValid(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	provider, err := NewJWTProvider(staticKey, jwa.HS256,
		WithIssuer("test-issuer"),
		WithAudience("test-audience"),
		WithNow(func() time.Time { return now }),
	)
	require.NoError(t, err)

	expires := now.Add(time.Hour)
	token := mintToken(t, tokenSpec{
		subject:  "user-1",
		issuer:   "test-issuer",
		audience: "test-audience",
		issuedAt: now.Add(-time.Minute),
		expires:  expires,
		claims: map[string]any{
			"email":          "user@example.com",
			"email_verified": true,
			"roles":          []string{"editor"},
		},
	})

	id, err := provider.VerifyToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.SubjectID)
	assert.Equal(t, "user@example.com", id.Email)
	assert.True(t, id.EmailVerified)
	assert.Equal(t, []string{"editor"}, id.Roles())
	assert.True(t, id.ExpiresAt.Equal(expires))
}

func TestVerifyTokenExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	provider, err := NewJWTProvider(staticKey, jwa.HS256,
		WithNow(func() time.Time { return now }),
	)
	require.NoError(t, err)

	token := mintToken(t, tokenSpec{
		subject:  "user-1",
		issuedAt: now.Add(-2 * time.Hour),
		expires:  now.Add(-time.Hour),
	})

	_, err = provider.VerifyToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyTokenClockSkew(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	token := mintToken(t, tokenSpec{
		subject:  "user-1",
		issuedAt: now.Add(-time.Hour),
		expires:  now.Add(-30 * time.Second),
	})

	strict, err := NewJWTProvider(staticKey, jwa.HS256, WithNow(func() time.Time { return now }))
	require.NoError(t, err)
	_, err = strict.VerifyToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenExpired)

	lenient, err := NewJWTProvider(staticKey, jwa.HS256,
		WithClockSkew(time.Minute),
		WithNow(func() time.Time { return now }),
	)
	require.NoError(t, err)
	_, err = lenient.VerifyToken(context.Background(), token)
	assert.NoError(t, err)
}

func TestVerifyTokenRejections(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		name string
		spec tokenSpec
	}{
		{
			name: "wrong issuer",
			spec: tokenSpec{subject: "user-1", issuer: "someone-else", audience: "test-audience"},
		},
		{
			name: "missing audience",
			spec: tokenSpec{subject: "user-1", issuer: "test-issuer"},
		},
		{
			name: "missing subject",
			spec: tokenSpec{issuer: "test-issuer", audience: "test-audience"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			provider, err := NewJWTProvider(staticKey, jwa.HS256,
				WithIssuer("test-issuer"),
				WithAudience("test-audience"),
				WithNow(func() time.Time { return now }),
			)
			require.NoError(t, err)

			tc.spec.issuedAt = now.Add(-time.Minute)
			tc.spec.expires = now.Add(time.Hour)
			token := mintToken(t, tc.spec)

			_, err = provider.VerifyToken(context.Background(), token)
			assert.ErrorIs(t, err, ErrTokenInvalid)
		})
	}
}

func TestVerifyTokenBadSignature(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	provider, err := NewJWTProvider(
		func(ctx context.Context) (any, error) { return []byte("a-completely-different-signing-key"), nil },
		jwa.HS256,
		WithNow(func() time.Time { return now }),
	)
	require.NoError(t, err)

	token := mintToken(t, tokenSpec{
		subject:  "user-1",
		issuedAt: now.Add(-time.Minute),
		expires:  now.Add(time.Hour),
	})

	_, err = provider.VerifyToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyTokenKeyFuncError(t *testing.T) {
	provider, err := NewJWTProvider(
		func(ctx context.Context) (any, error) { return nil, errors.New("jwks fetch failed") },
		jwa.HS256,
	)
	require.NoError(t, err)

	_, err = provider.VerifyToken(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestCustomClaimsOverlayTokenClaims(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	provider, err := NewJWTProvider(staticKey, jwa.HS256,
		WithNow(func() time.Time { return now }),
	)
	require.NoError(t, err)

	require.NoError(t, provider.SetCustomClaims(context.Background(), "user-1", map[string]any{
		"roles": []string{"admin"},
	}))

	token := mintToken(t, tokenSpec{
		subject:  "user-1",
		issuedAt: now.Add(-time.Minute),
		expires:  now.Add(time.Hour),
		claims:   map[string]any{"roles": []string{"editor"}},
	})

	id, err := provider.VerifyToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, id.Roles(), "live claims win over the stale token copy")
}

func TestSetCustomClaimsValidation(t *testing.T) {
	provider, err := NewJWTProvider(staticKey, jwa.HS256)
	require.NoError(t, err)

	assert.Error(t, provider.SetCustomClaims(context.Background(), "", nil))
	assert.Error(t, provider.RevokeRefreshTokens(context.Background(), ""))
}

func TestRevokeRefreshTokens(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	provider, err := NewJWTProvider(staticKey, jwa.HS256,
		WithNow(func() time.Time { return now }),
	)
	require.NoError(t, err)

	oldToken := mintToken(t, tokenSpec{
		subject:  "user-1",
		issuedAt: now.Add(-time.Hour),
		expires:  now.Add(time.Hour),
	})

	_, err = provider.VerifyToken(context.Background(), oldToken)
	require.NoError(t, err)

	require.NoError(t, provider.RevokeRefreshTokens(context.Background(), "user-1"))

	_, err = provider.VerifyToken(context.Background(), oldToken)
	assert.ErrorIs(t, err, ErrTokenInvalid, "tokens issued before the revocation must stop verifying")

	// A token issued after the revocation instant verifies again.
	now = now.Add(10 * time.Minute)
	newToken := mintToken(t, tokenSpec{
		subject:  "user-1",
		issuedAt: now.Add(-time.Minute),
		expires:  now.Add(time.Hour),
	})
	_, err = provider.VerifyToken(context.Background(), newToken)
	assert.NoError(t, err)
}

func TestGetUser(t *testing.T) {
	provider, err := NewJWTProvider(staticKey, jwa.HS256)
	require.NoError(t, err)

	_, err = provider.GetUser(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrUserNotFound)

	require.NoError(t, provider.SetCustomClaims(context.Background(), "user-1", map[string]any{
		"roles": []string{"admin"},
	}))

	id, err := provider.GetUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.SubjectID)
	assert.Equal(t, []string{"admin"}, id.Roles())
}

func TestNewJWTProviderValidation(t *testing.T) {
	_, err := NewJWTProvider(nil, jwa.HS256)
	assert.Error(t, err)

	_, err = NewJWTProvider(staticKey, jwa.HS256, WithClockSkew(-time.Second))
	assert.Error(t, err)

	_, err = NewJWTProvider(staticKey, jwa.HS256, WithNow(nil))
	assert.Error(t, err)
}
