package guardpostgrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	guardpost "github.com/guardpost/go-guardpost"
	"github.com/guardpost/go-guardpost/authenticator"
	"github.com/guardpost/go-guardpost/identity"
)

type identityKey struct{}

// Interceptor applies bearer-token authentication to gRPC calls. The token
// is read from the authorization metadata key and checked through the same
// authenticator the HTTP pipeline uses.
type Interceptor struct {
	auth         *authenticator.Authenticator
	level        authenticator.Level
	allowedRoles []string
	excluded     map[string]struct{}
	logger       guardpost.Logger
}

// Option configures the Interceptor.
type Option func(*Interceptor)

// WithAuthLevel sets the credential requirement. Defaults to LevelRequired.
func WithAuthLevel(level authenticator.Level) Option {
	return func(i *Interceptor) {
		i.level = level
	}
}

// WithAllowedRoles restricts calls to subjects holding at least one of the
// given roles.
func WithAllowedRoles(roles ...string) Option {
	return func(i *Interceptor) {
		i.allowedRoles = roles
	}
}

// WithExcludedMethods skips authentication for the given full method names,
// such as "/health.v1.Health/Check".
func WithExcludedMethods(methods ...string) Option {
	return func(i *Interceptor) {
		for _, method := range methods {
			i.excluded[method] = struct{}{}
		}
	}
}

// WithLogger sets the logger. Defaults to the standard library logger.
func WithLogger(l guardpost.Logger) Option {
	return func(i *Interceptor) {
		i.logger = l
	}
}

// New constructs an Interceptor around the given authenticator.
func New(auth *authenticator.Authenticator, opts ...Option) *Interceptor {
	i := &Interceptor{
		auth:     auth,
		level:    authenticator.LevelRequired,
		excluded: make(map[string]struct{}),
		logger:   &guardpost.DefaultLogger{},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// authenticate checks the call's credentials and returns a context carrying
// the resolved identity, or a gRPC status error.
func (i *Interceptor) authenticate(ctx context.Context, method string) (context.Context, error) {
	if _, skip := i.excluded[method]; skip {
		return ctx, nil
	}

	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get("authorization"); len(values) > 0 {
			header = values[0]
		}
	}

	result := i.auth.Authenticate(ctx, header, i.level, i.allowedRoles...)
	if result.Err != nil {
		subject := "unknown"
		if result.User != nil {
			subject = result.User.SubjectID
		}
		i.logger.Warnf("authentication denied method=%s subject=%s reason=%s",
			method, subject, result.Reason())

		if authenticator.IsAuthorizationError(result.Err) {
			return nil, status.Error(codes.PermissionDenied, "insufficient role")
		}
		return nil, status.Error(codes.Unauthenticated, "invalid or expired token")
	}

	if result.User != nil {
		ctx = context.WithValue(ctx, identityKey{}, result.User)
	}
	return ctx, nil
}

// UnaryServerInterceptor returns a unary interceptor enforcing the
// configured authentication policy.
func (i *Interceptor) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		newCtx, err := i.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(newCtx, req)
	}
}

// StreamServerInterceptor returns a stream interceptor enforcing the
// configured authentication policy.
func (i *Interceptor) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		newCtx, err := i.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: newCtx})
	}
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *wrappedStream) Context() context.Context {
	return s.ctx
}

// UserFromContext extracts the identity attached by the interceptor.
func UserFromContext(ctx context.Context) (*identity.Identity, bool) {
	user, ok := ctx.Value(identityKey{}).(*identity.Identity)
	return user, ok
}
