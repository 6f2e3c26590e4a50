/*
Package guardpost wraps HTTP handlers in a fixed, ordered security pipeline:
security headers, body-size limits, CORS, rate limiting, API-key checks,
bearer-token authentication, CSRF protection, and request-body validation.

Each route composes an Endpoint from functional options; only the checks a
route opts into run, but their relative order never changes. The first
failing check short-circuits the pipeline with a uniform JSON error
envelope, and every response carries the baseline security headers, an
X-Request-ID and an X-Response-Time.

# Quick Start

	import (
	    "github.com/guardpost/go-guardpost"
	    "github.com/guardpost/go-guardpost/authenticator"
	    "github.com/guardpost/go-guardpost/identity"
	    "github.com/guardpost/go-guardpost/ratelimit"
	    "github.com/guardpost/go-guardpost/tokencache"
	)

	func main() {
	    provider, err := identity.NewJWTProvider(keyFunc, jwa.RS256,
	        identity.WithIssuer("https://issuer.example.com/"),
	    )
	    if err != nil {
	        log.Fatal(err)
	    }

	    cache, err := tokencache.NewMemory()
	    if err != nil {
	        log.Fatal(err)
	    }
	    auth, err := authenticator.New(provider, authenticator.WithCache(cache))
	    if err != nil {
	        log.Fatal(err)
	    }

	    limiter, err := ratelimit.NewTokenBucket(60, time.Minute)
	    if err != nil {
	        log.Fatal(err)
	    }
	    endpoint, err := guardpost.New(
	        guardpost.WithAuthenticator(auth),
	        guardpost.WithAuthLevel(authenticator.LevelRequired),
	        guardpost.WithRateLimiter(limiter),
	        guardpost.WithMaxRequestBytes(1<<20),
	    )
	    if err != nil {
	        log.Fatal(err)
	    }

	    http.Handle("/api/profile", endpoint.Secure(profileHandler))
	    log.Fatal(http.ListenAndServe(":8080", nil))
	}

Inside a secured handler, the request context carries the security context
and, when input validation is configured, the parsed body:

	func profileHandler(w http.ResponseWriter, r *http.Request) {
	    sc, _ := guardpost.FromContext(r.Context())
	    body, err := guardpost.Body[UpdateProfileRequest](r.Context())
	    ...
	}

# Packages

  - authenticator: token verification with levels, role checks and caching
  - identity: the Identity type and the Provider interface with a JWT
    implementation
  - tokencache: TTL cache for verified tokens with background sweeping
  - csrf: per-session anti-forgery token issue and verification
  - ratelimit: token-bucket request throttling
  - schema: request-body validation backed by struct tags
  - framework/echo, framework/gin, framework/grpc: framework adapters
*/
package guardpost
