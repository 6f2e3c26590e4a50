// Package ratelimit decides whether a request may proceed and reports quota
// metadata for X-RateLimit-* response headers.
package ratelimit

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the outcome of evaluating a request against a policy.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetTime time.Time
}

// Limiter evaluates requests against a rate policy.
type Limiter interface {
	Evaluate(r *http.Request) Decision
}

// KeyFunc extracts the quota key from a request.
type KeyFunc func(r *http.Request) string

// ClientIP keys requests by originating IP, honoring X-Forwarded-For and
// X-Real-IP set by trusted proxies.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// TokenBucket is a per-key token-bucket Limiter. Each key gets an
// independent bucket refilled at limit-per-window; idle buckets are evicted
// once their refill state is indistinguishable from a fresh bucket.
type TokenBucket struct {
	limit  int
	window time.Duration
	keyFn  KeyFunc
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// BucketOption configures a TokenBucket.
type BucketOption func(*TokenBucket) error

// WithKeyFunc sets the quota key extractor. Defaults to ClientIP.
func WithKeyFunc(fn KeyFunc) BucketOption {
	return func(t *TokenBucket) error {
		if fn == nil {
			return errors.New("key func must not be nil")
		}
		t.keyFn = fn
		return nil
	}
}

// WithNow overrides the time source used for reset metadata. Intended for
// tests; the underlying buckets keep their own clock.
func WithNow(now func() time.Time) BucketOption {
	return func(t *TokenBucket) error {
		if now == nil {
			return errors.New("now func must not be nil")
		}
		t.now = now
		return nil
	}
}

// NewTokenBucket builds a Limiter allowing limit requests per window for
// each key, with a burst equal to the limit.
func NewTokenBucket(limit int, window time.Duration, opts ...BucketOption) (*TokenBucket, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}
	if window <= 0 {
		return nil, errors.New("window must be positive")
	}

	t := &TokenBucket{
		limit:   limit,
		window:  window,
		keyFn:   ClientIP,
		now:     time.Now,
		buckets: make(map[string]*rate.Limiter),
	}

	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	return t, nil
}

// Evaluate implements Limiter.
func (t *TokenBucket) Evaluate(r *http.Request) Decision {
	key := t.keyFn(r)
	lim := t.bucket(key)

	allowed := lim.Allow()
	remaining := int(lim.Tokens())
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   allowed,
		Limit:     t.limit,
		Remaining: remaining,
		ResetTime: t.now().Add(t.window),
	}
}

func (t *TokenBucket) bucket(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	if lim, ok := t.buckets[key]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(float64(t.limit)/t.window.Seconds()), t.limit)
	t.buckets[key] = lim
	return lim
}
