// Package csrf issues and verifies per-session anti-forgery tokens.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long an issued token stays valid.
	DefaultTTL = 4 * time.Hour

	// DefaultSweepInterval is the background sweep cadence.
	DefaultSweepInterval = 5 * time.Minute

	// HeaderName is the request header clients echo the token back in.
	HeaderName = "X-CSRF-Token"

	tokenBytes = 32
)

type entry struct {
	token   string
	expires time.Time
}

// Store keeps at most one live token per session key. Issuing a new token
// overwrites the prior one, so only the most recently issued token verifies.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry

	ttl time.Duration
	now func() time.Time

	sweepInterval time.Duration
	stopOnce      sync.Once
	stop          chan struct{}
	done          chan struct{}
}

// Option configures a Store.
type Option func(*Store) error

// WithTTL sets the validity window of issued tokens.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) error {
		if ttl <= 0 {
			return errors.New("ttl must be positive")
		}
		s.ttl = ttl
		return nil
	}
}

// WithNow overrides the time source. Intended for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) error {
		if now == nil {
			return errors.New("now func must not be nil")
		}
		s.now = now
		return nil
	}
}

// WithSweepInterval sets the background sweep cadence.
func WithSweepInterval(interval time.Duration) Option {
	return func(s *Store) error {
		if interval <= 0 {
			return errors.New("sweep interval must be positive")
		}
		s.sweepInterval = interval
		return nil
	}
}

// NewStore builds an empty token store. The background sweep does not run
// until Start is called.
func NewStore(opts ...Option) (*Store, error) {
	s := &Store{
		entries:       make(map[string]entry),
		ttl:           DefaultTTL,
		now:           time.Now,
		sweepInterval: DefaultSweepInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	return s, nil
}

// Issue generates a fresh token for the session key, replacing any prior
// token. The token is 32 bytes of cryptographic randomness, hex encoded.
func (s *Store) Issue(sessionKey string) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate csrf token: %w", err)
	}
	token := hex.EncodeToString(buf)

	s.mu.Lock()
	s.entries[sessionKey] = entry{token: token, expires: s.now().Add(s.ttl)}
	s.mu.Unlock()

	return token, nil
}

// Verify reports whether the submitted token matches the live token for the
// session key. The comparison is constant time; expired entries never match.
func (s *Store) Verify(sessionKey, submitted string) bool {
	if submitted == "" {
		return false
	}

	s.mu.RLock()
	e, ok := s.entries[sessionKey]
	s.mu.RUnlock()

	if !ok || !s.now().Before(e.expires) {
		return false
	}
	if len(submitted) != len(e.token) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(e.token)) == 1
}

// Sweep removes all expired entries.
func (s *Store) Sweep() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, key)
		}
	}
}

// Len returns the number of entries, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Start launches the periodic background sweep.
func (s *Store) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop cancels the background sweep and waits for it to exit.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
}

// SessionKeyFunc derives the session key for a request, e.g. from the
// authenticated subject or a session cookie.
type SessionKeyFunc func(r *http.Request) string

// IssueHandler returns a handler that issues a token for the request's
// session key and responds with {"token": "..."}. Hang it off a login
// response or a page bootstrap endpoint.
func IssueHandler(store *Store, sessionKey SessionKeyFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := sessionKey(r)
		token, err := store.Issue(key)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"could not issue token"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
	})
}
