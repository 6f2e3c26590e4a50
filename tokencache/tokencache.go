// Package tokencache caches verified bearer-token identities so the same
// token is not re-verified against the identity provider on every request
// within its validity window.
package tokencache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/guardpost/go-guardpost/identity"
)

// DefaultSweepInterval is how often the background sweep evicts expired
// entries when not configured otherwise.
const DefaultSweepInterval = 5 * time.Minute

// Cache maps a bearer token to its verified identity for a bounded TTL.
// A lookup of an expired-but-unswept entry behaves exactly like a miss;
// the sweep only bounds memory, it is not a correctness mechanism.
type Cache interface {
	// Lookup returns the cached identity for the token, if present and
	// not expired.
	Lookup(token string) (identity.Identity, bool)

	// Store inserts or overwrites the entry with expiry now+ttl. The TTL
	// must be chosen strictly below the token's remaining validity so a
	// hit can never outlive the underlying credential.
	Store(token string, id identity.Identity, ttl time.Duration)

	// InvalidateSubject removes every entry belonging to the subject.
	// Must be called after claim mutations or credential revocation.
	InvalidateSubject(subjectID string)

	// Sweep removes all expired entries.
	Sweep()
}

type entry struct {
	id        identity.Identity
	subjectID string
	expiresAt time.Time
}

// Memory is the in-process Cache implementation. Tokens are keyed by their
// SHA-256 digest so plaintext credentials never sit in map keys.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry

	now func() time.Time

	sweepInterval time.Duration
	stopOnce      sync.Once
	stop          chan struct{}
	done          chan struct{}
}

// Option configures a Memory cache.
type Option func(*Memory) error

// WithNow overrides the time source. Intended for tests.
func WithNow(now func() time.Time) Option {
	return func(m *Memory) error {
		if now == nil {
			return errors.New("now func must not be nil")
		}
		m.now = now
		return nil
	}
}

// WithSweepInterval sets the background sweep cadence.
func WithSweepInterval(interval time.Duration) Option {
	return func(m *Memory) error {
		if interval <= 0 {
			return errors.New("sweep interval must be positive")
		}
		m.sweepInterval = interval
		return nil
	}
}

// NewMemory builds an empty in-process cache. The background sweep does not
// run until Start is called.
func NewMemory(opts ...Option) (*Memory, error) {
	m := &Memory{
		entries:       make(map[string]entry),
		now:           time.Now,
		sweepInterval: DefaultSweepInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	return m, nil
}

// Lookup implements Cache.
func (m *Memory) Lookup(token string) (identity.Identity, bool) {
	key := hashToken(token)
	now := m.now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		return identity.Identity{}, false
	}
	return e.id, true
}

// Store implements Cache. Non-positive TTLs are ignored so callers do not
// have to special-case tokens that are about to expire.
func (m *Memory) Store(token string, id identity.Identity, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	key := hashToken(token)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = entry{
		id:        id,
		subjectID: id.SubjectID,
		expiresAt: now.Add(ttl),
	}
}

// InvalidateSubject implements Cache.
func (m *Memory) InvalidateSubject(subjectID string) {
	if subjectID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, e := range m.entries {
		if e.subjectID == subjectID {
			delete(m.entries, key)
		}
	}
}

// Sweep implements Cache.
func (m *Memory) Sweep() {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, key)
		}
	}
}

// Len returns the number of entries, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Start launches the periodic background sweep. It returns immediately;
// call Stop to cancel the sweep and wait for it to exit.
func (m *Memory) Start() {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep()
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop cancels the background sweep and waits for it to exit. Safe to call
// more than once, but only after Start.
func (m *Memory) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	<-m.done
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
