package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

// DefaultStateTTL is how long an issued state or nonce stays redeemable.
const DefaultStateTTL = 10 * time.Minute

// StateStore issues random one-time state and nonce values and consumes
// them exactly once, providing replay protection for authorization flows.
type StateStore struct {
	ttl time.Duration

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewStateStore creates a StateStore. A non-positive ttl uses the default.
func NewStateStore(ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateStore{
		ttl:     ttl,
		pending: make(map[string]time.Time),
	}
}

// Generate issues a new cryptographically random value and records it with
// the store's TTL.
func (s *StateStore) Generate() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random state: %w", err)
	}
	value := base64.RawURLEncoding.EncodeToString(b)

	s.mu.Lock()
	s.pending[value] = time.Now().Add(s.ttl)
	s.sweepLocked()
	s.mu.Unlock()

	return value, nil
}

// Consume redeems a value. It returns true exactly once per generated
// value; replays and unknown or expired values return false.
func (s *StateStore) Consume(value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.pending[value]
	if !ok {
		return false
	}
	delete(s.pending, value)

	return time.Now().Before(expiry)
}

// sweepLocked drops expired entries. Called with the lock held during
// Generate so the map cannot grow without bound.
func (s *StateStore) sweepLocked() {
	now := time.Now()
	for value, expiry := range s.pending {
		if now.After(expiry) {
			delete(s.pending, value)
		}
	}
}
