package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Default TTLs for cached validation outcomes. Valid results live longer
// than invalid ones so a bad token fails fast without re-hitting the
// network, but recovers quickly once it becomes valid.
const (
	DefaultPositiveCacheTTL = 5 * time.Minute
	DefaultNegativeCacheTTL = 30 * time.Second
)

// Result is the outcome of a token validation.
type Result struct {
	// Valid reports whether the token passed every check.
	Valid bool

	// Claims are populated when the token could be parsed, even for some
	// invalid outcomes (e.g. missing scopes).
	Claims *Claims

	// Code is the stable error code for an invalid outcome, one of the
	// pkg/errors types.
	Code string

	// Detail is a safe reason for an invalid outcome. Never contains the
	// token or upstream response bodies.
	Detail string

	// MissingScopes lists required scopes the token lacks, when the
	// outcome is a scope downgrade.
	MissingScopes []string

	// Cached reports whether this outcome was served from cache.
	Cached bool
}

// hashToken derives the cache key for a token. The token itself is never
// stored or logged.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

type cacheEntry struct {
	result    Result
	expiresAt time.Time
}

// validationCache stores validation outcomes keyed by hash(token).
type validationCache struct {
	mu          sync.RWMutex
	entries     map[string]cacheEntry
	positiveTTL time.Duration
	negativeTTL time.Duration
}

func newValidationCache(positiveTTL, negativeTTL time.Duration) *validationCache {
	if positiveTTL <= 0 {
		positiveTTL = DefaultPositiveCacheTTL
	}
	if negativeTTL <= 0 {
		negativeTTL = DefaultNegativeCacheTTL
	}
	return &validationCache{
		entries:     make(map[string]cacheEntry),
		positiveTTL: positiveTTL,
		negativeTTL: negativeTTL,
	}
}

// get returns the cached outcome for the key, if present and unexpired.
func (c *validationCache) get(key string) (Result, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return Result{}, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; another goroutine may have
		// replaced the entry in the meantime.
		if cur, ok := c.entries[key]; ok && time.Now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return Result{}, false
	}

	result := entry.result
	result.Cached = true
	return result, true
}

// set stores an outcome under the key with the TTL matching its validity.
// A positive entry never outlives the token's own expiry.
func (c *validationCache) set(key string, result Result) {
	ttl := c.negativeTTL
	if result.Valid {
		ttl = c.positiveTTL
		if result.Claims != nil && !result.Claims.ExpiresAt.IsZero() {
			if remaining := time.Until(result.Claims.ExpiresAt); remaining < ttl {
				ttl = remaining
			}
		}
	}
	if ttl <= 0 {
		return
	}

	result.Cached = false

	c.mu.Lock()
	c.entries[key] = cacheEntry{result: result, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// delete removes the entry for the key.
func (c *validationCache) delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
