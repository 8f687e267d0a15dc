package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/stacklok/toolgate/pkg/logger"
	"github.com/stacklok/toolgate/pkg/networking"
)

// DefaultKeySetTTL is how long a fetched key set stays fresh.
const DefaultKeySetTTL = time.Hour

// maxJWKSResponseSize caps the JWKS document size (1MB).
const maxJWKSResponseSize = 1024 * 1024

// Key set errors.
var (
	// ErrKeyNotFound is returned when the key id is absent from the key
	// set even after a refresh.
	ErrKeyNotFound = errors.New("key ID not found in JWKS")

	// ErrSymmetricKey is returned when the key set entry is a symmetric
	// key. Only asymmetric keys are usable for local verification.
	ErrSymmetricKey = errors.New("symmetric keys are not accepted for token verification")
)

// KeySetConfig configures a KeySet.
type KeySetConfig struct {
	// URL is the JWKS endpoint.
	URL string

	// TTL is how long fetched keys stay fresh. Default: one hour.
	TTL time.Duration

	// HTTPClient is the client used for fetches. If nil, a default client
	// with explicit timeouts is used.
	HTTPClient *http.Client
}

// KeySet caches the public signing keys published at a JWKS endpoint.
//
// The set becomes stale after the TTL and is refreshed on demand;
// concurrent refreshes coalesce into a single in-flight fetch through
// singleflight, and refresh frequency is additionally bounded by a rate
// limiter so a flood of unknown key ids cannot hammer the endpoint.
type KeySet struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu        sync.RWMutex
	keys      jwk.Set
	fetchedAt time.Time

	group   singleflight.Group
	limiter *rate.Limiter
}

// NewKeySet creates a KeySet for the given JWKS endpoint.
func NewKeySet(config KeySetConfig) (*KeySet, error) {
	if config.URL == "" {
		return nil, errors.New("JWKS URL is required")
	}
	if err := networking.ValidateEndpointURL(config.URL); err != nil {
		return nil, fmt.Errorf("invalid JWKS URL: %w", err)
	}

	ttl := config.TTL
	if ttl <= 0 {
		ttl = DefaultKeySetTTL
	}

	client := config.HTTPClient
	if client == nil {
		var err error
		client, err = networking.NewHTTPClientBuilder().Build()
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP client: %w", err)
		}
	}

	return &KeySet{
		url:    config.URL,
		ttl:    ttl,
		client: client,
		// One refresh per 10 seconds with a small burst is plenty for
		// key-rotation cadences.
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 3),
	}, nil
}

// GetKey returns the raw public key with the given id, refreshing the set
// if it is stale or the id is unknown. The refresh for an unknown id is
// attempted at most once per call.
func (s *KeySet) GetKey(ctx context.Context, keyID string) (any, error) {
	s.mu.RLock()
	fresh := s.keys != nil && time.Since(s.fetchedAt) < s.ttl
	key, found := s.lookupLocked(keyID)
	s.mu.RUnlock()

	if fresh && found {
		return exportPublicKey(key)
	}

	// Stale set or unknown key id: refresh once, coalescing concurrent
	// callers into a single fetch.
	if err := s.refresh(ctx); err != nil {
		// A stale key is still better than no key when the endpoint is
		// down, but an unknown id stays an error.
		if found {
			logger.Warnf("serving stale signing key %q after refresh failure: %v", keyID, err)
			return exportPublicKey(key)
		}
		return nil, err
	}

	s.mu.RLock()
	key, found = s.lookupLocked(keyID)
	s.mu.RUnlock()
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return exportPublicKey(key)
}

func (s *KeySet) lookupLocked(keyID string) (jwk.Key, bool) {
	if s.keys == nil {
		return nil, false
	}
	return s.keys.LookupKeyID(keyID)
}

// exportPublicKey exports the raw key material and rejects anything that
// is not an asymmetric public key.
func exportPublicKey(key jwk.Key) (any, error) {
	var rawKey any
	if err := jwk.Export(key, &rawKey); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}

	switch rawKey.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		return rawKey, nil
	default:
		return nil, ErrSymmetricKey
	}
}

// refresh fetches the JWKS document, sharing one in-flight fetch between
// concurrent callers.
func (s *KeySet) refresh(ctx context.Context) error {
	_, err, _ := s.group.Do("refresh", func() (any, error) {
		if !s.limiter.Allow() {
			// Refreshed very recently; whatever is cached is as good as
			// it gets right now.
			return nil, nil
		}
		return nil, s.fetch(ctx)
	})
	return err
}

func (s *KeySet) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read JWKS response: %w", err)
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return fmt.Errorf("failed to parse JWKS document: %w", err)
	}

	s.mu.Lock()
	s.keys = set
	s.fetchedAt = time.Now()
	s.mu.Unlock()

	return nil
}
