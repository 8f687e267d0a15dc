package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const testKeyID = "test-key-1"

// newJWKSServer serves a JWKS document containing the given public key and
// counts fetches.
func newJWKSServer(t *testing.T, publicKey *rsa.PublicKey, fetches *atomic.Int32) *httptest.Server {
	t.Helper()

	key, err := jwk.Import(publicKey)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, testKeyID))
	require.NoError(t, key.Set(jwk.AlgorithmKey, "RS256"))
	require.NoError(t, key.Set(jwk.KeyUsageKey, "sig"))

	keySet := jwk.NewSet()
	require.NoError(t, keySet.AddKey(key))

	body, err := json.Marshal(keySet)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fetches != nil {
			fetches.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return privateKey
}

func TestKeySetGetKey(t *testing.T) {
	t.Parallel()

	privateKey := testRSAKey(t)
	server := newJWKSServer(t, &privateKey.PublicKey, nil)

	keySet, err := NewKeySet(KeySetConfig{URL: server.URL, HTTPClient: server.Client()})
	require.NoError(t, err)

	raw, err := keySet.GetKey(context.Background(), testKeyID)
	require.NoError(t, err)

	got, ok := raw.(*rsa.PublicKey)
	require.True(t, ok)
	assert.True(t, got.Equal(&privateKey.PublicKey))
}

func TestKeySetUnknownKeyID(t *testing.T) {
	t.Parallel()

	privateKey := testRSAKey(t)
	server := newJWKSServer(t, &privateKey.PublicKey, nil)

	keySet, err := NewKeySet(KeySetConfig{URL: server.URL, HTTPClient: server.Client()})
	require.NoError(t, err)

	_, err = keySet.GetKey(context.Background(), "no-such-key")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestKeySetRejectsSymmetricKey(t *testing.T) {
	t.Parallel()

	symmetric, err := jwk.Import([]byte("shared-secret-material"))
	require.NoError(t, err)
	require.NoError(t, symmetric.Set(jwk.KeyIDKey, "sym-1"))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(symmetric))
	body, err := json.Marshal(set)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)

	keySet, err := NewKeySet(KeySetConfig{URL: server.URL, HTTPClient: server.Client()})
	require.NoError(t, err)

	_, err = keySet.GetKey(context.Background(), "sym-1")
	require.ErrorIs(t, err, ErrSymmetricKey)
}

func TestKeySetCoalescesConcurrentFetches(t *testing.T) {
	t.Parallel()

	privateKey := testRSAKey(t)
	var fetches atomic.Int32
	server := newJWKSServer(t, &privateKey.PublicKey, &fetches)

	keySet, err := NewKeySet(KeySetConfig{URL: server.URL, HTTPClient: server.Client()})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := keySet.GetKey(context.Background(), testKeyID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Sequential hits against a fresh set never refetch either.
	for range 5 {
		_, err := keySet.GetKey(context.Background(), testKeyID)
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, fetches.Load(), int32(3), "concurrent lookups must coalesce refreshes")
	assert.GreaterOrEqual(t, fetches.Load(), int32(1))
}

func TestKeySetServesStaleKeysWhenEndpointDown(t *testing.T) {
	t.Parallel()

	privateKey := testRSAKey(t)
	var healthy atomic.Bool
	healthy.Store(true)

	key, err := jwk.Import(&privateKey.PublicKey)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, testKeyID))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(key))
	body, err := json.Marshal(set)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)

	keySet, err := NewKeySet(KeySetConfig{
		URL:        server.URL,
		TTL:        time.Nanosecond,
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)

	_, err = keySet.GetKey(context.Background(), testKeyID)
	require.NoError(t, err)

	// Endpoint goes down; the known key is still served from the stale set.
	healthy.Store(false)
	keySet.limiter = rate.NewLimiter(rate.Inf, 1)

	raw, err := keySet.GetKey(context.Background(), testKeyID)
	require.NoError(t, err)
	assert.NotNil(t, raw)
}

func TestNewKeySetValidation(t *testing.T) {
	t.Parallel()

	_, err := NewKeySet(KeySetConfig{})
	assert.Error(t, err)

	_, err = NewKeySet(KeySetConfig{URL: "not a url"})
	assert.Error(t, err)
}
