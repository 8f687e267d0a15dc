package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolgate/pkg/authz"
	gateerrors "github.com/stacklok/toolgate/pkg/errors"
	"github.com/stacklok/toolgate/pkg/ratelimit"
)

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		header   string
		expected string
	}{
		{name: "standard", header: "Bearer abc123", expected: "abc123"},
		{name: "lowercase scheme", header: "bearer abc123", expected: "abc123"},
		{name: "mixed case scheme", header: "BeArEr abc123", expected: "abc123"},
		{name: "no header", header: "", expected: ""},
		{name: "wrong scheme", header: "Basic abc123", expected: ""},
		{name: "scheme only", header: "Bearer ", expected: ""},
		{name: "extra whitespace", header: "Bearer   abc123  ", expected: "abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.expected, ExtractBearerToken(r))
		})
	}
}

func fixedOperation(name string) func(*http.Request) string {
	return func(*http.Request) string { return name }
}

func TestHTTPMiddlewareUnauthenticated(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	gateway := f.gateway(t, nil, Config{})

	handler := gateway.HTTPMiddleware(fixedOperation("query_database"))(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/operations/query_database", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, gateerrors.ErrAuthenticationRequired, resp.Error)
	assert.NotEmpty(t, resp.ErrorDescription)
}

func TestHTTPMiddlewareAuthorizedRequestCarriesTenantContext(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	gateway := f.gateway(t, roleResolver{roleIDs: []string{authz.RoleDeveloper}}, Config{})

	var seen *authz.TenantContext
	handler := gateway.HTTPMiddleware(fixedOperation("query_database"))(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			seen = TenantContextFrom(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodPost, "/operations/query_database", nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, nil))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "tenant-a", seen.TenantID)
}

func TestHTTPMiddlewarePublicOperation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	gateway := f.gateway(t, nil, Config{PublicOperations: []string{"health"}})

	handler := gateway.HTTPMiddleware(fixedOperation("health"))(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Nil(t, TenantContextFrom(r.Context()))
			w.WriteHeader(http.StatusOK)
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTPMiddlewareForbidden(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	// No roles assigned: authentication succeeds, authorization denies.
	gateway := f.gateway(t, nil, Config{})

	handler := gateway.HTTPMiddleware(fixedOperation("query_database"))(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodPost, "/operations/query_database", nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, nil))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)

	var resp struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, gateerrors.ErrOperationDenied, resp.Error)
}

func TestHTTPMiddlewareRateLimited(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	limiter := ratelimit.NewLimiter(ratelimit.Config{PerMinute: 1, PerHour: 100})
	gateway, err := NewGateway(f.validator, limiter, f.engine,
		roleResolver{roleIDs: []string{authz.RoleDeveloper}}, Config{})
	require.NoError(t, err)

	handler := gateway.HTTPMiddleware(fixedOperation("query_database"))(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	token := f.token(t, nil)
	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/operations/query_database", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, send().Code)

	rec := send()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Positive(t, retryAfter)
	assert.LessOrEqual(t, retryAfter, 60)

	var resp struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, gateerrors.ErrRateLimited, resp.Error)
}

func TestHTTPMiddlewareSourceIPFeedsIsolation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.policies.PutPolicy(t.Context(), &authz.IsolationPolicy{
		TenantID: "tenant-a",
		Level:    authz.IsolationPartial,
		Restrictions: []authz.ResourceRestriction{
			{
				ResourceType: "",
				Conditions:   map[string]string{authz.ConditionSourceCIDR: "192.0.2.0/24"},
			},
		},
	}))
	gateway := f.gateway(t, roleResolver{roleIDs: []string{authz.RoleDeveloper}}, Config{})

	handler := gateway.HTTPMiddleware(fixedOperation("query_database"))(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	// httptest requests default to RemoteAddr 192.0.2.1:1234, inside the range.
	req := httptest.NewRequest(http.MethodPost, "/operations/query_database", nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, nil))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// A caller outside the range is turned away.
	req = httptest.NewRequest(http.MethodPost, "/operations/query_database", nil)
	req.Header.Set("Authorization", "Bearer "+f.token(t, nil))
	req.RemoteAddr = "203.0.113.9:4444"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var resp struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, gateerrors.ErrNetworkDenied, resp.Error)
}
