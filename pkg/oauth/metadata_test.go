package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gateerrors "github.com/stacklok/toolgate/pkg/errors"
)

func compliantMetadata(issuer string) ServerMetadata {
	return ServerMetadata{
		Issuer:                        issuer,
		AuthorizationEndpoint:         issuer + "/authorize",
		TokenEndpoint:                 issuer + "/token",
		ResponseTypesSupported:        []string{"code"},
		CodeChallengeMethodsSupported: []string{"S256"},
	}
}

func TestServerValidatorAcceptsCompliantServer(t *testing.T) {
	t.Parallel()

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(compliantMetadata(server.URL))
	}))
	t.Cleanup(server.Close)

	validator, err := NewServerValidator(ServerValidatorConfig{
		TrustedIssuers: []string{server.URL},
		HTTPClient:     server.Client(),
	})
	require.NoError(t, err)

	doc, err := validator.Validate(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/token", doc.TokenEndpoint)
}

func TestServerValidatorRejectsUntrustedIssuer(t *testing.T) {
	t.Parallel()

	validator, err := NewServerValidator(ServerValidatorConfig{
		TrustedIssuers: []string{"https://trusted.example.com"},
	})
	require.NoError(t, err)

	_, err = validator.Validate(context.Background(), "https://rogue.example.com")
	require.Error(t, err)
	assert.True(t, gateerrors.IsType(err, gateerrors.ErrNetworkDenied))
}

func TestServerValidatorTrailingSlashNormalization(t *testing.T) {
	t.Parallel()

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(compliantMetadata(server.URL))
	}))
	t.Cleanup(server.Close)

	validator, err := NewServerValidator(ServerValidatorConfig{
		TrustedIssuers: []string{server.URL + "/"},
		HTTPClient:     server.Client(),
	})
	require.NoError(t, err)

	_, err = validator.Validate(context.Background(), server.URL)
	assert.NoError(t, err)
}

func TestServerValidatorRejectsMissingS256(t *testing.T) {
	t.Parallel()

	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		doc := compliantMetadata(server.URL)
		doc.CodeChallengeMethodsSupported = []string{"plain"}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(server.Close)

	validator, err := NewServerValidator(ServerValidatorConfig{
		TrustedIssuers: []string{server.URL},
		HTTPClient:     server.Client(),
	})
	require.NoError(t, err)

	_, err = validator.Validate(context.Background(), server.URL)
	require.Error(t, err)
	assert.True(t, gateerrors.IsType(err, gateerrors.ErrNetworkDenied))
	assert.Contains(t, err.Error(), "S256")
}

func TestServerValidatorRejectsImplicitGrant(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		responseTypes []string
	}{
		{name: "bare token", responseTypes: []string{"code", "token"}},
		{name: "hybrid", responseTypes: []string{"code", "id_token token"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var server *httptest.Server
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				doc := compliantMetadata(server.URL)
				doc.ResponseTypesSupported = tt.responseTypes
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(doc)
			}))
			t.Cleanup(server.Close)

			validator, err := NewServerValidator(ServerValidatorConfig{
				TrustedIssuers: []string{server.URL},
				HTTPClient:     server.Client(),
			})
			require.NoError(t, err)

			_, err = validator.Validate(context.Background(), server.URL)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "implicit")
		})
	}
}

func TestServerValidatorFetchFailureFailsClosed(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	validator, err := NewServerValidator(ServerValidatorConfig{
		TrustedIssuers: []string{server.URL},
		HTTPClient:     server.Client(),
	})
	require.NoError(t, err)

	_, err = validator.Validate(context.Background(), server.URL)
	require.Error(t, err)
	assert.True(t, gateerrors.IsType(err, gateerrors.ErrUpstreamUnavailable))
}

func TestServerValidatorCachesMetadata(t *testing.T) {
	t.Parallel()

	var fetches atomic.Int32
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(compliantMetadata(server.URL))
	}))
	t.Cleanup(server.Close)

	validator, err := NewServerValidator(ServerValidatorConfig{
		TrustedIssuers: []string{server.URL},
		HTTPClient:     server.Client(),
	})
	require.NoError(t, err)

	for range 5 {
		_, err := validator.Validate(context.Background(), server.URL)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), fetches.Load())
}
