package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	gateerrors "github.com/stacklok/toolgate/pkg/errors"
	"github.com/stacklok/toolgate/pkg/networking"
)

// metadataCacheTTL is how long a fetched metadata document stays fresh.
const metadataCacheTTL = time.Hour

// maxMetadataResponseSize caps the metadata document size (1MB).
const maxMetadataResponseSize = 1024 * 1024

// ServerMetadata is the RFC 8414 authorization-server metadata document,
// reduced to the fields the trust checks consume.
type ServerMetadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	JWKSURI                       string   `json:"jwks_uri"`
	IntrospectionEndpoint         string   `json:"introspection_endpoint"`
	ResponseTypesSupported        []string `json:"response_types_supported"`
	GrantTypesSupported           []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
}

// ServerValidatorConfig configures a ServerValidator.
type ServerValidatorConfig struct {
	// TrustedIssuers is the explicit allow-list of authorization servers
	// the gateway will talk to. Empty means no server is trusted.
	TrustedIssuers []string

	// HTTPClient overrides the outbound HTTP client.
	HTTPClient *http.Client
}

// ServerValidator checks that a remote authorization server is trusted and
// advertises OAuth 2.1-compliant capabilities. Metadata documents are
// cached per issuer.
type ServerValidator struct {
	trustedIssuers []string
	client         *http.Client

	mu    sync.RWMutex
	cache map[string]cachedMetadata
}

type cachedMetadata struct {
	doc       *ServerMetadata
	fetchedAt time.Time
}

// NewServerValidator creates a ServerValidator.
func NewServerValidator(config ServerValidatorConfig) (*ServerValidator, error) {
	client := config.HTTPClient
	if client == nil {
		var err error
		client, err = networking.NewHTTPClientBuilder().Build()
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP client: %w", err)
		}
	}

	trusted := make([]string, 0, len(config.TrustedIssuers))
	for _, issuer := range config.TrustedIssuers {
		trusted = append(trusted, strings.TrimSuffix(issuer, "/"))
	}

	return &ServerValidator{
		trustedIssuers: trusted,
		client:         client,
		cache:          make(map[string]cachedMetadata),
	}, nil
}

// Validate fetches (or serves from cache) the issuer's RFC 8414 metadata
// and fails unless the issuer is allow-listed, S256 is advertised, and the
// deprecated implicit grant is absent. A fetch failure fails closed.
func (v *ServerValidator) Validate(ctx context.Context, issuer string) (*ServerMetadata, error) {
	issuer = strings.TrimSuffix(issuer, "/")

	if !slices.Contains(v.trustedIssuers, issuer) {
		return nil, gateerrors.NewNetworkDeniedError(
			fmt.Sprintf("authorization server %q is not on the trust allow-list", issuer))
	}

	doc, err := v.metadata(ctx, issuer)
	if err != nil {
		return nil, gateerrors.NewUpstreamUnavailableError("failed to fetch authorization server metadata", err)
	}

	if doc.Issuer != "" && strings.TrimSuffix(doc.Issuer, "/") != issuer {
		return nil, gateerrors.NewNetworkDeniedError("authorization server metadata issuer mismatch")
	}

	if !slices.Contains(doc.CodeChallengeMethodsSupported, MethodS256) {
		return nil, gateerrors.NewNetworkDeniedError(
			"authorization server does not advertise the S256 code challenge method")
	}

	for _, rt := range doc.ResponseTypesSupported {
		// "token" and hybrid "...token" response types are the implicit
		// grant, removed in OAuth 2.1.
		for _, part := range strings.Fields(rt) {
			if part == "token" {
				return nil, gateerrors.NewNetworkDeniedError(
					"authorization server advertises the deprecated implicit grant")
			}
		}
	}

	return doc, nil
}

// metadata returns the cached document for the issuer or fetches it.
func (v *ServerValidator) metadata(ctx context.Context, issuer string) (*ServerMetadata, error) {
	v.mu.RLock()
	entry, ok := v.cache[issuer]
	v.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < metadataCacheTTL {
		return entry.doc, nil
	}

	wellKnownURL := issuer + "/.well-known/oauth-authorization-server"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata endpoint returned status %d", resp.StatusCode)
	}

	var doc ServerMetadata
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxMetadataResponseSize)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode metadata document: %w", err)
	}

	v.mu.Lock()
	v.cache[issuer] = cachedMetadata{doc: &doc, fetchedAt: time.Now()}
	v.mu.Unlock()

	return &doc, nil
}
