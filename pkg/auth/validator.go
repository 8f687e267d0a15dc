// Package auth implements bearer-token validation for the gateway.
//
// Tokens are validated either locally, by verifying the signature against
// a cached JWKS key set, or remotely through RFC 7662 introspection.
// Outcomes are cached under a hash of the token; the token itself is never
// stored or logged. If no validation method is available the validator
// fails closed.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	gateerrors "github.com/stacklok/toolgate/pkg/errors"
	"github.com/stacklok/toolgate/pkg/networking"
)

// Common errors.
var (
	ErrNoToken            = errors.New("no token provided")
	ErrInvalidToken       = errors.New("invalid token")
	ErrNoValidationMethod = errors.New("no token validation method available")
)

// DefaultClockSkew is the tolerance applied to exp and nbf checks.
const DefaultClockSkew = 30 * time.Second

// introspectionTimeout bounds a single introspection call.
const introspectionTimeout = 10 * time.Second

// allowedAlgorithms are the asymmetric signing algorithms accepted for
// local verification. Symmetric algorithms are rejected outright to
// prevent algorithm-confusion attacks.
var allowedAlgorithms = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// ValidatorConfig contains configuration for the token validator.
type ValidatorConfig struct {
	// Issuer is the expected issuer claim. Optional.
	Issuer string

	// Audience is the expected audience for the token. Optional.
	Audience string

	// JWKSURL is the URL to fetch signing keys from. Enables local
	// verification of signed tokens.
	JWKSURL string

	// KeySetTTL overrides how long fetched signing keys stay fresh.
	KeySetTTL time.Duration

	// IntrospectionURL is the RFC 7662 endpoint for validating opaque
	// tokens. Requires ClientID and ClientSecret.
	IntrospectionURL string

	// ClientID and ClientSecret are the confidential-client credentials
	// used for introspection.
	ClientID     string
	ClientSecret string

	// RequiredClaims are claim names that must be present in locally
	// verified tokens.
	RequiredClaims []string

	// ClockSkew is the tolerance for exp/nbf checks. Default 30s.
	ClockSkew time.Duration

	// PositiveCacheTTL and NegativeCacheTTL override validation-cache
	// lifetimes.
	PositiveCacheTTL time.Duration
	NegativeCacheTTL time.Duration

	// HTTPClient overrides the outbound HTTP client. If nil, a default
	// client with explicit timeouts is used.
	HTTPClient *http.Client
}

// Validator validates bearer tokens.
type Validator struct {
	issuer         string
	audience       string
	requiredClaims []string
	clockSkew      time.Duration

	keySet *KeySet

	introspectURL string
	clientID      string
	clientSecret  string
	client        *http.Client

	cache  *validationCache
	parser *jwt.Parser
}

// NewValidator creates a new token validator. At least one validation
// method (JWKS URL or introspection endpoint) must be configured.
func NewValidator(config ValidatorConfig) (*Validator, error) {
	if config.JWKSURL == "" && config.IntrospectionURL == "" {
		return nil, gateerrors.NewConfigError(
			"no token validation method configured: set a JWKS URL or an introspection endpoint", nil)
	}

	clockSkew := config.ClockSkew
	if clockSkew <= 0 {
		clockSkew = DefaultClockSkew
	}

	client := config.HTTPClient
	if client == nil {
		var err error
		client, err = networking.NewHTTPClientBuilder().Build()
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP client: %w", err)
		}
	}

	var keySet *KeySet
	if config.JWKSURL != "" {
		var err error
		keySet, err = NewKeySet(KeySetConfig{
			URL:        config.JWKSURL,
			TTL:        config.KeySetTTL,
			HTTPClient: client,
		})
		if err != nil {
			return nil, err
		}
	}

	if config.IntrospectionURL != "" {
		if err := networking.ValidateEndpointURL(config.IntrospectionURL); err != nil {
			return nil, gateerrors.NewConfigError("invalid introspection URL", err)
		}
	}

	return &Validator{
		issuer:         config.Issuer,
		audience:       config.Audience,
		requiredClaims: config.RequiredClaims,
		clockSkew:      clockSkew,
		keySet:         keySet,
		introspectURL:  config.IntrospectionURL,
		clientID:       config.ClientID,
		clientSecret:   config.ClientSecret,
		client:         client,
		cache:          newValidationCache(config.PositiveCacheTTL, config.NegativeCacheTTL),
		parser: jwt.NewParser(
			jwt.WithValidMethods(allowedAlgorithms),
			jwt.WithLeeway(clockSkew),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// ValidateAccessToken validates a bearer token and, when required scopes
// are given, checks that the token carries every one of them. Only the
// base validation outcome is cached under hash(token); required scopes
// vary per operation, so the scope check runs on every call, cache hit
// or not. Cached outcomes are flagged as such.
func (v *Validator) ValidateAccessToken(ctx context.Context, token string, requiredScopes ...string) (*Result, error) {
	if token == "" {
		return nil, ErrNoToken
	}

	cacheKey := hashToken(token)
	result, ok := v.cache.get(cacheKey)
	if !ok {
		result = v.validate(ctx, token)
		v.cache.set(cacheKey, result)
	}

	if result.Valid && len(requiredScopes) > 0 {
		if missing := result.Claims.MissingScopes(requiredScopes); len(missing) > 0 {
			return &Result{
				Valid:         false,
				Claims:        result.Claims,
				Code:          gateerrors.ErrOperationDenied,
				Detail:        fmt.Sprintf("missing required scopes: %s", strings.Join(missing, " ")),
				MissingScopes: missing,
				Cached:        result.Cached,
			}, nil
		}
	}

	return &result, nil
}

// validate picks the validation path for the token. Tokens with the
// three-segment structure of a signed token are verified locally when a
// key set is configured; anything else goes to introspection.
func (v *Validator) validate(ctx context.Context, token string) Result {
	if strings.Count(token, ".") == 2 && v.keySet != nil {
		return v.validateLocal(ctx, token)
	}
	if v.introspectURL != "" {
		return v.introspect(ctx, token)
	}
	return Result{
		Valid:  false,
		Code:   gateerrors.ErrInvalidToken,
		Detail: ErrNoValidationMethod.Error(),
	}
}

// validateLocal verifies a signed token against the cached key set. The
// header is decoded without trust solely to select the algorithm and key;
// nothing from the token is believed until the signature checks out.
func (v *Validator) validateLocal(ctx context.Context, tokenString string) Result {
	var upstreamErr error

	token, err := v.parser.Parse(tokenString, func(token *jwt.Token) (any, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("token header missing kid")
		}
		key, keyErr := v.keySet.GetKey(ctx, kid)
		if keyErr != nil && !errors.Is(keyErr, ErrKeyNotFound) && !errors.Is(keyErr, ErrSymmetricKey) {
			// Endpoint unreachable or document unusable. Remember the
			// cause so the outcome reports upstream-unavailable rather
			// than a generic parse failure.
			upstreamErr = keyErr
		}
		return key, keyErr
	})

	if err != nil {
		switch {
		case upstreamErr != nil:
			return Result{
				Valid:  false,
				Code:   gateerrors.ErrUpstreamUnavailable,
				Detail: "signing keys unavailable",
			}
		case errors.Is(err, jwt.ErrTokenExpired):
			return Result{Valid: false, Code: gateerrors.ErrTokenExpired, Detail: "token expired"}
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return Result{Valid: false, Code: gateerrors.ErrInvalidToken, Detail: "token not yet valid"}
		default:
			return Result{Valid: false, Code: gateerrors.ErrInvalidToken, Detail: "signature verification failed"}
		}
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Result{Valid: false, Code: gateerrors.ErrInvalidToken, Detail: "malformed claims"}
	}

	if detail := v.checkClaims(mapClaims); detail != "" {
		return Result{Valid: false, Code: gateerrors.ErrInvalidToken, Detail: detail}
	}

	return Result{Valid: true, Claims: claimsFromMap(mapClaims)}
}

// checkClaims verifies issuer, audience, and configured required claims.
// Expiry and not-before are already covered by the parser.
func (v *Validator) checkClaims(claims jwt.MapClaims) string {
	if v.issuer != "" {
		issuer, err := claims.GetIssuer()
		if err != nil || strings.TrimSpace(issuer) != strings.TrimSpace(v.issuer) {
			return "invalid issuer"
		}
	}

	if v.audience != "" {
		audiences, err := claims.GetAudience()
		if err != nil {
			return "invalid audience"
		}
		found := false
		for _, aud := range audiences {
			if aud == v.audience {
				found = true
				break
			}
		}
		if !found {
			return "invalid audience"
		}
	}

	for _, name := range v.requiredClaims {
		if _, ok := claims[name]; !ok {
			return fmt.Sprintf("missing required claim %q", name)
		}
	}

	return ""
}

// introspectionResponse is the RFC 7662 response shape.
type introspectionResponse struct {
	Active   bool            `json:"active"`
	Scope    string          `json:"scope,omitempty"`
	ClientID string          `json:"client_id,omitempty"`
	Exp      *float64        `json:"exp,omitempty"`
	Iat      *float64        `json:"iat,omitempty"`
	Nbf      *float64        `json:"nbf,omitempty"`
	Sub      string          `json:"sub,omitempty"`
	Aud      any             `json:"aud,omitempty"`
	Iss      string          `json:"iss,omitempty"`
	Jti      string          `json:"jti,omitempty"`
	Cnf      map[string]any  `json:"cnf,omitempty"`
}

// introspect submits the token to the configured RFC 7662 endpoint using
// confidential-client credentials.
func (v *Validator) introspect(ctx context.Context, tokenString string) Result {
	ctx, cancel := context.WithTimeout(ctx, introspectionTimeout)
	defer cancel()

	form := url.Values{"token": {tokenString}}
	form.Set("token_type_hint", "access_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.introspectURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{Valid: false, Code: gateerrors.ErrInvalidToken, Detail: "failed to build introspection request"}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	if v.clientID != "" && v.clientSecret != "" {
		req.SetBasicAuth(v.clientID, v.clientSecret)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return Result{Valid: false, Code: gateerrors.ErrUpstreamUnavailable, Detail: "introspection endpoint unreachable"}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{
			Valid:  false,
			Code:   gateerrors.ErrUpstreamUnavailable,
			Detail: fmt.Sprintf("introspection failed with status %d", resp.StatusCode),
		}
	}

	var ir introspectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return Result{Valid: false, Code: gateerrors.ErrUpstreamUnavailable, Detail: "malformed introspection response"}
	}

	if !ir.Active {
		return Result{Valid: false, Code: gateerrors.ErrInvalidToken, Detail: "token is not active"}
	}

	mapClaims := jwt.MapClaims{}
	if ir.Exp != nil {
		mapClaims["exp"] = *ir.Exp
	}
	if ir.Iat != nil {
		mapClaims["iat"] = *ir.Iat
	}
	if ir.Nbf != nil {
		mapClaims["nbf"] = *ir.Nbf
	}
	if ir.Sub != "" {
		mapClaims["sub"] = strings.TrimSpace(ir.Sub)
	}
	if ir.Aud != nil {
		mapClaims["aud"] = ir.Aud
	}
	if ir.Scope != "" {
		mapClaims["scope"] = strings.TrimSpace(ir.Scope)
	}
	if ir.Iss != "" {
		mapClaims["iss"] = strings.TrimSpace(ir.Iss)
	}
	if ir.ClientID != "" {
		mapClaims["client_id"] = ir.ClientID
	}
	if ir.Jti != "" {
		mapClaims["jti"] = ir.Jti
	}
	if ir.Cnf != nil {
		mapClaims["cnf"] = ir.Cnf
	}

	claims := claimsFromMap(mapClaims)

	if !claims.ExpiresAt.IsZero() && time.Now().After(claims.ExpiresAt.Add(v.clockSkew)) {
		return Result{Valid: false, Claims: claims, Code: gateerrors.ErrTokenExpired, Detail: "token expired"}
	}

	if detail := v.checkClaims(mapClaims); detail != "" {
		return Result{Valid: false, Claims: claims, Code: gateerrors.ErrInvalidToken, Detail: detail}
	}

	return Result{Valid: true, Claims: claims}
}

// RevokeToken purges any cached outcome for the token so a revoked token
// is never served from cache again.
func (v *Validator) RevokeToken(token string) {
	if token == "" {
		return
	}
	v.cache.delete(hashToken(token))
}
