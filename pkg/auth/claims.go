package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Confirmation carries the token-binding material from the "cnf" claim
// (RFC 7800). Exactly one thumbprint is set for a sender-constrained token.
type Confirmation struct {
	// CertificateThumbprint is the x5t#S256 member: the base64url-encoded
	// SHA-256 thumbprint of the client certificate the token is bound to.
	CertificateThumbprint string `json:"x5t#S256,omitempty"`

	// KeyThumbprint is the jkt member: the JWK thumbprint of the
	// proof-of-possession key the token is bound to.
	KeyThumbprint string `json:"jkt,omitempty"`
}

// Claims represents the validated claims of an access token.
type Claims struct {
	Issuer    string
	Subject   string
	Audience  []string
	ExpiresAt time.Time
	NotBefore time.Time
	IssuedAt  time.Time
	ID        string

	// Scope is the space-delimited scope claim as issued.
	Scope string

	ClientID string

	// Confirmation is present only for sender-constrained tokens.
	Confirmation *Confirmation
}

// Scopes returns the individual scopes granted by the token.
func (c *Claims) Scopes() []string {
	if c == nil || c.Scope == "" {
		return nil
	}
	return strings.Fields(c.Scope)
}

// HasScope returns true if the token carries the given scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes() {
		if s == scope {
			return true
		}
	}
	return false
}

// MissingScopes returns the subset of required scopes the token does not
// carry, preserving order.
func (c *Claims) MissingScopes(required []string) []string {
	var missing []string
	for _, r := range required {
		if !c.HasScope(r) {
			missing = append(missing, r)
		}
	}
	return missing
}

// claimsFromMap converts raw JWT or introspection claims into Claims.
func claimsFromMap(m jwt.MapClaims) *Claims {
	c := &Claims{}

	if iss, err := m.GetIssuer(); err == nil {
		c.Issuer = iss
	}
	if sub, err := m.GetSubject(); err == nil {
		c.Subject = sub
	}
	if aud, err := m.GetAudience(); err == nil {
		c.Audience = aud
	}
	if exp, err := m.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if nbf, err := m.GetNotBefore(); err == nil && nbf != nil {
		c.NotBefore = nbf.Time
	}
	if iat, err := m.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	if jti, ok := m["jti"].(string); ok {
		c.ID = jti
	}
	if scope, ok := m["scope"].(string); ok {
		c.Scope = strings.TrimSpace(scope)
	}
	if clientID, ok := m["client_id"].(string); ok {
		c.ClientID = clientID
	}

	if cnf, ok := m["cnf"].(map[string]any); ok {
		conf := &Confirmation{}
		if v, ok := cnf["x5t#S256"].(string); ok {
			conf.CertificateThumbprint = v
		}
		if v, ok := cnf["jkt"].(string); ok {
			conf.KeyThumbprint = v
		}
		if conf.CertificateThumbprint != "" || conf.KeyThumbprint != "" {
			c.Confirmation = conf
		}
	}

	return c
}
