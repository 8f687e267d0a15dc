// Package oauth implements the OAuth 2.1 protocol guards the gateway
// enforces in front of authorization flows: PKCE generation and
// validation, authorization-server trust checks, one-time state/nonce
// handling, and redirect URI screening.
package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/stacklok/toolgate/pkg/logger"
)

// PKCE challenge methods.
const (
	// MethodS256 is the only method generated for new flows (RFC 7636
	// Section 4.2).
	MethodS256 = "S256"

	// MethodPlain is accepted on validation only, for compatibility with
	// legacy clients. Its use is logged as deprecated.
	MethodPlain = "plain"
)

// Verifier length bounds per RFC 7636 Section 4.1.
const (
	minVerifierLength = 43
	maxVerifierLength = 128
)

// PKCEParams is a generated verifier/challenge pair.
type PKCEParams struct {
	Verifier        string
	Challenge       string
	ChallengeMethod string
}

// GeneratePKCE produces a cryptographically random code verifier and its
// S256 code challenge. New flows only ever use S256.
func GeneratePKCE() PKCEParams {
	verifier := oauth2.GenerateVerifier()
	return PKCEParams{
		Verifier:        verifier,
		Challenge:       oauth2.S256ChallengeFromVerifier(verifier),
		ChallengeMethod: MethodS256,
	}
}

// ValidatePKCE recomputes the challenge from the verifier using the
// declared method and compares it in constant time. Verifiers outside the
// RFC 7636 length bound or containing disallowed characters are rejected
// before any comparison.
func ValidatePKCE(verifier, challenge, method string) error {
	if err := checkVerifier(verifier); err != nil {
		return err
	}
	if challenge == "" {
		return fmt.Errorf("code challenge is required")
	}

	var computed string
	switch method {
	case MethodS256, "":
		computed = oauth2.S256ChallengeFromVerifier(verifier)
	case MethodPlain:
		logger.Warnf("plain PKCE challenge method is deprecated; clients should use S256")
		computed = verifier
	default:
		return fmt.Errorf("unsupported code challenge method %q", method)
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code verifier does not match challenge")
	}
	return nil
}

// S256ChallengeOf returns the S256 challenge for a verifier. Exposed for
// flows that persist the challenge separately from the verifier.
func S256ChallengeOf(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// checkVerifier enforces the RFC 7636 unreserved character set and length
// bound.
func checkVerifier(verifier string) error {
	if len(verifier) < minVerifierLength || len(verifier) > maxVerifierLength {
		return fmt.Errorf("code verifier length must be between %d and %d characters",
			minVerifierLength, maxVerifierLength)
	}
	for _, r := range verifier {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '.' || r == '_' || r == '~':
		default:
			return fmt.Errorf("code verifier contains disallowed character")
		}
	}
	return nil
}
