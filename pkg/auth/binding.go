package auth

import (
	"context"
	"crypto/subtle"
	"fmt"

	gateerrors "github.com/stacklok/toolgate/pkg/errors"
)

// BindingType selects which confirmation thumbprint a token must match.
type BindingType string

// Supported binding types.
const (
	// BindingTypeCertificate matches the x5t#S256 confirmation member
	// against the presented client-certificate thumbprint (RFC 8705).
	BindingTypeCertificate BindingType = "certificate"

	// BindingTypeKey matches the jkt confirmation member against the
	// thumbprint of the presented proof-of-possession key.
	BindingTypeKey BindingType = "key"
)

// ValidateTokenBinding checks that a sender-constrained token was presented
// by the party it was issued to. The token is re-validated, its
// confirmation claim extracted, and the stored thumbprint compared against
// the value derived from the current request's proof. A missing
// confirmation claim, an unknown binding type, or any mismatch fails
// closed.
func (v *Validator) ValidateTokenBinding(ctx context.Context, token string, bindingType BindingType, bindingValue string) error {
	if bindingValue == "" {
		return gateerrors.NewInvalidTokenError("no binding proof presented", nil)
	}

	result, err := v.ValidateAccessToken(ctx, token)
	if err != nil {
		return gateerrors.NewInvalidTokenError("token validation failed", err)
	}
	if !result.Valid {
		return gateerrors.NewInvalidTokenError(result.Detail, nil)
	}

	cnf := result.Claims.Confirmation
	if cnf == nil {
		return gateerrors.NewInvalidTokenError("token carries no confirmation claim", nil)
	}

	var expected string
	switch bindingType {
	case BindingTypeCertificate:
		expected = cnf.CertificateThumbprint
	case BindingTypeKey:
		expected = cnf.KeyThumbprint
	default:
		return gateerrors.NewInvalidTokenError(fmt.Sprintf("unknown binding type %q", bindingType), nil)
	}

	if expected == "" {
		return gateerrors.NewInvalidTokenError("token is not bound for this binding type", nil)
	}

	if subtle.ConstantTimeCompare([]byte(expected), []byte(bindingValue)) != 1 {
		return gateerrors.NewInvalidTokenError("token binding mismatch", nil)
	}

	return nil
}
