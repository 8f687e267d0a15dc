// Package errors defines the error taxonomy shared by the gateway stages.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Error types. These are stable, machine-readable codes surfaced to callers;
// messages attached to them must never contain token values, upstream
// response bodies, or stack traces.
const (
	// ErrInvalidToken is returned when a token is malformed or unverifiable
	ErrInvalidToken = "invalid_token"

	// ErrTokenExpired is returned when a token is past its expiry
	ErrTokenExpired = "token_expired"

	// ErrAuthenticationRequired is returned when no credentials were presented
	ErrAuthenticationRequired = "authentication_required"

	// ErrTenantDenied is returned when a tenant isolation policy denies access
	ErrTenantDenied = "tenant_denied"

	// ErrOperationDenied is returned when permission evaluation denies access
	ErrOperationDenied = "operation_denied"

	// ErrNetworkDenied is returned when a network restriction denies access
	ErrNetworkDenied = "network_denied"

	// ErrRateLimited is returned when a caller exceeds its request budget
	ErrRateLimited = "rate_limit_exceeded"

	// ErrCryptoFailure is returned on decrypt tamper detection or a wrong key
	ErrCryptoFailure = "crypto_failure"

	// ErrUpstreamUnavailable is returned when a signing-key or introspection
	// endpoint is unreachable or timed out. Validation treats this as
	// invalid; the gateway fails closed, never open.
	ErrUpstreamUnavailable = "upstream_unavailable"

	// ErrConfig is returned for configuration errors; these are startup-fatal
	ErrConfig = "config"
)

// Error represents an error in the gateway.
type Error struct {
	// Type is the stable error code
	Type string

	// Message is a safe human-readable reason
	Message string

	// Cause is the underlying error
	Cause error

	// RetryAfter is set on rate-limit errors
	RetryAfter time.Duration
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a gateway error of the same type.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Type == t.Type
}

// NewError creates a new error with the given type, message, and cause.
func NewError(errType, message string, cause error) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   cause,
	}
}

// NewInvalidTokenError creates an invalid-token error.
func NewInvalidTokenError(message string, cause error) *Error {
	return NewError(ErrInvalidToken, message, cause)
}

// NewTokenExpiredError creates a token-expired error.
func NewTokenExpiredError(message string, cause error) *Error {
	return NewError(ErrTokenExpired, message, cause)
}

// NewAuthenticationRequiredError creates an authentication-required error.
func NewAuthenticationRequiredError(message string) *Error {
	return NewError(ErrAuthenticationRequired, message, nil)
}

// NewTenantDeniedError creates a tenant-denied error.
func NewTenantDeniedError(message string) *Error {
	return NewError(ErrTenantDenied, message, nil)
}

// NewOperationDeniedError creates an operation-denied error.
func NewOperationDeniedError(message string) *Error {
	return NewError(ErrOperationDenied, message, nil)
}

// NewNetworkDeniedError creates a network-denied error.
func NewNetworkDeniedError(message string) *Error {
	return NewError(ErrNetworkDenied, message, nil)
}

// NewRateLimitedError creates a rate-limited error carrying the duration
// after which the caller may retry.
func NewRateLimitedError(message string, retryAfter time.Duration) *Error {
	return &Error{
		Type:       ErrRateLimited,
		Message:    message,
		RetryAfter: retryAfter,
	}
}

// NewCryptoFailureError creates a cryptographic-failure error.
func NewCryptoFailureError(message string, cause error) *Error {
	return NewError(ErrCryptoFailure, message, cause)
}

// NewUpstreamUnavailableError creates an upstream-unavailable error.
func NewUpstreamUnavailableError(message string, cause error) *Error {
	return NewError(ErrUpstreamUnavailable, message, cause)
}

// NewConfigError creates a configuration error.
func NewConfigError(message string, cause error) *Error {
	return NewError(ErrConfig, message, cause)
}

// IsType reports whether err is a gateway error with the given type.
func IsType(err error, errType string) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// TypeOf returns the gateway error type of err, or empty if err is not a
// gateway error.
func TypeOf(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Type
}
