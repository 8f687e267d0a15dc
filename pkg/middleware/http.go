package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"

	"github.com/stacklok/toolgate/pkg/authz"
	gateerrors "github.com/stacklok/toolgate/pkg/errors"
	"github.com/stacklok/toolgate/pkg/logger"
)

// BindingProofHeader carries the thumbprint of the caller's
// proof-of-possession material when token binding is enabled.
const BindingProofHeader = "X-Token-Binding-Proof"

// errorResponse is the wire shape for pipeline failures.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// ExtractBearerToken pulls the bearer token from the Authorization header.
// Header lookup is case-insensitive, as is the Bearer scheme itself.
func ExtractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// HTTPMiddleware adapts the pipeline to chi-style HTTP middleware. The
// operation name is the request's routing path; op derives it from the
// request so callers can map routes to operation names.
func (g *Gateway) HTTPMiddleware(op func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			operation := op(r)

			sourceIP := r.RemoteAddr
			if host, _, err := net.SplitHostPort(sourceIP); err == nil {
				sourceIP = host
			}

			tc, err := g.Authorize(r.Context(), &OperationRequest{
				Operation:    operation,
				Token:        ExtractBearerToken(r),
				BindingProof: r.Header.Get(BindingProofHeader),
				Metadata: map[string]string{
					authz.MetadataSourceIP: sourceIP,
				},
			})
			if err != nil {
				writeError(w, err)
				return
			}

			if tc != nil {
				r = r.WithContext(WithTenantContext(r.Context(), tc))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeError maps a pipeline failure to an HTTP response. The body only
// ever carries the stable code and safe reason.
func writeError(w http.ResponseWriter, err error) {
	var gerr *gateerrors.Error
	code := gateerrors.ErrInvalidToken
	message := "request denied"
	status := http.StatusUnauthorized

	if errors.As(err, &gerr) {
		code = gerr.Type
		message = gerr.Message
		switch gerr.Type {
		case gateerrors.ErrAuthenticationRequired, gateerrors.ErrInvalidToken, gateerrors.ErrTokenExpired:
			status = http.StatusUnauthorized
		case gateerrors.ErrRateLimited:
			status = http.StatusTooManyRequests
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(math.Ceil(gerr.RetryAfter.Seconds()))))
		default:
			status = http.StatusForbidden
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encodeErr := json.NewEncoder(w).Encode(errorResponse{
		Error:            code,
		ErrorDescription: message,
	}); encodeErr != nil {
		logger.Errorf("failed to encode error response: %v", encodeErr)
	}
}
