package middleware

import (
	"context"

	"github.com/stacklok/toolgate/pkg/authz"
)

// tenantContextKey is the context key for the resolved tenant context.
type tenantContextKey struct{}

// WithTenantContext stores the resolved tenant context on the request
// context for the tool layer.
func WithTenantContext(ctx context.Context, tc *authz.TenantContext) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tc)
}

// TenantContextFrom returns the tenant context resolved by the pipeline,
// or nil for public operations.
func TenantContextFrom(ctx context.Context) *authz.TenantContext {
	tc, _ := ctx.Value(tenantContextKey{}).(*authz.TenantContext)
	return tc
}
