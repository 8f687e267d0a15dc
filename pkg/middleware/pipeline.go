// Package middleware composes authentication, rate limiting, and
// authorization into the fixed pipeline wrapped around every protected
// operation. Public operations bypass the pipeline entirely.
package middleware

import (
	"context"
	"fmt"

	"github.com/stacklok/toolgate/pkg/auth"
	"github.com/stacklok/toolgate/pkg/authz"
	gateerrors "github.com/stacklok/toolgate/pkg/errors"
	"github.com/stacklok/toolgate/pkg/ratelimit"
)

// TenantResolver turns validated token claims into the tenant context the
// authorization engine consumes.
type TenantResolver interface {
	Resolve(ctx context.Context, claims *auth.Claims) (*authz.TenantContext, error)
}

// ClaimsResolver is the default TenantResolver: tenant id and roles come
// straight from token claims.
type ClaimsResolver struct{}

// Resolve maps claims onto a tenant context. The subject doubles as the
// tenant id when no dedicated claim is present; tokens are considered
// active by construction (a suspended tenant would not get a token).
func (ClaimsResolver) Resolve(_ context.Context, claims *auth.Claims) (*authz.TenantContext, error) {
	if claims == nil {
		return nil, fmt.Errorf("no claims to resolve")
	}
	return &authz.TenantContext{
		TenantID: claims.Subject,
		Active:   true,
	}, nil
}

// OperationRequest describes one inbound call to a protected operation.
type OperationRequest struct {
	// Operation is the operation name being invoked.
	Operation string

	// Action is the verb for authorization; defaults to "execute".
	Action string

	// ResourceType and ResourceID feed isolation policy evaluation.
	ResourceType string
	ResourceID   string

	// Token is the presented bearer token.
	Token string

	// BindingProof is the thumbprint derived from the request's
	// proof-of-possession material, when token binding is enabled.
	BindingProof string

	// Metadata carries contextual attributes (source address, headers)
	// for constraint evaluation.
	Metadata map[string]string
}

// Config configures a Gateway.
type Config struct {
	// PublicOperations bypass the entire pipeline.
	PublicOperations []string

	// RequiredScopes maps operation names to the scopes a token must
	// carry to invoke them.
	RequiredScopes map[string][]string

	// BindingType enables token-binding validation when set.
	BindingType auth.BindingType
}

// Gateway runs the authenticate → rate-limit → authorize pipeline.
// It holds no request state; each call is a linear pass.
type Gateway struct {
	validator *auth.Validator
	limiter   *ratelimit.Limiter
	engine    *authz.Engine
	resolver  TenantResolver

	public         map[string]struct{}
	requiredScopes map[string][]string
	bindingType    auth.BindingType
}

// NewGateway creates a Gateway. All collaborators are required except the
// resolver, which defaults to ClaimsResolver.
func NewGateway(
	validator *auth.Validator,
	limiter *ratelimit.Limiter,
	engine *authz.Engine,
	resolver TenantResolver,
	config Config,
) (*Gateway, error) {
	if validator == nil {
		return nil, gateerrors.NewConfigError("token validator is required", nil)
	}
	if limiter == nil {
		return nil, gateerrors.NewConfigError("rate limiter is required", nil)
	}
	if engine == nil {
		return nil, gateerrors.NewConfigError("authorization engine is required", nil)
	}
	if resolver == nil {
		resolver = ClaimsResolver{}
	}

	public := make(map[string]struct{}, len(config.PublicOperations))
	for _, op := range config.PublicOperations {
		public[op] = struct{}{}
	}

	return &Gateway{
		validator:      validator,
		limiter:        limiter,
		engine:         engine,
		resolver:       resolver,
		public:         public,
		requiredScopes: config.RequiredScopes,
		bindingType:    config.BindingType,
	}, nil
}

// IsPublic reports whether the operation bypasses the pipeline.
func (g *Gateway) IsPublic(operation string) bool {
	_, ok := g.public[operation]
	return ok
}

// Authorize runs the pipeline for one request. On success it returns the
// resolved tenant context for the tool layer; public operations return a
// nil context. Every failure is a *errors.Error carrying a stable code
// and a safe reason only.
func (g *Gateway) Authorize(ctx context.Context, req *OperationRequest) (*authz.TenantContext, error) {
	if g.IsPublic(req.Operation) {
		return nil, nil
	}

	claims, err := g.authenticate(ctx, req)
	if err != nil {
		return nil, err
	}

	identity := claims.Subject
	if identity == "" {
		identity = claims.ClientID
	}
	if err := g.limiter.Check(identity); err != nil {
		return nil, err
	}

	tc, err := g.resolver.Resolve(ctx, claims)
	if err != nil {
		return nil, gateerrors.NewTenantDeniedError("failed to resolve tenant context")
	}

	action := req.Action
	if action == "" {
		action = "execute"
	}
	decision := g.engine.Authorize(ctx, tc, &authz.Request{
		Resource:     req.Operation,
		Action:       action,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Metadata:     req.Metadata,
	})
	if !decision.Allowed {
		return nil, gateerrors.NewError(decision.Code, decision.Reason, nil)
	}

	return tc, nil
}

// authenticate validates the token and, when enabled, its binding proof.
func (g *Gateway) authenticate(ctx context.Context, req *OperationRequest) (*auth.Claims, error) {
	if req.Token == "" {
		return nil, gateerrors.NewAuthenticationRequiredError("bearer token required")
	}

	result, err := g.validator.ValidateAccessToken(ctx, req.Token, g.requiredScopes[req.Operation]...)
	if err != nil {
		return nil, gateerrors.NewInvalidTokenError("token validation failed", nil)
	}
	if !result.Valid {
		code := result.Code
		if code == "" {
			code = gateerrors.ErrInvalidToken
		}
		return nil, gateerrors.NewError(code, result.Detail, nil)
	}

	if g.bindingType != "" {
		if err := g.validator.ValidateTokenBinding(ctx, req.Token, g.bindingType, req.BindingProof); err != nil {
			return nil, gateerrors.NewInvalidTokenError("token binding validation failed", nil)
		}
	}

	return result.Claims, nil
}
