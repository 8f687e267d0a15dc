package authz

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sort"

	gateerrors "github.com/stacklok/toolgate/pkg/errors"
	"github.com/stacklok/toolgate/pkg/logger"
)

// Engine makes authorization decisions. It holds no per-request state;
// once the tenant context and policies are resolved, evaluation is pure
// in-memory logic.
type Engine struct {
	roles    RoleStore
	policies PolicyStore
}

// NewEngine creates an Engine backed by the given stores.
func NewEngine(roles RoleStore, policies PolicyStore) *Engine {
	return &Engine{roles: roles, policies: policies}
}

// Authorize evaluates a request against the tenant's isolation policy,
// direct permissions, and role-derived permissions, in that order.
// Isolation always runs first and can deny regardless of permissions.
func (e *Engine) Authorize(ctx context.Context, tc *TenantContext, req *Request) Decision {
	if tc == nil {
		return Decision{
			Code:   gateerrors.ErrTenantDenied,
			Reason: "no tenant context",
		}
	}
	if !tc.Active {
		return Decision{
			Code:   gateerrors.ErrTenantDenied,
			Reason: "tenant is not active",
		}
	}

	if decision := e.checkIsolation(ctx, tc, req); !decision.Allowed {
		return decision
	}

	// Direct permissions take precedence over role-derived ones.
	for i := range tc.Permissions {
		if permissionMatches(&tc.Permissions[i], tc, req) {
			return Decision{Allowed: true, Reason: "direct permission"}
		}
	}

	roles := e.resolveRoles(ctx, tc.RoleIDs)
	for _, role := range roles {
		for i := range role.Permissions {
			if permissionMatches(&role.Permissions[i], tc, req) {
				return Decision{Allowed: true, Reason: fmt.Sprintf("role %s", role.ID)}
			}
		}
	}

	return Decision{
		Code:   gateerrors.ErrOperationDenied,
		Reason: fmt.Sprintf("no permission grants %s on %s", req.Action, req.Resource),
		SufficientPermissions: []Permission{
			{Resource: req.Resource, Action: req.Action, Scope: ScopeTenant},
			{Resource: Wildcard, Action: req.Action, Scope: ScopeTenant},
			{Resource: req.Resource, Action: Wildcard, Scope: ScopeTenant},
		},
	}
}

// checkIsolation evaluates the tenant's isolation policy. No policy means
// allow; a strict policy with no restriction entry for the resource type
// denies by default.
func (e *Engine) checkIsolation(ctx context.Context, tc *TenantContext, req *Request) Decision {
	policy, err := e.policies.GetPolicy(ctx, tc.TenantID)
	if err != nil {
		if errors.Is(err, ErrPolicyNotFound) {
			return Decision{Allowed: true}
		}
		// A store failure must never allow through.
		logger.Errorf("isolation policy lookup failed for tenant %s: %v", tc.TenantID, err)
		return Decision{
			Code:   gateerrors.ErrTenantDenied,
			Reason: "isolation policy unavailable",
		}
	}

	var restriction *ResourceRestriction
	for i := range policy.Restrictions {
		if policy.Restrictions[i].ResourceType == req.ResourceType {
			restriction = &policy.Restrictions[i]
			break
		}
	}

	if restriction == nil {
		if policy.Level == IsolationStrict {
			return Decision{
				Code:   gateerrors.ErrTenantDenied,
				Reason: fmt.Sprintf("strict isolation policy has no entry for resource type %q", req.ResourceType),
			}
		}
		return Decision{Allowed: true}
	}

	for _, denied := range restriction.DeniedIDs {
		if denied == req.ResourceID {
			return Decision{
				Code:   gateerrors.ErrTenantDenied,
				Reason: "resource instance is deny-listed for this tenant",
			}
		}
	}

	if len(restriction.AllowedIDs) > 0 {
		found := false
		for _, allowed := range restriction.AllowedIDs {
			if allowed == req.ResourceID {
				found = true
				break
			}
		}
		if !found {
			return Decision{
				Code:   gateerrors.ErrTenantDenied,
				Reason: "resource instance is not on the tenant's allow-list",
			}
		}
	}

	for key, want := range restriction.Conditions {
		if key == ConditionSourceCIDR {
			if !sourceIPInRange(req.Metadata[MetadataSourceIP], want) {
				return Decision{
					Code:   gateerrors.ErrNetworkDenied,
					Reason: "caller address is outside the tenant's permitted network range",
				}
			}
			continue
		}
		if req.Metadata[key] != want {
			return Decision{
				Code:   gateerrors.ErrTenantDenied,
				Reason: fmt.Sprintf("isolation condition %q not satisfied", key),
			}
		}
	}

	return Decision{Allowed: true}
}

// sourceIPInRange reports whether addr falls inside the CIDR range. Any
// parse failure fails closed.
func sourceIPInRange(addr, cidr string) bool {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		logger.Warnf("unparseable CIDR %q in isolation condition", cidr)
		return false
	}
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	return prefix.Contains(ip.Unmap())
}

// resolveRoles loads the tenant's assigned roles and orders them by
// descending priority, name as the tiebreaker, so evaluation order is
// deterministic. Unknown role ids are skipped.
func (e *Engine) resolveRoles(ctx context.Context, roleIDs []string) []*Role {
	roles := make([]*Role, 0, len(roleIDs))
	for _, id := range roleIDs {
		role, err := e.roles.GetRole(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrRoleNotFound) {
				logger.Errorf("role lookup failed for %s: %v", id, err)
			}
			continue
		}
		roles = append(roles, role)
	}
	sort.SliceStable(roles, func(i, j int) bool {
		if roles[i].Priority != roles[j].Priority {
			return roles[i].Priority > roles[j].Priority
		}
		return roles[i].Name < roles[j].Name
	})
	return roles
}

// permissionMatches checks resource, action, scope, and constraints.
func permissionMatches(p *Permission, tc *TenantContext, req *Request) bool {
	if p.Resource != Wildcard && p.Resource != req.Resource {
		return false
	}
	if p.Action != Wildcard && p.Action != req.Action {
		return false
	}

	switch p.Scope {
	case ScopeGlobal, "":
		// Always passes.
	case ScopeTenant:
		if tc.TenantID == "" {
			return false
		}
	case ScopeResource:
		if req.ResourceID == "" {
			return false
		}
	default:
		return false
	}

	for key, want := range p.Constraints {
		if req.Metadata[key] != want {
			return false
		}
	}

	return true
}
