// Package authz implements the gateway's authorization engine: RBAC with
// prioritized roles, direct permission grants, and per-tenant isolation
// policies evaluated ahead of permission logic.
package authz

// Wildcard matches any resource or action in a permission selector.
const Wildcard = "*"

// PermissionScope bounds where a permission applies.
type PermissionScope string

// Permission scopes.
const (
	// ScopeGlobal applies everywhere.
	ScopeGlobal PermissionScope = "global"

	// ScopeTenant applies only within a tenant; evaluation requires a
	// non-empty tenant id.
	ScopeTenant PermissionScope = "tenant"

	// ScopeResource applies to a single resource instance; evaluation
	// requires a resolvable resource identity.
	ScopeResource PermissionScope = "resource"
)

// Permission grants an action on a resource within a scope. Resource and
// Action match exactly or via the "*" wildcard. Constraints, when present,
// must all equal the corresponding request metadata values.
type Permission struct {
	Resource    string            `json:"resource" yaml:"resource"`
	Action      string            `json:"action" yaml:"action"`
	Scope       PermissionScope   `json:"scope" yaml:"scope"`
	Constraints map[string]string `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// Role is an ordered set of permissions with a priority. Higher priority
// roles are evaluated first. System roles are immutable: policy
// administration can neither create, update, nor delete them.
type Role struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Permissions []Permission `json:"permissions" yaml:"permissions"`
	Priority    int          `json:"priority" yaml:"priority"`
	System      bool         `json:"system" yaml:"system"`
}

// TenantContext is the resolved caller identity handed to authorization.
type TenantContext struct {
	TenantID string

	// RoleIDs are the tenant's assigned roles.
	RoleIDs []string

	// Permissions are directly granted permissions, evaluated before any
	// role-derived ones.
	Permissions []Permission

	// Active is false for suspended tenants.
	Active bool
}

// IsolationLevel controls how an isolation policy treats resource types
// it has no restriction entry for.
type IsolationLevel string

// Isolation levels.
const (
	// IsolationStrict denies any resource type without an explicit
	// restriction entry.
	IsolationStrict IsolationLevel = "strict"

	// IsolationPartial allows resource types without a restriction entry.
	IsolationPartial IsolationLevel = "partial"

	// IsolationShared allows resource types without a restriction entry.
	IsolationShared IsolationLevel = "shared"
)

// ConditionSourceCIDR is the restriction condition key holding a CIDR
// range the caller's source address must fall within.
const ConditionSourceCIDR = "source_ip_cidr"

// MetadataSourceIP is the request metadata key carrying the caller's
// source address, consumed by CIDR conditions.
const MetadataSourceIP = "source_ip"

// ResourceRestriction restricts a tenant's access to one resource type.
type ResourceRestriction struct {
	// ResourceType names the resource type this entry covers.
	ResourceType string `json:"resource_type" yaml:"resource_type"`

	// AllowedIDs, when non-empty, is an exhaustive instance allow-list.
	AllowedIDs []string `json:"allowed_ids,omitempty" yaml:"allowed_ids,omitempty"`

	// DeniedIDs always deny, regardless of AllowedIDs.
	DeniedIDs []string `json:"denied_ids,omitempty" yaml:"denied_ids,omitempty"`

	// Conditions are exact-match key/value checks against request
	// metadata, except ConditionSourceCIDR which is a CIDR containment
	// check.
	Conditions map[string]string `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// IsolationPolicy is a tenant's isolation rule set. It is evaluated before
// permission logic and can force a deny even where permissions would
// allow.
type IsolationPolicy struct {
	TenantID     string                `json:"tenant_id" yaml:"tenant_id"`
	Level        IsolationLevel        `json:"level" yaml:"level"`
	Restrictions []ResourceRestriction `json:"restrictions,omitempty" yaml:"restrictions,omitempty"`
}

// Request describes one authorization question: may the caller perform
// Action on Resource?
type Request struct {
	// Resource is the operation or resource name being accessed.
	Resource string

	// Action is the verb being performed.
	Action string

	// ResourceType groups resources for isolation policy evaluation.
	ResourceType string

	// ResourceID identifies the specific instance, when known.
	ResourceID string

	// Metadata carries contextual attributes for constraint evaluation.
	Metadata map[string]string
}

// Decision is the outcome of an authorization request.
type Decision struct {
	Allowed bool

	// Code is the stable error code for a deny, one of the pkg/errors
	// types.
	Code string

	// Reason is a safe human-readable explanation.
	Reason string

	// SufficientPermissions lists permissions that would have granted
	// access, populated on a permission deny.
	SufficientPermissions []Permission
}
