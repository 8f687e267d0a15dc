package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gateerrors "github.com/stacklok/toolgate/pkg/errors"
)

func newTestEngine(t *testing.T) (*Engine, *MemoryRoleStore, *MemoryPolicyStore) {
	t.Helper()
	roles := NewMemoryRoleStore()
	policies := NewMemoryPolicyStore()
	return NewEngine(roles, policies), roles, policies
}

func activeTenant(roleIDs ...string) *TenantContext {
	return &TenantContext{TenantID: "tenant-a", RoleIDs: roleIDs, Active: true}
}

func TestAuthorizeDeniesWithoutTenantContext(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine(t)

	decision := engine.Authorize(context.Background(), nil, &Request{Resource: "query_database", Action: "execute"})
	assert.False(t, decision.Allowed)
	assert.Equal(t, gateerrors.ErrTenantDenied, decision.Code)
}

func TestAuthorizeDeniesInactiveTenant(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine(t)

	tc := &TenantContext{TenantID: "tenant-a", RoleIDs: []string{RoleAdministrator}, Active: false}
	decision := engine.Authorize(context.Background(), tc, &Request{Resource: "query_database", Action: "execute"})
	assert.False(t, decision.Allowed)
	assert.Equal(t, gateerrors.ErrTenantDenied, decision.Code)
}

func TestAuthorizeBuiltinRoles(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine(t)

	tests := []struct {
		name    string
		roleID  string
		action  string
		allowed bool
	}{
		{name: "administrator executes anything", roleID: RoleAdministrator, action: "execute", allowed: true},
		{name: "operator executes within tenant", roleID: RoleOperator, action: "execute", allowed: true},
		{name: "developer executes", roleID: RoleDeveloper, action: "execute", allowed: true},
		{name: "developer reads", roleID: RoleDeveloper, action: "read", allowed: true},
		{name: "developer cannot delete", roleID: RoleDeveloper, action: "delete", allowed: false},
		{name: "viewer reads", roleID: RoleViewer, action: "read", allowed: true},
		{name: "viewer lists", roleID: RoleViewer, action: "list", allowed: true},
		{name: "viewer cannot write", roleID: RoleViewer, action: "write", allowed: false},
		{name: "viewer cannot execute", roleID: RoleViewer, action: "execute", allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			decision := engine.Authorize(context.Background(), activeTenant(tt.roleID), &Request{
				Resource: "query_database",
				Action:   tt.action,
			})
			assert.Equal(t, tt.allowed, decision.Allowed, decision.Reason)
		})
	}
}

func TestAuthorizeDenyByDefault(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine(t)

	decision := engine.Authorize(context.Background(), activeTenant(), &Request{
		Resource: "query_database",
		Action:   "execute",
	})
	require.False(t, decision.Allowed)
	assert.Equal(t, gateerrors.ErrOperationDenied, decision.Code)
	assert.NotEmpty(t, decision.SufficientPermissions, "a permission deny must say what would have sufficed")
}

func TestAuthorizeDirectPermissionsBeatRoles(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine(t)

	tc := &TenantContext{
		TenantID: "tenant-a",
		Active:   true,
		Permissions: []Permission{
			{Resource: "query_database", Action: "execute", Scope: ScopeTenant},
		},
	}
	decision := engine.Authorize(context.Background(), tc, &Request{Resource: "query_database", Action: "execute"})
	require.True(t, decision.Allowed)
	assert.Equal(t, "direct permission", decision.Reason)
}

func TestAuthorizeHighestPriorityRoleWins(t *testing.T) {
	t.Parallel()

	engine, roles, _ := newTestEngine(t)

	require.NoError(t, roles.PutRole(context.Background(), &Role{
		ID:       "custom-low",
		Name:     "Custom Low",
		Priority: 10,
		Permissions: []Permission{
			{Resource: "query_database", Action: "execute", Scope: ScopeTenant},
		},
	}))

	// The viewer (priority 400) cannot execute but the custom role can;
	// the decision cites the role that actually granted access.
	decision := engine.Authorize(context.Background(), activeTenant(RoleViewer, "custom-low"), &Request{
		Resource: "query_database",
		Action:   "execute",
	})
	require.True(t, decision.Allowed)
	assert.Equal(t, "role custom-low", decision.Reason)

	// With two granting roles the higher-priority one is cited.
	decision = engine.Authorize(context.Background(), activeTenant(RoleDeveloper, "custom-low"), &Request{
		Resource: "query_database",
		Action:   "execute",
	})
	require.True(t, decision.Allowed)
	assert.Equal(t, "role developer", decision.Reason)
}

func TestAuthorizeUnknownRoleSkipped(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine(t)

	decision := engine.Authorize(context.Background(), activeTenant("no-such-role", RoleViewer), &Request{
		Resource: "query_database",
		Action:   "read",
	})
	assert.True(t, decision.Allowed)
}

func TestAuthorizeStrictIsolationDeniesUnlistedResourceType(t *testing.T) {
	t.Parallel()

	engine, _, policies := newTestEngine(t)
	require.NoError(t, policies.PutPolicy(context.Background(), &IsolationPolicy{
		TenantID: "tenant-a",
		Level:    IsolationStrict,
		Restrictions: []ResourceRestriction{
			{ResourceType: "database"},
		},
	}))

	// Listed resource type passes isolation.
	decision := engine.Authorize(context.Background(), activeTenant(RoleAdministrator), &Request{
		Resource:     "query_database",
		Action:       "execute",
		ResourceType: "database",
	})
	assert.True(t, decision.Allowed)

	// Unlisted resource type is denied even for an administrator.
	decision = engine.Authorize(context.Background(), activeTenant(RoleAdministrator), &Request{
		Resource:     "read_file",
		Action:       "execute",
		ResourceType: "filesystem",
	})
	require.False(t, decision.Allowed)
	assert.Equal(t, gateerrors.ErrTenantDenied, decision.Code)
}

func TestAuthorizePartialIsolationAllowsUnlistedResourceType(t *testing.T) {
	t.Parallel()

	engine, _, policies := newTestEngine(t)
	require.NoError(t, policies.PutPolicy(context.Background(), &IsolationPolicy{
		TenantID: "tenant-a",
		Level:    IsolationPartial,
		Restrictions: []ResourceRestriction{
			{ResourceType: "database"},
		},
	}))

	decision := engine.Authorize(context.Background(), activeTenant(RoleAdministrator), &Request{
		Resource:     "read_file",
		Action:       "execute",
		ResourceType: "filesystem",
	})
	assert.True(t, decision.Allowed)
}

func TestAuthorizeIsolationInstanceLists(t *testing.T) {
	t.Parallel()

	engine, _, policies := newTestEngine(t)
	require.NoError(t, policies.PutPolicy(context.Background(), &IsolationPolicy{
		TenantID: "tenant-a",
		Level:    IsolationPartial,
		Restrictions: []ResourceRestriction{
			{
				ResourceType: "database",
				AllowedIDs:   []string{"db-1", "db-2"},
				DeniedIDs:    []string{"db-2"},
			},
		},
	}))

	tests := []struct {
		name       string
		resourceID string
		allowed    bool
	}{
		{name: "allow-listed instance", resourceID: "db-1", allowed: true},
		{name: "deny beats allow", resourceID: "db-2", allowed: false},
		{name: "not on allow-list", resourceID: "db-3", allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			decision := engine.Authorize(context.Background(), activeTenant(RoleAdministrator), &Request{
				Resource:     "query_database",
				Action:       "execute",
				ResourceType: "database",
				ResourceID:   tt.resourceID,
			})
			assert.Equal(t, tt.allowed, decision.Allowed, decision.Reason)
		})
	}
}

func TestAuthorizeCIDRCondition(t *testing.T) {
	t.Parallel()

	engine, _, policies := newTestEngine(t)
	require.NoError(t, policies.PutPolicy(context.Background(), &IsolationPolicy{
		TenantID: "tenant-a",
		Level:    IsolationPartial,
		Restrictions: []ResourceRestriction{
			{
				ResourceType: "database",
				Conditions:   map[string]string{ConditionSourceCIDR: "10.1.0.0/16"},
			},
		},
	}))

	tests := []struct {
		name     string
		sourceIP string
		allowed  bool
		code     string
	}{
		{name: "inside the range", sourceIP: "10.1.2.3", allowed: true},
		{name: "outside the range", sourceIP: "10.2.0.1", allowed: false, code: gateerrors.ErrNetworkDenied},
		{name: "unparseable address fails closed", sourceIP: "not-an-ip", allowed: false, code: gateerrors.ErrNetworkDenied},
		{name: "missing address fails closed", sourceIP: "", allowed: false, code: gateerrors.ErrNetworkDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			decision := engine.Authorize(context.Background(), activeTenant(RoleAdministrator), &Request{
				Resource:     "query_database",
				Action:       "execute",
				ResourceType: "database",
				Metadata:     map[string]string{MetadataSourceIP: tt.sourceIP},
			})
			assert.Equal(t, tt.allowed, decision.Allowed, decision.Reason)
			if tt.code != "" {
				assert.Equal(t, tt.code, decision.Code)
			}
		})
	}
}

func TestSourceIPInRangeMappedIPv4(t *testing.T) {
	t.Parallel()

	// IPv4-mapped IPv6 form of an in-range address still matches.
	assert.True(t, sourceIPInRange("::ffff:10.1.2.3", "10.1.0.0/16"))
	assert.False(t, sourceIPInRange("10.1.2.3", "bad-cidr"))
}

type failingPolicyStore struct{}

func (failingPolicyStore) GetPolicy(context.Context, string) (*IsolationPolicy, error) {
	return nil, errors.New("store is down")
}
func (failingPolicyStore) PutPolicy(context.Context, *IsolationPolicy) error { return nil }
func (failingPolicyStore) DeletePolicy(context.Context, string) error        { return nil }
func (failingPolicyStore) ListPolicies(context.Context) ([]*IsolationPolicy, error) {
	return nil, nil
}

func TestAuthorizePolicyStoreFailureFailsClosed(t *testing.T) {
	t.Parallel()

	engine := NewEngine(NewMemoryRoleStore(), failingPolicyStore{})

	decision := engine.Authorize(context.Background(), activeTenant(RoleAdministrator), &Request{
		Resource: "query_database",
		Action:   "execute",
	})
	require.False(t, decision.Allowed)
	assert.Equal(t, gateerrors.ErrTenantDenied, decision.Code)
}

func TestPermissionMatchesScopes(t *testing.T) {
	t.Parallel()

	req := &Request{Resource: "query_database", Action: "execute", ResourceID: "db-1"}

	tests := []struct {
		name    string
		perm    Permission
		tc      *TenantContext
		matches bool
	}{
		{
			name:    "tenant scope requires tenant id",
			perm:    Permission{Resource: Wildcard, Action: Wildcard, Scope: ScopeTenant},
			tc:      &TenantContext{TenantID: "", Active: true},
			matches: false,
		},
		{
			name:    "resource scope requires resource id",
			perm:    Permission{Resource: Wildcard, Action: Wildcard, Scope: ScopeResource},
			tc:      &TenantContext{TenantID: "tenant-a", Active: true},
			matches: true,
		},
		{
			name:    "constraint mismatch",
			perm:    Permission{Resource: Wildcard, Action: Wildcard, Scope: ScopeGlobal, Constraints: map[string]string{"env": "prod"}},
			tc:      &TenantContext{TenantID: "tenant-a", Active: true},
			matches: false,
		},
		{
			name:    "unknown scope never matches",
			perm:    Permission{Resource: Wildcard, Action: Wildcard, Scope: PermissionScope("galaxy")},
			tc:      &TenantContext{TenantID: "tenant-a", Active: true},
			matches: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.matches, permissionMatches(&tt.perm, tt.tc, req))
		})
	}
}
