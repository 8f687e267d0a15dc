package authz

// Built-in role ids. These roles are immutable and their fixed priorities
// establish a deterministic override order.
const (
	RoleAdministrator = "administrator"
	RoleOperator      = "operator"
	RoleDeveloper     = "developer"
	RoleViewer        = "viewer"
)

// builtinRoles returns fresh copies of the built-in role set so callers
// can never mutate the canonical definitions.
func builtinRoles() []*Role {
	return []*Role{
		{
			ID:       RoleAdministrator,
			Name:     "Administrator",
			Priority: 1000,
			System:   true,
			Permissions: []Permission{
				{Resource: Wildcard, Action: Wildcard, Scope: ScopeGlobal},
			},
		},
		{
			ID:       RoleOperator,
			Name:     "Operator",
			Priority: 800,
			System:   true,
			Permissions: []Permission{
				{Resource: Wildcard, Action: Wildcard, Scope: ScopeTenant},
			},
		},
		{
			ID:       RoleDeveloper,
			Name:     "Developer",
			Priority: 600,
			System:   true,
			Permissions: []Permission{
				{Resource: Wildcard, Action: "read", Scope: ScopeTenant},
				{Resource: Wildcard, Action: "write", Scope: ScopeTenant},
				{Resource: Wildcard, Action: "execute", Scope: ScopeTenant},
			},
		},
		{
			ID:       RoleViewer,
			Name:     "Viewer",
			Priority: 400,
			System:   true,
			Permissions: []Permission{
				{Resource: Wildcard, Action: "read", Scope: ScopeTenant},
				{Resource: Wildcard, Action: "list", Scope: ScopeTenant},
			},
		},
	}
}
