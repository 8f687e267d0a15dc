package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Store errors.
var (
	ErrRoleNotFound   = errors.New("role not found")
	ErrPolicyNotFound = errors.New("isolation policy not found")
	ErrSystemRole     = errors.New("system roles are immutable")
)

// RoleStore persists roles. Implementations back policy administration;
// a real datastore can replace the in-memory store without touching
// decision logic.
type RoleStore interface {
	GetRole(ctx context.Context, id string) (*Role, error)
	PutRole(ctx context.Context, role *Role) error
	DeleteRole(ctx context.Context, id string) error
	ListRoles(ctx context.Context) ([]*Role, error)
}

// PolicyStore persists per-tenant isolation policies.
type PolicyStore interface {
	GetPolicy(ctx context.Context, tenantID string) (*IsolationPolicy, error)
	PutPolicy(ctx context.Context, policy *IsolationPolicy) error
	DeletePolicy(ctx context.Context, tenantID string) error
	ListPolicies(ctx context.Context) ([]*IsolationPolicy, error)
}

// MemoryRoleStore is a mutex-guarded in-memory RoleStore pre-seeded with
// the built-in roles.
type MemoryRoleStore struct {
	mu    sync.RWMutex
	roles map[string]*Role
}

// NewMemoryRoleStore creates a MemoryRoleStore seeded with the built-in
// role set.
func NewMemoryRoleStore() *MemoryRoleStore {
	roles := make(map[string]*Role)
	for _, role := range builtinRoles() {
		roles[role.ID] = role
	}
	return &MemoryRoleStore{roles: roles}
}

// GetRole returns the role with the given id.
func (s *MemoryRoleStore) GetRole(_ context.Context, id string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.roles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	copied := *role
	return &copied, nil
}

// PutRole creates or updates a custom role. System roles can never be
// created or updated, and a custom role can never claim the system flag.
func (s *MemoryRoleStore) PutRole(_ context.Context, role *Role) error {
	if role.ID == "" {
		return errors.New("role id is required")
	}
	if role.System {
		return ErrSystemRole
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.roles[role.ID]; ok && existing.System {
		return ErrSystemRole
	}

	copied := *role
	s.roles[role.ID] = &copied
	return nil
}

// DeleteRole removes a custom role. System roles cannot be deleted.
func (s *MemoryRoleStore) DeleteRole(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	role, ok := s.roles[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	if role.System {
		return ErrSystemRole
	}

	delete(s.roles, id)
	return nil
}

// ListRoles returns all roles ordered by descending priority, name as the
// tiebreaker so the order is deterministic.
func (s *MemoryRoleStore) ListRoles(_ context.Context) ([]*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := make([]*Role, 0, len(s.roles))
	for _, role := range s.roles {
		copied := *role
		roles = append(roles, &copied)
	}
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Priority != roles[j].Priority {
			return roles[i].Priority > roles[j].Priority
		}
		return roles[i].Name < roles[j].Name
	})
	return roles, nil
}

// MemoryPolicyStore is a mutex-guarded in-memory PolicyStore.
type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*IsolationPolicy
}

// NewMemoryPolicyStore creates an empty MemoryPolicyStore.
func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{policies: make(map[string]*IsolationPolicy)}
}

// GetPolicy returns the isolation policy for a tenant.
func (s *MemoryPolicyStore) GetPolicy(_ context.Context, tenantID string) (*IsolationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policy, ok := s.policies[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: tenant %s", ErrPolicyNotFound, tenantID)
	}
	copied := *policy
	return &copied, nil
}

// PutPolicy creates or replaces a tenant's isolation policy.
func (s *MemoryPolicyStore) PutPolicy(_ context.Context, policy *IsolationPolicy) error {
	if policy.TenantID == "" {
		return errors.New("tenant id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *policy
	s.policies[policy.TenantID] = &copied
	return nil
}

// DeletePolicy removes a tenant's isolation policy.
func (s *MemoryPolicyStore) DeletePolicy(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[tenantID]; !ok {
		return fmt.Errorf("%w: tenant %s", ErrPolicyNotFound, tenantID)
	}
	delete(s.policies, tenantID)
	return nil
}

// ListPolicies returns all isolation policies.
func (s *MemoryPolicyStore) ListPolicies(_ context.Context) ([]*IsolationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policies := make([]*IsolationPolicy, 0, len(s.policies))
	for _, policy := range s.policies {
		copied := *policy
		policies = append(policies, &copied)
	}
	sort.Slice(policies, func(i, j int) bool {
		return policies[i].TenantID < policies[j].TenantID
	})
	return policies, nil
}
