package authz

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk policy document: custom roles and per-tenant
// isolation policies. Built-in roles are implicit and cannot appear here.
type Config struct {
	// Version is the version of the configuration format.
	Version string `yaml:"version"`

	// Roles are custom role definitions.
	Roles []Role `yaml:"roles,omitempty"`

	// IsolationPolicies are per-tenant isolation rule sets.
	IsolationPolicies []IsolationPolicy `yaml:"isolation_policies,omitempty"`
}

// LoadConfig loads a policy document from a YAML file.
//
//nolint:gosec // This is intentionally loading a file specified by the user
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read authorization configuration file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse authorization configuration file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate validates the policy document.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}

	for i := range c.Roles {
		role := &c.Roles[i]
		if role.ID == "" {
			return fmt.Errorf("role %d: id is required", i)
		}
		if role.System {
			return fmt.Errorf("role %q: %w", role.ID, ErrSystemRole)
		}
	}

	for i := range c.IsolationPolicies {
		policy := &c.IsolationPolicies[i]
		if policy.TenantID == "" {
			return fmt.Errorf("isolation policy %d: tenant_id is required", i)
		}
		switch policy.Level {
		case IsolationStrict, IsolationPartial, IsolationShared:
		default:
			return fmt.Errorf("isolation policy for tenant %q: unknown level %q",
				policy.TenantID, policy.Level)
		}
	}

	return nil
}

// Apply seeds the stores with the document's roles and policies.
func (c *Config) Apply(ctx context.Context, roles RoleStore, policies PolicyStore) error {
	for i := range c.Roles {
		if err := roles.PutRole(ctx, &c.Roles[i]); err != nil {
			return fmt.Errorf("failed to store role %q: %w", c.Roles[i].ID, err)
		}
	}
	for i := range c.IsolationPolicies {
		if err := policies.PutPolicy(ctx, &c.IsolationPolicies[i]); err != nil {
			return fmt.Errorf("failed to store isolation policy for tenant %q: %w",
				c.IsolationPolicies[i].TenantID, err)
		}
	}
	return nil
}
