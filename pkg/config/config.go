// Package config loads the gateway configuration. Settings come from a
// YAML file and TOOLGATE_-prefixed environment variables; configuration
// problems that would leave the gateway unable to validate anything are
// startup-fatal.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	gateerrors "github.com/stacklok/toolgate/pkg/errors"
)

// Config is the gateway configuration.
type Config struct {
	// Address is the listen address for the serve command.
	Address string `mapstructure:"address"`

	// OIDC configures token validation.
	OIDC OIDCConfig `mapstructure:"oidc"`

	// TrustedIssuers is the authorization-server allow-list.
	TrustedIssuers []string `mapstructure:"trusted_issuers"`

	// PolicyFile is the path to the authorization policy document.
	PolicyFile string `mapstructure:"policy_file"`

	// PublicOperations bypass the access pipeline.
	PublicOperations []string `mapstructure:"public_operations"`

	// RequiredScopes maps operation names to required token scopes.
	RequiredScopes map[string][]string `mapstructure:"required_scopes"`

	// RateLimit configures the sliding-window limiter.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// TokenBinding selects the binding type ("certificate", "key", or
	// empty to disable).
	TokenBinding string `mapstructure:"token_binding"`

	// MasterKeyFile is the path to the vault master key. MasterKeyEnv
	// names an environment variable holding the base64-encoded key and
	// takes precedence when set.
	MasterKeyFile string `mapstructure:"master_key_file"`
	MasterKeyEnv  string `mapstructure:"master_key_env"`
}

// OIDCConfig configures the token validator.
type OIDCConfig struct {
	Issuer           string `mapstructure:"issuer"`
	Audience         string `mapstructure:"audience"`
	JWKSURL          string `mapstructure:"jwks_url"`
	IntrospectionURL string `mapstructure:"introspection_url"`
	ClientID         string `mapstructure:"client_id"`
	ClientSecret     string `mapstructure:"client_secret"`
}

// RateLimitConfig configures the limiter thresholds.
type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	PerHour   int `mapstructure:"per_hour"`
}

// Load reads the configuration from the given file (optional) and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("toolgate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("address", "127.0.0.1:8080")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, gateerrors.NewConfigError("failed to read configuration file", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, gateerrors.NewConfigError("failed to parse configuration", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate enforces the startup-fatal requirements: at least one token
// validation method and a resolvable master key.
func (c *Config) Validate() error {
	if c.OIDC.JWKSURL == "" && c.OIDC.IntrospectionURL == "" {
		return gateerrors.NewConfigError(
			"no token validation method configured: set oidc.jwks_url or oidc.introspection_url", nil)
	}
	if c.MasterKeyFile == "" && c.MasterKeyEnv == "" {
		return gateerrors.NewConfigError("no vault master key source configured", nil)
	}
	return nil
}

// MasterKey resolves the vault master key from the configured source.
func (c *Config) MasterKey() ([]byte, error) {
	if c.MasterKeyEnv != "" {
		encoded := os.Getenv(c.MasterKeyEnv)
		if encoded == "" {
			return nil, gateerrors.NewConfigError(
				fmt.Sprintf("master key environment variable %s is empty", c.MasterKeyEnv), nil)
		}
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, gateerrors.NewConfigError("master key is not valid base64", err)
		}
		return key, nil
	}

	key, err := os.ReadFile(c.MasterKeyFile) // #nosec G304 - path comes from operator configuration
	if err != nil {
		return nil, gateerrors.NewConfigError("failed to read master key file", err)
	}
	if len(key) == 0 {
		return nil, gateerrors.NewConfigError("master key file is empty", nil)
	}
	return key, nil
}
