package creditfence

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/KanavDutta/creditfence/core"
)

// Config holds the rate limiting configuration.
// It supports both global defaults and per-route policy overrides.
type Config struct {
	// Defaults are applied to all routes unless overridden
	Defaults PolicyConfig `yaml:"defaults"`

	// Policies is a map of route paths to their specific rate limit policies
	// Example: "/api/login" -> strict policy, "/health" -> disabled
	Policies map[string]PolicyConfig `yaml:"policies,omitempty"`

	// KeyExtractor specifies how to identify clients
	// Examples: "ip", "header:X-API-Key", "header:Authorization"
	KeyExtractor string `yaml:"key_extractor,omitempty"`

	// Shards is the number of lock shards per limiter (0 = default)
	Shards int `yaml:"shards,omitempty"`
}

// PolicyConfig defines rate limiting parameters for a route or default.
type PolicyConfig struct {
	// MaxRequests is the hard number of requests admitted per window
	MaxRequests int `yaml:"max_requests"`

	// WindowSeconds is the window length
	WindowSeconds int `yaml:"window_seconds"`

	// MaxCredits is the overflow allowance per window, spent after MaxRequests
	MaxCredits int `yaml:"max_credits"`

	// Enabled allows disabling rate limiting for specific routes
	Enabled bool `yaml:"enabled"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Defaults: PolicyConfig{
			MaxRequests:   100,
			WindowSeconds: 60,
			MaxCredits:    20,
			Enabled:       true,
		},
		Policies:     make(map[string]PolicyConfig),
		KeyExtractor: "ip", // Default to IP-based rate limiting
	}
}

// LoadConfigFromFile loads configuration from a YAML file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalidConfig, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidConfig, err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.KeyExtractor == "" {
		c.KeyExtractor = "ip"
	}
	if c.Policies == nil {
		c.Policies = make(map[string]PolicyConfig)
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Defaults.Enabled {
		if err := c.Defaults.Validate(); err != nil {
			return fmt.Errorf("%w: invalid defaults: %w", ErrInvalidConfig, err)
		}
	}

	for route, policy := range c.Policies {
		if !policy.Enabled {
			continue
		}
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("%w: invalid policy for route %s: %w", ErrInvalidConfig, route, err)
		}
	}

	if c.Shards < 0 {
		return fmt.Errorf("%w: shards cannot be negative", ErrInvalidConfig)
	}

	if _, err := ParseKeyExtractorConfig(c.KeyExtractor); err != nil {
		return err
	}

	return nil
}

// Validate checks if a PolicyConfig is valid.
func (p *PolicyConfig) Validate() error {
	policy, err := p.Policy()
	if err != nil {
		return err
	}
	return policy.Validate()
}

// Policy converts the config into the policy enforced by the algorithm.
// It fails with ErrInvalidWindow when WindowSeconds does not fit in a time.Duration.
func (p *PolicyConfig) Policy() (core.Policy, error) {
	window, err := core.WindowFromSeconds(p.WindowSeconds)
	if err != nil {
		return core.Policy{}, err
	}
	return core.Policy{
		MaxRequests: p.MaxRequests,
		Window:      window,
		MaxCredits:  p.MaxCredits,
	}, nil
}

// GetPolicy returns the rate limit policy for a given route.
// If no specific policy exists for the route, returns the default policy.
func (c *Config) GetPolicy(route string) PolicyConfig {
	if policy, exists := c.Policies[route]; exists {
		return policy
	}
	return c.Defaults
}

// SetPolicy sets a rate limit policy for a specific route.
func (c *Config) SetPolicy(route string, policy PolicyConfig) error {
	if policy.Enabled {
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if c.Policies == nil {
		c.Policies = make(map[string]PolicyConfig)
	}
	c.Policies[route] = policy
	return nil
}
