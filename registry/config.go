package registry

import (
	"fmt"
	"time"
)

// Config configures the registry binary's store and lease manager.
type Config struct {
	// DefaultLeaseDuration applies to registrations without a lease.
	DefaultLeaseDuration time.Duration `yaml:"default_lease_duration" mapstructure:"default_lease_duration"`
	Lease                LeaseConfig   `yaml:"lease" mapstructure:"lease"`
}

// LeaseConfig configures expiry and self-preservation.
type LeaseConfig struct {
	// EvictionFactor multiplies an instance's lease to get its expiry threshold.
	EvictionFactor int `yaml:"eviction_factor" mapstructure:"eviction_factor"`
	// SweepInterval is how often expired leases are evicted.
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	// EvictionGrace is how long an evicted instance stays visible as DOWN
	// before it is removed. Zero removes it in the same sweep.
	EvictionGrace    time.Duration          `yaml:"eviction_grace" mapstructure:"eviction_grace"`
	SelfPreservation SelfPreservationConfig `yaml:"self_preservation" mapstructure:"self_preservation"`
}

// SelfPreservationConfig suspends eviction when too many heartbeats go
// missing at once, which usually means a network partition rather than
// many instances dying together.
type SelfPreservationConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Threshold is the fraction of expected heartbeats that may be missed
	// within Window before eviction is suspended.
	Threshold float64       `yaml:"threshold" mapstructure:"threshold"`
	Window    time.Duration `yaml:"window" mapstructure:"window"`
	// MinInstances disables the check for small registries where a single
	// missing instance would dominate the ratio.
	MinInstances int `yaml:"min_instances" mapstructure:"min_instances"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.DefaultLeaseDuration <= 0 {
		c.DefaultLeaseDuration = DefaultLeaseDuration
	}
	c.Lease.ApplyDefaults()
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DefaultLeaseDuration < time.Second {
		return fmt.Errorf("registry.default_lease_duration must be at least 1s (got: %s)", c.DefaultLeaseDuration)
	}
	return c.Lease.Validate()
}

// ApplyDefaults fills zero values.
func (c *LeaseConfig) ApplyDefaults() {
	if c.EvictionFactor <= 0 {
		c.EvictionFactor = 3
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
	if c.EvictionGrace < 0 {
		c.EvictionGrace = 0
	}
	sp := &c.SelfPreservation
	if sp.Threshold <= 0 {
		sp.Threshold = 0.15
	}
	if sp.Window <= 0 {
		sp.Window = time.Minute
	}
	if sp.MinInstances <= 0 {
		sp.MinInstances = 3
	}
}

// Validate checks the lease configuration.
func (c *LeaseConfig) Validate() error {
	if c.EvictionFactor < 1 {
		return fmt.Errorf("registry.lease.eviction_factor must be >= 1 (got: %d)", c.EvictionFactor)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("registry.lease.sweep_interval must be positive")
	}
	if t := c.SelfPreservation.Threshold; t <= 0 || t >= 1 {
		return fmt.Errorf("registry.lease.self_preservation.threshold must be in (0,1) (got: %v)", t)
	}
	return nil
}

// DefaultConfig returns the defaults: factor 3, 5s sweep, 10s grace,
// self-preservation off.
func DefaultConfig() Config {
	c := Config{Lease: LeaseConfig{EvictionGrace: 10 * time.Second}}
	c.ApplyDefaults()
	return c
}
