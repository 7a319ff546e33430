package agent

import (
	"fmt"
	"time"

	"github.com/kbukum/meshkit/resilience"
	"github.com/kbukum/meshkit/security"
)

// Config describes the local instance and the registry it reports to.
type Config struct {
	// RegistryURL is the registry base URL, e.g. http://localhost:8761.
	RegistryURL string `yaml:"registry_url" mapstructure:"registry_url"`

	ServiceName string `yaml:"service_name" mapstructure:"service_name"`

	// InstanceID defaults to host:service:port.
	InstanceID string `yaml:"instance_id" mapstructure:"instance_id"`

	// Host is the advertised address. Defaults to the outbound interface IP.
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`

	// LeaseDuration is announced to the registry. Default: 30s.
	LeaseDuration time.Duration `yaml:"lease_duration" mapstructure:"lease_duration"`

	// HeartbeatInterval defaults to LeaseDuration.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`

	// Timeout bounds each registry call. Default: 5s.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	Metadata map[string]string `yaml:"metadata" mapstructure:"metadata"`

	// TLS is used when RegistryURL is https.
	TLS *security.TLSConfig `yaml:"tls" mapstructure:"tls"`

	// CircuitBreaker stops calling a registry that keeps failing. The open
	// timeout defaults to the lease so one trial heartbeat runs per lease.
	CircuitBreaker resilience.CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 30 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = c.LeaseDuration
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.CircuitBreaker.MaxFailures <= 0 {
		c.CircuitBreaker.MaxFailures = 3
	}
	if c.CircuitBreaker.OpenTimeout <= 0 {
		c.CircuitBreaker.OpenTimeout = c.LeaseDuration
	}
	if c.InstanceID == "" && c.Host != "" {
		c.InstanceID = fmt.Sprintf("%s:%s:%d", c.Host, c.ServiceName, c.Port)
	}
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.RegistryURL == "" {
		return fmt.Errorf("agent: registry_url is required")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("agent: service_name is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("agent: port must be between 1 and 65535")
	}
	if c.LeaseDuration < time.Second {
		return fmt.Errorf("agent: lease_duration must be at least 1s")
	}
	return c.TLS.Validate()
}
