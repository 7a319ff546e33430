package discovery

import (
	"fmt"
	"time"

	"github.com/kbukum/meshkit/security"
)

const (
	SourceStatic = "static"
	SourceRemote = "remote"
	SourceConsul = "consul"
)

// Config selects and configures the instance source used by a Resolver.
type Config struct {
	// Source selects the backend: "static", "remote" or "consul".
	Source string `yaml:"source" mapstructure:"source"`

	// Static lists instances per service for the static source.
	Static map[string][]StaticEndpoint `yaml:"static" mapstructure:"static"`

	Remote RemoteConfig `yaml:"remote" mapstructure:"remote"`
	Consul ConsulConfig `yaml:"consul" mapstructure:"consul"`
}

// StaticEndpoint describes a statically configured instance.
type StaticEndpoint struct {
	ID   string `yaml:"id" mapstructure:"id"`
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// RemoteConfig points the remote source at a registry server.
type RemoteConfig struct {
	// URL is the registry base URL, e.g. http://localhost:8761.
	URL string `yaml:"url" mapstructure:"url"`

	// CacheTTL bounds how stale a cached snapshot may be. Default: 2s.
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`

	// Timeout for one registry request. Default: 3s.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// Prefetch names services whose snapshots are warmed on start.
	Prefetch []string `yaml:"prefetch" mapstructure:"prefetch"`

	// RateLimit caps registry requests per second across all services, so
	// a burst of cache misses cannot flood the registry. Default: 20; a
	// negative value disables the limit.
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`

	// TLS is used when URL is https.
	TLS *security.TLSConfig `yaml:"tls" mapstructure:"tls"`
}

// ConsulConfig holds Consul connection settings.
type ConsulConfig struct {
	// Address is the Consul agent address (default: localhost:8500).
	Address string `yaml:"address" mapstructure:"address"`

	// Scheme is the URI scheme (http/https).
	Scheme string `yaml:"scheme" mapstructure:"scheme"`

	Datacenter string `yaml:"datacenter" mapstructure:"datacenter"`

	// Token is the ACL token for authentication.
	Token string `yaml:"token" mapstructure:"token"`

	// Tag restricts results to instances carrying this tag.
	Tag string `yaml:"tag" mapstructure:"tag"`

	// TLS is used when Scheme is https.
	TLS *security.TLSConfig `yaml:"tls" mapstructure:"tls"`
}

// ApplyDefaults fills zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Source == "" {
		c.Source = SourceStatic
	}
	if c.Remote.CacheTTL == 0 {
		c.Remote.CacheTTL = 2 * time.Second
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = 3 * time.Second
	}
	if c.Remote.RateLimit == 0 {
		c.Remote.RateLimit = 20
	}
	if c.Consul.Address == "" {
		c.Consul.Address = "localhost:8500"
	}
	if c.Consul.Scheme == "" {
		c.Consul.Scheme = "http"
	}
}

// Validate checks that the selected source has what it needs.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceStatic:
		for name, endpoints := range c.Static {
			for i, ep := range endpoints {
				if ep.Host == "" || ep.Port <= 0 || ep.Port > 65535 {
					return fmt.Errorf("static endpoint %s[%d]: host and port 1-65535 are required", name, i)
				}
			}
		}
	case SourceRemote:
		if c.Remote.URL == "" {
			return fmt.Errorf("remote.url is required when source is remote")
		}
		if c.Remote.CacheTTL < 0 {
			return fmt.Errorf("remote.cache_ttl must be non-negative")
		}
		if err := c.Remote.TLS.Validate(); err != nil {
			return err
		}
	case SourceConsul:
		if c.Consul.Address == "" {
			return fmt.Errorf("consul.address is required when source is consul")
		}
		if c.Consul.Scheme != "http" && c.Consul.Scheme != "https" {
			return fmt.Errorf("consul scheme must be 'http' or 'https', got '%s'", c.Consul.Scheme)
		}
		if err := c.Consul.TLS.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported discovery source %q", c.Source)
	}
	return nil
}
