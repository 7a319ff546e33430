package httpclient

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kbukum/meshkit/resilience"
	"github.com/kbukum/meshkit/security"
)

// Config configures a Client.
type Config struct {
	// BaseURL is prepended to relative request paths.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	// Timeout bounds a whole call including the body read. Default: 30s.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// Headers are sent on every request.
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`

	// TLS configures the default transport. Ignored when Transport is set.
	TLS *security.TLSConfig `yaml:"tls" mapstructure:"tls"`

	// CircuitBreaker enables one breaker per target host. Timeouts,
	// connection failures and 5xx count as failures unless IsFailure is set.
	CircuitBreaker *resilience.CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`

	Transport   http.RoundTripper             `yaml:"-" mapstructure:"-"`
	Retry       *resilience.RetryConfig       `yaml:"-" mapstructure:"-"`
	RateLimiter *resilience.RateLimiterConfig `yaml:"-" mapstructure:"-"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("httpclient: timeout must be positive")
	}
	return c.TLS.Validate()
}

// DefaultRetryConfig retries only failures Error.Retryable accepts.
func DefaultRetryConfig() *resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.RetryIf = IsRetryable
	return &cfg
}
