package gateway

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kbukum/meshkit/security"
)

// Config configures the gateway router.
type Config struct {
	// Routes are inline rules. RoutesFile, when set, is appended.
	Routes []RouteRule `yaml:"routes" mapstructure:"routes"`

	// RoutesFile is a YAML file with a top-level "routes" list.
	RoutesFile string `yaml:"routes_file" mapstructure:"routes_file"`

	// Timeout bounds one forwarding attempt. Default: 10s.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// MaxAttempts includes the first try. Default: 2 (one retry).
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`

	// Scheme used to reach instances. Default: http.
	Scheme string `yaml:"scheme" mapstructure:"scheme"`

	Bulkhead BulkheadConfig `yaml:"bulkhead" mapstructure:"bulkhead"`

	// TLS configures upstream connections when Scheme is https.
	TLS *security.TLSConfig `yaml:"tls" mapstructure:"tls"`
}

// BulkheadConfig caps concurrent forwards per downstream service.
type BulkheadConfig struct {
	// MaxConcurrent in-flight forwards per service. Default: 100.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`

	// MaxWait a request may queue for a slot before 503. Zero rejects at once.
	MaxWait time.Duration `yaml:"max_wait" mapstructure:"max_wait"`
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 2
	}
	if c.Scheme == "" {
		c.Scheme = "http"
	}
	if c.Bulkhead.MaxConcurrent <= 0 {
		c.Bulkhead.MaxConcurrent = 100
	}
}

// Validate checks the router settings. Rules are validated by NewRouteTable.
func (c *Config) Validate() error {
	if c.Scheme != "http" && c.Scheme != "https" {
		return fmt.Errorf("gateway.scheme must be 'http' or 'https', got '%s'", c.Scheme)
	}
	if c.Bulkhead.MaxWait < 0 {
		return fmt.Errorf("gateway.bulkhead.max_wait must be non-negative")
	}
	return c.TLS.Validate()
}

// LoadRules returns the inline rules followed by those in RoutesFile.
func (c *Config) LoadRules() ([]RouteRule, error) {
	rules := append([]RouteRule(nil), c.Routes...)
	if c.RoutesFile != "" {
		fromFile, err := LoadRoutesFile(c.RoutesFile)
		if err != nil {
			return nil, err
		}
		rules = append(rules, fromFile...)
	}
	return rules, nil
}

type routesFile struct {
	Routes []RouteRule `yaml:"routes"`
}

// LoadRoutesFile reads rules from a YAML document of the form:
//
//	routes:
//	  - path_prefix: /user/**
//	    target_service: user-service
//	    strip_prefix_segments: 0
func LoadRoutesFile(path string) ([]RouteRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	var f routesFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !stderrors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse routes file %s: %w", path, err)
	}
	return f.Routes, nil
}
