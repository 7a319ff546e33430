// Command api-aggregator joins user-service and product-service answers
// into one response. Both services are resolved by name on every call.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/kbukum/meshkit/bootstrap"
	"github.com/kbukum/meshkit/config"
	"github.com/kbukum/meshkit/discovery"
	"github.com/kbukum/meshkit/discovery/agent"
	_ "github.com/kbukum/meshkit/discovery/consul"
	_ "github.com/kbukum/meshkit/discovery/remote"
	_ "github.com/kbukum/meshkit/discovery/static"
	"github.com/kbukum/meshkit/httpclient"
	"github.com/kbukum/meshkit/resilience"
	"github.com/kbukum/meshkit/server"
	"github.com/kbukum/meshkit/version"
)

const serviceName = "api-aggregator"

// Config is the api-aggregator configuration.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Server    server.Config    `yaml:"server" mapstructure:"server"`
	Agent     agent.Config     `yaml:"agent" mapstructure:"agent"`
	Discovery discovery.Config `yaml:"discovery" mapstructure:"discovery"`

	// CallTimeout bounds each downstream call. Default: 5s.
	CallTimeout time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`

	CircuitBreaker resilience.CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`
}

// ApplyDefaults fills zero values of every section.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = serviceName
	}
	c.Version = version.Resolve(c.Version)
	c.ServiceConfig.ApplyDefaults()
	if c.Server.Port == 0 {
		c.Server.Port = 9003
	}
	c.Server.ApplyDefaults()
	if c.Agent.ServiceName == "" {
		c.Agent.ServiceName = c.Name
	}
	if c.Agent.Port == 0 {
		c.Agent.Port = c.Server.Port
	}
	if c.Discovery.Source == "" && c.Agent.RegistryURL != "" {
		c.Discovery.Source = discovery.SourceRemote
		if c.Discovery.Remote.URL == "" {
			c.Discovery.Remote.URL = c.Agent.RegistryURL
		}
	}
	c.Discovery.ApplyDefaults()
	if c.CallTimeout <= 0 {
		c.CallTimeout = 5 * time.Second
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Agent.Validate(); err != nil {
		return err
	}
	if err := c.Discovery.Validate(); err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    serviceName,
		Usage:   "Joins user and product data behind one endpoint",
		Version: version.Get().String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config.yml",
				Sources: cli.EnvVars("API_AGGREGATOR_CONFIG_FILE"),
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Listen port, overrides server.port",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	var cfg Config
	if err := config.LoadConfig(serviceName, &cfg, config.WithConfigFile(cmd.String("config"))); err != nil {
		return err
	}
	if port := cmd.Int("port"); port > 0 {
		cfg.Server.Port = port
		cfg.Agent.Port = port
	}

	app, err := bootstrap.NewApp(&cfg)
	if err != nil {
		return err
	}

	disc, err := discovery.NewComponent(cfg.Discovery, app.Logger)
	if err != nil {
		return err
	}
	services, err := discovery.NewClient(disc.Resolver(), httpclient.Config{
		Timeout:        cfg.CallTimeout,
		CircuitBreaker: &cfg.CircuitBreaker,
	}, app.Logger)
	if err != nil {
		return err
	}
	if cfg.Discovery.Source == discovery.SourceRemote {
		app.Summary.TrackClient("registry", cfg.Discovery.Remote.URL, "http")
	}
	app.Summary.TrackClient(userService, "resolved per call", "http")
	app.Summary.TrackClient(productService, "resolved per call", "http")

	srv := server.New(cfg.Server, app.Logger)
	srv.RegisterDefaultEndpoints(cfg.Name, app.Components.HealthAll)
	newAggregator(services, app.Logger).registerRoutes(srv.GinEngine())

	ag, err := agent.New(cfg.Agent, app.Logger)
	if err != nil {
		return err
	}

	if err := app.RegisterComponent(disc); err != nil {
		return err
	}
	if err := app.RegisterComponent(server.NewComponent(srv)); err != nil {
		return err
	}
	if err := app.RegisterComponent(ag); err != nil {
		return err
	}

	return app.Run(ctx)
}
