// Command registry runs the service registry: the instance store, the lease
// manager that evicts silent instances, and the HTTP API agents talk to.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/kbukum/meshkit/bootstrap"
	"github.com/kbukum/meshkit/config"
	"github.com/kbukum/meshkit/observability"
	"github.com/kbukum/meshkit/registry"
	"github.com/kbukum/meshkit/registry/httpapi"
	"github.com/kbukum/meshkit/server"
	"github.com/kbukum/meshkit/version"
)

const serviceName = "registry"

// Config is the registry binary configuration.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Server   server.Config              `yaml:"server" mapstructure:"server"`
	Registry registry.Config            `yaml:"registry" mapstructure:"registry"`
	Tracing  observability.TracerConfig `yaml:"tracing" mapstructure:"tracing"`
}

// ApplyDefaults fills zero values of every section.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = serviceName
	}
	c.Version = version.Resolve(c.Version)
	c.ServiceConfig.ApplyDefaults()
	if c.Server.Port == 0 {
		c.Server.Port = 8761
	}
	c.Server.ApplyDefaults()
	c.Registry.ApplyDefaults()
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = c.Name
	}
	c.Tracing.ServiceVersion = c.Version
	c.Tracing.Environment = c.Environment
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.ServiceConfig.Validate(); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	return c.Registry.Validate()
}

func main() {
	cmd := &cli.Command{
		Name:    serviceName,
		Usage:   "Service registry with lease based membership",
		Version: version.Get().String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config.yml (default: searched under ./cmd/registry and ./config)",
				Sources: cli.EnvVars("REGISTRY_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Path to a .env file loaded before binding environment variables",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "registry: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	var cfg Config
	if err := config.LoadConfig(serviceName, &cfg,
		config.WithConfigFile(cmd.String("config")),
		config.WithEnvFile(cmd.String("env-file")),
	); err != nil {
		return err
	}

	app, err := bootstrap.NewApp(&cfg)
	if err != nil {
		return err
	}

	shutdownTracer, err := observability.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	app.OnStop(func(ctx context.Context) error { return shutdownTracer(ctx) })

	reg := registry.NewComponent(cfg.Registry, app.Logger)
	srv := server.New(cfg.Server, app.Logger)

	httpapi.NewHandler(reg.Store(), reg.Lease(), app.Logger).RegisterRoutes(srv.GinEngine())
	srv.RegisterDefaultEndpoints(cfg.Name, app.Components.HealthAll)

	// The sweep loop must be running before the API accepts registrations.
	if err := app.RegisterComponent(reg); err != nil {
		return err
	}
	if err := app.RegisterComponent(server.NewComponent(srv)); err != nil {
		return err
	}

	return app.Run(ctx)
}
