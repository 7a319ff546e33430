// Command gateway runs the edge router: it matches request paths against the
// route table, resolves the target service and forwards to one of its
// instances.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	"github.com/kbukum/meshkit/bootstrap"
	"github.com/kbukum/meshkit/config"
	"github.com/kbukum/meshkit/discovery"
	_ "github.com/kbukum/meshkit/discovery/consul"
	_ "github.com/kbukum/meshkit/discovery/remote"
	_ "github.com/kbukum/meshkit/discovery/static"
	"github.com/kbukum/meshkit/gateway"
	"github.com/kbukum/meshkit/observability"
	"github.com/kbukum/meshkit/server"
	"github.com/kbukum/meshkit/version"
)

const serviceName = "gateway"

// Config is the gateway binary configuration.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Server    server.Config              `yaml:"server" mapstructure:"server"`
	Discovery discovery.Config           `yaml:"discovery" mapstructure:"discovery"`
	Gateway   gateway.Config             `yaml:"gateway" mapstructure:"gateway"`
	Tracing   observability.TracerConfig `yaml:"tracing" mapstructure:"tracing"`
}

// ApplyDefaults fills zero values of every section.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = serviceName
	}
	c.Version = version.Resolve(c.Version)
	c.ServiceConfig.ApplyDefaults()
	c.Server.ApplyDefaults()
	c.Discovery.ApplyDefaults()
	c.Gateway.ApplyDefaults()
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
	if err := c.Discovery.Validate(); err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	return c.Gateway.Validate()
}

func main() {
	cmd := &cli.Command{
		Name:    serviceName,
		Usage:   "Path based gateway with client side load balancing",
		Version: version.Get().String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config.yml (default: searched under ./cmd/gateway and ./config)",
				Sources: cli.EnvVars("GATEWAY_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Path to a .env file loaded before binding environment variables",
			},
			&cli.StringFlag{
				Name:  "routes",
				Usage: "Path to a routes YAML file, overrides gateway.routes_file",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
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
	if routes := cmd.String("routes"); routes != "" {
		cfg.Gateway.RoutesFile = routes
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

	// The route table is loaded once; a bad table stops startup.
	rules, err := cfg.Gateway.LoadRules()
	if err != nil {
		return err
	}
	table, err := gateway.NewRouteTable(rules)
	if err != nil {
		return err
	}

	disc, err := discovery.NewComponent(cfg.Discovery, app.Logger)
	if err != nil {
		return err
	}
	upstreamTLS, err := cfg.Gateway.TLS.Build()
	if err != nil {
		return err
	}
	router := gateway.NewRouter(table, disc.Resolver(), cfg.Gateway, app.Logger, gateway.WithTLSConfig(upstreamTLS))

	srv := server.New(cfg.Server, app.Logger)
	srv.RegisterDefaultEndpoints(cfg.Name, app.Components.HealthAll)
	// Operational endpoints stay on the engine; everything else is routed.
	srv.GinEngine().NoRoute(gin.WrapH(router))

	switch cfg.Discovery.Source {
	case discovery.SourceRemote:
		app.Summary.TrackClient("registry", cfg.Discovery.Remote.URL, "http")
	case discovery.SourceConsul:
		app.Summary.TrackClient("consul", cfg.Discovery.Consul.Address, "consul")
	}

	if err := app.RegisterComponent(disc); err != nil {
		return err
	}
	if err := app.RegisterComponent(gateway.NewComponent(router)); err != nil {
		return err
	}
	if err := app.RegisterComponent(server.NewComponent(srv)); err != nil {
		return err
	}

	return app.Run(ctx)
}
