// Command product-service is a demo backend that registers itself with the
// registry and answers GET /hello.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	"github.com/kbukum/meshkit/bootstrap"
	"github.com/kbukum/meshkit/config"
	"github.com/kbukum/meshkit/discovery/agent"
	"github.com/kbukum/meshkit/server"
	"github.com/kbukum/meshkit/version"
)

const serviceName = "product-service"

// Config is the product-service configuration.
type Config struct {
	config.ServiceConfig `yaml:",inline" mapstructure:",squash"`

	Server server.Config `yaml:"server" mapstructure:"server"`
	Agent  agent.Config  `yaml:"agent" mapstructure:"agent"`
}

// ApplyDefaults fills zero values of every section.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = serviceName
	}
	c.Version = version.Resolve(c.Version)
	c.ServiceConfig.ApplyDefaults()
	if c.Server.Port == 0 {
		c.Server.Port = 9002
	}
	c.Server.ApplyDefaults()
	if c.Agent.ServiceName == "" {
		c.Agent.ServiceName = c.Name
	}
	if c.Agent.Port == 0 {
		c.Agent.Port = c.Server.Port
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
	return c.Agent.Validate()
}

func main() {
	cmd := &cli.Command{
		Name:    serviceName,
		Usage:   "Demo product service",
		Version: version.Get().String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config.yml",
				Sources: cli.EnvVars("PRODUCT_SERVICE_CONFIG_FILE"),
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

	srv := server.New(cfg.Server, app.Logger)
	srv.RegisterDefaultEndpoints(cfg.Name, app.Components.HealthAll)
	srv.GinEngine().GET("/hello", hello(cfg.Server.Port))

	ag, err := agent.New(cfg.Agent, app.Logger)
	if err != nil {
		return err
	}
	app.Summary.TrackClient("registry", cfg.Agent.RegistryURL, "http")

	if err := app.RegisterComponent(server.NewComponent(srv)); err != nil {
		return err
	}
	// Registered last so it deregisters first on shutdown.
	if err := app.RegisterComponent(ag); err != nil {
		return err
	}

	return app.Run(ctx)
}

// hello reports which instance answered so round-robin is visible.
func hello(port int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.String(http.StatusOK, fmt.Sprintf("Product Service says: Hello from product-service on port %d", port))
	}
}
