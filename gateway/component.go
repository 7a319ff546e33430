package gateway

import (
	"context"
	"fmt"

	"github.com/kbukum/meshkit/component"
)

// Component exposes the router to the application lifecycle and the startup
// summary. The router holds no background work, so Start and Stop only log.
type Component struct {
	router *Router
}

var (
	_ component.Component     = (*Component)(nil)
	_ component.Describable   = (*Component)(nil)
	_ component.RouteProvider = (*Component)(nil)
)

// NewComponent wraps router.
func NewComponent(router *Router) *Component {
	return &Component{router: router}
}

// Name returns the component name.
func (c *Component) Name() string { return "gateway" }

// Start logs the loaded route table.
func (c *Component) Start(_ context.Context) error {
	for _, r := range c.router.table.Rules() {
		c.router.log.Info("route loaded", map[string]interface{}{
			"prefix": r.PathPrefix,
			"target": r.TargetServiceName,
			"strip":  r.StripPrefixSegments,
		})
	}
	return nil
}

// Stop is a no-op; in-flight requests drain with the HTTP server.
func (c *Component) Stop(_ context.Context) error { return nil }

// Health is unhealthy when no routes are loaded.
func (c *Component) Health(_ context.Context) component.Health {
	if c.router.table.Len() == 0 {
		return component.Health{Name: c.Name(), Status: component.StatusUnhealthy, Message: "no routes loaded"}
	}
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}

// Describe returns the startup summary line.
func (c *Component) Describe() component.Description {
	cfg := c.router.cfg
	return component.Description{
		Name: "Gateway",
		Type: "gateway",
		Details: fmt.Sprintf("routes=%d timeout=%s attempts=%d max_concurrent=%d",
			c.router.table.Len(), cfg.Timeout, cfg.MaxAttempts, cfg.Bulkhead.MaxConcurrent),
	}
}

// Routes lists the route table for the startup summary.
func (c *Component) Routes() []component.Route {
	rules := c.router.table.Rules()
	out := make([]component.Route, 0, len(rules))
	for _, r := range rules {
		handler := "-> " + r.TargetServiceName
		if r.StripPrefixSegments > 0 {
			handler += fmt.Sprintf(" (strip %d)", r.StripPrefixSegments)
		}
		out = append(out, component.Route{Method: "ANY", Path: r.PathPrefix, Handler: handler})
	}
	return out
}
