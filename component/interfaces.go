package component

import "context"

// HealthStatus is reported by /health and /ready.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// Health is one component's entry in a health report.
type Health struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Component is a long-lived part of a binary such as the HTTP server, the
// lease sweeper or the registration agent. Start must return once the
// component runs; background work belongs in goroutines that Stop ends.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) Health
}

// Description is a component's line in the startup summary.
type Description struct {
	// Name overrides Component.Name when set.
	Name string
	// Type is a category such as "server", "registry" or "agent".
	Type    string
	Details string
	// Port is appended to Details when nonzero.
	Port int
}

// Describable components contribute a Description to the startup summary.
type Describable interface {
	Describe() Description
}

// Route is one HTTP route listed in the startup summary.
type Route struct {
	Method  string
	Path    string
	Handler string
}

// RouteProvider components list their HTTP routes in the startup summary.
type RouteProvider interface {
	Routes() []Route
}
