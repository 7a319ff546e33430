// Package endpoint holds the operational handlers every binary mounts next
// to its own API: health, liveness, readiness, build info and metrics.
package endpoint

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/meshkit/component"
)

// HealthChecker returns the health of the running components.
type HealthChecker func(ctx context.Context) []component.Health

// Report is the body of /health, /alive and /ready.
type Report struct {
	Status     string             `json:"status"`
	Service    string             `json:"service"`
	Timestamp  string             `json:"timestamp"`
	Components []component.Health `json:"components,omitempty"`
}

// overall folds component states into one: any unhealthy component makes
// the process unhealthy, a degraded one (a registry in self-preservation,
// an agent that lost its registry) only degrades it.
func overall(components []component.Health) component.HealthStatus {
	status := component.StatusHealthy
	for _, ch := range components {
		switch ch.Status {
		case component.StatusUnhealthy:
			return component.StatusUnhealthy
		case component.StatusDegraded:
			status = component.StatusDegraded
		}
	}
	return status
}

func report(service, status string, components []component.Health) Report {
	return Report{
		Status:     status,
		Service:    service,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: components,
	}
}

func check(c *gin.Context, checker HealthChecker) []component.Health {
	if checker == nil {
		return nil
	}
	return checker(c.Request.Context())
}

// Health lists every component. Degraded still answers 200 so a registry
// holding its leases through a partition is not restarted.
func Health(serviceName string, checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		components := check(c, checker)
		status := overall(components)

		code := http.StatusOK
		if status == component.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, report(serviceName, string(status), components))
	}
}

// Liveness answers as long as the process serves HTTP.
func Liveness(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, report(serviceName, "alive", nil))
	}
}

// Readiness is 503 while any component is unhealthy, e.g. a gateway whose
// discovery source has not started.
func Readiness(serviceName string, checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if overall(check(c, checker)) == component.StatusUnhealthy {
			c.JSON(http.StatusServiceUnavailable, report(serviceName, "not_ready", nil))
			return
		}
		c.JSON(http.StatusOK, report(serviceName, "ready", nil))
	}
}
