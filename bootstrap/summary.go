package bootstrap

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kbukum/meshkit/component"
)

// ClientInfo represents an outbound dependency such as the registry a
// gateway resolves from.
type ClientInfo struct {
	Name   string
	Target string
	Type   string
}

// Summary collects what the startup banner shows.
type Summary struct {
	serviceName     string
	version         string
	startupDuration time.Duration
	clients         []ClientInfo
}

// NewSummary creates a new bootstrap summary tracker.
func NewSummary(serviceName, version string) *Summary {
	return &Summary{serviceName: serviceName, version: version}
}

// SetStartupDuration records the total startup time.
func (s *Summary) SetStartupDuration(d time.Duration) {
	s.startupDuration = d
}

// TrackClient records an outbound dependency.
func (s *Summary) TrackClient(name, target, clientType string) {
	s.clients = append(s.clients, ClientInfo{Name: name, Target: target, Type: clientType})
}

// Clients returns the tracked outbound dependencies.
func (s *Summary) Clients() []ClientInfo { return s.clients }

// DisplaySummary writes the startup banner: components with their
// description, HTTP routes of route providers, clients and live health.
func (s *Summary) DisplaySummary(w io.Writer, registry *component.Registry) {
	fmt.Fprintf(w, "\n%s %s started in %.2fs\n", s.serviceName, displayVersion(s.version), s.startupDuration.Seconds())

	var (
		comps  []component.Component
		routes []component.Route
	)
	if registry != nil {
		comps = registry.All()
	}

	if len(comps) > 0 {
		fmt.Fprintf(w, "\nComponents\n")
		for i, c := range comps {
			name, details := c.Name(), ""
			if d, ok := c.(component.Describable); ok {
				desc := d.Describe()
				if desc.Name != "" {
					name = desc.Name
				}
				details = desc.Details
				if desc.Port > 0 && !strings.Contains(details, fmt.Sprintf(":%d", desc.Port)) {
					details = fmt.Sprintf("%s (:%d)", details, desc.Port)
				}
			}
			if details != "" {
				fmt.Fprintf(w, "   %s %s: %s\n", treePrefix(i, len(comps)), name, details)
			} else {
				fmt.Fprintf(w, "   %s %s\n", treePrefix(i, len(comps)), name)
			}
			if rp, ok := c.(component.RouteProvider); ok {
				routes = append(routes, rp.Routes()...)
			}
		}
	} else {
		fmt.Fprintf(w, "   %s No components registered\n", treePrefix(0, 1))
	}

	if len(routes) > 0 {
		fmt.Fprintf(w, "\nRoutes (%d)\n", len(routes))
		for i, r := range routes {
			fmt.Fprintf(w, "   %s %-7s %s -> %s\n", treePrefix(i, len(routes)), r.Method, r.Path, r.Handler)
		}
	}

	if len(s.clients) > 0 {
		fmt.Fprintf(w, "\nClients\n")
		for i, c := range s.clients {
			fmt.Fprintf(w, "   %s %s -> %s [%s]\n", treePrefix(i, len(s.clients)), c.Name, c.Target, c.Type)
		}
	}

	if registry != nil {
		results := registry.HealthAll(context.Background())
		if len(results) > 0 {
			fmt.Fprintf(w, "\nHealth\n")
			for i, h := range results {
				msg := ""
				if h.Message != "" {
					msg = " (" + h.Message + ")"
				}
				fmt.Fprintf(w, "   %s %s: %s%s\n", treePrefix(i, len(results)), h.Name, h.Status, msg)
			}
		}
	}
	fmt.Fprintln(w)
}

func treePrefix(i, n int) string {
	if i == n-1 {
		return "└──"
	}
	return "├──"
}

func displayVersion(v string) string {
	if v == "" {
		return "(dev)"
	}
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
