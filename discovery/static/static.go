// Package static is a discovery source backed by a fixed instance list.
package static

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kbukum/meshkit/discovery"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/registry"
)

// Source serves configured instances, all reported UP.
type Source struct {
	mu        sync.RWMutex
	instances map[string][]registry.Instance // keyed by service name
}

func init() {
	discovery.RegisterSource(discovery.SourceStatic, func(cfg discovery.Config, _ *logger.Logger) (discovery.Source, error) {
		return New(cfg.Static), nil
	})
}

// New creates a Source pre-populated from static config.
func New(services map[string][]discovery.StaticEndpoint) *Source {
	s := &Source{instances: make(map[string][]registry.Instance, len(services))}
	now := time.Now()
	for name, endpoints := range services {
		for _, ep := range endpoints {
			id := ep.ID
			if id == "" {
				id = fmt.Sprintf("%s-%s-%d", name, ep.Host, ep.Port)
			}
			s.instances[name] = append(s.instances[name], registry.Instance{
				ServiceName:  name,
				InstanceID:   id,
				Host:         ep.Host,
				Port:         ep.Port,
				Status:       registry.StatusUp,
				RegisteredAt: now,
				LastRenewal:  now,
			})
		}
		sortByID(s.instances[name])
	}
	return s
}

// Set replaces the instances of one service.
func (s *Source) Set(service string, instances []registry.Instance) {
	cp := make([]registry.Instance, len(instances))
	copy(cp, instances)
	for i := range cp {
		cp[i].ServiceName = service
		cp[i].Status = registry.StatusUp
	}
	sortByID(cp)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[service] = cp
}

// Snapshot returns a copy of the configured instances of service.
func (s *Source) Snapshot(_ context.Context, service string) ([]registry.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.instances[service]
	if len(list) == 0 {
		return nil, nil
	}
	out := make([]registry.Instance, len(list))
	copy(out, list)
	return out, nil
}

func sortByID(list []registry.Instance) {
	sort.Slice(list, func(i, j int) bool { return list[i].InstanceID < list[j].InstanceID })
}

// Compile-time check.
var _ discovery.Source = (*Source)(nil)
