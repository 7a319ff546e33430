package discovery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/registry"
)

// Resolver picks instances round-robin. Each service name has its own
// counter which lives for the life of the resolver.
type Resolver struct {
	source   Source
	counters sync.Map // service name -> *atomic.Uint64
	log      *logger.Logger
}

// NewResolver creates a Resolver over source.
func NewResolver(source Source, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Resolver{source: source, log: log.WithComponent("resolver")}
}

// Selection is the outcome of one resolve: the snapshot it was made from and
// the chosen position within it.
type Selection struct {
	Service   string
	instances []registry.Instance
	index     int
}

// Instance returns the selected instance.
func (s *Selection) Instance() registry.Instance {
	return s.instances[s.index]
}

// Candidate returns the n-th instance after the selected one, wrapping
// around. Candidate(0) is the selected instance.
func (s *Selection) Candidate(n int) registry.Instance {
	return s.instances[(s.index+n)%len(s.instances)]
}

// Len returns the size of the snapshot.
func (s *Selection) Len() int {
	return len(s.instances)
}

// Select takes a snapshot and advances the service's counter.
func (r *Resolver) Select(ctx context.Context, service string) (*Selection, error) {
	instances, err := r.source.Snapshot(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("discovery: snapshot %q: %w", service, err)
	}
	if len(instances) == 0 {
		return nil, &NoAvailableInstanceError{ServiceName: service}
	}

	n := r.counter(service).Add(1) - 1
	idx := int(n % uint64(len(instances)))

	r.log.Debug("instance selected", logger.Fields(
		logger.FieldService, service,
		logger.FieldInstanceID, instances[idx].InstanceID,
		"candidates", len(instances),
	))
	return &Selection{Service: service, instances: instances, index: idx}, nil
}

// Resolve returns the next instance of service.
func (r *Resolver) Resolve(ctx context.Context, service string) (registry.Instance, error) {
	sel, err := r.Select(ctx, service)
	if err != nil {
		return registry.Instance{}, err
	}
	return sel.Instance(), nil
}

func (r *Resolver) counter(service string) *atomic.Uint64 {
	if c, ok := r.counters.Load(service); ok {
		return c.(*atomic.Uint64)
	}
	c, _ := r.counters.LoadOrStore(service, new(atomic.Uint64))
	return c.(*atomic.Uint64)
}
