package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/kbukum/meshkit/component"
	"github.com/kbukum/meshkit/logger"
)

// Component runs the lease sweep loop under the component lifecycle.
type Component struct {
	store  *Store
	lease  *LeaseManager
	log    *logger.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

var _ component.Component = (*Component)(nil)
var _ component.Describable = (*Component)(nil)

// NewComponent creates the store and lease manager from cfg.
func NewComponent(cfg Config, log *logger.Logger) *Component {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	store := NewStore(
		WithDefaultLease(cfg.DefaultLeaseDuration),
		WithLogger(log.WithComponent("registry")),
	)
	return &Component{
		store: store,
		lease: NewLeaseManager(store, cfg.Lease, log),
		log:   log.WithComponent("registry"),
	}
}

// Store returns the instance table.
func (c *Component) Store() *Store { return c.store }

// Lease returns the lease manager.
func (c *Component) Lease() *LeaseManager { return c.lease }

// Name returns the component name.
func (c *Component) Name() string { return "registry" }

// Start launches the sweep loop.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return fmt.Errorf("registry: already started")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.lease.Run(runCtx)
	}()

	cfg := c.lease.Config()
	c.log.Info("lease sweeper started", map[string]interface{}{
		"sweep_interval":    cfg.SweepInterval.String(),
		"eviction_factor":   cfg.EvictionFactor,
		"self_preservation": cfg.SelfPreservation.Enabled,
	})
	return nil
}

// Stop ends the sweep loop and waits for it to return.
func (c *Component) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.log.Info("lease sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Health is degraded while self-preservation suspends eviction.
func (c *Component) Health(_ context.Context) component.Health {
	if c.lease.SelfPreservation() {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusDegraded,
			Message: "self-preservation engaged",
		}
	}
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}

// Describe returns the startup summary line.
func (c *Component) Describe() component.Description {
	cfg := c.lease.Config()
	return component.Description{
		Name: "Registry",
		Type: "registry",
		Details: fmt.Sprintf("sweep=%s factor=%d grace=%s self-preservation=%t",
			cfg.SweepInterval, cfg.EvictionFactor, cfg.EvictionGrace, cfg.SelfPreservation.Enabled),
	}
}
