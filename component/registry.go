package component

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kbukum/meshkit/logger"
)

// DefaultStopTimeout bounds each component's Stop call.
const DefaultStopTimeout = 10 * time.Second

// Registry owns the components of one binary. They start in registration
// order and stop in reverse, so register what others depend on first.
type Registry struct {
	mu    sync.RWMutex
	comps []Component
	// running is the length of the prefix of comps that started.
	running int
	log     *logger.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{log: logger.WithComponent("components")}
}

// Register appends c. Names must be unique.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if slices.ContainsFunc(r.comps, func(o Component) bool { return o.Name() == name }) {
		return fmt.Errorf("component %s already registered", name)
	}
	r.comps = append(r.comps, c)
	return nil
}

// StartAll starts every component. If one fails, those already running are
// stopped again and the start error is returned.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.comps[r.running:] {
		if err := c.Start(ctx); err != nil {
			r.log.Error("Component failed to start", logger.Fields("component", c.Name(), "error", err.Error()))
			_ = r.stopRunning(ctx)
			return fmt.Errorf("start %s: %w", c.Name(), err)
		}
		r.running++
		r.log.Debug("Component started", logger.Fields("component", c.Name()))
	}
	return nil
}

// StopAll stops running components, last started first. Every component
// gets its Stop call; the errors are joined.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopRunning(ctx)
}

func (r *Registry) stopRunning(ctx context.Context) error {
	var errs []error
	for ; r.running > 0; r.running-- {
		c := r.comps[r.running-1]
		stopCtx, cancel := context.WithTimeout(ctx, DefaultStopTimeout)
		err := c.Stop(stopCtx)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", c.Name(), err))
			r.log.Error("Component failed to stop", logger.Fields("component", c.Name(), "error", err.Error()))
			continue
		}
		r.log.Info("Component stopped", logger.Fields("component", c.Name()))
	}
	return errors.Join(errs...)
}

// HealthAll asks every component for its health, in registration order.
func (r *Registry) HealthAll(ctx context.Context) []Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Health, len(r.comps))
	for i, c := range r.comps {
		out[i] = c.Health(ctx)
	}
	return out
}

// All returns the components in registration order.
func (r *Registry) All() []Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.comps)
}
