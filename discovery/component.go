package discovery

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/kbukum/meshkit/component"
	"github.com/kbukum/meshkit/logger"
)

// SourceFactory builds a Source from a Config.
type SourceFactory func(cfg Config, log *logger.Logger) (Source, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]SourceFactory)
)

// RegisterSource makes a source available to NewSource under name.
// Implementation packages call it from init.
func RegisterSource(name string, f SourceFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Sources returns the registered source names, sorted.
func Sources() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewSource builds the source selected by cfg.Source. The implementation
// package must be imported for its factory to be registered.
func NewSource(cfg Config, log *logger.Logger) (Source, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("discovery config: %w", err)
	}

	factoriesMu.RLock()
	f, ok := factories[cfg.Source]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (not registered)", ErrUnknownSource, cfg.Source)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return f(cfg, log)
}

// Starter is implemented by sources that do work when the component starts.
type Starter interface {
	Start(ctx context.Context) error
}

// Component owns a Source and its Resolver and ties them to the application
// lifecycle.
type Component struct {
	cfg      Config
	source   Source
	resolver *Resolver
	log      *logger.Logger

	mu      sync.RWMutex
	started bool
}

// ensure Component satisfies component.Component.
var _ component.Component = (*Component)(nil)

// NewComponent builds the configured source eagerly so the Resolver can be
// wired before Start.
func NewComponent(cfg Config, log *logger.Logger) (*Component, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	cfg.ApplyDefaults()
	src, err := NewSource(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Component{
		cfg:      cfg,
		source:   src,
		resolver: NewResolver(src, log),
		log:      log.WithComponent("discovery"),
	}, nil
}

// Name returns the component name.
func (c *Component) Name() string { return "discovery" }

// Source returns the underlying source.
func (c *Component) Source() Source { return c.source }

// Resolver returns the round-robin resolver over the source.
func (c *Component) Resolver() *Resolver { return c.resolver }

// Start runs the source's start hook, if any.
func (c *Component) Start(ctx context.Context) error {
	if s, ok := c.source.(Starter); ok {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("discovery start: %w", err)
		}
	}
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	c.log.Info("discovery component started", logger.Fields("source", c.cfg.Source))
	return nil
}

// Stop releases resources held by the source.
func (c *Component) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.started = false
	c.mu.Unlock()

	if closer, ok := c.source.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Health reports whether the component has been started.
func (c *Component) Health(ctx context.Context) component.Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.started {
		return component.Health{
			Name:    c.Name(),
			Status:  component.StatusUnhealthy,
			Message: "discovery not started",
		}
	}
	return component.Health{Name: c.Name(), Status: component.StatusHealthy}
}

// Describe returns infrastructure summary info for the bootstrap display.
func (c *Component) Describe() component.Description {
	details := "source=" + c.cfg.Source
	switch c.cfg.Source {
	case SourceRemote:
		details += " url=" + c.cfg.Remote.URL
	case SourceConsul:
		details += " address=" + c.cfg.Consul.Address
	case SourceStatic:
		details += fmt.Sprintf(" services=%d", len(c.cfg.Static))
	}
	return component.Description{
		Name:    "Discovery",
		Type:    "discovery",
		Details: details,
	}
}
