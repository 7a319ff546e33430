// Package consul is a discovery source that reads passing service entries
// from the Consul health API.
package consul

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/kbukum/meshkit/discovery"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/registry"
)

// Source resolves instances through Consul.
type Source struct {
	client *api.Client
	cfg    discovery.ConsulConfig
	log    *logger.Logger
}

func init() {
	discovery.RegisterSource(discovery.SourceConsul, func(cfg discovery.Config, log *logger.Logger) (discovery.Source, error) {
		return New(cfg.Consul, log)
	})
}

// New creates a Source from the given Consul settings.
func New(cfg discovery.ConsulConfig, log *logger.Logger) (*Source, error) {
	apiCfg := api.DefaultConfig()
	if cfg.Address != "" {
		apiCfg.Address = cfg.Address
	}
	if cfg.Scheme != "" {
		apiCfg.Scheme = cfg.Scheme
	}
	apiCfg.Token = cfg.Token
	if cfg.Datacenter != "" {
		apiCfg.Datacenter = cfg.Datacenter
	}

	if cfg.TLS != nil {
		apiCfg.TLSConfig = api.TLSConfig{
			Address:            cfg.TLS.ServerName,
			CAFile:             cfg.TLS.CAFile,
			CertFile:           cfg.TLS.CertFile,
			KeyFile:            cfg.TLS.KeyFile,
			InsecureSkipVerify: cfg.TLS.SkipVerify,
		}
	}

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Source{client: client, cfg: cfg, log: log.WithComponent("discovery-consul")}, nil
}

// Snapshot returns the entries of service whose checks all pass.
func (s *Source) Snapshot(ctx context.Context, service string) ([]registry.Instance, error) {
	opts := (&api.QueryOptions{}).WithContext(ctx)
	entries, _, err := s.client.Health().Service(service, s.cfg.Tag, true, opts)
	if err != nil {
		s.log.Warn("consul query failed", logger.Fields(
			logger.FieldService, service,
			logger.FieldError, err.Error(),
		))
		return nil, fmt.Errorf("consul health %q: %w", service, err)
	}

	now := time.Now()
	instances := make([]registry.Instance, 0, len(entries))
	for _, e := range entries {
		if inst, ok := entryToInstance(e, now); ok {
			instances = append(instances, inst)
		}
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].InstanceID < instances[j].InstanceID })
	return instances, nil
}

// entryToInstance converts a passing entry. Entries with any non-passing
// check are dropped, since only UP instances may be returned.
func entryToInstance(e *api.ServiceEntry, now time.Time) (registry.Instance, bool) {
	for _, chk := range e.Checks {
		if chk.Status != api.HealthPassing {
			return registry.Instance{}, false
		}
	}

	host := e.Service.Address
	if host == "" && e.Node != nil {
		host = e.Node.Address
	}
	return registry.Instance{
		ServiceName:  e.Service.Service,
		InstanceID:   e.Service.ID,
		Host:         host,
		Port:         e.Service.Port,
		Status:       registry.StatusUp,
		Metadata:     e.Service.Meta,
		RegisteredAt: now,
		LastRenewal:  now,
	}, true
}

// Compile-time check.
var _ discovery.Source = (*Source)(nil)
