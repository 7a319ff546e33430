// Package remote is a discovery source that reads snapshots from a registry
// server over its HTTP API and caches them for a short TTL.
package remote

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kbukum/meshkit/discovery"
	"github.com/kbukum/meshkit/httpclient"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/registry"
	"github.com/kbukum/meshkit/resilience"
)

// Source fetches GET /instances/{service} from a registry server.
// Concurrent misses for one service share a single request. When a refresh
// fails the last good snapshot is served until a fetch succeeds again.
type Source struct {
	client   *httpclient.Client
	timeout  time.Duration
	cache    *instanceCache
	group    singleflight.Group
	prefetch []string
	log      *logger.Logger
}

// Option configures a Source.
type Option func(*Source)

// WithClock overrides the cache clock.
func WithClock(now func() time.Time) Option {
	return func(s *Source) { s.cache.now = now }
}

func init() {
	discovery.RegisterSource(discovery.SourceRemote, func(cfg discovery.Config, log *logger.Logger) (discovery.Source, error) {
		return New(cfg.Remote, log)
	})
}

// New creates a Source for the registry at cfg.URL.
func New(cfg discovery.RemoteConfig, log *logger.Logger, opts ...Option) (*Source, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	hc := httpclient.Config{
		BaseURL: cfg.URL,
		Timeout: cfg.Timeout,
		Headers: map[string]string{"Accept": "application/json"},
		TLS:     cfg.TLS,
	}
	if cfg.RateLimit > 0 {
		hc.RateLimiter = &resilience.RateLimiterConfig{Name: "registry", Rate: cfg.RateLimit}
	}
	client, err := httpclient.New(hc)
	if err != nil {
		return nil, fmt.Errorf("remote source: %w", err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	s := &Source{
		client:   client,
		timeout:  cfg.Timeout,
		cache:    newInstanceCache(cfg.CacheTTL),
		prefetch: cfg.Prefetch,
		log:      log.WithComponent("discovery-remote"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Snapshot returns the UP instances of service, from cache when fresh.
func (s *Source) Snapshot(ctx context.Context, service string) ([]registry.Instance, error) {
	if instances, fresh := s.cache.get(service); fresh {
		return instances, nil
	}

	// The shared fetch outlives any one caller. Its own timeout bounds both
	// the wait for a rate-limit token and the request.
	v, err, _ := s.group.Do(service, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.fetch(fctx, service)
	})
	if err != nil {
		if stale, ok := s.cache.stale(service); ok {
			s.log.Warn("registry unreachable, serving cached instances", logger.Fields(
				logger.FieldService, service,
				logger.FieldError, err.Error(),
			))
			return stale, nil
		}
		return nil, err
	}

	instances := v.([]registry.Instance)
	out := make([]registry.Instance, len(instances))
	copy(out, instances)
	return out, nil
}

// Prefetch warms the cache for services concurrently. It returns the first
// fetch error, after all fetches finished.
func (s *Source) Prefetch(ctx context.Context, services ...string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, service := range services {
		g.Go(func() error {
			_, err := s.fetch(gctx, service)
			return err
		})
	}
	return g.Wait()
}

// Start warms the configured services. A registry that is not up yet is
// logged, not fatal: snapshots are fetched on demand later.
func (s *Source) Start(ctx context.Context) error {
	if len(s.prefetch) == 0 {
		return nil
	}
	if err := s.Prefetch(ctx, s.prefetch...); err != nil {
		s.log.Warn("prefetch failed", logger.ErrorFields("prefetch", err))
	}
	return nil
}

// Invalidate drops the cached snapshot of service.
func (s *Source) Invalidate(service string) {
	s.cache.invalidate(service)
}

func (s *Source) fetch(ctx context.Context, service string) ([]registry.Instance, error) {
	resp, err := httpclient.Get[[]registry.Instance](s.client, ctx, "/instances/"+url.PathEscape(service))
	if err != nil {
		return nil, fmt.Errorf("remote source %q: %w", service, err)
	}

	instances := make([]registry.Instance, 0, len(resp.Data))
	for _, inst := range resp.Data {
		if inst.Status == registry.StatusUp {
			instances = append(instances, inst)
		}
	}
	s.cache.set(service, instances)
	return instances, nil
}

// Compile-time checks.
var (
	_ discovery.Source  = (*Source)(nil)
	_ discovery.Starter = (*Source)(nil)
)
