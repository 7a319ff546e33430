// Package agent keeps the local instance registered with a registry server:
// it registers on start, heartbeats every interval, re-registers when the
// registry no longer knows the instance and deregisters on stop.
package agent

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/kbukum/meshkit/component"
	"github.com/kbukum/meshkit/httpclient"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/registry"
	"github.com/kbukum/meshkit/registry/httpapi"
	"github.com/kbukum/meshkit/resilience"
)

// Agent is the instance-side registry client. It implements
// component.Component.
type Agent struct {
	cfg    Config
	client *httpclient.Client
	log    *logger.Logger

	mu            sync.RWMutex
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	lastHeartbeat time.Time
	lastErr       error
	registered    bool
}

var _ component.Component = (*Agent)(nil)
var _ component.Describable = (*Agent)(nil)

// New validates cfg and creates an Agent. An empty Host is replaced by the
// IP of the outbound interface.
func New(cfg Config, log *logger.Logger) (*Agent, error) {
	if cfg.Host == "" {
		ip, err := getLocalIP()
		if err != nil {
			return nil, fmt.Errorf("agent: resolve local IP: %w", err)
		}
		cfg.Host = ip
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("agent").WithFields(logger.InstanceFields(cfg.ServiceName, cfg.InstanceID))

	breaker := cfg.CircuitBreaker
	breaker.OnStateChange = func(host string, from, to resilience.State) {
		log.Warn("registry circuit changed", logger.Fields(
			"host", host,
			"from", from.String(),
			"to", to.String(),
		))
	}
	client, err := httpclient.New(httpclient.Config{
		BaseURL:        cfg.RegistryURL,
		Timeout:        cfg.Timeout,
		TLS:            cfg.TLS,
		CircuitBreaker: &breaker,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}
	return &Agent{cfg: cfg, client: client, log: log}, nil
}

// Name returns the component name.
func (a *Agent) Name() string { return "agent" }

// LastSuccess returns when the registry last accepted a call.
func (a *Agent) LastSuccess() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastHeartbeat
}

// InstanceID returns the id the instance registers under.
func (a *Agent) InstanceID() string { return a.cfg.InstanceID }

// Start registers the instance and launches the heartbeat loop. A registry
// that is not reachable yet is not fatal: the loop keeps retrying.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return fmt.Errorf("agent: already started")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.mu.Unlock()

	if err := a.Register(ctx); err != nil {
		a.log.Warn("initial registration failed, will retry", logger.Fields(logger.FieldError, err.Error()))
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.run(runCtx)
	}()
	return nil
}

// Stop ends the heartbeat loop and deregisters the instance.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	a.wg.Wait()

	return a.Deregister(ctx)
}

// Health is healthy while the last registry call succeeded.
func (a *Agent) Health(_ context.Context) component.Health {
	a.mu.RLock()
	defer a.mu.RUnlock()
	switch {
	case a.lastErr != nil:
		return component.Health{Name: a.Name(), Status: component.StatusDegraded, Message: a.lastErr.Error()}
	case !a.registered:
		return component.Health{Name: a.Name(), Status: component.StatusDegraded, Message: "not registered"}
	}
	return component.Health{Name: a.Name(), Status: component.StatusHealthy}
}

// Describe returns the startup summary line.
func (a *Agent) Describe() component.Description {
	return component.Description{
		Name: "Registry Agent",
		Type: "agent",
		Details: fmt.Sprintf("registry=%s id=%s heartbeat=%s",
			a.cfg.RegistryURL, a.cfg.InstanceID, a.cfg.HeartbeatInterval),
		Port: a.cfg.Port,
	}
}

// Register announces the instance to the registry.
func (a *Agent) Register(ctx context.Context) error {
	body := httpapi.RegisterRequest{
		ServiceName:          a.cfg.ServiceName,
		InstanceID:           a.cfg.InstanceID,
		Host:                 a.cfg.Host,
		Port:                 a.cfg.Port,
		LeaseDurationSeconds: int(a.cfg.LeaseDuration / time.Second),
		Metadata:             a.cfg.Metadata,
	}
	_, err := httpclient.Post[registry.Instance](a.client, ctx, "/register", body)
	a.record(err, true)
	if err != nil {
		return fmt.Errorf("agent: register: %w", err)
	}
	a.log.Info("instance registered", logger.Fields(logger.FieldAddress, net.JoinHostPort(a.cfg.Host, strconv.Itoa(a.cfg.Port))))
	return nil
}

// Heartbeat renews the lease once. When the registry answers 404 the
// instance was evicted or never registered, so it registers again.
func (a *Agent) Heartbeat(ctx context.Context) error {
	_, err := a.client.Do(ctx, httpclient.Request{Method: http.MethodPut, Path: a.instancePath("/heartbeat")})
	if httpclient.IsNotFound(err) {
		a.log.Info("registry does not know this instance, re-registering")
		return a.Register(ctx)
	}
	a.record(err, false)
	if err != nil {
		return fmt.Errorf("agent: heartbeat: %w", err)
	}
	return nil
}

// Deregister removes the instance from the registry.
func (a *Agent) Deregister(ctx context.Context) error {
	_, err := a.client.Do(ctx, httpclient.Request{Method: http.MethodDelete, Path: a.instancePath("/deregister")})
	if err != nil {
		return fmt.Errorf("agent: deregister: %w", err)
	}
	a.mu.Lock()
	a.registered = false
	a.mu.Unlock()
	a.log.Info("instance deregistered")
	return nil
}

func (a *Agent) run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Heartbeat(ctx); err != nil && ctx.Err() == nil {
				a.log.Warn("heartbeat failed", logger.Fields(logger.FieldError, err.Error()))
			}
		}
	}
}

func (a *Agent) record(err error, register bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastErr = err
	if err != nil {
		return
	}
	a.lastHeartbeat = time.Now()
	if register {
		a.registered = true
	}
}

func (a *Agent) instancePath(prefix string) string {
	return prefix + "/" + url.PathEscape(a.cfg.ServiceName) + "/" + url.PathEscape(a.cfg.InstanceID)
}

func getLocalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
