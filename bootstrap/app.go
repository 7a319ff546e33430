package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kbukum/meshkit/component"
	"github.com/kbukum/meshkit/logger"
)

// Hook is a lifecycle callback.
type Hook func(ctx context.Context) error

// Option customizes NewApp.
type Option func(*options)

type options struct {
	log         *logger.Logger
	stopTimeout time.Duration
	out         io.Writer
}

// WithLogger replaces the logger built from the Logging config section.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithGracefulTimeout bounds the whole shutdown sequence. Default: 15s.
func WithGracefulTimeout(d time.Duration) Option {
	return func(o *options) { o.stopTimeout = d }
}

// WithSummaryOutput redirects the startup summary. Default: stdout.
func WithSummaryOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// App runs the components of one binary with typed configuration C.
type App[C Config] struct {
	Name       string
	Version    string
	Cfg        C
	Components *component.Registry
	Logger     *logger.Logger
	Summary    *Summary

	opts   options
	onStop []Hook
}

// NewApp applies defaults to cfg, validates it and sets up logging.
func NewApp[C Config](cfg C, opts ...Option) (*App[C], error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := options{stopTimeout: 15 * time.Second, out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}
	svc := cfg.GetServiceConfig()
	if o.log == nil {
		logger.Init(&svc.Logging)
		o.log = logger.GetGlobalLogger()
	}

	return &App[C]{
		Name:       svc.Name,
		Version:    svc.Version,
		Cfg:        cfg,
		Components: component.NewRegistry(),
		Logger:     o.log,
		Summary:    NewSummary(svc.Name, svc.Version),
		opts:       o,
	}, nil
}

// RegisterComponent adds c to the start order.
func (a *App[C]) RegisterComponent(c component.Component) error {
	return a.Components.Register(c)
}

// OnStop adds hooks that run at shutdown before any component stops,
// for example flushing traces while exporters are still reachable.
func (a *App[C]) OnStop(hooks ...Hook) {
	a.onStop = append(a.onStop, hooks...)
}

// Run starts every component, prints the summary and blocks until SIGINT,
// SIGTERM or ctx ends. It then shuts down and returns the shutdown error.
func (a *App[C]) Run(ctx context.Context) error {
	begin := time.Now()
	a.Logger.Info("Starting "+a.Name, logger.Fields("version", a.Version))

	if err := a.Components.StartAll(ctx); err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	if err := a.ReadyCheck(ctx); err != nil {
		a.Logger.Warn("Started with unhealthy components", logger.Fields("error", err.Error()))
	}

	a.Summary.SetStartupDuration(time.Since(begin))
	a.Summary.DisplaySummary(a.opts.out, a.Components)

	a.WaitForSignal(ctx)
	return a.Shutdown()
}

// ReadyCheck returns an error naming every component that is not healthy.
func (a *App[C]) ReadyCheck(ctx context.Context) error {
	var bad []string
	for _, h := range a.Components.HealthAll(ctx) {
		if h.Status == component.StatusHealthy {
			continue
		}
		entry := h.Name + "=" + string(h.Status)
		if h.Message != "" {
			entry += " (" + h.Message + ")"
		}
		bad = append(bad, entry)
	}
	if len(bad) > 0 {
		return fmt.Errorf("not ready: %s", strings.Join(bad, ", "))
	}
	return nil
}

// WaitForSignal blocks until SIGINT or SIGTERM arrives or ctx ends. It
// returns the signal, or nil on cancellation.
func (a *App[C]) WaitForSignal(ctx context.Context) os.Signal {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case sig := <-sigs:
		a.Logger.Info("Shutdown requested", logger.Fields("signal", sig.String()))
		return sig
	case <-ctx.Done():
		return nil
	}
}

// Shutdown runs OnStop hooks, then stops components in reverse order, all
// within the graceful timeout. Hook failures do not prevent component stops.
func (a *App[C]) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.stopTimeout)
	defer cancel()

	var errs []error
	for i, hook := range a.onStop {
		if err := hook(ctx); err != nil {
			a.Logger.Error("Stop hook failed", logger.Fields("hook", i, "error", err.Error()))
			errs = append(errs, err)
		}
	}
	if err := a.Components.StopAll(ctx); err != nil {
		errs = append(errs, err)
	}
	a.Logger.Info("Shutdown complete", logger.Fields("errors", len(errs)))
	return errors.Join(errs...)
}
