package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/kbukum/meshkit/httpclient"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/resilience"
)

// Client calls services by logical name: each request resolves an instance
// and is sent to it with a plain HTTP call.
type Client struct {
	resolver *Resolver
	http     *httpclient.Client
	scheme   string
	log      *logger.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithScheme sets the scheme used to reach instances. Default: http.
func WithScheme(scheme string) ClientOption {
	return func(c *Client) { c.scheme = scheme }
}

// NewClient creates a Client. cfg.BaseURL is ignored since every request
// targets the resolved instance.
//
// With cfg.CircuitBreaker set, each instance gets its own breaker: calls to
// an instance that keeps failing are refused locally while the resolver
// moves on to its peers.
func NewClient(resolver *Resolver, cfg httpclient.Config, log *logger.Logger, opts ...ClientOption) (*Client, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("discovery-client")

	cfg.BaseURL = ""
	if cfg.CircuitBreaker != nil && cfg.CircuitBreaker.OnStateChange == nil {
		cb := *cfg.CircuitBreaker
		cb.OnStateChange = func(addr string, from, to resilience.State) {
			log.Warn("instance circuit changed", logger.Fields(
				logger.FieldAddress, addr,
				"from", from.String(),
				"to", to.String(),
			))
		}
		cfg.CircuitBreaker = &cb
	}
	hc, err := httpclient.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("discovery client: %w", err)
	}
	c := &Client{
		resolver: resolver,
		http:     hc,
		scheme:   "http",
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL resolves service and returns the absolute URL of path on the chosen
// instance.
func (c *Client) URL(ctx context.Context, service, path string) (string, error) {
	inst, err := c.resolver.Resolve(ctx, service)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.scheme + "://" + inst.Address() + path, nil
}

// Do resolves service and sends req to the chosen instance. req.Path is the
// path on the instance.
func (c *Client) Do(ctx context.Context, service string, req httpclient.Request) (*httpclient.Response, error) {
	url, err := c.URL(ctx, service, req.Path)
	if err != nil {
		return nil, err
	}
	req.Path = url

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		c.log.WithContext(ctx).Warn("service call failed", logger.Fields(
			logger.FieldTarget, service,
			"url", url,
			logger.FieldError, err.Error(),
		))
	}
	return resp, err
}

// Get resolves service and decodes the JSON response of GET path into T.
func Get[T any](c *Client, ctx context.Context, service, path string, opts ...httpclient.RequestOption) (*httpclient.TypedResponse[T], error) {
	url, err := c.URL(ctx, service, path)
	if err != nil {
		return nil, err
	}
	return httpclient.Get[T](c.http, ctx, url, opts...)
}

// Post resolves service and decodes the JSON response of POST path into T.
func Post[T any](c *Client, ctx context.Context, service, path string, body any, opts ...httpclient.RequestOption) (*httpclient.TypedResponse[T], error) {
	url, err := c.URL(ctx, service, path)
	if err != nil {
		return nil, err
	}
	return httpclient.Post[T](c.http, ctx, url, body, opts...)
}
