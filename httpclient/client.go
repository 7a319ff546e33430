package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/kbukum/meshkit/resilience"
)

// Client sends requests relative to a base URL and classifies failures.
type Client struct {
	http     *http.Client
	cfg      Config
	limiter  *resilience.RateLimiter
	breakers *resilience.CircuitBreakerGroup
}

// New creates a Client. The default transport is a clone of
// http.DefaultTransport carrying cfg.TLS.
func New(cfg Config) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	transport := cfg.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		tlsCfg, err := cfg.TLS.Build()
		if err != nil {
			return nil, err
		}
		if tlsCfg != nil {
			t.TLSClientConfig = tlsCfg
		}
		transport = t
	}

	c := &Client{
		http: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		cfg:  cfg,
	}
	if cfg.RateLimiter != nil {
		c.limiter = resilience.NewRateLimiter(*cfg.RateLimiter)
	}
	if cfg.CircuitBreaker != nil {
		tmpl := *cfg.CircuitBreaker
		if tmpl.IsFailure == nil {
			tmpl.IsFailure = isOutage
		}
		c.breakers = resilience.NewCircuitBreakerGroup(tmpl)
	}
	return c, nil
}

// Do sends req and reads the whole body. A non-2xx response is returned
// together with an *Error so callers can still inspect it.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if c.cfg.Retry == nil {
		return c.send(ctx, req)
	}
	return resilience.Retry(ctx, *c.cfg.Retry, func(int) (*Response, error) {
		return c.send(ctx, req)
	})
}

func (c *Client) send(ctx context.Context, req Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	hreq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, &Error{Kind: KindInvalid, Err: err}
	}
	if c.breakers == nil {
		return c.roundTrip(ctx, hreq)
	}

	// One breaker per host, so a dead instance does not block its peers.
	var resp *Response
	err = c.breakers.Get(hreq.URL.Host).Execute(func() error {
		var err error
		resp, err = c.roundTrip(ctx, hreq)
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, &Error{Kind: KindCircuitOpen, Err: err}
	}
	return resp, err
}

func (c *Client) roundTrip(ctx context.Context, hreq *http.Request) (*Response, error) {
	hresp, err := c.http.Do(hreq)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer func() { _ = hresp.Body.Close() }()

	body, err := io.ReadAll(hresp.Body)
	if err != nil {
		return nil, transportError(ctx, fmt.Errorf("read body: %w", err))
	}

	resp := &Response{StatusCode: hresp.StatusCode, Headers: firstValues(hresp.Header), Body: body}
	if serr := statusError(hresp.StatusCode, body); serr != nil {
		return resp, serr
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	target := req.Path
	if c.cfg.BaseURL != "" && !isAbsolute(target) {
		target = strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(target, "/")
	}
	if len(req.Query) > 0 {
		u, err := url.Parse(target)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		for k, v := range req.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		target = u.String()
	}

	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, err
	}

	for k, v := range c.cfg.Headers {
		hreq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		hreq.Header.Set(k, v)
	}
	if contentType != "" && hreq.Header.Get("Content-Type") == "" {
		hreq.Header.Set("Content-Type", contentType)
	}
	return hreq, nil
}

func isAbsolute(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

func encodeBody(body any) (io.Reader, string, error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case io.Reader:
		return v, "", nil
	case []byte:
		return bytes.NewReader(v), "", nil
	case string:
		return strings.NewReader(v), "text/plain", nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

func firstValues(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
