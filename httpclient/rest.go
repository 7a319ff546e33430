package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Request is one outbound call.
type Request struct {
	Method string
	// Path is joined to BaseURL unless it is already an absolute URL.
	Path    string
	Headers map[string]string
	Query   map[string]string
	// Body may be an io.Reader, []byte, string, or a value to encode as JSON.
	Body any
}

// Response is a fully read response.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// TypedResponse carries a JSON-decoded body.
type TypedResponse[T any] struct {
	StatusCode int
	Headers    map[string]string
	Data       T
}

// RequestOption adjusts a Request built by the typed helpers.
type RequestOption func(*Request)

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		if r.Headers == nil {
			r.Headers = make(map[string]string)
		}
		r.Headers[key] = value
	}
}

// WithQueryParam sets a query parameter.
func WithQueryParam(key, value string) RequestOption {
	return func(r *Request) {
		if r.Query == nil {
			r.Query = make(map[string]string)
		}
		r.Query[key] = value
	}
}

// Get sends GET path and decodes the JSON body into T.
func Get[T any](c *Client, ctx context.Context, path string, opts ...RequestOption) (*TypedResponse[T], error) {
	return call[T](c, ctx, http.MethodGet, path, nil, opts)
}

// Post sends body as JSON and decodes the response into T.
func Post[T any](c *Client, ctx context.Context, path string, body any, opts ...RequestOption) (*TypedResponse[T], error) {
	return call[T](c, ctx, http.MethodPost, path, body, opts)
}

// Put sends body as JSON and decodes the response into T.
func Put[T any](c *Client, ctx context.Context, path string, body any, opts ...RequestOption) (*TypedResponse[T], error) {
	return call[T](c, ctx, http.MethodPut, path, body, opts)
}

// Delete sends DELETE path and decodes the response into T.
func Delete[T any](c *Client, ctx context.Context, path string, opts ...RequestOption) (*TypedResponse[T], error) {
	return call[T](c, ctx, http.MethodDelete, path, nil, opts)
}

func call[T any](c *Client, ctx context.Context, method, path string, body any, opts []RequestOption) (*TypedResponse[T], error) {
	req := Request{Method: method, Path: path, Body: body}
	for _, opt := range opts {
		opt(&req)
	}

	resp, err := c.Do(ctx, req)
	if resp == nil {
		return nil, err
	}
	out := &TypedResponse[T]{StatusCode: resp.StatusCode, Headers: resp.Headers}
	if err != nil {
		// Error bodies are decoded best effort; the status is what callers use.
		_ = json.Unmarshal(resp.Body, &out.Data)
		return out, err
	}
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &out.Data); err != nil {
			return nil, fmt.Errorf("httpclient: decode %s %s: %w", method, path, err)
		}
	}
	return out, nil
}
