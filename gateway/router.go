package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/meshkit/discovery"
	"github.com/kbukum/meshkit/errors"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/observability"
	"github.com/kbukum/meshkit/registry"
	"github.com/kbukum/meshkit/resilience"
)

// statusClientClosed is recorded when the caller went away before a response.
const statusClientClosed = 499

// Router forwards requests to the instance chosen for the matching rule.
type Router struct {
	table     *RouteTable
	resolver  *discovery.Resolver
	cfg       Config
	transport http.RoundTripper
	bulkheads *resilience.BulkheadGroup
	log       *logger.Logger
}

var _ http.Handler = (*Router)(nil)

// Option configures a Router.
type Option func(*Router)

// WithTLSConfig sets the client TLS settings of the default transport.
// It has no effect after WithTransport.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(r *Router) {
		if t, ok := r.transport.(*http.Transport); ok && cfg != nil {
			t.TLSClientConfig = cfg
		}
	}
}

// WithTransport replaces the transport used for downstream calls.
func WithTransport(rt http.RoundTripper) Option {
	return func(r *Router) { r.transport = rt }
}

// NewRouter creates a Router over table. Requests are resolved with
// resolver and forwarded under a per-service concurrency cap.
func NewRouter(table *RouteTable, resolver *discovery.Resolver, cfg Config, log *logger.Logger, opts ...Option) *Router {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	r := &Router{
		table:     table,
		resolver:  resolver,
		cfg:       cfg,
		transport: http.DefaultTransport.(*http.Transport).Clone(),
		log:       log.WithComponent("gateway"),
	}
	r.bulkheads = resilience.NewBulkheadGroup(resilience.BulkheadConfig{
		MaxConcurrent: cfg.Bulkhead.MaxConcurrent,
		MaxWait:       cfg.Bulkhead.MaxWait,
		OnReject: func(service string, err error) {
			rejectionsTotal.WithLabelValues(service, rejectReason(err)).Inc()
		},
	})
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Table returns the route table.
func (rt *Router) Table() *RouteTable { return rt.table }

// ServeHTTP matches, resolves and forwards one request.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	// Match and strip both work on the escaped path so they agree on where
	// segments end.
	rule, err := rt.table.MatchEscaped(r.URL.EscapedPath())
	if err != nil {
		rt.fail(w, r, "", err, start)
		return
	}
	service := rule.TargetServiceName

	ctx := observability.ExtractHTTP(r.Context(), r.Header)
	ctx, span := observability.StartSpan(ctx, "gateway "+rule.PathPrefix, trace.WithAttributes(
		attribute.String(observability.AttrTargetService, service),
		attribute.String(observability.AttrRoutePrefix, rule.PathPrefix),
	))
	defer span.End()
	r = r.WithContext(ctx)

	body, err := readBody(r)
	if err != nil {
		rt.fail(w, r, service, err, start)
		return
	}

	sel, err := rt.resolver.Select(ctx, service)
	if err != nil {
		if !stderrors.Is(err, discovery.ErrNoAvailableInstance) {
			err = errors.ServiceUnavailable(service).WithCause(err)
		}
		rt.fail(w, r, service, err, start)
		return
	}

	var code int
	err = rt.bulkheads.Get(service).Execute(ctx, func() error {
		resp, ferr := rt.forward(ctx, r, body, rule, sel)
		if ferr != nil {
			return ferr
		}
		defer resp.Body.Close()
		code = resp.StatusCode
		rt.relay(w, resp)
		return nil
	})

	switch {
	case err == nil:
		span.SetAttributes(attribute.Int("http.response.status_code", code))
		rt.observe(service, code, start)
		rt.log.WithContext(ctx).Debug("request forwarded", logger.Fields(
			logger.FieldRoute, rule.PathPrefix,
			logger.FieldTarget, service,
			logger.FieldStatus, code,
			logger.FieldDuration, time.Since(start).Milliseconds(),
		))
	case r.Context().Err() != nil:
		rt.observe(service, statusClientClosed, start)
		rt.log.WithContext(ctx).Info("client disconnected, downstream call canceled", logger.Fields(
			logger.FieldTarget, service,
			logger.FieldDuration, time.Since(start).Milliseconds(),
		))
	case stderrors.Is(err, resilience.ErrBulkheadFull), stderrors.Is(err, resilience.ErrBulkheadTimeout):
		rt.fail(w, r, service, errors.ServiceUnavailable(service).
			WithCause(err).
			WithDetail("reason", rejectReason(err)), start)
	default:
		rt.fail(w, r, service, err, start)
	}
}

// forward tries the selected instance and, on a connection failure or
// timeout, the next instance of the same snapshot.
func (rt *Router) forward(ctx context.Context, in *http.Request, body []byte, rule RouteRule, sel *discovery.Selection) (*http.Response, error) {
	service := rule.TargetServiceName
	rawPath := StripSegments(in.URL.EscapedPath(), rule.StripPrefixSegments)
	path, err := url.PathUnescape(rawPath)
	if err != nil {
		path = rawPath
	}

	cfg := resilience.RetryConfig{
		MaxAttempts: min(rt.cfg.MaxAttempts, sel.Len()),
		RetryIf: func(err error) bool {
			return ctx.Err() == nil && isDownstreamFailure(err)
		},
		OnRetry: func(attempt int, err error, _ time.Duration) {
			retriesTotal.WithLabelValues(service).Inc()
			rt.log.WithContext(ctx).Warn("forward failed, retrying on another instance", logger.Fields(
				logger.FieldTarget, service,
				logger.FieldInstanceID, sel.Candidate(attempt).InstanceID,
				logger.FieldAttempt, attempt+1,
				logger.FieldError, err.Error(),
			))
		},
	}
	return resilience.Retry(ctx, cfg, func(attempt int) (*http.Response, error) {
		return rt.attempt(ctx, in, body, sel.Candidate(attempt), service, path, rawPath, attempt)
	})
}

func (rt *Router) attempt(ctx context.Context, in *http.Request, body []byte, inst registry.Instance, service, path, rawPath string, attempt int) (*http.Response, error) {
	trace.SpanFromContext(ctx).AddEvent("forward", trace.WithAttributes(
		attribute.String(observability.AttrInstanceID, inst.InstanceID),
		attribute.Int(observability.AttrAttempt, attempt+1),
	))

	actx, cancel := context.WithTimeout(ctx, rt.cfg.Timeout)
	out, err := rt.outbound(actx, in, body, inst, path, rawPath)
	if err != nil {
		cancel()
		return nil, err
	}

	resp, err := rt.transport.RoundTrip(out)
	if err != nil {
		timedOut := stderrors.Is(actx.Err(), context.DeadlineExceeded) || isTimeout(err)
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &DownstreamError{
			Service:  service,
			Instance: inst.InstanceID,
			Timeout:  timedOut,
			Err:      err,
		}
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// outbound builds the downstream request: rewritten path, original query,
// headers minus hop-by-hop, X-Forwarded-* and trace context.
func (rt *Router) outbound(ctx context.Context, in *http.Request, body []byte, inst registry.Instance, path, rawPath string) (*http.Request, error) {
	target := &url.URL{
		Scheme:   rt.cfg.Scheme,
		Host:     inst.Address(),
		Path:     path,
		RawQuery: in.URL.RawQuery,
	}
	if rawPath != path {
		target.RawPath = rawPath
	}

	var rb io.Reader = http.NoBody
	if len(body) > 0 {
		rb = bytes.NewReader(body)
	}
	out, err := http.NewRequestWithContext(ctx, in.Method, target.String(), rb)
	if err != nil {
		return nil, err
	}

	out.Header = in.Header.Clone()
	removeHopByHop(out.Header)
	if _, ok := out.Header["User-Agent"]; !ok {
		// Keep the transport from adding its own.
		out.Header.Set("User-Agent", "")
	}
	setForwarded(out.Header, in)
	observability.InjectHTTP(ctx, out.Header)
	return out, nil
}

func (rt *Router) relay(w http.ResponseWriter, resp *http.Response) {
	removeHopByHop(resp.Header)
	dst := w.Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		rt.log.Debug("response relay interrupted", logger.Fields(logger.FieldError, err.Error()))
	}
}

func (rt *Router) fail(w http.ResponseWriter, r *http.Request, service string, err error, start time.Time) {
	appErr := errors.FromError(err)
	observability.SetSpanError(r.Context(), err)

	fields := logger.Fields(
		"path", r.URL.Path,
		logger.FieldTarget, service,
		logger.FieldStatus, appErr.HTTPStatus,
		logger.FieldError, err.Error(),
	)
	log := rt.log.WithContext(r.Context())
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		log.Warn("gateway request failed", fields)
	} else {
		log.Debug("gateway request rejected", fields)
	}

	appErr.WriteHTTP(w)
	rt.observe(service, appErr.HTTPStatus, start)
}

func (rt *Router) observe(service string, code int, start time.Time) {
	if service == "" {
		service = "unmatched"
	}
	requestsTotal.WithLabelValues(service, strconv.Itoa(code)).Inc()
	requestDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
}

// readBody buffers the request body so a retry can resend it.
func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return nil, errors.New(errors.ErrCodeInvalidInput, "Request body too large.", http.StatusRequestEntityTooLarge)
		}
		return nil, errors.InvalidInput("body", err.Error())
	}
	return data, nil
}

// Hop-by-hop headers, removed in both directions.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopByHop(h http.Header) {
	for _, f := range h["Connection"] {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func setForwarded(h http.Header, in *http.Request) {
	if ip, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := h.Values("X-Forwarded-For"); len(prior) > 0 {
			ip = strings.Join(prior, ", ") + ", " + ip
		}
		h.Set("X-Forwarded-For", ip)
	}
	h.Set("X-Forwarded-Host", in.Host)
	proto := "http"
	if in.TLS != nil {
		proto = "https"
	}
	h.Set("X-Forwarded-Proto", proto)
}

func isDownstreamFailure(err error) bool {
	var de *DownstreamError
	return stderrors.As(err, &de)
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

func rejectReason(err error) string {
	switch {
	case stderrors.Is(err, resilience.ErrBulkheadFull):
		return "full"
	case stderrors.Is(err, resilience.ErrBulkheadTimeout):
		return "wait_timeout"
	default:
		return "canceled"
	}
}

// cancelOnClose releases the attempt's timeout context once the body is done.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
