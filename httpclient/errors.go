package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a failed call.
type Kind string

const (
	KindTimeout    Kind = "timeout"
	KindConnection Kind = "connection"
	KindCanceled   Kind = "canceled"
	KindInvalid    Kind = "invalid_request"
	KindNotFound   Kind = "not_found"
	KindThrottled  Kind = "throttled"
	KindRejected   Kind = "rejected"
	KindServer     Kind = "server"

	// KindCircuitOpen means the call was refused locally because the host
	// kept failing.
	KindCircuitOpen Kind = "circuit_open"
)

// Error is returned for transport failures and non-2xx responses.
// StatusCode is zero when no response arrived.
type Error struct {
	Kind       Kind
	StatusCode int
	Body       []byte
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode > 0:
		return fmt.Sprintf("httpclient: %s: HTTP %d", e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("httpclient: %s: %v", e.Kind, e.Err)
	default:
		return "httpclient: " + string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether sending the same request again may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindConnection, KindThrottled, KindServer:
		return true
	}
	return false
}

// statusError classifies a non-2xx status. It returns nil for 2xx.
func statusError(code int, body []byte) *Error {
	var kind Kind
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		kind = KindNotFound
	case code == http.StatusTooManyRequests:
		kind = KindThrottled
	case code >= 500:
		kind = KindServer
	default:
		kind = KindRejected
	}
	return &Error{Kind: kind, StatusCode: code, Body: body}
}

// transportError separates caller cancellation and deadlines from
// connection failures. context.Canceled stays in the chain so a retry loop
// stops on it.
func transportError(ctx context.Context, err error) *Error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return &Error{Kind: KindCanceled, Err: err}
	case errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()):
		return &Error{Kind: KindTimeout, Err: err}
	default:
		return &Error{Kind: KindConnection, Err: err}
	}
}

func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTimeout reports a deadline or network timeout.
func IsTimeout(err error) bool { return kindOf(err) == KindTimeout }

// IsConnection reports a refused, reset or unresolvable connection.
func IsConnection(err error) bool { return kindOf(err) == KindConnection }

// IsCanceled reports that the caller's context was canceled.
func IsCanceled(err error) bool { return kindOf(err) == KindCanceled }

// IsNotFound reports a 404. The registry answers 404 to a heartbeat for an
// instance it no longer knows.
func IsNotFound(err error) bool { return kindOf(err) == KindNotFound }

// IsCircuitOpen reports a call refused by an open circuit breaker.
func IsCircuitOpen(err error) bool { return kindOf(err) == KindCircuitOpen }

// isOutage is what a circuit breaker counts: no answer or a 5xx. Client
// errors and cancellations say nothing about the host's health.
func isOutage(err error) bool {
	switch kindOf(err) {
	case KindTimeout, KindConnection, KindServer:
		return true
	}
	return false
}

// IsServerError reports a 5xx.
func IsServerError(err error) bool { return kindOf(err) == KindServer }

// IsRetryable reports whether err is an *Error worth retrying.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}
