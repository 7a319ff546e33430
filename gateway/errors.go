package gateway

import (
	stderrors "errors"
	"fmt"

	"github.com/kbukum/meshkit/errors"
)

var (
	// ErrRouteNotFound is returned when no rule matches a path.
	ErrRouteNotFound = stderrors.New("route not found")
	// ErrDownstreamUnavailable is returned when every forwarding attempt failed to connect.
	ErrDownstreamUnavailable = stderrors.New("downstream unavailable")
	// ErrDownstreamTimeout is returned when the final forwarding attempt timed out.
	ErrDownstreamTimeout = stderrors.New("downstream timeout")
)

// RouteNotFoundError names the unmatched path. It matches ErrRouteNotFound.
type RouteNotFoundError struct {
	Path string
}

func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("no route for path %q", e.Path)
}

// Is makes errors.Is(err, ErrRouteNotFound) true.
func (e *RouteNotFoundError) Is(target error) bool {
	return target == ErrRouteNotFound
}

// DownstreamError describes a failed forwarding attempt. It matches
// ErrDownstreamTimeout when the attempt timed out and
// ErrDownstreamUnavailable otherwise.
type DownstreamError struct {
	Service  string
	Instance string
	Timeout  bool
	Err      error
}

func (e *DownstreamError) Error() string {
	kind := "unavailable"
	if e.Timeout {
		kind = "timed out"
	}
	return fmt.Sprintf("downstream %s (%s) %s: %v", e.Service, e.Instance, kind, e.Err)
}

func (e *DownstreamError) Unwrap() error { return e.Err }

// Is matches the sentinel for the failure kind.
func (e *DownstreamError) Is(target error) bool {
	if e.Timeout {
		return target == ErrDownstreamTimeout
	}
	return target == ErrDownstreamUnavailable
}

func init() {
	errors.RegisterMapping(ErrRouteNotFound, func(err error) *errors.AppError {
		var rn *RouteNotFoundError
		if stderrors.As(err, &rn) {
			return errors.RouteNotFound(rn.Path)
		}
		return errors.RouteNotFound("")
	})
	errors.RegisterMapping(ErrDownstreamTimeout, func(err error) *errors.AppError {
		var de *DownstreamError
		if stderrors.As(err, &de) {
			return errors.Timeout("forward to " + de.Service)
		}
		return errors.Timeout("forward")
	})
	errors.RegisterMapping(ErrDownstreamUnavailable, func(err error) *errors.AppError {
		var de *DownstreamError
		if stderrors.As(err, &de) {
			return errors.DownstreamUnavailable(de.Service)
		}
		return errors.DownstreamUnavailable("")
	})
}
