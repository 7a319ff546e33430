package errors

import "net/http"

// ErrorCode is the machine-readable code in an error envelope.
type ErrorCode string

// Registry, discovery and routing.
const (
	ErrCodeInstanceNotFound      ErrorCode = "INSTANCE_NOT_FOUND"
	ErrCodeNoAvailableInstance   ErrorCode = "NO_AVAILABLE_INSTANCE"
	ErrCodeRouteNotFound         ErrorCode = "ROUTE_NOT_FOUND"
	ErrCodeDownstreamUnavailable ErrorCode = "DOWNSTREAM_UNAVAILABLE"
)

// Availability.
const (
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"
	ErrCodeExternalService    ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

// Requests and resources.
const (
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// codeInfo is the default HTTP status of a code and whether a client may
// try again later.
type codeInfo struct {
	status    int
	retryable bool
}

var codes = map[ErrorCode]codeInfo{
	ErrCodeInstanceNotFound:      {http.StatusNotFound, false},
	ErrCodeNoAvailableInstance:   {http.StatusServiceUnavailable, true},
	ErrCodeRouteNotFound:         {http.StatusNotFound, false},
	ErrCodeDownstreamUnavailable: {http.StatusServiceUnavailable, true},
	ErrCodeServiceUnavailable:    {http.StatusServiceUnavailable, true},
	ErrCodeTimeout:               {http.StatusGatewayTimeout, true},
	ErrCodeRateLimited:           {http.StatusTooManyRequests, true},
	ErrCodeExternalService:       {http.StatusBadGateway, true},
	ErrCodeInvalidInput:          {http.StatusBadRequest, false},
	ErrCodeNotFound:              {http.StatusNotFound, false},
	ErrCodeInternal:              {http.StatusInternalServerError, false},
}

// IsRetryableCode reports whether errors with code are worth retrying.
func IsRetryableCode(code ErrorCode) bool {
	return codes[code].retryable
}

// StatusOf returns the default HTTP status of code, 500 for unknown codes.
func StatusOf(code ErrorCode) int {
	if info, ok := codes[code]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}
