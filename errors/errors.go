package errors

import (
	"fmt"
)

// AppError is the error every HTTP boundary renders. Domain packages keep
// their own sentinel errors and translate with FromError.
type AppError struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`

	// HTTPStatus is the status the error is rendered with.
	HTTPStatus int `json:"-"`
	// Cause keeps the original error for errors.Is and logs.
	Cause error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets Cause and returns e.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets one detail and returns e.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an AppError with an explicit status; retryability follows
// the code.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// build creates an AppError with the code's default status. kvs are
// alternating detail keys and values; empty string values are dropped.
func build(code ErrorCode, message string, kvs ...any) *AppError {
	e := New(code, message, StatusOf(code))
	for i := 0; i+1 < len(kvs); i += 2 {
		if s, ok := kvs[i+1].(string); ok && s == "" {
			continue
		}
		e.WithDetail(fmt.Sprint(kvs[i]), kvs[i+1])
	}
	return e
}

// InstanceNotFound tells a heartbeating instance to register again.
func InstanceNotFound(service, instanceID string) *AppError {
	return build(ErrCodeInstanceNotFound,
		fmt.Sprintf("Instance %s of %s is not registered.", instanceID, service),
		"service", service, "instance_id", instanceID)
}

// NoAvailableInstance reports a service with no UP instance.
func NoAvailableInstance(service string) *AppError {
	return build(ErrCodeNoAvailableInstance,
		fmt.Sprintf("No available instance of %s.", service),
		"service", service)
}

// RouteNotFound reports a path that no route rule matches.
func RouteNotFound(path string) *AppError {
	return build(ErrCodeRouteNotFound, "No route matches the requested path.", "path", path)
}

// DownstreamUnavailable reports that every forwarding attempt failed.
func DownstreamUnavailable(service string) *AppError {
	return build(ErrCodeDownstreamUnavailable,
		fmt.Sprintf("The %s service could not be reached.", service),
		"service", service)
}

// ServiceUnavailable reports a service that refuses work for now, for
// example because its concurrency cap is reached.
func ServiceUnavailable(service string) *AppError {
	return build(ErrCodeServiceUnavailable,
		fmt.Sprintf("The %s service is temporarily unavailable. Please try again.", service),
		"service", service)
}

// Timeout reports an operation that ran out of time.
func Timeout(operation string) *AppError {
	return build(ErrCodeTimeout, "The request took too long. Please try again.", "operation", operation)
}

// RateLimited reports a client over its request rate.
func RateLimited() *AppError {
	return build(ErrCodeRateLimited, "Too many requests. Please wait a moment and try again.")
}

// NotFound reports a missing resource; id is omitted when empty.
func NotFound(resource, id string) *AppError {
	return build(ErrCodeNotFound,
		fmt.Sprintf("The requested %s was not found.", resource),
		"resource", resource, "id", id)
}

// InvalidInput reports a bad request field.
func InvalidInput(field, reason string) *AppError {
	return build(ErrCodeInvalidInput, "Invalid input: "+reason, "field", field)
}

// Validation reports a request that failed validation as a whole.
func Validation(message string) *AppError {
	return build(ErrCodeInvalidInput, message)
}

// Internal wraps an unexpected error.
func Internal(cause error) *AppError {
	return build(ErrCodeInternal,
		"An unexpected error occurred. Please try again or contact support.").WithCause(cause)
}

// ExternalServiceError reports a failed call to another service.
func ExternalServiceError(service string, cause error) *AppError {
	return build(ErrCodeExternalService,
		fmt.Sprintf("The %s service encountered an error. Please try again.", service),
		"service", service).WithCause(cause)
}
