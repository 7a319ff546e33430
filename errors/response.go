package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"sync"
)

// ErrorResponse is the JSON structure returned to clients following RFC 7807.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody contains the error details sent to clients.
type ErrorBody struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Retryable bool                   `json:"retryable"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ToResponse converts an AppError to an ErrorResponse for JSON serialization.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:      e.Code,
			Message:   e.Message,
			Retryable: e.Retryable,
			Details:   e.Details,
		},
	}
}

// WriteHTTP writes the error envelope with the error's HTTP status. It is
// used by plain net/http handlers; gin handlers go through c.JSON.
func (e *AppError) WriteHTTP(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.HTTPStatus)
	_ = json.NewEncoder(w).Encode(e.ToResponse())
}

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Mapper builds an AppError for an error matched by RegisterMapping.
type Mapper func(err error) *AppError

type mapping struct {
	target error
	build  Mapper
}

var (
	mappingsMu sync.RWMutex
	mappings   []mapping
)

// RegisterMapping teaches FromError how to translate errors matching target
// (by errors.Is). Domain packages call it from init for their sentinels.
func RegisterMapping(target error, build Mapper) {
	mappingsMu.Lock()
	defer mappingsMu.Unlock()
	mappings = append(mappings, mapping{target: target, build: build})
}

// FromError converts any error into an AppError. AppErrors in the chain are
// returned as-is, registered sentinels are translated, context deadline maps
// to TIMEOUT and everything else becomes INTERNAL_ERROR. The original error
// is kept as Cause so errors.Is still matches the result.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}

	mappingsMu.RLock()
	for _, m := range mappings {
		if stderrors.Is(err, m.target) {
			mappingsMu.RUnlock()
			return m.build(err).WithCause(err)
		}
	}
	mappingsMu.RUnlock()

	if stderrors.Is(err, context.DeadlineExceeded) {
		return Timeout("request").WithCause(err)
	}
	return Internal(err)
}
