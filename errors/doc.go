// Package errors provides unified error handling for meshkit services.
// It implements structured error types with error codes, HTTP status mapping,
// and retryable detection following RFC 7807 and Google AIP-193.
//
// Domain packages keep plain sentinel errors and register a mapping so HTTP
// boundaries can translate them with FromError.
package errors
