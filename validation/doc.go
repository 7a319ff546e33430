// Package validation validates inbound payloads with go-playground/validator
// struct tags and a small chainable Validator for path parameters. Failures
// are INVALID_INPUT AppErrors carrying a "fields" detail.
//
//	type registerRequest struct {
//	    ServiceName string `json:"serviceName" validate:"required,service_name"`
//	    Port        int    `json:"port" validate:"required,min=1,max=65535"`
//	}
//	if err := validation.Validate(req); err != nil { ... }
package validation
