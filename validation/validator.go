package validation

import (
	"fmt"
	"slices"
	"strings"

	"github.com/kbukum/meshkit/errors"
)

// FieldError is one failing field in an INVALID_INPUT error.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ParamCheck checks values that do not come from a tagged struct, such as
// path parameters. Checks chain and the first failure per field wins.
//
//	if err := validation.Params().ServiceName("service", c.Param("service")).Err(); err != nil { ... }
type ParamCheck struct {
	errs []FieldError
}

// Params starts an empty check.
func Params() *ParamCheck { return &ParamCheck{} }

func (p *ParamCheck) add(field, message string) *ParamCheck {
	if !slices.ContainsFunc(p.errs, func(e FieldError) bool { return e.Field == field }) {
		p.errs = append(p.errs, FieldError{Field: field, Message: message})
	}
	return p
}

// Required fails on blank values.
func (p *ParamCheck) Required(field, value string) *ParamCheck {
	if strings.TrimSpace(value) == "" {
		return p.add(field, "is required")
	}
	return p
}

// ServiceName fails unless value is a logical service name.
func (p *ParamCheck) ServiceName(field, value string) *ParamCheck {
	if !IsServiceName(value) {
		return p.add(field, "is not a valid service name")
	}
	return p
}

// OneOf fails when a non-empty value is not in allowed.
func (p *ParamCheck) OneOf(field, value string, allowed []string) *ParamCheck {
	if value != "" && !slices.Contains(allowed, value) {
		return p.add(field, "must be one of: "+strings.Join(allowed, ", "))
	}
	return p
}

// Errors returns the failures so far.
func (p *ParamCheck) Errors() []FieldError { return p.errs }

// Err returns an INVALID_INPUT AppError listing the failures, or nil. The
// return type is error so a clean check compares equal to nil.
func (p *ParamCheck) Err() error {
	if len(p.errs) == 0 {
		return nil
	}
	return invalid(p.errs)
}

func invalid(fields []FieldError) *errors.AppError {
	messages := make([]string, len(fields))
	for i, f := range fields {
		messages[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return errors.Validation(strings.Join(messages, "; ")).WithDetail("fields", fields)
}
