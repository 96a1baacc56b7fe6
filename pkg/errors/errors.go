// Package errors defines the sentinel errors shared across layers. Services
// wrap them with fmt.Errorf("%w: ...") and the HTTP layer maps them to
// status codes with errors.Is.
package errors

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation error")
	ErrUnavailable  = errors.New("service unavailable")
	ErrUnauthorized = errors.New("unauthorized")
)
