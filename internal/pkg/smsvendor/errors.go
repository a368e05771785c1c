package smsvendor

import (
	"errors"
	"fmt"
)

var (
	ErrNoNumbers  = errors.New("vendor has no numbers for this service")
	ErrNoBalance  = errors.New("vendor account balance exhausted")
	ErrBadService = errors.New("vendor does not know this service")
	ErrNoServices = errors.New("vendor lists no services for this country")
	ErrTransient  = errors.New("vendor temporarily unavailable")
	ErrRejected   = errors.New("vendor rejected the request")
	ErrMalformed  = errors.New("vendor returned an unrecognised response")
)

// APIError carries the raw vendor code next to the classified sentinel.
type APIError struct {
	Action string
	Code   string
	Kind   error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("smsvendor %s: %s: %v", e.Action, e.Code, e.Kind)
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

// IsTransient reports whether err is worth retrying later and must not be
// read as a terminal answer.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrMalformed)
}
