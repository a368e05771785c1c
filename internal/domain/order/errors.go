package order

import "errors"

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrInvalidPrice   = errors.New("order price must be positive")
	ErrNotTransitable = errors.New("order is not in a state that allows this transition")
	ErrInternal       = errors.New("order storage failure")
)
