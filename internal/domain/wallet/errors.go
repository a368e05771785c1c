package wallet

import "errors"

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidKind        = errors.New("invalid entry kind")
	ErrMissingReference   = errors.New("reference is required")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrReferenceConflict  = errors.New("reference already used with a different amount")
	ErrUnknownAccount     = errors.New("unknown account")
	ErrInternal           = errors.New("wallet storage failure")
)
