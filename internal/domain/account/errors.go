package account

import "errors"

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountBlocked  = errors.New("account is blocked")
)
