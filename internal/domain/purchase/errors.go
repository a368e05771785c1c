package purchase

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/numrent/numrent-api/internal/domain/account"
	"github.com/numrent/numrent-api/internal/domain/activation"
	"github.com/numrent/numrent-api/internal/domain/wallet"
)

var (
	ErrInsufficientCredit  = wallet.ErrInsufficientCredit
	ErrNoServicesAvailable = errors.New("no services available for this country")
	ErrServiceNotFound     = errors.New("service is not offered for this country")
	ErrNoNumbersAvailable  = errors.New("no numbers available for this service")
	ErrPriceDrift          = errors.New("vendor price changed since quote")
	ErrVendorFailure       = errors.New("vendor failure")
	ErrStorage             = errors.New("purchase storage failure")
)

// Stable failure codes, shared by the HTTP layer, order rows and metrics.
const (
	CodeInsufficientCredit  = "INSUFFICIENT_CREDIT"
	CodeNoServicesAvailable = "NO_SERVICES_AVAILABLE"
	CodeServiceNotFound     = "SERVICE_NOT_FOUND"
	CodeNoNumbersAvailable  = "NO_NUMBERS_AVAILABLE"
	CodePriceDrift          = "PRICE_DRIFT"
	CodeVendorFailure       = "VENDOR_FAILURE"
	CodeStorageFailure      = "STORAGE_FAILURE"
	CodeAbandoned           = "ABANDONED"
	CodeAccountBlocked      = "ACCOUNT_BLOCKED"
	CodeCooldownActive      = "COOLDOWN_ACTIVE"
	CodeActivationClosed    = "ACTIVATION_CLOSED"
	CodeActivationNotFound  = "ACTIVATION_NOT_FOUND"
	CodeInternal            = "INTERNAL_ERROR"
)

// PriceDriftError carries both base prices and both local prices so the
// caller can retry at the new price.
type PriceDriftError struct {
	OldBase  decimal.Decimal
	NewBase  decimal.Decimal
	OldPrice int64
	NewPrice int64
}

func (e *PriceDriftError) Error() string {
	return fmt.Sprintf("%v: base %s -> %s", ErrPriceDrift, e.OldBase.String(), e.NewBase.String())
}

func (e *PriceDriftError) Is(target error) bool {
	return target == ErrPriceDrift
}

// VendorError wraps an upstream fault with the step that hit it.
type VendorError struct {
	Op  string
	Err error
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("%v during %s: %v", ErrVendorFailure, e.Op, e.Err)
}

func (e *VendorError) Is(target error) bool {
	return target == ErrVendorFailure
}

func (e *VendorError) Unwrap() error {
	return e.Err
}

// ErrorCode maps an error to its stable code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientCredit):
		return CodeInsufficientCredit
	case errors.Is(err, ErrNoServicesAvailable):
		return CodeNoServicesAvailable
	case errors.Is(err, ErrServiceNotFound):
		return CodeServiceNotFound
	case errors.Is(err, ErrNoNumbersAvailable):
		return CodeNoNumbersAvailable
	case errors.Is(err, ErrPriceDrift):
		return CodePriceDrift
	case errors.Is(err, ErrVendorFailure), errors.Is(err, activation.ErrVendorFailure):
		return CodeVendorFailure
	case errors.Is(err, account.ErrAccountBlocked):
		return CodeAccountBlocked
	case errors.Is(err, activation.ErrCooldownActive):
		return CodeCooldownActive
	case errors.Is(err, activation.ErrActivationClosed):
		return CodeActivationClosed
	case errors.Is(err, activation.ErrActivationNotFound):
		return CodeActivationNotFound
	case errors.Is(err, ErrStorage):
		return CodeStorageFailure
	default:
		return CodeInternal
	}
}
