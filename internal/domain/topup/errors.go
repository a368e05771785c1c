package topup

import "errors"

var (
	ErrDuplicateSlip      = errors.New("slip has already been used")
	ErrStaleSlip          = errors.New("slip is too old")
	ErrAmountUnreadable   = errors.New("slip amount or date could not be read")
	ErrVerificationFailed = errors.New("slip verification failed")
	ErrInvalidImage       = errors.New("slip image is not a supported image")
	ErrEmptySubmission    = errors.New("slip image or payload is required")
	ErrCreditDelayed      = errors.New("slip verified, credit will be applied shortly")
	ErrNotTransitable     = errors.New("top-up request is not pending")
	ErrInternal           = errors.New("top-up storage failure")
)

const (
	CodeDuplicateSlip      = "DUPLICATE_SLIP"
	CodeStaleSlip          = "STALE_SLIP"
	CodeAmountUnreadable   = "AMOUNT_UNREADABLE"
	CodeVerificationFailed = "VERIFICATION_FAILED"
	CodeInvalidImage       = "INVALID_IMAGE"
	CodeCreditRejected     = "CREDIT_REJECTED"
)

// ErrorCode maps an error to its stable code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicateSlip):
		return CodeDuplicateSlip
	case errors.Is(err, ErrStaleSlip):
		return CodeStaleSlip
	case errors.Is(err, ErrAmountUnreadable):
		return CodeAmountUnreadable
	case errors.Is(err, ErrVerificationFailed):
		return CodeVerificationFailed
	case errors.Is(err, ErrInvalidImage):
		return CodeInvalidImage
	case errors.Is(err, ErrEmptySubmission):
		return "BAD_REQUEST"
	case errors.Is(err, ErrCreditDelayed):
		return "CREDIT_DELAYED"
	default:
		return "INTERNAL_ERROR"
	}
}
