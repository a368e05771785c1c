package activation

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrActivationNotFound = errors.New("activation not found")
	ErrActivationClosed   = errors.New("activation is no longer waiting")
	ErrCooldownActive     = errors.New("action not allowed yet")
	ErrVendorFailure      = errors.New("vendor failure")
	ErrInvalidTransition  = errors.New("invalid activation transition")
	ErrInternal           = errors.New("activation storage failure")
)

// CooldownError reports how long the caller has to wait.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%v: %ds remaining", ErrCooldownActive, e.RemainingSeconds())
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldownActive
}

// RemainingSeconds rounds up so a client never retries too early.
func (e *CooldownError) RemainingSeconds() int {
	return int(math.Ceil(e.Remaining.Seconds()))
}
