package smsvendor

import "github.com/shopspring/decimal"

// ServiceOffer is one purchasable service in a country/carrier listing.
// Price is in the vendor's currency.
type ServiceOffer struct {
	Service   string
	Price     decimal.Decimal
	Available int
}

// Rental is a number handed out by RentNumber.
type Rental struct {
	ID    string
	Phone string
}

type State string

const (
	StateWaiting   State = "waiting"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// Status is the live vendor view of a rental. Code is set only when State is completed.
type Status struct {
	State State
	Code  string
}

// Action is a SetStatus request.
type Action int

const (
	ActionRetry  Action = 3
	ActionFinish Action = 6
	ActionCancel Action = 8
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionFinish:
		return "finish"
	case ActionCancel:
		return "cancel"
	default:
		return "unknown"
	}
}
