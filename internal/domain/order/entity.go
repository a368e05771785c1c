package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCancelled, StatusFailed, StatusCompleted, StatusExpired:
		return true
	}
	return false
}

// Order is one purchase attempt. Price is fixed at creation and never changes.
type Order struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	AccountID    uuid.UUID       `db:"account_id" json:"account_id"`
	Service      string          `db:"service" json:"service"`
	Country      string          `db:"country" json:"country"`
	Carrier      string          `db:"carrier" json:"carrier"`
	BasePrice    decimal.Decimal `db:"base_price" json:"base_price"`
	BaseCurrency string          `db:"base_currency" json:"base_currency"`
	Price        int64           `db:"price" json:"price"`
	Status       Status          `db:"status" json:"status"`
	Phone        *string         `db:"phone" json:"phone,omitempty"`
	FailureCode  *string         `db:"failure_code" json:"failure_code,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}
