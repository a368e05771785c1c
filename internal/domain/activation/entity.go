package activation

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

func (s Status) IsTerminal() bool {
	return s != StatusWaiting
}

// Activation is the rental of one phone number for one service.
type Activation struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	OrderID        uuid.UUID  `db:"order_id" json:"order_id"`
	AccountID      uuid.UUID  `db:"account_id" json:"account_id"`
	Phone          string     `db:"phone" json:"phone"`
	Service        string     `db:"service" json:"service"`
	Country        string     `db:"country" json:"country"`
	Status         Status     `db:"status" json:"status"`
	Code           *string    `db:"code" json:"code,omitempty"`
	VendorRentalID string     `db:"vendor_rental_id" json:"-"`
	RetryCount     int        `db:"retry_count" json:"retry_count"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	FinishedAt     *time.Time `db:"finished_at" json:"finished_at,omitempty"`

	// Stale is set when the vendor could not be reached and the stored
	// state is returned as-is.
	Stale bool `db:"-" json:"stale,omitempty"`
}

// ExpiresAt is the end of the rental window.
func (a *Activation) ExpiresAt(window time.Duration) time.Time {
	return a.CreatedAt.Add(window)
}

// ExpiredAt reports whether the rental window has closed at now. The boundary
// itself counts as expired.
func (a *Activation) ExpiredAt(now time.Time, window time.Duration) bool {
	return !now.Before(a.ExpiresAt(window))
}

// HasCode reports whether an SMS code was ever delivered.
func (a *Activation) HasCode() bool {
	return a.Code != nil && *a.Code != ""
}
