package topup

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusFailed   Status = "failed"
)

type Method string

const (
	MethodSlipImage   Method = "slip_image"
	MethodSlipPayload Method = "slip_payload"
)

// Request is one slip submission. SlipRef is unique across all rows that
// hold it; failed rows release it so the slip can be resubmitted.
type Request struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	AccountID   uuid.UUID  `db:"account_id" json:"account_id"`
	Amount      int64      `db:"amount" json:"amount"`
	Currency    string     `db:"currency" json:"currency"`
	Method      Method     `db:"method" json:"method"`
	Status      Status     `db:"status" json:"status"`
	SlipRef     *string    `db:"slip_ref" json:"slip_ref,omitempty"`
	SlipDate    *time.Time `db:"slip_date" json:"slip_date,omitempty"`
	ImageKey    *string    `db:"image_key" json:"-"`
	RawResponse []byte     `db:"raw_response" json:"-"`
	FailureCode *string    `db:"failure_code" json:"failure_code,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}
