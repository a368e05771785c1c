package topup

import (
	"time"

	"github.com/numrent/numrent-api/internal/pkg/money"
)

// PayloadRequest submits the QR payload read from a slip.
type PayloadRequest struct {
	Payload string `json:"payload" validate:"required,max=512"`
}

type SubmitResponse struct {
	TopupID        string `json:"topup_id"`
	SlipRef        string `json:"slip_ref"`
	Amount         int64  `json:"amount"`
	AmountDisplay  string `json:"amount_display"`
	Currency       string `json:"currency"`
	Balance        int64  `json:"balance"`
	BalanceDisplay string `json:"balance_display"`
}

func SubmitResponseFromResult(r *Result) SubmitResponse {
	return SubmitResponse{
		TopupID:        r.TopupID.String(),
		SlipRef:        r.SlipRef,
		Amount:         r.Amount,
		AmountDisplay:  money.Format(r.Amount),
		Currency:       r.Currency,
		Balance:        r.Balance,
		BalanceDisplay: money.Format(r.Balance),
	}
}

type TopupResponse struct {
	ID            string     `json:"id"`
	Amount        int64      `json:"amount"`
	AmountDisplay string     `json:"amount_display"`
	Currency      string     `json:"currency"`
	Method        string     `json:"method"`
	Status        string     `json:"status"`
	SlipRef       *string    `json:"slip_ref,omitempty"`
	SlipDate      *time.Time `json:"slip_date,omitempty"`
	FailureCode   *string    `json:"failure_code,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func TopupResponseFromEntity(r Request) TopupResponse {
	return TopupResponse{
		ID:            r.ID.String(),
		Amount:        r.Amount,
		AmountDisplay: money.Format(r.Amount),
		Currency:      r.Currency,
		Method:        string(r.Method),
		Status:        string(r.Status),
		SlipRef:       r.SlipRef,
		SlipDate:      r.SlipDate,
		FailureCode:   r.FailureCode,
		CreatedAt:     r.CreatedAt,
	}
}
