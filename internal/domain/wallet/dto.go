package wallet

import (
	"time"

	"github.com/numrent/numrent-api/internal/pkg/money"
)

type BalanceResponse struct {
	Balance        int64  `json:"balance"`
	BalanceDisplay string `json:"balance_display"`
	Currency       string `json:"currency"`
}

type EntryResponse struct {
	ID            string    `json:"id"`
	Kind          EntryKind `json:"kind"`
	Amount        int64     `json:"amount"`
	AmountDisplay string    `json:"amount_display"`
	Reference     string    `json:"reference,omitempty"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
}

func EntryResponseFromEntity(e Entry) EntryResponse {
	out := EntryResponse{
		ID:            e.ID.String(),
		Kind:          e.Kind,
		Amount:        e.Amount,
		AmountDisplay: money.Format(e.Amount),
		Description:   e.Description,
		CreatedAt:     e.CreatedAt,
	}
	if e.Reference != nil {
		out.Reference = *e.Reference
	}
	return out
}

// AdjustRequest is the admin manual-correction payload. Amount is a signed
// decimal string in major units, e.g. "-12.50".
type AdjustRequest struct {
	AccountID string `json:"account_id" validate:"required,uuid"`
	Amount    string `json:"amount" validate:"required"`
	Reference string `json:"reference" validate:"required,max=128"`
	Reason    string `json:"reason" validate:"required,min=3,max=500"`
}
