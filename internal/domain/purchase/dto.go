package purchase

import (
	"time"

	"github.com/google/uuid"

	"github.com/numrent/numrent-api/internal/domain/activation"
	"github.com/numrent/numrent-api/internal/pkg/money"
)

type PurchaseRequest struct {
	Service string `json:"service" validate:"required,service_code"`
	Country string `json:"country" validate:"required,country_code"`
	Carrier string `json:"carrier" validate:"carrier_code"`
}

type PurchaseResponse struct {
	OrderID        uuid.UUID `json:"order_id"`
	ActivationID   uuid.UUID `json:"activation_id"`
	Phone          string    `json:"phone"`
	Price          int64     `json:"price"`
	PriceDisplay   string    `json:"price_display"`
	Balance        int64     `json:"balance"`
	BalanceDisplay string    `json:"balance_display"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func PurchaseResponseFromResult(r *Result) PurchaseResponse {
	return PurchaseResponse{
		OrderID:        r.OrderID,
		ActivationID:   r.ActivationID,
		Phone:          r.Phone,
		Price:          r.Price,
		PriceDisplay:   money.Format(r.Price),
		Balance:        r.Balance,
		BalanceDisplay: money.Format(r.Balance),
		ExpiresAt:      r.ExpiresAt,
	}
}

type ActivationResponse struct {
	ID         uuid.UUID         `json:"id"`
	OrderID    uuid.UUID         `json:"order_id"`
	Phone      string            `json:"phone"`
	Service    string            `json:"service"`
	Country    string            `json:"country"`
	Status     activation.Status `json:"status"`
	Code       string            `json:"code,omitempty"`
	RetryCount int               `json:"retry_count"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Stale      bool              `json:"stale,omitempty"`
}

func ActivationResponseFromEntity(a *activation.Activation, window time.Duration) ActivationResponse {
	resp := ActivationResponse{
		ID:         a.ID,
		OrderID:    a.OrderID,
		Phone:      a.Phone,
		Service:    a.Service,
		Country:    a.Country,
		Status:     a.Status,
		RetryCount: a.RetryCount,
		CreatedAt:  a.CreatedAt,
		ExpiresAt:  a.ExpiresAt(window),
		FinishedAt: a.FinishedAt,
		Stale:      a.Stale,
	}
	if a.Code != nil {
		resp.Code = *a.Code
	}
	return resp
}

type CancelResponse struct {
	Activation    ActivationResponse `json:"activation"`
	Refunded      bool               `json:"refunded"`
	RefundPending bool               `json:"refund_pending,omitempty"`
	Refund        int64              `json:"refund,omitempty"`
	RefundDisplay string             `json:"refund_display,omitempty"`
}

type CatalogItemResponse struct {
	Service      string `json:"service"`
	Price        int64  `json:"price"`
	PriceDisplay string `json:"price_display"`
	Available    int    `json:"available"`
}
