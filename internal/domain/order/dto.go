package order

import (
	"time"

	"github.com/google/uuid"

	"github.com/numrent/numrent-api/internal/pkg/money"
)

type OrderResponse struct {
	ID           uuid.UUID `json:"id"`
	Service      string    `json:"service"`
	Country      string    `json:"country"`
	Carrier      string    `json:"carrier,omitempty"`
	Price        int64     `json:"price"`
	PriceDisplay string    `json:"price_display"`
	Status       Status    `json:"status"`
	Phone        string    `json:"phone,omitempty"`
	FailureCode  string    `json:"failure_code,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func OrderResponseFromEntity(o Order) OrderResponse {
	resp := OrderResponse{
		ID:           o.ID,
		Service:      o.Service,
		Country:      o.Country,
		Carrier:      o.Carrier,
		Price:        o.Price,
		PriceDisplay: money.Format(o.Price),
		Status:       o.Status,
		CreatedAt:    o.CreatedAt,
	}
	if o.Phone != nil {
		resp.Phone = *o.Phone
	}
	if o.FailureCode != nil {
		resp.FailureCode = *o.FailureCode
	}
	return resp
}
