package purchase

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/numrent/numrent-api/internal/domain/activation"
	"github.com/numrent/numrent-api/internal/middleware"
	"github.com/numrent/numrent-api/internal/pkg/errorhandler"
	"github.com/numrent/numrent-api/internal/pkg/money"
	"github.com/numrent/numrent-api/internal/pkg/response"
	"github.com/numrent/numrent-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Catalog handles GET /catalog?country=&carrier=
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	country := r.URL.Query().Get("country")
	carrier := r.URL.Query().Get("carrier")
	if err := validator.ValidateVar(country, "required,country_code"); err != nil {
		response.ValidationError(w, map[string]string{"country": "Country must be a numeric vendor country id"})
		return
	}
	if err := validator.ValidateVar(carrier, "carrier_code"); err != nil {
		response.ValidationError(w, map[string]string{"carrier": "Invalid carrier code"})
		return
	}

	items, err := h.svc.Catalog(r.Context(), country, carrier)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]CatalogItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, CatalogItemResponse{
			Service:      it.Service,
			Price:        it.Price,
			PriceDisplay: money.Format(it.Price),
			Available:    it.Available,
		})
	}
	response.OK(w, out)
}

// Purchase handles POST /purchases
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req PurchaseRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	res, err := h.svc.Purchase(r.Context(), accountID, req.Service, req.Country, req.Carrier)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, PurchaseResponseFromResult(res))
}

// Status handles GET /activations/{id}
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	accountID, id, ok := h.activationParams(w, r)
	if !ok {
		return
	}
	a, err := h.svc.ActivationStatus(r.Context(), accountID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, ActivationResponseFromEntity(a, h.svc.lifecycle.Window()))
}

// Retry handles POST /activations/{id}/retry
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	accountID, id, ok := h.activationParams(w, r)
	if !ok {
		return
	}
	a, err := h.svc.RequestAnotherCode(r.Context(), accountID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, ActivationResponseFromEntity(a, h.svc.lifecycle.Window()))
}

// Cancel handles POST /activations/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	accountID, id, ok := h.activationParams(w, r)
	if !ok {
		return
	}
	res, err := h.svc.CancelActivation(r.Context(), accountID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := CancelResponse{
		Activation:    ActivationResponseFromEntity(res.Activation, h.svc.lifecycle.Window()),
		Refunded:      res.Refunded,
		RefundPending: res.RefundPending,
	}
	if res.Refund > 0 {
		out.Refund = res.Refund
		out.RefundDisplay = money.Format(res.Refund)
	}
	response.OK(w, out)
}

func (h *Handler) activationParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid activation id")
		return uuid.Nil, uuid.Nil, false
	}
	return accountID, id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := ErrorCode(err)

	var drift *PriceDriftError
	var cooldown *activation.CooldownError
	switch {
	case errors.As(err, &drift):
		errorhandler.Business(w, http.StatusConflict, code, "Price changed, please confirm the new price", map[string]interface{}{
			"old_price":         drift.OldPrice,
			"new_price":         drift.NewPrice,
			"old_price_display": money.Format(drift.OldPrice),
			"new_price_display": money.Format(drift.NewPrice),
			"old_base_price":    drift.OldBase.String(),
			"new_base_price":    drift.NewBase.String(),
		})
	case errors.As(err, &cooldown):
		errorhandler.Business(w, http.StatusTooManyRequests, code, "Please wait before trying again", map[string]interface{}{
			"remaining_seconds": cooldown.RemainingSeconds(),
		})
	case code == CodeInsufficientCredit:
		errorhandler.Business(w, http.StatusPaymentRequired, code, "Insufficient credit", nil)
	case code == CodeNoServicesAvailable:
		errorhandler.Business(w, http.StatusNotFound, code, "No services are available for this country", nil)
	case code == CodeServiceNotFound:
		errorhandler.Business(w, http.StatusNotFound, code, "Service is not offered for this country", nil)
	case code == CodeNoNumbersAvailable:
		errorhandler.Business(w, http.StatusConflict, code, "No numbers are available right now", nil)
	case code == CodeActivationClosed:
		errorhandler.Business(w, http.StatusConflict, code, "Activation is already closed", nil)
	case code == CodeActivationNotFound:
		response.NotFound(w, "Activation not found")
	case code == CodeAccountBlocked:
		response.Forbidden(w, "Account is blocked")
	case code == CodeVendorFailure:
		errorhandler.Upstream(r.Context(), w, code, vendorMessage(err), err)
	default:
		errorhandler.Internal(r.Context(), w, err)
	}
}

// vendorMessage exposes the classified vendor reason, never the raw body.
func vendorMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "Number provider timed out"
	default:
		return "Number provider is unavailable"
	}
}

// Routes mounts the purchase and activation endpoints at the API root.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/catalog", h.Catalog)
	r.Post("/purchases", h.Purchase)
	r.Route("/activations/{id}", func(r chi.Router) {
		r.Get("/", h.Status)
		r.Post("/retry", h.Retry)
		r.Post("/cancel", h.Cancel)
	})
	return r
}
