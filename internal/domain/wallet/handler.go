package wallet

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/numrent/numrent-api/internal/middleware"
	"github.com/numrent/numrent-api/internal/pkg/errorhandler"
	"github.com/numrent/numrent-api/internal/pkg/money"
	"github.com/numrent/numrent-api/internal/pkg/response"
	"github.com/numrent/numrent-api/internal/pkg/validator"
)

type Handler struct {
	svc      *Service
	currency string
}

func NewHandler(svc *Service, currency string) *Handler {
	return &Handler{svc: svc, currency: currency}
}

// Balance handles GET /wallet/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	balance, err := h.svc.GetBalance(r.Context(), accountID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.OK(w, BalanceResponse{Balance: balance, BalanceDisplay: money.Format(balance), Currency: h.currency})
}

// History handles GET /wallet/history?limit=&offset=
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := h.svc.History(r.Context(), accountID, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, EntryResponseFromEntity(e))
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	response.WithMeta(w, items, response.Meta{Limit: limit, Offset: offset, Count: len(items), HasNext: len(items) == limit})
}

// Adjust handles POST /admin/wallet/adjust
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	accountID, _ := uuid.Parse(req.AccountID)
	amount, err := money.Parse(req.Amount)
	if err != nil || amount == 0 {
		response.ValidationError(w, map[string]string{"amount": "Amount must be a non-zero decimal with at most two places"})
		return
	}

	balance, err := h.svc.Adjust(r.Context(), accountID, amount, req.Reference, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.OK(w, BalanceResponse{Balance: balance, BalanceDisplay: money.Format(balance), Currency: h.currency})
}

// Reconcile handles GET /admin/wallet/{account}/reconcile?repair=true
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	accountID, err := uuid.Parse(chi.URLParam(r, "account"))
	if err != nil {
		response.BadRequest(w, "Invalid account id")
		return
	}
	repair, _ := strconv.ParseBool(r.URL.Query().Get("repair"))

	rec, err := h.svc.Reconcile(r.Context(), accountID, repair)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, rec)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInsufficientCredit):
		errorhandler.Business(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDIT", "Insufficient credit", nil)
	case errors.Is(err, ErrReferenceConflict):
		errorhandler.Business(w, http.StatusConflict, "REFERENCE_CONFLICT", "Reference already used with a different amount", nil)
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrMissingReference), errors.Is(err, ErrInvalidKind):
		response.BadRequest(w, err.Error())
	case errors.Is(err, ErrUnknownAccount):
		response.NotFound(w, "Account not found")
	default:
		errorhandler.Internal(r.Context(), w, err)
	}
}

// Routes mounts the account-scoped wallet endpoints.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/balance", h.Balance)
	r.Get("/history", h.History)
	return r
}

// AdminRoutes mounts the admin wallet endpoints.
func (h *Handler) AdminRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireAdmin())
	r.Post("/adjust", h.Adjust)
	r.Get("/{account}/reconcile", h.Reconcile)
	return r
}
