package order

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/numrent/numrent-api/internal/middleware"
	"github.com/numrent/numrent-api/internal/pkg/errorhandler"
	"github.com/numrent/numrent-api/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// List handles GET /orders
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = defaultListLimit
	}

	orders, err := h.svc.List(r.Context(), accountID, limit, offset)
	if err != nil {
		errorhandler.Internal(r.Context(), w, err)
		return
	}

	items := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		items = append(items, OrderResponseFromEntity(o))
	}
	response.WithMeta(w, items, response.Meta{Limit: limit, Offset: offset, Count: len(items), HasNext: len(items) == limit})
}

// Get handles GET /orders/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid order id")
		return
	}

	o, err := h.svc.GetForAccount(r.Context(), accountID, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			response.NotFound(w, "Order not found")
			return
		}
		errorhandler.Internal(r.Context(), w, err)
		return
	}
	response.OK(w, OrderResponseFromEntity(*o))
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	return r
}
