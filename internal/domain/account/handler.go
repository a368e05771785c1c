package account

import (
	"context"
	"errors"
	"net/http"

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

// Get handles GET /admin/accounts/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid account id")
		return
	}
	a, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, a)
}

// Block handles POST /admin/accounts/{id}/block
func (h *Handler) Block(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.svc.Block)
}

// Unblock handles POST /admin/accounts/{id}/unblock
func (h *Handler) Unblock(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.svc.Unblock)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request, apply func(context.Context, uuid.UUID) error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid account id")
		return
	}
	if err := apply(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	a, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, a)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrAccountNotFound):
		response.NotFound(w, "Account not found")
	default:
		errorhandler.Internal(r.Context(), w, err)
	}
}

// AdminRoutes mounts account moderation endpoints behind the admin role.
func (h *Handler) AdminRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireAdmin())
	r.Get("/{id}", h.Get)
	r.Post("/{id}/block", h.Block)
	r.Post("/{id}/unblock", h.Unblock)
	return r
}
