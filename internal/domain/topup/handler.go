package topup

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/numrent/numrent-api/internal/domain/account"
	"github.com/numrent/numrent-api/internal/middleware"
	"github.com/numrent/numrent-api/internal/pkg/errorhandler"
	"github.com/numrent/numrent-api/internal/pkg/imaging"
	"github.com/numrent/numrent-api/internal/pkg/response"
	"github.com/numrent/numrent-api/internal/pkg/slipverify"
	"github.com/numrent/numrent-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Submit handles POST /topups
// Multipart form with a "slip" image, or JSON {"payload": "..."}.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var sub Submission
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadSize+1<<10)
		if err := r.ParseMultipartForm(imaging.MaxUploadSize); err != nil {
			response.BadRequest(w, "File too large or invalid form")
			return
		}
		file, header, err := r.FormFile("slip")
		if err != nil {
			response.BadRequest(w, "No slip image provided")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, imaging.MaxUploadSize+1))
		if err != nil {
			response.BadRequest(w, "Could not read slip image")
			return
		}
		if int64(len(data)) > imaging.MaxUploadSize {
			response.BadRequest(w, "Slip image exceeds maximum size")
			return
		}
		sub = Submission{Image: data, Filename: header.Filename}
	} else {
		var req PayloadRequest
		if err := response.DecodeJSON(r.Body, &req); err != nil {
			response.BadRequest(w, "Invalid JSON body")
			return
		}
		if errs := validator.Validate(&req); errs != nil {
			response.ValidationError(w, errs)
			return
		}
		sub = Submission{Payload: req.Payload}
	}

	res, err := h.svc.SubmitSlip(r.Context(), accountID, sub)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, SubmitResponseFromResult(res))
}

// List handles GET /topups?limit=&offset=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	accountID := middleware.GetAccountID(r.Context())
	if accountID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	items, err := h.svc.History(r.Context(), accountID, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]TopupResponse, 0, len(items))
	for _, it := range items {
		out = append(out, TopupResponseFromEntity(it))
	}
	response.WithMeta(w, out, response.Meta{Limit: limit, Offset: offset, Count: len(out), HasNext: len(out) == limit})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := ErrorCode(err)
	switch {
	case errors.Is(err, ErrDuplicateSlip):
		errorhandler.Business(w, http.StatusConflict, code, "This slip has already been used", nil)
	case errors.Is(err, ErrStaleSlip):
		errorhandler.Business(w, http.StatusUnprocessableEntity, code, "This slip is too old to be accepted", nil)
	case errors.Is(err, ErrAmountUnreadable):
		errorhandler.Business(w, http.StatusUnprocessableEntity, code, "The slip amount or date could not be read", nil)
	case errors.Is(err, ErrInvalidImage):
		errorhandler.Business(w, http.StatusUnprocessableEntity, code, "Slip must be a JPEG, PNG, GIF or BMP image", nil)
	case errors.Is(err, slipverify.ErrUnavailable):
		errorhandler.Upstream(r.Context(), w, code, "Slip verification is unavailable, please try again", err)
	case errors.Is(err, ErrVerificationFailed):
		errorhandler.Business(w, http.StatusUnprocessableEntity, code, "The slip could not be verified", nil)
	case errors.Is(err, ErrEmptySubmission):
		response.BadRequest(w, err.Error())
	case errors.Is(err, ErrCreditDelayed):
		errorhandler.Business(w, http.StatusServiceUnavailable, code, "Slip accepted, your balance will be updated shortly", nil)
	case errors.Is(err, account.ErrAccountBlocked):
		response.Forbidden(w, "Account is blocked")
	case errors.Is(err, account.ErrAccountNotFound):
		response.NotFound(w, "Account not found")
	default:
		errorhandler.Internal(r.Context(), w, err)
	}
}

// Routes mounts the account-scoped top-up endpoints.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.List)
	r.Post("/", h.Submit)
	return r
}
