package docs

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lumbung-erp/lumbung-erp/internal/ledger"
	"github.com/lumbung-erp/lumbung-erp/internal/numbering"
	"github.com/lumbung-erp/lumbung-erp/internal/platform/httpx"
	"github.com/lumbung-erp/lumbung-erp/internal/shared"
)

// Handler wires HTTP endpoints for goods documents of one direction.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the document handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers document routes on the given router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/post", h.handlePost)
	r.Delete("/{id}", h.handleDelete)
}

type itemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	VariantID int64 `json:"variant_id" validate:"gte=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
}

type createRequest struct {
	PartnerName string        `json:"partner_name" validate:"max=255"`
	Note        string        `json:"note" validate:"max=1000"`
	Items       []itemRequest `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body is not valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	inputs := make([]ItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		inputs = append(inputs, ItemInput{ProductID: item.ProductID, VariantID: item.VariantID, Quantity: item.Quantity})
	}
	op, err := h.service.Create(r.Context(), shared.ActorFromContext(r.Context()), req.PartnerName, req.Note, inputs)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, op)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	ops, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ops)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive integer")
		return
	}
	op, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, op)
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive integer")
		return
	}
	op, err := h.service.Post(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, op)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive integer")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondError maps document and ledger errors onto problem responses. A
// shortage answers 409 with the full per-item breakdown; an exhausted
// number sequence answers 503 because retrying later can succeed.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var shortage *ledger.InsufficientStockError
	switch {
	case errors.As(err, &shortage):
		httpx.ProblemExtra(w, http.StatusConflict, "Insufficient Stock", shortage.Error(), map[string]any{"shortages": shortage.Shortages})
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrAlreadyPosted):
		httpx.Problem(w, http.StatusConflict, "Already Posted", err.Error())
	case errors.Is(err, ErrEmptyItems), errors.Is(err, ledger.ErrInvalidArgument):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, numbering.ErrExhaustedRetries):
		httpx.Problem(w, http.StatusServiceUnavailable, "Numbering Exhausted", err.Error())
	case errors.Is(err, ledger.ErrWriteFailed):
		h.logger.Error("document write failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Write Failed", "the operation was rolled back")
	default:
		h.logger.Error("document request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}
