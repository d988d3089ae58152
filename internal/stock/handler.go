package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lumbung-erp/lumbung-erp/internal/catalog"
	"github.com/lumbung-erp/lumbung-erp/internal/ledger"
	"github.com/lumbung-erp/lumbung-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for stock figures and the stock card.
type Handler struct {
	logger     *slog.Logger
	aggregator *Aggregator
	cards      *ledger.CardReader
}

// NewHandler constructs the stock handler.
func NewHandler(logger *slog.Logger, aggregator *Aggregator, cards *ledger.CardReader) *Handler {
	return &Handler{logger: logger, aggregator: aggregator, cards: cards}
}

// MountRoutes registers stock routes on the given router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products/{id}", h.handleProductStock)
	r.Get("/products/{id}/value", h.handleProductValue)
	r.Get("/products/{id}/card", h.handleStockCard)
	r.Get("/variants/{id}", h.handleVariantStock)
	r.Get("/summary", h.handleSummary)
}

func (h *Handler) handleProductStock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive integer")
		return
	}
	qty, err := h.aggregator.CurrentStock(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product_id": id, "stock": qty})
}

func (h *Handler) handleVariantStock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive integer")
		return
	}
	qty, err := h.aggregator.CurrentStockForVariant(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"variant_id": id, "stock": qty})
}

func (h *Handler) handleProductValue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive integer")
		return
	}
	value, err := h.aggregator.StockValue(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product_id": id, "value": value.String()})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	inbound, err := h.aggregator.TodayInbound(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	outbound, err := h.aggregator.TodayOutbound(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	total, err := h.aggregator.TotalStockValue(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"today_inbound":  inbound,
		"today_outbound": outbound,
		"total_value":    total.String(),
	})
}

func (h *Handler) handleStockCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "id must be a positive integer")
		return
	}
	var from, to time.Time
	q := r.URL.Query()
	if raw := q.Get("from"); raw != "" {
		from, err = time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Window", "from must be YYYY-MM-DD")
			return
		}
	}
	if raw := q.Get("to"); raw != "" {
		to, err = time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Window", "to must be YYYY-MM-DD")
			return
		}
		// End of day inclusive.
		to = to.Add(24*time.Hour - time.Nanosecond)
	}
	card, err := h.cards.StockCard(r.Context(), id, from, to)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, card)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrProductNotFound), errors.Is(err, catalog.ErrVariantNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ledger.ErrInvalidArgument):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error("stock read failed", slog.Any("error", err))
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
