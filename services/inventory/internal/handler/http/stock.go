package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ali449/saga-orchestrator/pkg/httputil"
	"github.com/ali449/saga-orchestrator/pkg/validator"
	"github.com/ali449/saga-orchestrator/services/inventory/internal/service"
)

// StockHandler handles HTTP requests for stock endpoints.
type StockHandler struct {
	service *service.StockService
	logger  *slog.Logger
}

// NewStockHandler creates a new stock HTTP handler.
func NewStockHandler(svc *service.StockService, logger *slog.Logger) *StockHandler {
	return &StockHandler{
		service: svc,
		logger:  logger,
	}
}

// IncreaseStockRequest is the JSON request body for adding stock.
type IncreaseStockRequest struct {
	StockID  string `json:"stock_id" validate:"required,max=255,excludesall=0x7C"`
	Quantity int64  `json:"quantity" validate:"required,gt=0"`
}

// IncreaseStock handles POST /api/v1/stocks
func (h *StockHandler) IncreaseStock(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req IncreaseStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return
	}

	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	stock, err := h.service.IncreaseStock(r.Context(), req.StockID, req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: stock})
}

// GetStock handles GET /api/v1/stocks/{id}
func (h *StockHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	stock, err := h.service.GetStock(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: stock})
}

// ClearStock handles DELETE /api/v1/stocks/{id}
func (h *StockHandler) ClearStock(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearStock(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
