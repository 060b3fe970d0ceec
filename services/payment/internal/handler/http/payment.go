package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ali449/saga-orchestrator/pkg/httputil"
	"github.com/ali449/saga-orchestrator/services/payment/internal/domain"
)

// PaymentReader is the read side of the payment service. Payments are only
// created and refunded by saga commands, so HTTP exposes lookups alone.
type PaymentReader interface {
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	GetPaymentByOrder(ctx context.Context, aggregateID string) (*domain.Payment, error)
}

type PaymentHandler struct {
	payments PaymentReader
	logger   *slog.Logger
}

func NewPaymentHandler(payments PaymentReader, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, logger: logger}
}

// GetPayment handles GET /api/v1/payments/{id}
// @Summary Get a payment with its refunds
// @Tags payments
// @Produce json
// @Param id path string true "Payment UUID"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/payments/{id} [get]
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	h.respond(w, r, func(ctx context.Context) (*domain.Payment, error) {
		return h.payments.GetPayment(ctx, id.String())
	})
}

// GetPaymentByOrder handles GET /api/v1/payments?order_id=
// @Summary Get the payment charged by an order saga
// @Tags payments
// @Produce json
// @Param order_id query string true "Order aggregate ID"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/payments [get]
func (h *PaymentHandler) GetPaymentByOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("order_id")
	h.respond(w, r, func(ctx context.Context) (*domain.Payment, error) {
		return h.payments.GetPaymentByOrder(ctx, orderID)
	})
}

func (h *PaymentHandler) respond(w http.ResponseWriter, r *http.Request, load func(context.Context) (*domain.Payment, error)) {
	payment, err := load(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: payment})
}
