package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/plategrid/backoffice-backend/internal/adapters/primary/http/middleware"
	"github.com/plategrid/backoffice-backend/internal/core/domain"
	apperrors "github.com/plategrid/backoffice-backend/internal/core/errors"
	"github.com/plategrid/backoffice-backend/internal/core/ports"
)

// RelayHandler exposes the event relay to the other back-office services
// (order taking, kitchen display, inventory). Each call broadcasts into
// the caller's restaurant scope.
type RelayHandler struct {
	relay        ports.RelayService
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewRelayHandler creates a new relay handler.
func NewRelayHandler(relay ports.RelayService, errorHandler *ErrorHandler, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		relay:        relay,
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// RegisterRoutes registers relay routes on the router.
func (h *RelayHandler) RegisterRoutes(r chi.Router) {
	r.Post("/order-status", h.HandleOrderStatus)
	r.Post("/kitchen", h.HandleKitchenUpdate)
	r.Post("/orders", h.HandleNewOrder)
	r.Post("/inventory", h.HandleInventoryChange)
}

type orderStatusRequest struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	Status      string `json:"status"`
}

// HandleOrderStatus relays an order status transition.
func (h *RelayHandler) HandleOrderStatus(w http.ResponseWriter, r *http.Request) {
	claims, ok := mw.ClaimsFromContext(r.Context())
	if !ok {
		h.errorHandler.Handle(w, r, apperrors.ErrUnauthorized)
		return
	}

	var req orderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.Handle(w, r, apperrors.NewBadRequestError(err, "invalid request body"))
		return
	}

	err := h.relay.UpdateOrderStatus(r.Context(), claims.RestaurantID, ports.OrderStatusParams{
		OrderID:     req.OrderID,
		OrderNumber: req.OrderNumber,
		Status:      domain.OrderStatus(req.Status),
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteNoContent(w)
}

type kitchenUpdateRequest struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

// HandleKitchenUpdate relays a kitchen readiness change.
func (h *RelayHandler) HandleKitchenUpdate(w http.ResponseWriter, r *http.Request) {
	claims, ok := mw.ClaimsFromContext(r.Context())
	if !ok {
		h.errorHandler.Handle(w, r, apperrors.ErrUnauthorized)
		return
	}

	var req kitchenUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.Handle(w, r, apperrors.NewBadRequestError(err, "invalid request body"))
		return
	}

	err := h.relay.KitchenUpdate(r.Context(), claims.RestaurantID, ports.KitchenUpdateParams{
		OrderID: req.OrderID,
		Status:  req.Status,
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteNoContent(w)
}

// HandleNewOrder relays a freshly created order.
func (h *RelayHandler) HandleNewOrder(w http.ResponseWriter, r *http.Request) {
	claims, ok := mw.ClaimsFromContext(r.Context())
	if !ok {
		h.errorHandler.Handle(w, r, apperrors.ErrUnauthorized)
		return
	}

	var order domain.Order
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		h.errorHandler.Handle(w, r, apperrors.NewBadRequestError(err, "invalid request body"))
		return
	}

	if err := h.relay.NewOrder(r.Context(), claims.RestaurantID, order); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteNoContent(w)
}

// HandleInventoryChange relays an inventory change payload as-is.
func (h *RelayHandler) HandleInventoryChange(w http.ResponseWriter, r *http.Request) {
	claims, ok := mw.ClaimsFromContext(r.Context())
	if !ok {
		h.errorHandler.Handle(w, r, apperrors.ErrUnauthorized)
		return
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.errorHandler.Handle(w, r, apperrors.NewBadRequestError(err, "invalid request body"))
		return
	}

	if err := h.relay.InventoryChange(r.Context(), claims.RestaurantID, payload); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteNoContent(w)
}
