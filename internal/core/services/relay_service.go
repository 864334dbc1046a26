package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/plategrid/backoffice-backend/internal/core/domain"
	apperrors "github.com/plategrid/backoffice-backend/internal/core/errors"
	"github.com/plategrid/backoffice-backend/internal/core/ports"
)

// RelayService is the ingestion surface for restaurant events. Each call
// synchronously broadcasts the typed event and, where a template exists,
// persists and broadcasts a derived new_notification. Events are fire and
// forget: no retry, no queue.
type RelayService struct {
	broadcaster ports.EventBroadcaster
	notifRepo   ports.NotificationRepository
	logger      *slog.Logger
}

var _ ports.RelayService = (*RelayService)(nil)

// NewRelayService creates a new event relay.
func NewRelayService(
	broadcaster ports.EventBroadcaster,
	notifRepo ports.NotificationRepository,
	logger *slog.Logger,
) *RelayService {
	return &RelayService{
		broadcaster: broadcaster,
		notifRepo:   notifRepo,
		logger:      logger.With("component", "relay_service"),
	}
}

// UpdateOrderStatus broadcasts an order status transition to the scope.
func (s *RelayService) UpdateOrderStatus(ctx context.Context, scopeID string, params ports.OrderStatusParams) error {
	if params.OrderID == "" {
		return apperrors.ErrOrderIDRequired
	}
	if params.Status == "" {
		return apperrors.ErrStatusRequired
	}

	now := time.Now().UTC()
	event := domain.Event{
		Type:    domain.EventOrderStatus,
		ScopeID: scopeID,
		Payload: domain.OrderStatusPayload{
			OrderID:     params.OrderID,
			OrderNumber: params.OrderNumber,
			Status:      string(params.Status),
			Timestamp:   now,
		},
		At: now,
	}

	if err := s.broadcaster.Broadcast(event); err != nil {
		return err
	}

	subject := params.OrderNumber
	if subject == "" {
		subject = params.OrderID
	}
	return s.deriveNotification(ctx, scopeID, domain.EventOrderStatus, params.OrderID, string(params.Status), subject)
}

// KitchenUpdate broadcasts a kitchen readiness change to the scope.
func (s *RelayService) KitchenUpdate(ctx context.Context, scopeID string, params ports.KitchenUpdateParams) error {
	if params.OrderID == "" {
		return apperrors.ErrOrderIDRequired
	}
	if params.Status == "" {
		return apperrors.ErrStatusRequired
	}

	now := time.Now().UTC()
	event := domain.Event{
		Type:    domain.EventKitchenUpdate,
		ScopeID: scopeID,
		Payload: domain.KitchenUpdatePayload{
			OrderID:   params.OrderID,
			Status:    params.Status,
			Timestamp: now,
		},
		At: now,
	}

	if err := s.broadcaster.Broadcast(event); err != nil {
		return err
	}

	return s.deriveNotification(ctx, scopeID, domain.EventKitchenUpdate, params.OrderID, params.Status, params.OrderID)
}

// NewOrder broadcasts a freshly created order to the scope.
func (s *RelayService) NewOrder(ctx context.Context, scopeID string, order domain.Order) error {
	if order.ID == "" {
		return apperrors.ErrOrderIDRequired
	}

	now := time.Now().UTC()
	event := domain.Event{
		Type:    domain.EventNewOrder,
		ScopeID: scopeID,
		Payload: domain.NewOrderPayload{Order: order},
		At:      now,
	}

	if err := s.broadcaster.Broadcast(event); err != nil {
		return err
	}

	subject := order.OrderNumber
	if subject == "" {
		subject = order.ID
	}
	return s.deriveNotification(ctx, scopeID, domain.EventNewOrder, order.ID, "", subject)
}

// InventoryChange broadcasts an inventory change. Inventory events carry no
// notification template; clients react with a silent refetch.
func (s *RelayService) InventoryChange(ctx context.Context, scopeID string, payload interface{}) error {
	event := domain.Event{
		Type:    domain.EventInventoryUpdate,
		ScopeID: scopeID,
		Payload: payload,
		At:      time.Now().UTC(),
	}
	return s.broadcaster.Broadcast(event)
}

// deriveNotification persists and broadcasts the templated notification for
// an event, if a template exists. The notification ID is deterministic so
// clients collapse the typed event and the derived notification into one.
func (s *RelayService) deriveNotification(ctx context.Context, scopeID string, eventType domain.EventType, orderID, status, subject string) error {
	tpl, ok := domain.TemplateFor(eventType, status)
	if !ok {
		return nil
	}

	now := time.Now().UTC()
	notification := &domain.Notification{
		ID:        domain.DeriveNotificationID(eventType, orderID, status),
		Type:      eventType,
		Title:     tpl.Title,
		Message:   tpl.Render(subject),
		Priority:  tpl.Priority,
		Data:      map[string]string{"orderId": orderID, "status": status},
		CreatedAt: now,
	}

	if err := s.notifRepo.Create(ctx, scopeID, notification); err != nil {
		// The push broadcast already went out; a store failure only degrades
		// the poll fallback, so log and keep going.
		s.logger.Error("failed to persist derived notification",
			"scope_id", scopeID,
			"notification_id", notification.ID,
			"error", err,
		)
	}

	return s.broadcaster.Broadcast(domain.Event{
		Type:    domain.EventNewNotification,
		ScopeID: scopeID,
		Payload: notification,
		At:      now,
	})
}
