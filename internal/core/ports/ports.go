package ports

import (
	"context"

	"github.com/plategrid/backoffice-backend/internal/core/domain"
)

// EventBroadcaster is the port the relay uses to fan events out to a scope.
// The websocket hub is the production implementation.
type EventBroadcaster interface {
	Broadcast(event domain.Event) error
}

// NotificationRepository is the durable store behind the poll-fallback
// listing endpoint.
type NotificationRepository interface {
	Create(ctx context.Context, scopeID string, n *domain.Notification) error
	ListByScope(ctx context.Context, params ListNotificationsParams) ([]*domain.Notification, error)
	MarkRead(ctx context.Context, scopeID, id string) error
}

// ListNotificationsParams filters the durable notification listing.
type ListNotificationsParams struct {
	ScopeID    string
	UnreadOnly bool
	Limit      int
}

// RelayService is the ingestion surface domain logic calls to publish
// restaurant events into the broker.
type RelayService interface {
	UpdateOrderStatus(ctx context.Context, scopeID string, params OrderStatusParams) error
	KitchenUpdate(ctx context.Context, scopeID string, params KitchenUpdateParams) error
	NewOrder(ctx context.Context, scopeID string, order domain.Order) error
	InventoryChange(ctx context.Context, scopeID string, payload interface{}) error
}

// OrderStatusParams is the input for an order status transition broadcast.
type OrderStatusParams struct {
	OrderID     string
	OrderNumber string
	Status      domain.OrderStatus
}

// KitchenUpdateParams is the input for a kitchen readiness broadcast.
type KitchenUpdateParams struct {
	OrderID string
	Status  string
}

// TokenVerifier checks a staff auth token and yields its claims. Token
// issuance is an external collaborator; this subsystem only verifies.
type TokenVerifier interface {
	Verify(token string) (*TokenClaims, error)
}

// TokenClaims is the verified identity attached to a connection.
type TokenClaims struct {
	StaffID      string
	RestaurantID string
}
