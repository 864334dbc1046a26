package domain

import (
	"encoding/json"
	"time"
)

// EventType defines the type of real-time event.
type EventType string

const (
	EventOrderStatus     EventType = "order_status_update"
	EventKitchenUpdate   EventType = "kitchen_update"
	EventNewOrder        EventType = "new_order"
	EventNewNotification EventType = "new_notification"
	EventInventoryUpdate EventType = "inventory_update"

	// EventScopePresence is sent to existing members of a scope whenever
	// its membership count changes.
	EventScopePresence EventType = "scope_presence"
)

// Event is the payload fanned out over the push channel. It is immutable
// once emitted and never persisted by the broker itself.
type Event struct {
	Type    EventType   `json:"type"`
	ScopeID string      `json:"scopeId"` // Restaurant-level routing key
	Payload interface{} `json:"payload"`
	At      time.Time   `json:"timestamp"`
}

// OrderStatusPayload is the payload of an order_status_update event.
type OrderStatusPayload struct {
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

// KitchenUpdatePayload is the payload of a kitchen_update event.
type KitchenUpdatePayload struct {
	OrderID   string    `json:"orderId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// NewOrderPayload wraps the freshly created order.
type NewOrderPayload struct {
	Order Order `json:"order"`
}

// PresencePayload carries the updated member count of a scope.
type PresencePayload struct {
	ScopeID     string `json:"scopeId"`
	MemberCount int    `json:"memberCount"`
}

// JoinRequest is the first message a client sends after the socket opens.
type JoinRequest struct {
	ScopeID   string `json:"scopeId"`
	AuthToken string `json:"authToken"`
}

// JoinAck acknowledges a successful join to the joining connection only.
type JoinAck struct {
	ScopeID  string `json:"scopeId"`
	ClientID string `json:"clientId"`
	Status   string `json:"status"`
}

// ErrorPayload is sent to a single connection when its request was invalid.
// It is never broadcast.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClientMessage is the envelope for messages sent from a client connection.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}
