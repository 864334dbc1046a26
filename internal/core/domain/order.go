package domain

import "time"

// OrderStatus is the lifecycle state of an order as seen by staff.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderPreparing OrderStatus = "preparing"
	OrderReady     OrderStatus = "ready"
	OrderServed    OrderStatus = "served"
	OrderCancelled OrderStatus = "cancelled"
)

// Order is the slim projection of an order carried inside new_order events.
// Full order persistence lives outside this subsystem.
type Order struct {
	ID          string      `json:"id"`
	OrderNumber string      `json:"orderNumber"`
	TableNumber string      `json:"tableNumber,omitempty"`
	Status      OrderStatus `json:"status"`
	Total       float64     `json:"total"`
	CreatedAt   time.Time   `json:"createdAt"`
}
