package domain

import (
	"fmt"
	"time"
)

// Priority ranks how loudly a notification should surface.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is one of the known priority levels.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Notification is a staff-facing alert derived from an event or fetched
// from the durable store during polling.
type Notification struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Title     string      `json:"title"`
	Message   string      `json:"message"`
	Priority  Priority    `json:"priority"`
	Data      interface{} `json:"data,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	Read      bool        `json:"read"`
}

// DeriveNotificationID builds the deterministic notification ID shared by
// the relay and the client-side templates, so a client that sees both the
// typed event and the derived new_notification collapses them into one.
func DeriveNotificationID(eventType EventType, orderID, status string) string {
	return fmt.Sprintf("%s:%s:%s", eventType, orderID, status)
}
