package domain

import "fmt"

// NotificationTemplate maps an event to the title/message/priority of the
// notification it derives. Event/status pairs without a template only
// trigger a silent data refetch on the client.
type NotificationTemplate struct {
	Title    string
	Message  string // fmt verb receives the order number or order id
	Priority Priority
}

// templates keys are eventType|status. new_order is keyed on the event
// type alone.
var templates = map[string]NotificationTemplate{
	string(EventOrderStatus) + "|ready":     {Title: "Order Ready", Message: "Order %s is ready to serve", Priority: PriorityHigh},
	string(EventOrderStatus) + "|cancelled": {Title: "Order Cancelled", Message: "Order %s was cancelled", Priority: PriorityUrgent},
	string(EventKitchenUpdate) + "|ready":   {Title: "Order Ready", Message: "Kitchen finished order %s", Priority: PriorityHigh},
	string(EventNewOrder) + "|":             {Title: "New Order", Message: "New order %s received", Priority: PriorityUrgent},
}

// TemplateFor returns the notification template for an event type and
// status, if one exists.
func TemplateFor(eventType EventType, status string) (NotificationTemplate, bool) {
	tpl, ok := templates[string(eventType)+"|"+status]
	return tpl, ok
}

// Render builds the notification message for the given subject.
func (t NotificationTemplate) Render(subject string) string {
	return fmt.Sprintf(t.Message, subject)
}
