package order

import (
	"context"
	"time"
)

// EventType names an order lifecycle event.
type EventType string

const (
	EventCreated       EventType = "order.created"
	EventStatusChanged EventType = "order.status_changed"
)

// Event is recorded in the same transaction as the change it describes and
// delivered after commit.
type Event struct {
	Type           EventType `json:"type"`
	OrderID        string    `json:"orderId"`
	OrderNumber    int64     `json:"orderNumber"`
	Email          string    `json:"email"`
	Status         Status    `json:"status"`
	PreviousStatus Status    `json:"previousStatus,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// EventRecorder stores events for post-commit delivery.
type EventRecorder interface {
	Record(ctx context.Context, e Event) error
}

// Relay delivers recorded events. Kick must not block.
type Relay interface {
	Kick()
}
