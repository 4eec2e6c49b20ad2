package events

import (
	"context"
	"time"
)

// Order event types.
const (
	OrderCreated   = "order.created"
	OrderCompleted = "order.completed"
	OrderCancelled = "order.cancelled"
	OrderDeleted   = "order.deleted"
)

type Event struct {
	Type       string    `json:"type"`
	OrderID    int64     `json:"order_id"`
	TableID    int64     `json:"table_id"`
	Total      int64     `json:"total"`
	PointsUsed int64     `json:"points_used"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers events after the state change they describe has been
// committed. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
