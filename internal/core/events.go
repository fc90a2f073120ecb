package core

import (
	"time"

	"stockcore/pkg/domain"
)

// EventType names a committed lifecycle transition.
type EventType string

// Lifecycle event types.
const (
	EventOrderCreated   EventType = "order.created"
	EventOrderUpdated   EventType = "order.updated"
	EventOrderCanceled  EventType = "order.canceled"
	EventOrderResumed   EventType = "order.resumed"
	EventOrderCompleted EventType = "order.completed"
)

// OrderEvent describes a committed lifecycle operation together with the
// movements it recorded.
type OrderEvent struct {
	Type       EventType              `json:"type"`
	Order      domain.Order           `json:"order"`
	Movements  []domain.StockMovement `json:"movements"`
	OccurredAt time.Time              `json:"occurred_at"`
}
