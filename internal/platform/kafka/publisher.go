package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"stockcore/internal/core"
	"stockcore/pkg/domain"
)

// OrderMessage is the payload written to the orders topic.
type OrderMessage struct {
	EventID    string         `json:"event_id"`
	Type       core.EventType `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Order      domain.Order   `json:"order"`
}

// MovementMessage is the payload written to the movements topic.
type MovementMessage struct {
	EventID    string               `json:"event_id"`
	CausedBy   string               `json:"caused_by"`
	OccurredAt time.Time            `json:"occurred_at"`
	Movement   domain.StockMovement `json:"movement"`
}

// Publisher implements core.EventPublisher. Orders are keyed by order ID and
// movements by stock key, so per-order and per-stock ordering survive
// partitioning.
type Publisher struct {
	orders    Producer
	movements Producer
	newID     func() string
}

var _ core.EventPublisher = (*Publisher)(nil)

// NewPublisher writes order events to orders and movement events to
// movements.
func NewPublisher(orders, movements Producer) *Publisher {
	return &Publisher{orders: orders, movements: movements, newID: func() string { return uuid.NewString() }}
}

// Publish writes the order message, then one message per movement. All
// writes are attempted; failures are joined.
func (p *Publisher) Publish(ctx context.Context, event core.OrderEvent) error {
	orderID := p.newID()
	payload, err := json.Marshal(OrderMessage{EventID: orderID, Type: event.Type, OccurredAt: event.OccurredAt, Order: event.Order})
	if err != nil {
		return fmt.Errorf("encode order event: %w", err)
	}
	var errs error
	if err := p.orders.WriteMessage(ctx, kafkago.Message{
		Key:     []byte(strconv.FormatInt(event.Order.ID, 10)),
		Value:   payload,
		Headers: []kafkago.Header{{Key: "event_type", Value: []byte(event.Type)}},
	}); err != nil {
		errs = errors.Join(errs, fmt.Errorf("publish order %d: %w", event.Order.ID, err))
	}
	for _, m := range event.Movements {
		payload, err := json.Marshal(MovementMessage{EventID: p.newID(), CausedBy: orderID, OccurredAt: event.OccurredAt, Movement: m})
		if err != nil {
			return errors.Join(errs, fmt.Errorf("encode movement %d: %w", m.ID, err))
		}
		if err := p.movements.WriteMessage(ctx, kafkago.Message{
			Key:     []byte(m.Key().String()),
			Value:   payload,
			Headers: []kafkago.Header{{Key: "movement_type", Value: []byte(m.Type)}},
		}); err != nil {
			errs = errors.Join(errs, fmt.Errorf("publish movement %d: %w", m.ID, err))
		}
	}
	return errs
}

// Close closes both producers.
func (p *Publisher) Close() error {
	return errors.Join(p.orders.Close(), p.movements.Close())
}
