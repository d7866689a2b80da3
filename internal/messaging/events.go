// Package messaging delivers order, trade, position and balance events to
// the owning user's WebSocket channel and, optionally, to Kafka.
package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType names an event pushed to users and downstream consumers
type EventType string

const (
	EventOrderCreated    EventType = "order.created"
	EventOrderOpened     EventType = "order.opened"
	EventOrderFilled     EventType = "order.filled"
	EventOrderCancelled  EventType = "order.cancelled"
	EventOrderRejected   EventType = "order.rejected"
	EventTradeCreated    EventType = "trade.created"
	EventPositionUpdated EventType = "position.updated"
	EventPositionClosed  EventType = "position.closed"
	EventBalanceUpdated  EventType = "balance.updated"
)

// Event is the envelope for every notification
type Event struct {
	MessageID string      `json:"message_id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	UserID    string      `json:"user_id"`
	Data      interface{} `json:"data"`
}

// NewEvent stamps an event for userID.
func NewEvent(t EventType, userID uuid.UUID, data interface{}) Event {
	return Event{
		MessageID: uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		UserID:    userID.String(),
		Data:      data,
	}
}

// Notifier delivers events. Delivery is best effort: implementations log
// their own failures.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Multi fans one event out to several notifiers
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) {
	for _, n := range m {
		n.Notify(ctx, ev)
	}
}

// Nop discards events
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

type userPublisher interface {
	PublishToUser(userID string, v interface{}) error
}

// HubNotifier pushes events to the user's private WebSocket channel
type HubNotifier struct {
	hub    userPublisher
	logger *zap.Logger
}

// NewHubNotifier creates a notifier over a WebSocket hub
func NewHubNotifier(hub userPublisher, logger *zap.Logger) *HubNotifier {
	return &HubNotifier{hub: hub, logger: logger}
}

func (n *HubNotifier) Notify(_ context.Context, ev Event) {
	if err := n.hub.PublishToUser(ev.UserID, ev); err != nil {
		n.logger.Warn("Failed to push user event",
			zap.String("type", string(ev.Type)),
			zap.String("user_id", ev.UserID),
			zap.Error(err))
	}
}
