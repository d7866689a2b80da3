package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func newTestPublisher() (*KafkaPublisher, map[string]*fakeWriter) {
	p := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, OrdersTopic: "orders", TradesTopic: "trades"}, zap.NewNop())
	writers := map[string]*fakeWriter{}
	p.newWriter = func(topic string) messageWriter {
		w := &fakeWriter{}
		writers[topic] = w
		return w
	}
	return p, writers
}

func TestKafkaPublisherRoutesByEventType(t *testing.T) {
	p, writers := newTestPublisher()
	user := uuid.New()
	ctx := context.Background()

	p.Notify(ctx, NewEvent(EventOrderCreated, user, map[string]string{"id": "o1"}))
	p.Notify(ctx, NewEvent(EventOrderFilled, user, map[string]string{"id": "o1"}))
	p.Notify(ctx, NewEvent(EventTradeCreated, user, map[string]string{"id": "t1"}))
	p.Notify(ctx, NewEvent(EventBalanceUpdated, user, map[string]string{"balance": "1"}))

	require.Contains(t, writers, "orders")
	require.Contains(t, writers, "trades")
	assert.Len(t, writers, 2)
	assert.Len(t, writers["orders"].msgs, 2)
	assert.Len(t, writers["trades"].msgs, 1)

	msg := writers["trades"].msgs[0]
	assert.Equal(t, user.String(), string(msg.Key))
	var ev Event
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, EventTradeCreated, ev.Type)

	require.NoError(t, p.Close())
	assert.True(t, writers["orders"].closed)
}

type fakeHub struct {
	users []string
	err   error
}

func (h *fakeHub) PublishToUser(userID string, _ interface{}) error {
	h.users = append(h.users, userID)
	return h.err
}

func TestHubNotifierTargetsOwner(t *testing.T) {
	hub := &fakeHub{}
	user := uuid.New()
	Multi{NewHubNotifier(hub, zap.NewNop()), Nop{}}.Notify(context.Background(), NewEvent(EventOrderCreated, user, nil))

	assert.Equal(t, []string{user.String()}, hub.users)
}

func TestHubNotifierSwallowsErrors(t *testing.T) {
	hub := &fakeHub{err: errors.New("closed")}
	assert.NotPanics(t, func() {
		NewHubNotifier(hub, zap.NewNop()).Notify(context.Background(), NewEvent(EventTradeCreated, uuid.New(), nil))
	})
}
