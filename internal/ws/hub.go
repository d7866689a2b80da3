// Package ws provides the WebSocket hub: symbol rooms with latest-tick
// replay and per-user private channels.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradecore/pkg/metrics"
)

// UserTopicPrefix prefixes private per-user channels.
const UserTopicPrefix = "user:"

// UserTopic returns the private channel name for a user.
func UserTopic(userID string) string {
	return UserTopicPrefix + userID
}

// Config holds hub tuning
type Config struct {
	// ReplaySize is the number of recent messages replayed per topic on subscribe.
	ReplaySize int
	// SendBuffer is the per-client queue length. A client whose queue is
	// full is disconnected.
	SendBuffer int
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		ReplaySize: 1,
		SendBuffer: 256,
		PingPeriod: 30 * time.Second,
		PongWait:   60 * time.Second,
		WriteWait:  10 * time.Second,
	}
}

// Message is one payload published to a topic.
type Message struct {
	Topic string
	Data  []byte
}

// ringBuffer holds the last N messages for a topic.
type ringBuffer struct {
	buf   []Message
	size  int
	start int
	count int
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{buf: make([]Message, size), size: size}
}

// add appends a message, overwriting old entries when full.
func (r *ringBuffer) add(msg Message) {
	idx := (r.start + r.count) % r.size
	if r.count == r.size {
		r.start = (r.start + 1) % r.size
		r.count--
	}
	r.buf[idx] = msg
	r.count++
}

// all returns buffered messages oldest first.
func (r *ringBuffer) all() []Message {
	out := make([]Message, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.start+i)%r.size])
	}
	return out
}

type subscription struct {
	client *Client
	topics []string
	add    bool
}

// Hub manages all WebSocket clients. A single goroutine (Run) owns the
// client set, subscriptions and replay buffers, so messages for a topic
// reach every subscriber in publish order.
type Hub struct {
	cfg    Config
	logger *zap.Logger

	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	broadcast  chan Message
	done       chan struct{}

	clients map[*Client]struct{}
	buffers map[string]*ringBuffer
	count   atomic.Int64

	upgrader websocket.Upgrader
}

// NewHub creates a hub. Call Run to start it.
func NewHub(cfg Config, logger *zap.Logger) *Hub {
	def := DefaultConfig()
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.PingPeriod <= 0 {
		cfg.PingPeriod = def.PingPeriod
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	return &Hub{
		cfg:        cfg,
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscription),
		broadcast:  make(chan Message, 1024),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		buffers:    make(map[string]*ringBuffer),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run processes hub events until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer func() {
		close(h.done)
		for c := range h.clients {
			h.drop(c)
		}
		h.logger.Info("WebSocket hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Add(1)
			metrics.WSClients.Inc()
			if c.userID != "" {
				c.topics[UserTopic(c.userID)] = struct{}{}
			}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
		case sub := <-h.subscribe:
			if _, ok := h.clients[sub.client]; ok {
				h.applySubscription(sub)
			}
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) applySubscription(sub subscription) {
	c := sub.client
	if !sub.add {
		for _, topic := range sub.topics {
			delete(c.topics, topic)
		}
		h.enqueue(c, mustMarshal(controlMessage{Type: "unsubscribed", Symbols: sub.topics}))
		return
	}

	accepted := make([]string, 0, len(sub.topics))
	for _, topic := range sub.topics {
		if strings.HasPrefix(topic, UserTopicPrefix) && (c.userID == "" || topic != UserTopic(c.userID)) {
			if !h.enqueue(c, mustMarshal(controlMessage{Type: "error", Code: "Forbidden", Message: "cannot join another user's channel", Symbols: []string{topic}})) {
				return
			}
			continue
		}
		c.topics[topic] = struct{}{}
		accepted = append(accepted, topic)
	}
	if !h.enqueue(c, mustMarshal(controlMessage{Type: "subscribed", Symbols: accepted})) {
		return
	}
	for _, topic := range accepted {
		buf, ok := h.buffers[topic]
		if !ok {
			continue
		}
		for _, m := range buf.all() {
			if !h.enqueue(c, m.Data) {
				return
			}
		}
	}
}

func (h *Hub) deliver(msg Message) {
	if h.cfg.ReplaySize > 0 && !strings.HasPrefix(msg.Topic, UserTopicPrefix) {
		buf, ok := h.buffers[msg.Topic]
		if !ok {
			buf = newRingBuffer(h.cfg.ReplaySize)
			h.buffers[msg.Topic] = buf
		}
		buf.add(msg)
	}
	for c := range h.clients {
		if _, sub := c.topics[msg.Topic]; sub {
			h.enqueue(c, msg.Data)
		}
	}
}

// enqueue hands data to the client's writer, disconnecting it when its
// queue is full. It reports whether the client is still connected.
func (h *Hub) enqueue(c *Client, data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		h.logger.Warn("Disconnecting slow WebSocket client", zap.String("client_id", c.id))
		metrics.WSSlowDisconnects.Inc()
		h.drop(c)
		return false
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	h.count.Add(-1)
	metrics.WSClients.Dec()
	close(c.send)
}

// Publish marshals v and sends it to every subscriber of topic.
func (h *Hub) Publish(topic string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.PublishRaw(topic, data)
	return nil
}

// PublishRaw sends an already encoded payload to every subscriber of topic.
func (h *Hub) PublishRaw(topic string, data []byte) {
	select {
	case h.broadcast <- Message{Topic: topic, Data: data}:
	case <-h.done:
	}
}

// PublishToUser sends v on the user's private channel only.
func (h *Hub) PublishToUser(userID string, v interface{}) error {
	return h.Publish(UserTopic(userID), v)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// ServeWS upgrades the request and registers a client bound to userID. An
// empty userID yields an anonymous client limited to market data.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}
	c := &Client{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, h.cfg.SendBuffer),
		topics: make(map[string]struct{}),
		hub:    h,
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

type controlMessage struct {
	Type    string   `json:"type"`
	Code    string   `json:"code,omitempty"`
	Message string   `json:"message,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
}

func mustMarshal(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}
