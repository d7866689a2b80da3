package ws

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client represents a single WebSocket connection. topics is owned by the
// hub goroutine.
type Client struct {
	id     string
	userID string
	conn   *websocket.Conn
	send   chan []byte
	topics map[string]struct{}
	hub    *Hub
}

// request is the client to server control frame:
// {"action":"subscribe","symbols":["EURUSD"]}
type request struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// readPump handles incoming control frames and subscription requests.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.cfg.PongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req request
		if err := json.Unmarshal(raw, &req); err != nil {
			c.hub.logger.Debug("Ignoring malformed WebSocket frame", zap.String("client_id", c.id))
			continue
		}
		var topics []string
		for _, s := range req.Symbols {
			if s = normalizeTopic(s); s != "" {
				topics = append(topics, s)
			}
		}
		var add bool
		switch req.Action {
		case "subscribe":
			add = true
		case "unsubscribe":
		default:
			continue
		}
		select {
		case c.hub.subscribe <- subscription{client: c, topics: topics, add: add}:
		case <-c.hub.done:
			return
		}
	}
}

// writePump sends messages and heartbeats to the client.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingPeriod)
	defer func() { ticker.Stop(); c.conn.Close() }()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// normalizeTopic upper-cases symbol topics to match published symbols.
// Private user topics keep their case.
func normalizeTopic(topic string) string {
	topic = strings.TrimSpace(topic)
	if strings.HasPrefix(topic, UserTopicPrefix) {
		return topic
	}
	return strings.ToUpper(topic)
}
