package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startHub(t *testing.T, cfg Config) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(cfg, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, r.Header.Get("X-User-ID"))
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if userID != "" {
		header.Set("X-User-ID", userID)
	}
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func subscribe(t *testing.T, conn *websocket.Conn, action string, symbols ...string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": action, "symbols": symbols}))
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestSubscriberReceivesOnlyJoinedSymbols(t *testing.T) {
	hub, srv := startHub(t, Config{ReplaySize: 1})
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	subscribe(t, conn, "subscribe", "EURUSD")
	ack := readJSON(t, conn)
	assert.Equal(t, "subscribed", ack["type"])

	require.NoError(t, hub.Publish("GBPUSD", map[string]string{"symbol": "GBPUSD"}))
	require.NoError(t, hub.Publish("EURUSD", map[string]string{"symbol": "EURUSD"}))

	msg := readJSON(t, conn)
	assert.Equal(t, "EURUSD", msg["symbol"])
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub, srv := startHub(t, Config{})
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	subscribe(t, conn, "subscribe", "EURUSD", "XAUUSD")
	readJSON(t, conn)
	subscribe(t, conn, "unsubscribe", "EURUSD")
	assert.Equal(t, "unsubscribed", readJSON(t, conn)["type"])

	require.NoError(t, hub.Publish("EURUSD", map[string]string{"symbol": "EURUSD"}))
	require.NoError(t, hub.Publish("XAUUSD", map[string]string{"symbol": "XAUUSD"}))
	assert.Equal(t, "XAUUSD", readJSON(t, conn)["symbol"])
}

func TestLatestTickReplayedOnSubscribe(t *testing.T) {
	hub, srv := startHub(t, Config{ReplaySize: 1})
	early := &Client{id: "early", send: make(chan []byte, 4), topics: map[string]struct{}{"EURUSD": {}}, hub: hub}
	hub.register <- early

	require.NoError(t, hub.Publish("EURUSD", map[string]string{"close": "1.1"}))
	require.NoError(t, hub.Publish("EURUSD", map[string]string{"close": "1.2"}))
	<-early.send
	<-early.send

	conn := dial(t, srv, "")
	waitClients(t, hub, 2)
	subscribe(t, conn, "subscribe", "EURUSD")

	assert.Equal(t, "subscribed", readJSON(t, conn)["type"])
	assert.Equal(t, "1.2", readJSON(t, conn)["close"])
}

func TestPrivateChannelIsolation(t *testing.T) {
	hub, srv := startHub(t, Config{})
	alice := dial(t, srv, "alice")
	bob := dial(t, srv, "bob")
	waitClients(t, hub, 2)

	require.NoError(t, hub.PublishToUser("bob", map[string]string{"for": "bob"}))
	require.NoError(t, hub.PublishToUser("alice", map[string]string{"for": "alice"}))

	assert.Equal(t, "alice", readJSON(t, alice)["for"])
	assert.Equal(t, "bob", readJSON(t, bob)["for"])
}

func TestJoiningAnotherUsersChannelIsForbidden(t *testing.T) {
	hub, srv := startHub(t, Config{})
	conn := dial(t, srv, "alice")
	waitClients(t, hub, 1)

	subscribe(t, conn, "subscribe", UserTopic("bob"))
	msg := readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "Forbidden", msg["code"])

	ack := readJSON(t, conn)
	assert.Equal(t, "subscribed", ack["type"])
	assert.Nil(t, ack["symbols"])

	require.NoError(t, hub.PublishToUser("bob", map[string]string{"for": "bob"}))
	require.NoError(t, hub.PublishToUser("alice", map[string]string{"for": "alice"}))
	assert.Equal(t, "alice", readJSON(t, conn)["for"])
}

func TestSlowClientIsDisconnected(t *testing.T) {
	hub := NewHub(Config{SendBuffer: 1}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	c := &Client{id: "slow", send: make(chan []byte, 1), topics: map[string]struct{}{"EURUSD": {}}, hub: hub}
	hub.register <- c
	waitClients(t, hub, 1)

	require.NoError(t, hub.Publish("EURUSD", json.RawMessage(`{"n":1}`)))
	require.NoError(t, hub.Publish("EURUSD", json.RawMessage(`{"n":2}`)))

	waitClients(t, hub, 0)
	first, ok := <-c.send
	assert.True(t, ok)
	assert.JSONEq(t, `{"n":1}`, string(first))
	_, ok = <-c.send
	assert.False(t, ok)
}

func TestRingBufferKeepsNewest(t *testing.T) {
	rb := newRingBuffer(2)
	rb.add(Message{Data: []byte("a")})
	rb.add(Message{Data: []byte("b")})
	rb.add(Message{Data: []byte("c")})

	got := rb.all()
	require.Len(t, got, 2)
	assert.Equal(t, "b", string(got[0].Data))
	assert.Equal(t, "c", string(got[1].Data))
}

func TestSymbolSubscriptionIsCaseInsensitive(t *testing.T) {
	hub, srv := startHub(t, Config{})
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	subscribe(t, conn, "subscribe", " eurusd ")
	ack := readJSON(t, conn)
	assert.Equal(t, "subscribed", ack["type"])
	assert.Equal(t, []interface{}{"EURUSD"}, ack["symbols"])

	require.NoError(t, hub.Publish("EURUSD", map[string]string{"symbol": "EURUSD"}))
	assert.Equal(t, "EURUSD", readJSON(t, conn)["symbol"])
}

func TestNormalizeTopicKeepsUserChannels(t *testing.T) {
	assert.Equal(t, "XAUUSD", normalizeTopic("xauusd"))
	assert.Equal(t, "user:3f0c2a", normalizeTopic(" user:3f0c2a "))
	assert.Equal(t, "", normalizeTopic("  "))
}

func TestAnonymousClientCannotJoinUserChannels(t *testing.T) {
	hub, srv := startHub(t, Config{})
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	subscribe(t, conn, "subscribe", UserTopicPrefix)
	msg := readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "Forbidden", msg["code"])
}
