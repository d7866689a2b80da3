package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradecore/pkg/models"
	"github.com/Aidin1998/tradecore/testutil"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(topic string, v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev := v.(Event)
	if ev.Symbol != topic {
		return errors.New("topic mismatch")
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) snapshot() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

type recordingListener struct {
	mu    sync.Mutex
	ticks []Tick
}

func (l *recordingListener) OnTick(t Tick) {
	l.mu.Lock()
	l.ticks = append(l.ticks, t)
	l.mu.Unlock()
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ticks)
}

// chanSource forwards ticks written to in.
type chanSource struct {
	name string
	in   chan Tick
	err  error
}

func (s *chanSource) Name() string { return s.name }

func (s *chanSource) Start(ctx context.Context, out chan<- Tick) error {
	if s.err != nil {
		return s.err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-s.in:
				out <- t
			}
		}
	}()
	return nil
}

func tick(symbol, last string) Tick {
	p := decimal.RequireFromString(last)
	return Tick{Symbol: symbol, Bid: p, Ask: p, Last: p, Volume: decimal.NewFromInt(10), Timestamp: time.Now().UTC()}
}

func TestFanoutPersistsPublishesAndNotifies(t *testing.T) {
	db := testutil.NewTestDB(t)
	pub := &recordingPublisher{}
	listener := &recordingListener{}
	src := &chanSource{name: "test", in: make(chan Tick)}

	f := NewFanout(NewStore(db), pub, zap.NewNop(), src, nil)
	f.AddListener(listener)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.Start(ctx))
	assert.Equal(t, "test", f.ActiveSource())

	src.in <- tick("EURUSD", "1.10")
	src.in <- tick("EURUSD", "1.20")
	src.in <- tick("EURUSD", "1.05")
	require.Eventually(t, func() bool { return listener.count() == 3 }, 2*time.Second, 5*time.Millisecond)

	var assets []models.Asset
	require.NoError(t, db.Find(&assets).Error)
	require.Len(t, assets, 1)
	assert.True(t, assets[0].Price.Valid)
	assert.True(t, assets[0].Price.Decimal.Equal(decimal.RequireFromString("1.05")))

	var history []models.MarketData
	require.NoError(t, db.Where("symbol = ?", "EURUSD").Find(&history).Error)
	assert.Len(t, history, 3)
	for _, h := range history {
		assert.Equal(t, assets[0].ID, h.AssetID)
	}

	events := pub.snapshot()
	require.Len(t, events, 3)
	last := events[2]
	assert.Equal(t, "market_data", last.Type)
	assert.True(t, last.Open.Equal(decimal.RequireFromString("1.10")))
	assert.True(t, last.High.Equal(decimal.RequireFromString("1.20")))
	assert.True(t, last.Low.Equal(decimal.RequireFromString("1.05")))
	assert.True(t, last.Close.Equal(decimal.RequireFromString("1.05")))
}

func TestFanoutFallsBackToSimulator(t *testing.T) {
	db := testutil.NewTestDB(t)
	pub := &recordingPublisher{}

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	bridge := NewBridge(BridgeConfig{URL: deadURL, Symbols: []string{"EURUSD"}, DialTimeout: 200 * time.Millisecond}, zap.NewNop())
	sim := NewSimulator([]string{"EURUSD"}, map[string]float64{"EURUSD": 1.1}, 10*time.Millisecond, zap.NewNop())

	f := NewFanout(NewStore(db), pub, zap.NewNop(), bridge, sim)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.Start(ctx))
	assert.Equal(t, "simulator", f.ActiveSource())
	require.Eventually(t, func() bool { return len(pub.snapshot()) > 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestFanoutWithoutFallbackReportsError(t *testing.T) {
	src := &chanSource{name: "bridge", err: errors.New("refused")}
	f := NewFanout(NewStore(testutil.NewTestDB(t)), &recordingPublisher{}, zap.NewNop(), src, nil)
	assert.Error(t, f.Start(context.Background()))
}

func TestBridgeStreamsTicks(t *testing.T) {
	subscribed := make(chan string, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req map[string]string
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		subscribed <- req["action"] + ":" + req["symbol"]
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"status","connected":true}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(
			`{"type":"market_data","symbol":"EURUSD","timestamp":"2024-03-01T12:00:00.5","open":1.1,"high":1.2,"low":1.1,"close":1.1,"volume":1000,"bid":1.1,"ask":1.2}`))
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	b := NewBridge(BridgeConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Symbols: []string{"EURUSD"}}, zap.NewNop())
	out := make(chan Tick, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, b.Start(ctx, out))

	assert.Equal(t, "subscribe:EURUSD", <-subscribed)
	select {
	case got := <-out:
		assert.Equal(t, "EURUSD", got.Symbol)
		assert.True(t, got.Last.Equal(decimal.RequireFromString("1.1")))
		assert.True(t, got.Ask.Equal(decimal.RequireFromString("1.2")))
		assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 500000000, time.UTC), got.Timestamp)
	case <-time.After(2 * time.Second):
		t.Fatal("no tick received")
	}
}

func TestDecodeBridgeFrame(t *testing.T) {
	got, ok := decodeBridgeFrame([]byte(`{"type":"price","data":{"symbol":"XAUUSD","bid":2350.5,"ask":2351,"time":1700000000}}`))
	require.True(t, ok)
	assert.Equal(t, "XAUUSD", got.Symbol)
	assert.True(t, got.Last.Equal(decimal.RequireFromString("2350.5")))
	assert.Equal(t, int64(1700000000), got.Timestamp.Unix())

	_, ok = decodeBridgeFrame([]byte(`{"type":"trade_result","data":{}}`))
	assert.False(t, ok)
	_, ok = decodeBridgeFrame([]byte(`not json`))
	assert.False(t, ok)
	_, ok = decodeBridgeFrame([]byte(`{"type":"market_data","symbol":"EURUSD","close":0,"bid":0}`))
	assert.False(t, ok)
}

func TestSimulatorStaysPositive(t *testing.T) {
	sim := NewSimulator([]string{"EURUSD", "NEW"}, map[string]float64{"eurusd": 1.1}, time.Millisecond, zap.NewNop())
	for i := 0; i < 100; i++ {
		tk := sim.next("EURUSD")
		assert.True(t, tk.Last.IsPositive())
		assert.True(t, tk.Ask.GreaterThanOrEqual(tk.Bid))
	}
	assert.InDelta(t, 100, sim.next("NEW").Last.InexactFloat64(), 1)
}

type fakeRedis struct {
	mu       sync.Mutex
	channels []string
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, _ interface{}) *redis.IntCmd {
	f.mu.Lock()
	f.channels = append(f.channels, channel)
	f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

func TestRedisRelayPublishesPerSymbolChannel(t *testing.T) {
	fr := &fakeRedis{}
	relay := NewRedisRelay(fr, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx)

	relay.OnTick(tick("EURUSD", "1.1"))
	relay.OnTick(tick("XAUUSD", "2350"))

	require.Eventually(t, func() bool {
		fr.mu.Lock()
		defer fr.mu.Unlock()
		return len(fr.channels) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ticks:EURUSD", "ticks:XAUUSD"}, fr.channels)
}

func TestStoreHistoryNewestFirst(t *testing.T) {
	db := testutil.NewTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		tk := tick("EURUSD", "1.1")
		tk.Timestamp = base.Add(time.Duration(i) * time.Second)
		id, err := store.UpsertPrice(ctx, tk)
		require.NoError(t, err)
		require.NoError(t, store.InsertHistory(ctx, &models.MarketData{AssetID: id, Symbol: "EURUSD", Timestamp: tk.Timestamp, Close: tk.Last}))
	}

	rows, err := store.History(ctx, "EURUSD", time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Timestamp.After(rows[1].Timestamp))

	assets, err := store.Assets(ctx)
	require.NoError(t, err)
	assert.Len(t, assets, 1)
}
