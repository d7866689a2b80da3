package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BridgeConfig configures the MT5 bridge client
type BridgeConfig struct {
	URL               string
	Symbols           []string
	DialTimeout       time.Duration
	ReconnectInterval time.Duration
}

// Bridge streams ticks from the MT5 bridge WebSocket. After the initial
// connection succeeds it reconnects and resubscribes on its own.
type Bridge struct {
	cfg    BridgeConfig
	logger *zap.Logger
	dialer *websocket.Dialer

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewBridge creates a bridge client
func NewBridge(cfg BridgeConfig, logger *zap.Logger) *Bridge {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 2 * time.Second
	}
	return &Bridge{
		cfg:    cfg,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
	}
}

func (b *Bridge) Name() string { return "bridge" }

func (b *Bridge) Start(ctx context.Context, out chan<- Tick) error {
	conn, err := b.connect(ctx)
	if err != nil {
		return err
	}
	b.logger.Info("Connected to MT5 bridge", zap.String("url", b.cfg.URL), zap.Strings("symbols", b.cfg.Symbols))

	go func() {
		<-ctx.Done()
		b.connMu.Lock()
		if b.conn != nil {
			b.conn.Close()
		}
		b.connMu.Unlock()
	}()
	go b.run(ctx, conn, out)
	return nil
}

func (b *Bridge) connect(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, b.cfg.DialTimeout)
	defer cancel()
	conn, _, err := b.dialer.DialContext(dialCtx, b.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial bridge %s: %w", b.cfg.URL, err)
	}
	for _, sym := range b.cfg.Symbols {
		if err := conn.WriteJSON(map[string]string{"action": "subscribe", "symbol": sym}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to subscribe %s: %w", sym, err)
		}
	}
	b.connMu.Lock()
	b.conn = conn
	b.connMu.Unlock()
	return conn, nil
}

func (b *Bridge) run(ctx context.Context, conn *websocket.Conn, out chan<- Tick) {
	for {
		b.readLoop(ctx, conn, out)
		conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.cfg.ReconnectInterval):
			}
			var err error
			if conn, err = b.connect(ctx); err == nil {
				b.logger.Info("Reconnected to MT5 bridge")
				break
			}
			b.logger.Warn("Bridge reconnect failed", zap.Error(err))
		}
	}
}

func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- Tick) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				b.logger.Warn("Bridge connection lost", zap.Error(err))
			}
			return
		}
		tick, ok := decodeBridgeFrame(raw)
		if !ok {
			continue
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return
		}
	}
}

type bridgeFrame struct {
	Type      string          `json:"type"`
	Symbol    string          `json:"symbol"`
	Timestamp string          `json:"timestamp"`
	Close     decimal.Decimal `json:"close"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Volume    decimal.Decimal `json:"volume"`
	Data      *bridgeQuote    `json:"data"`
}

type bridgeQuote struct {
	Symbol string          `json:"symbol"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Time   int64           `json:"time"`
}

// naive ISO timestamps from the bridge carry no zone and are read as UTC
const bridgeTimeLayout = "2006-01-02T15:04:05.999999"

// decodeBridgeFrame accepts "market_data" frames and the "price" frame the
// bridge sends right after a subscribe. Anything else is ignored.
func decodeBridgeFrame(raw []byte) (Tick, bool) {
	var f bridgeFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Tick{}, false
	}
	switch f.Type {
	case "market_data":
		if f.Symbol == "" {
			return Tick{}, false
		}
		last := f.Close
		if last.IsZero() {
			last = f.Bid
		}
		return Tick{
			Symbol:    f.Symbol,
			Bid:       f.Bid,
			Ask:       f.Ask,
			Last:      last,
			Volume:    f.Volume,
			Timestamp: parseBridgeTime(f.Timestamp),
		}, last.IsPositive()
	case "price":
		if f.Data == nil || f.Data.Symbol == "" {
			return Tick{}, false
		}
		ts := time.Now().UTC()
		if f.Data.Time > 0 {
			ts = time.Unix(f.Data.Time, 0).UTC()
		}
		return Tick{
			Symbol:    f.Data.Symbol,
			Bid:       f.Data.Bid,
			Ask:       f.Data.Ask,
			Last:      f.Data.Bid,
			Timestamp: ts,
		}, f.Data.Bid.IsPositive()
	}
	return Tick{}, false
}

func parseBridgeTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(bridgeTimeLayout, s); err == nil {
		return t
	}
	return time.Now().UTC()
}
