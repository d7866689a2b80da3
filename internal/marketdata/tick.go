// Package marketdata consumes ticks from one upstream source, caches the
// latest price on the asset row, stores history and republishes ticks to
// WebSocket subscribers and in-process listeners.
package marketdata

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one price update for a symbol.
type Tick struct {
	Symbol    string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last      decimal.Decimal
	Volume    decimal.Decimal
	Timestamp time.Time
}

// Source produces ticks. Start returns once the source is streaming, or an
// error if it could not connect; ticks are then sent on out until ctx is done.
type Source interface {
	Name() string
	Start(ctx context.Context, out chan<- Tick) error
}

// TickListener is notified after a tick has been persisted and published.
// Implementations must not block.
type TickListener interface {
	OnTick(Tick)
}

// Publisher delivers a payload to every subscriber of a topic.
type Publisher interface {
	Publish(topic string, v interface{}) error
}

// Event is the WebSocket payload pushed for each tick. Open, High and Low
// are session values since the fan-out started.
type Event struct {
	Type      string          `json:"type"`
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Volume    decimal.Decimal `json:"volume"`
}
