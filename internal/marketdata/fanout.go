package marketdata

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradecore/pkg/metrics"
	"github.com/Aidin1998/tradecore/pkg/models"
)

type session struct {
	open, high, low decimal.Decimal
}

// Fanout is the single consumer of the active source. Each tick is
// persisted, published to WebSocket subscribers of its symbol and then
// handed to listeners, in that order.
type Fanout struct {
	store     *Store
	publisher Publisher
	logger    *zap.Logger

	primary  Source
	fallback Source

	listeners []TickListener
	sessions  map[string]*session

	mu     sync.RWMutex
	active string
	done   chan struct{}
}

// NewFanout creates a fan-out over primary. fallback, when non-nil, is
// started instead if primary fails to connect at start-up.
func NewFanout(store *Store, publisher Publisher, logger *zap.Logger, primary, fallback Source) *Fanout {
	return &Fanout{
		store:     store,
		publisher: publisher,
		logger:    logger,
		primary:   primary,
		fallback:  fallback,
		sessions:  make(map[string]*session),
		done:      make(chan struct{}),
	}
}

// AddListener registers l. Must be called before Start.
func (f *Fanout) AddListener(l TickListener) {
	f.listeners = append(f.listeners, l)
}

// Start connects the source and begins consuming ticks until ctx is done.
func (f *Fanout) Start(ctx context.Context) error {
	ticks := make(chan Tick, 1024)

	src := f.primary
	if err := src.Start(ctx, ticks); err != nil {
		if f.fallback == nil {
			return fmt.Errorf("failed to start %s source: %w", src.Name(), err)
		}
		f.logger.Warn("Market data source unavailable, falling back",
			zap.String("source", src.Name()),
			zap.String("fallback", f.fallback.Name()),
			zap.Error(err))
		src = f.fallback
		if err := src.Start(ctx, ticks); err != nil {
			return fmt.Errorf("failed to start %s source: %w", src.Name(), err)
		}
	}

	f.mu.Lock()
	f.active = src.Name()
	f.mu.Unlock()

	f.logger.Info("Market data fan-out started", zap.String("source", src.Name()))
	go f.consume(ctx, ticks, src.Name())
	return nil
}

// ActiveSource returns the name of the source in use.
func (f *Fanout) ActiveSource() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.active
}

// Done is closed when the consumer has exited.
func (f *Fanout) Done() <-chan struct{} {
	return f.done
}

func (f *Fanout) consume(ctx context.Context, ticks <-chan Tick, source string) {
	defer close(f.done)
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("Market data fan-out stopped")
			return
		case t := <-ticks:
			f.process(ctx, t)
			metrics.TicksProcessed.WithLabelValues(source).Inc()
		}
	}
}

func (f *Fanout) process(ctx context.Context, t Tick) {
	sess := f.session(t)

	assetID, err := f.store.UpsertPrice(ctx, t)
	if err != nil {
		f.logger.Error("Failed to cache tick price", zap.String("symbol", t.Symbol), zap.Error(err))
	} else {
		row := &models.MarketData{
			AssetID:   assetID,
			Symbol:    t.Symbol,
			Timestamp: t.Timestamp,
			Open:      sess.open,
			High:      sess.high,
			Low:       sess.low,
			Close:     t.Last,
			Bid:       t.Bid,
			Ask:       t.Ask,
			Volume:    t.Volume,
		}
		if err := f.store.InsertHistory(ctx, row); err != nil {
			f.logger.Error("Failed to store tick history", zap.String("symbol", t.Symbol), zap.Error(err))
		}
	}

	ev := Event{
		Type:      "market_data",
		Symbol:    t.Symbol,
		Timestamp: t.Timestamp,
		Open:      sess.open,
		High:      sess.high,
		Low:       sess.low,
		Close:     t.Last,
		Bid:       t.Bid,
		Ask:       t.Ask,
		Volume:    t.Volume,
	}
	if err := f.publisher.Publish(t.Symbol, ev); err != nil {
		f.logger.Error("Failed to publish tick", zap.String("symbol", t.Symbol), zap.Error(err))
	}

	for _, l := range f.listeners {
		l.OnTick(t)
	}
}

func (f *Fanout) session(t Tick) *session {
	s, ok := f.sessions[t.Symbol]
	if !ok {
		s = &session{open: t.Last, high: t.Last, low: t.Last}
		f.sessions[t.Symbol] = s
		return s
	}
	if t.Last.GreaterThan(s.high) {
		s.high = t.Last
	}
	if t.Last.LessThan(s.low) {
		s.low = t.Last
	}
	return s
}
