package trigger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradecore/internal/marketdata"
	"github.com/Aidin1998/tradecore/pkg/models"
)

// Executor carries out the state changes the monitor decides on. Every
// method re-validates against the database and returns the order as it
// stands afterwards whenever it could be loaded.
type Executor interface {
	OpenOrders(ctx context.Context) ([]models.Order, error)
	ExecuteTriggered(ctx context.Context, id uuid.UUID) (*models.Order, error)
	TriggerStop(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ExpireDayOrders(ctx context.Context, before time.Time) ([]uuid.UUID, error)
}

// Monitor watches resting limit, stop and stop-limit orders and acts on
// them when a tick crosses their price. Market orders that found no price
// at placement wait here for the next tick of their symbol.
type Monitor struct {
	executor Executor
	logger   *zap.Logger

	mu     sync.Mutex
	index  *Index
	prices map[string]decimal.Decimal
	signal chan struct{}

	sweepInterval time.Duration
	now           func() time.Time

	running  int32
	stopChan chan struct{}
	workerWg sync.WaitGroup
}

// NewMonitor creates a monitor. A zero sweepInterval disables day-order expiry.
func NewMonitor(executor Executor, sweepInterval time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		executor:      executor,
		logger:        logger,
		index:         NewIndex(),
		prices:        make(map[string]decimal.Decimal),
		signal:        make(chan struct{}, 1),
		sweepInterval: sweepInterval,
		now:           time.Now,
		stopChan:      make(chan struct{}),
	}
}

// Start loads open orders and begins processing ticks
func (m *Monitor) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return nil
	}

	orders, err := m.executor.OpenOrders(ctx)
	if err != nil {
		atomic.StoreInt32(&m.running, 0)
		return err
	}
	for i := range orders {
		m.Watch(&orders[i])
	}
	m.logger.Info("Starting trigger monitor", zap.Int("open_orders", len(orders)))

	m.workerWg.Add(1)
	go m.tickWorker(ctx)

	if m.sweepInterval > 0 {
		m.workerWg.Add(1)
		go m.sweepWorker(ctx)
	}
	return nil
}

// Stop stops the workers and waits for them to exit
func (m *Monitor) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return nil
	}
	m.logger.Info("Stopping trigger monitor")
	close(m.stopChan)
	m.workerWg.Wait()
	return nil
}

// Watch indexes an open order or a pending market order. Orders in any
// other state are ignored.
func (m *Monitor) Watch(o *models.Order) {
	if !Watchable(o) {
		return
	}
	snapshot := *o
	m.mu.Lock()
	m.index.Add(&snapshot)
	m.mu.Unlock()
}

// Watchable reports whether o can still be executed by a later tick.
func Watchable(o *models.Order) bool {
	switch o.Status {
	case models.OrderStatusOpen:
		return true
	case models.OrderStatusPending:
		return o.Type == models.OrderTypeMarket
	}
	return false
}

// Unwatch removes an order from the index
func (m *Monitor) Unwatch(id uuid.UUID) {
	m.mu.Lock()
	m.index.Remove(id)
	m.mu.Unlock()
}

// Watching reports the number of indexed orders.
func (m *Monitor) Watching() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index.Len()
}

// OnTick records the latest price of the tick's symbol. Ticks arriving
// faster than they are processed coalesce; only the newest price per
// symbol is evaluated.
func (m *Monitor) OnTick(t marketdata.Tick) {
	m.mu.Lock()
	m.prices[t.Symbol] = t.Last
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *Monitor) tickWorker(ctx context.Context) {
	defer m.workerWg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-m.signal:
			m.processPending(ctx)
		}
	}
}

type candidate struct {
	order *models.Order
	price decimal.Decimal
}

func (m *Monitor) processPending(ctx context.Context) {
	m.mu.Lock()
	var work []candidate
	for symbol, price := range m.prices {
		for _, o := range m.index.Crossed(symbol, price) {
			m.index.Remove(o.ID)
			work = append(work, candidate{order: o, price: price})
		}
	}
	m.prices = make(map[string]decimal.Decimal)
	m.mu.Unlock()

	for _, c := range work {
		if ctx.Err() != nil {
			return
		}
		m.handle(ctx, c.order, c.price)
	}
}

func (m *Monitor) handle(ctx context.Context, o *models.Order, price decimal.Decimal) {
	switch Evaluate(o, price) {
	case ActionTriggerStop:
		updated, err := m.executor.TriggerStop(ctx, o.ID)
		if err != nil {
			m.logger.Warn("Failed to trigger stop",
				zap.String("order_id", o.ID.String()), zap.Error(err))
			m.rewatch(o, updated)
			return
		}
		m.logger.Info("Stop triggered",
			zap.String("order_id", o.ID.String()),
			zap.String("symbol", o.Symbol),
			zap.String("price", price.String()))
		if updated == nil || updated.Status != models.OrderStatusOpen {
			return
		}
		if Evaluate(updated, price) == ActionFill {
			m.fill(ctx, updated, price)
			return
		}
		m.Watch(updated)

	case ActionFill:
		m.fill(ctx, o, price)

	default:
		m.Watch(o)
	}
}

func (m *Monitor) fill(ctx context.Context, o *models.Order, price decimal.Decimal) {
	updated, err := m.executor.ExecuteTriggered(ctx, o.ID)
	if err != nil {
		m.logger.Warn("Triggered execution failed",
			zap.String("order_id", o.ID.String()), zap.Error(err))
		m.rewatch(o, updated)
		return
	}
	if updated != nil && Watchable(updated) {
		m.Watch(updated)
		return
	}
	m.logger.Debug("Triggered order executed",
		zap.String("order_id", o.ID.String()),
		zap.String("tick_price", price.String()))
}

// rewatch puts an order back after a failed attempt, preferring the
// executor's fresh copy over the stale snapshot.
func (m *Monitor) rewatch(snapshot, fresh *models.Order) {
	if fresh != nil {
		m.Watch(fresh)
		return
	}
	m.Watch(snapshot)
}

func (m *Monitor) sweepWorker(ctx context.Context) {
	defer m.workerWg.Done()
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep cancels day orders created before the start of the current UTC day.
func (m *Monitor) Sweep(ctx context.Context) {
	now := m.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	ids, err := m.executor.ExpireDayOrders(ctx, midnight)
	if err != nil {
		m.logger.Error("Day order expiry failed", zap.Error(err))
	}
	for _, id := range ids {
		m.Unwatch(id)
	}
	if len(ids) > 0 {
		m.logger.Info("Expired day orders", zap.Int("count", len(ids)))
	}
}
