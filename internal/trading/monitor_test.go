package trading

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/tradecore/internal/marketdata"
	"github.com/Aidin1998/tradecore/internal/trading/trigger"
	"github.com/Aidin1998/tradecore/pkg/models"
	"github.com/Aidin1998/tradecore/testutil"
)

func TestMonitorFillsRestingLimitOnTick(t *testing.T) {
	f := newFixture(t, "10000", "100")
	mon := trigger.NewMonitor(f.svc, 0, zap.NewNop())
	f.svc.SetWatcher(mon)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, mon.Start(ctx))
	defer func() { _ = mon.Stop() }()

	order, err := f.place(t, PlaceOrderRequest{Type: models.OrderTypeLimit, Side: models.SideBuy, Quantity: d("10"), Price: dp("99")})
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusOpen, order.Status)
	assert.Equal(t, 1, mon.Watching())

	testutil.SetPrice(t, f.db, f.asset.ID, "98.5")
	mon.OnTick(marketdata.Tick{Symbol: "ABC", Last: decimal.RequireFromString("98.5"), Timestamp: time.Now().UTC()})

	require.Eventually(t, func() bool {
		got, err := f.svc.GetOrder(ctx, f.user.ID, order.ID)
		return err == nil && got.Status == models.OrderStatusFilled
	}, 2*time.Second, 10*time.Millisecond)

	got, err := f.svc.GetOrder(ctx, f.user.ID, order.ID)
	require.NoError(t, err)
	assertDecimal(t, "98.5", *got.AveragePrice)
	assert.Equal(t, 0, mon.Watching())
}

func TestMonitorReloadsOpenOrdersOnStart(t *testing.T) {
	f := newFixture(t, "10000", "100")
	_, err := f.place(t, PlaceOrderRequest{Type: models.OrderTypeStop, Side: models.SideBuy, Quantity: d("1"), StopPrice: dp("120")})
	require.NoError(t, err)

	mon := trigger.NewMonitor(f.svc, 0, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, mon.Start(ctx))
	defer func() { _ = mon.Stop() }()
	assert.Equal(t, 1, mon.Watching())
}

func TestMonitorFillsMarketOrderOnFirstTick(t *testing.T) {
	f := newFixture(t, "10000", "")
	mon := trigger.NewMonitor(f.svc, 0, zap.NewNop())
	f.svc.SetWatcher(mon)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, mon.Start(ctx))
	defer func() { _ = mon.Stop() }()

	order, err := f.place(t, market(models.SideBuy, "10"))
	require.Error(t, err)
	require.NotNil(t, order)
	require.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, 1, mon.Watching())

	testutil.SetPrice(t, f.db, f.asset.ID, "100")
	mon.OnTick(marketdata.Tick{Symbol: "ABC", Last: decimal.RequireFromString("100"), Timestamp: time.Now().UTC()})

	require.Eventually(t, func() bool {
		got, err := f.svc.GetOrder(ctx, f.user.ID, order.ID)
		return err == nil && got.Status == models.OrderStatusFilled
	}, 2*time.Second, 10*time.Millisecond)

	trades := f.trades(t)
	require.Len(t, trades, 1)
	assertDecimal(t, "100", trades[0].Price)
	assertDecimal(t, "8999", f.balance(t))
	assert.Equal(t, 0, mon.Watching())
}
