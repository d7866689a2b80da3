package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersPlaced counts accepted orders by type and side
var OrdersPlaced = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradecore_orders_placed_total",
		Help: "Total number of orders accepted by intake",
	},
	[]string{"type", "side"},
)

// OrdersRejected counts orders refused at intake or rejected at settlement, by error kind
var OrdersRejected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradecore_orders_rejected_total",
		Help: "Total number of rejected orders",
	},
	[]string{"kind"},
)

// Fills counts executed trades by side
var Fills = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "tradecore_fills_total",
		Help: "Total number of executed fills",
	},
	[]string{"side"},
)

// FillLatency records how long a fill transaction takes
var FillLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "tradecore_fill_latency_seconds",
		Help:    "Latency in seconds of the fill and settlement transaction",
		Buckets: prometheus.DefBuckets,
	},
)

// Market data metrics
var (
	TicksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_ticks_processed_total",
			Help: "Total number of ticks consumed by the fan-out",
		},
		[]string{"source"},
	)

	WSClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradecore_ws_clients",
			Help: "Number of connected WebSocket clients",
		},
	)

	WSSlowDisconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradecore_ws_slow_disconnects_total",
			Help: "WebSocket clients disconnected because their send queue was full",
		},
	)
)

// Database connection pool metrics
var (
	DBOpenConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradecore_db_open_connections",
			Help: "Number of open connections in the DB pool",
		},
		[]string{"db"},
	)

	DBInUseConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradecore_db_in_use_connections",
			Help: "Number of in-use connections in the DB pool",
		},
		[]string{"db"},
	)
)

func init() {
	prometheus.MustRegister(OrdersPlaced, OrdersRejected, Fills, FillLatency)
	prometheus.MustRegister(TicksProcessed, WSClients, WSSlowDisconnects)
	prometheus.MustRegister(DBOpenConns, DBInUseConns)
}
