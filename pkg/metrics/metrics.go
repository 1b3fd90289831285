package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ListingsActive tracks the number of currently open listings
var ListingsActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "assetex_listings_active",
		Help: "Number of currently open listings",
	},
)

// SalesSettled counts settled purchases
var SalesSettled = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "assetex_sales_settled_total",
		Help: "Total number of settled purchases",
	},
)

// FeesCollected accumulates marketplace fees in smallest currency units
var FeesCollected = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "assetex_fees_collected_total",
		Help: "Total marketplace fees collected, in smallest currency units",
	},
)

// SettlementLatency records latency distribution for purchase settlement
var SettlementLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "assetex_settlement_latency_seconds",
		Help:    "Latency in seconds to settle individual purchases",
		Buckets: prometheus.DefBuckets,
	},
)

// OperationErrors counts failed marketplace operations by operation name
var OperationErrors = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "assetex_operation_errors_total",
		Help: "Total number of failed marketplace operations",
	},
	[]string{"operation"},
)

// Database connection pool metrics
var (
	DBOpenConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assetex_db_open_connections",
			Help: "Number of open connections in the DB pool",
		},
		[]string{"db"},
	)

	DBIdleConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assetex_db_idle_connections",
			Help: "Number of idle connections in the DB pool",
		},
		[]string{"db"},
	)

	DBInUseConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assetex_db_in_use_connections",
			Help: "Number of in-use connections in the DB pool",
		},
		[]string{"db"},
	)
)

func init() {
	prometheus.MustRegister(ListingsActive, SalesSettled, FeesCollected, SettlementLatency, OperationErrors)
	prometheus.MustRegister(DBOpenConns, DBIdleConns, DBInUseConns)
}
