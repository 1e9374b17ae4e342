// Package metrics exposes the Prometheus collectors the engine and
// HTTP boundary record against, grounded on tradSys's MetricsCollector:
// promauto-registered counters and histograms, one struct holding every
// collector so call sites take a single dependency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector groups every metric this service emits.
type Collector struct {
	ordersSubmitted  *prometheus.CounterVec
	ordersCancelled  *prometheus.CounterVec
	ordersRejected   *prometheus.CounterVec
	tradesExecuted   *prometheus.CounterVec
	matchLatency     *prometheus.HistogramVec
	ledgerFailures   *prometheus.CounterVec
	recoveryRestored prometheus.Gauge
}

// NewCollector registers and returns the collector set. Safe to call
// once per process; a second call against the default registry would
// panic on duplicate registration, matching promauto's behavior.
func NewCollector() *Collector {
	return &Collector{
		ordersSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ordercore_orders_submitted_total",
				Help: "Total number of orders submitted to the engine.",
			},
			[]string{"symbol", "side"},
		),
		ordersCancelled: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ordercore_orders_cancelled_total",
				Help: "Total number of orders cancelled.",
			},
			[]string{"symbol"},
		),
		ordersRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ordercore_orders_rejected_total",
				Help: "Total number of orders rejected at submission.",
			},
			[]string{"symbol", "reason"},
		),
		tradesExecuted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ordercore_trades_executed_total",
				Help: "Total number of trades executed by the matching engine.",
			},
			[]string{"symbol"},
		),
		matchLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ordercore_match_latency_seconds",
				Help:    "Latency of a single SubmitAndMatch call.",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
			},
			[]string{"symbol"},
		),
		ledgerFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ordercore_ledger_failures_total",
				Help: "Total number of best-effort ledger recordTrade failures.",
			},
			[]string{"symbol"},
		),
		recoveryRestored: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ordercore_recovery_orders_restored",
				Help: "Number of open orders restored into memory by the last recovery pass.",
			},
		),
	}
}

func (c *Collector) ObserveOrderSubmitted(symbol, side string) {
	c.ordersSubmitted.WithLabelValues(symbol, side).Inc()
}

func (c *Collector) ObserveOrderCancelled(symbol string) {
	c.ordersCancelled.WithLabelValues(symbol).Inc()
}

func (c *Collector) ObserveOrderRejected(symbol, reason string) {
	c.ordersRejected.WithLabelValues(symbol, reason).Inc()
}

func (c *Collector) ObserveTrades(symbol string, count int) {
	if count <= 0 {
		return
	}
	c.tradesExecuted.WithLabelValues(symbol).Add(float64(count))
}

func (c *Collector) ObserveMatchLatency(symbol string, d time.Duration) {
	c.matchLatency.WithLabelValues(symbol).Observe(d.Seconds())
}

func (c *Collector) ObserveLedgerFailure(symbol string) {
	c.ledgerFailures.WithLabelValues(symbol).Inc()
}

func (c *Collector) SetRecoveryRestored(n int) {
	c.recoveryRestored.Set(float64(n))
}
