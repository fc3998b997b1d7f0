package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	quotaUsed      prometheus.Gauge
	quotaRemaining prometheus.Gauge
	livenessChecks *prometheus.CounterVec
	tradesOpened   *prometheus.CounterVec
	tradesClosed   *prometheus.CounterVec
	orders         *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		quotaUsed: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mirrortrader_quota_units_used",
				Help: "API quota units used today",
			},
		),
		quotaRemaining: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mirrortrader_quota_units_remaining",
				Help: "API quota units remaining today",
			},
		),
		livenessChecks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirrortrader_liveness_checks_total",
				Help: "Total channel liveness checks by outcome",
			},
			[]string{"outcome"},
		),
		tradesOpened: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirrortrader_trades_opened_total",
				Help: "Total trades opened in the ledger",
			},
			[]string{"symbol"},
		),
		tradesClosed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirrortrader_trades_closed_total",
				Help: "Total trades closed in the ledger",
			},
			[]string{"symbol", "result"},
		),
		orders: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirrortrader_orders_total",
				Help: "Broker order outcomes",
			},
			[]string{"result"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirrortrader_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mirrortrader_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordQuotaUnits records the current quota position.
func (r *Recorder) RecordQuotaUnits(used, remaining int64) {
	r.quotaUsed.Set(float64(used))
	r.quotaRemaining.Set(float64(remaining))
}

// RecordLivenessCheck records one channel check by outcome.
func (r *Recorder) RecordLivenessCheck(outcome string) {
	r.livenessChecks.WithLabelValues(outcome).Inc()
}

// RecordTradeOpened records a new ledger trade.
func (r *Recorder) RecordTradeOpened(symbol string) {
	r.tradesOpened.WithLabelValues(symbol).Inc()
}

// RecordTradeClosed records a terminal ledger trade.
func (r *Recorder) RecordTradeClosed(symbol, result string) {
	r.tradesClosed.WithLabelValues(symbol, result).Inc()
}

// RecordOrder records a broker order outcome.
func (r *Recorder) RecordOrder(result string) {
	r.orders.WithLabelValues(result).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
