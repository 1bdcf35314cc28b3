package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector tracks ledger operation outcomes and wallet balances.
type Collector struct {
	registry      *prometheus.Registry
	opsTotal      *prometheus.CounterVec
	opDuration    *prometheus.HistogramVec
	walletBalance *prometheus.GaugeVec
}

// NewCollector builds a collector with its own registry so tests can run
// multiple instances without duplicate registration panics.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	return &Collector{
		registry: registry,
		opsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations by kind and outcome",
		}, []string{"operation", "outcome"}),
		opDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Time taken to apply a ledger operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		walletBalance: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "wallet_balance_minor_units",
			Help: "Last observed wallet balance in minor units",
		}, []string{"owner", "currency"}),
	}
}

// RecordOperation counts one operation outcome and its duration.
func (c *Collector) RecordOperation(operation string, seconds float64, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.opsTotal.WithLabelValues(operation, outcome).Inc()
	c.opDuration.WithLabelValues(operation).Observe(seconds)
}

// ObserveBalance records the latest balance for a wallet.
func (c *Collector) ObserveBalance(owner, currency string, balance int64) {
	if c == nil {
		return
	}
	c.walletBalance.WithLabelValues(owner, currency).Set(float64(balance))
}

// Handler serves the collector's registry over HTTP.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
