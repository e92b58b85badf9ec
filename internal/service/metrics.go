package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsSubsystem = "market"

// Metrics are the service's Prometheus collectors.
type Metrics struct {
	// Trades counts successful trades by side.
	Trades *prometheus.CounterVec
	// TradeVolume sums gross trade amounts in settlement base units by side.
	TradeVolume *prometheus.CounterVec
	// Resolutions counts resolution steps by kind (assert, dispute, settle).
	Resolutions *prometheus.CounterVec
	// Events counts events handed to the bus.
	Events prometheus.Counter
	// PublishFailures counts bus or cache errors while publishing events.
	PublishFailures prometheus.Counter
	// PriceCacheHits counts price reads served from the cache, by result.
	PriceCacheHits *prometheus.CounterVec
}

// PrometheusMetrics builds the collectors and registers them with reg.
func PrometheusMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := newMetrics(namespace)
	if reg != nil {
		reg.MustRegister(m.Trades, m.TradeVolume, m.Resolutions, m.Events, m.PublishFailures, m.PriceCacheHits)
	}
	return m
}

// NopMetrics returns collectors that are never exported.
func NopMetrics() *Metrics {
	return newMetrics("lmsr")
}

func newMetrics(namespace string) *Metrics {
	return &Metrics{
		Trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "trades_total",
			Help:      "Number of executed trades.",
		}, []string{"side"}),
		TradeVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "trade_volume_base_units_total",
			Help:      "Gross traded amount in settlement base units.",
		}, []string{"side"}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "resolution_steps_total",
			Help:      "Number of assert, dispute and settle steps.",
		}, []string{"step"}),
		Events: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "events_published_total",
			Help:      "Number of market events handed to the bus.",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "publish_failures_total",
			Help:      "Number of failed bus or cache operations while publishing.",
		}),
		PriceCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "price_cache_lookups_total",
			Help:      "Price cache lookups by result (hit, miss, error).",
		}, []string{"result"}),
	}
}
