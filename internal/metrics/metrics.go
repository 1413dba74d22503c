// Package metrics exposes Prometheus instrumentation for the rebalancing
// cycle and the venue adapter.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics for the rebalancer.
type Registry struct {
	registry *prometheus.Registry

	// Cycle outcomes
	Cycles        *prometheus.CounterVec
	CycleDuration prometheus.Histogram

	// Price waterfall
	PriceResolutions *prometheus.CounterVec

	// Order generation
	OrdersGenerated  *prometheus.CounterVec
	UnresolvedOrders prometheus.Counter
	BuyNotional      prometheus.Gauge

	// Handshake protocol
	PhaseWaits *prometheus.HistogramVec

	// Venue adapter
	OrdersSubmitted *prometheus.CounterVec
}

// New creates a metrics registry with all rebalancer metrics registered.
func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebalancer_cycles_total",
				Help: "Total number of rebalancing cycles by outcome",
			},
			[]string{"outcome"},
		),

		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rebalancer_cycle_duration_seconds",
				Help:    "End-to-end duration of one rebalancing cycle",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
			},
		),

		PriceResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebalancer_price_resolutions_total",
				Help: "Price lookups by winning waterfall source",
			},
			[]string{"source"},
		),

		OrdersGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebalancer_orders_generated_total",
				Help: "Orders emitted by direction",
			},
			[]string{"direction"},
		),

		UnresolvedOrders: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rebalancer_unresolved_orders_total",
				Help: "Orders flagged for operator review because no price source resolved",
			},
		),

		BuyNotional: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rebalancer_buy_notional",
				Help: "Total buy notional committed in the last cycle",
			},
		),

		PhaseWaits: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rebalancer_phase_wait_seconds",
				Help:    "Time spent waiting for the counterpart process per handshake phase",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"phase"},
		),

		OrdersSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rebalancer_orders_submitted_total",
				Help: "Venue adapter order submissions by status",
			},
			[]string{"status"},
		),
	}

	r.registry.MustRegister(
		r.Cycles,
		r.CycleDuration,
		r.PriceResolutions,
		r.OrdersGenerated,
		r.UnresolvedOrders,
		r.BuyNotional,
		r.PhaseWaits,
		r.OrdersSubmitted,
	)

	return r
}

// RecordCycle records a finished cycle with its outcome and duration.
func (r *Registry) RecordCycle(outcome string, duration time.Duration) {
	r.Cycles.WithLabelValues(outcome).Inc()
	r.CycleDuration.Observe(duration.Seconds())
}

// RecordPhaseWait records how long one handshake wait took.
func (r *Registry) RecordPhaseWait(phase string, duration time.Duration) {
	r.PhaseWaits.WithLabelValues(phase).Observe(duration.Seconds())
}

// Handler returns the HTTP handler serving this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
