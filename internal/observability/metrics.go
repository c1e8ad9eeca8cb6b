// Package observability holds the engine's Prometheus metrics.
package observability

import (
	"math"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. All methods are safe on a nil *Metrics so
// components can run without metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	// --- Position reader ---
	PositionFetches *prometheus.CounterVec
	PositionRatio   *prometheus.GaugeVec
	PositionStale   *prometheus.GaugeVec

	// --- Guard / actions ---
	GuardDecisions *prometheus.CounterVec
	Actions        *prometheus.CounterVec
	ActionDuration *prometheus.HistogramVec

	// --- Liquidations ---
	LiquidationScans      *prometheus.CounterVec
	LiquidationCandidates prometheus.Gauge
	Liquidations          *prometheus.CounterVec

	// --- HTTP API ---
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewMetrics registers every collector on a fresh registry, together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		PositionFetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marginbot_position_fetches_total",
			Help: "Position reader fetches by result (ok, unavailable, not_indexed)",
		}, []string{"result"}),
		PositionRatio: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marginbot_position_risk_ratio",
			Help: "Latest risk ratio per watched manager; +Inf without debt",
		}, []string{"manager_id"}),
		PositionStale: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marginbot_position_stale",
			Help: "1 when the manager's snapshot is stale",
		}, []string{"manager_id"}),

		GuardDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marginbot_guard_decisions_total",
			Help: "Action guard decisions by action kind and reason (allowed when permitted)",
		}, []string{"kind", "reason"}),
		Actions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marginbot_actions_total",
			Help: "Dispatched actions by kind and result",
		}, []string{"kind", "result"}),
		ActionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marginbot_action_duration_seconds",
			Help:    "Dispatch to finality latency",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"kind"}),

		LiquidationScans: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marginbot_liquidation_scans_total",
			Help: "Scanner cycles by outcome (found, empty, error)",
		}, []string{"outcome"}),
		LiquidationCandidates: f.NewGauge(prometheus.GaugeOpts{
			Name: "marginbot_liquidation_candidates",
			Help: "Candidates in the latest scan",
		}),
		Liquidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marginbot_liquidations_total",
			Help: "Liquidation dispatches by result",
		}, []string{"result"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marginbot_http_requests_total",
			Help: "API requests by method and status code",
		}, []string{"method", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marginbot_http_request_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// Registry exposes the registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObservePosition records one reader fetch.
func (m *Metrics) ObservePosition(managerID, result string, ratio float64, stale bool) {
	if m == nil {
		return
	}
	m.PositionFetches.WithLabelValues(result).Inc()
	if managerID == "" {
		return
	}
	if !math.IsNaN(ratio) {
		m.PositionRatio.WithLabelValues(managerID).Set(ratio)
	}
	v := 0.0
	if stale {
		v = 1
	}
	m.PositionStale.WithLabelValues(managerID).Set(v)
}

// ForgetPosition drops per-manager series when a watch ends.
func (m *Metrics) ForgetPosition(managerID string) {
	if m == nil {
		return
	}
	m.PositionRatio.DeleteLabelValues(managerID)
	m.PositionStale.DeleteLabelValues(managerID)
}

// ObserveGuard records a guard decision; an empty reason means allowed.
func (m *Metrics) ObserveGuard(kind, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "allowed"
	}
	m.GuardDecisions.WithLabelValues(kind, reason).Inc()
}

// ObserveAction records a dispatched action.
func (m *Metrics) ObserveAction(kind, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(kind, result).Inc()
	m.ActionDuration.WithLabelValues(kind).Observe(took.Seconds())
}

// ObserveScan records a scanner cycle.
func (m *Metrics) ObserveScan(outcome string, candidates int) {
	if m == nil {
		return
	}
	m.LiquidationScans.WithLabelValues(outcome).Inc()
	if outcome != "error" {
		m.LiquidationCandidates.Set(float64(candidates))
	}
}

// ObserveLiquidation records a liquidation dispatch.
func (m *Metrics) ObserveLiquidation(result string) {
	if m == nil {
		return
	}
	m.Liquidations.WithLabelValues(result).Inc()
}

// ObserveHTTP records one API request.
func (m *Metrics) ObserveHTTP(method, code string, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, code).Inc()
	m.HTTPDuration.WithLabelValues(method).Observe(took.Seconds())
}
