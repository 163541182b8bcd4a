// Package metrics exposes the server's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the server updates.
type Metrics struct {
	registry *prometheus.Registry

	HintEmissions   *prometheus.CounterVec
	HintDrops       prometheus.Counter
	PushDeliveries  *prometheus.CounterVec
	InsightSignals  *prometheus.CounterVec
	RateLimited     *prometheus.CounterVec
	LiveConnections prometheus.Gauge
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HintEmissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatdesk_hint_emissions_total",
			Help: "Hint sets emitted to clients, by hint kind",
		}, []string{"kind"}),

		HintDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatdesk_hint_drops_total",
			Help: "Pending hint sets dropped by the emission cooldown",
		}),

		PushDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatdesk_push_deliveries_total",
			Help: "Push delivery attempts by outcome",
		}, []string{"outcome"}),

		InsightSignals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatdesk_insight_signals_total",
			Help: "Ingested insight signals by outcome",
		}, []string{"outcome"}),

		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatdesk_rate_limited_total",
			Help: "Requests rejected by a rate limiter",
		}, []string{"route"}),

		LiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatdesk_live_connections",
			Help: "Open live hint WebSocket connections",
		}),
	}
}

// Handler serves the exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HintsEmitted counts one emission per hint kind. Topic hints are grouped
// under "topic".
func (m *Metrics) HintsEmitted(hints []string) {
	if len(hints) == 0 {
		m.HintEmissions.WithLabelValues("none").Inc()
		return
	}
	for _, h := range hints {
		kind := h
		if strings.HasPrefix(h, "topic:") {
			kind = "topic"
		}
		m.HintEmissions.WithLabelValues(kind).Inc()
	}
}

// HintsDropped counts a cooldown drop.
func (m *Metrics) HintsDropped() {
	m.HintDrops.Inc()
}

// PushOutcome counts one delivery attempt.
func (m *Metrics) PushOutcome(outcome string) {
	m.PushDeliveries.WithLabelValues(outcome).Inc()
}

// InsightOutcome adds n signals with the given outcome.
func (m *Metrics) InsightOutcome(outcome string, n int) {
	if n <= 0 {
		return
	}
	m.InsightSignals.WithLabelValues(outcome).Add(float64(n))
}

// RateLimitedFunc returns a callback counting rejections on route.
func (m *Metrics) RateLimitedFunc(route string) func() {
	c := m.RateLimited.WithLabelValues(route)
	return c.Inc
}

// ConnOpened increments the live connection gauge.
func (m *Metrics) ConnOpened() { m.LiveConnections.Inc() }

// ConnClosed decrements the live connection gauge.
func (m *Metrics) ConnClosed() { m.LiveConnections.Dec() }
