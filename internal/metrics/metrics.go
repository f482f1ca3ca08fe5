// Package metrics exposes Prometheus counters for the transcript engine.
//
// Every non-fatal recovery path (dropped frames, correlation misses, failed
// history syncs) is counted here so that it is observable instead of silent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	// FramesDecoded counts frames decoded from event streams.
	FramesDecoded prometheus.Counter

	// FramesDropped counts frames discarded by the decoder.
	// Labels: reason (invalid_json|invalid_event)
	FramesDropped *prometheus.CounterVec

	// EventsApplied counts events applied by the reducer.
	// Labels: kind
	EventsApplied *prometheus.CounterVec

	// CorrelationMisses counts deltas or results that matched no open block.
	// Labels: kind (input|duplicate_open|invalid_input|orphan_result|duplicate_result|late_event)
	CorrelationMisses *prometheus.CounterVec

	// Turns counts finished turns.
	// Labels: outcome (completed|cancelled|failed|incomplete)
	Turns *prometheus.CounterVec

	// ReconcileAttempts counts history fetch attempts.
	// Labels: result (success|retry|failed)
	ReconcileAttempts *prometheus.CounterVec

	// ActiveStreams is the number of turns currently streaming.
	ActiveStreams prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the collectors with reg. A nil reg gets a private registry,
// which keeps tests and multiple engines in one process independent.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		FramesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamctl_frames_decoded_total",
			Help: "Total number of event-stream frames decoded",
		}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamctl_frames_dropped_total",
			Help: "Total number of event-stream frames dropped by reason",
		}, []string{"reason"}),
		EventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamctl_events_applied_total",
			Help: "Total number of stream events applied to transcripts by kind",
		}, []string{"kind"}),
		CorrelationMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamctl_correlation_misses_total",
			Help: "Total number of stream events that did not correlate with an open block",
		}, []string{"kind"}),
		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamctl_turns_total",
			Help: "Total number of finished turns by outcome",
		}, []string{"outcome"}),
		ReconcileAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamctl_reconcile_attempts_total",
			Help: "Total number of history reconciliation attempts by result",
		}, []string{"result"}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamctl_active_streams",
			Help: "Current number of turns streaming",
		}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// FrameDropped records a decoder drop.
func (m *Metrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// FrameDecoded records a decoded frame.
func (m *Metrics) FrameDecoded() {
	if m == nil {
		return
	}
	m.FramesDecoded.Inc()
}

// EventApplied records an applied event.
func (m *Metrics) EventApplied(kind string) {
	if m == nil {
		return
	}
	m.EventsApplied.WithLabelValues(kind).Inc()
}

// CorrelationMiss records a correlation fallback.
func (m *Metrics) CorrelationMiss(kind string) {
	if m == nil {
		return
	}
	m.CorrelationMisses.WithLabelValues(kind).Inc()
}

// TurnFinished records a finished turn.
func (m *Metrics) TurnFinished(outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
}

// ReconcileAttempt records one history fetch attempt.
func (m *Metrics) ReconcileAttempt(result string) {
	if m == nil {
		return
	}
	m.ReconcileAttempts.WithLabelValues(result).Inc()
}

// StreamStarted increments the active stream gauge.
func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// StreamEnded decrements the active stream gauge.
func (m *Metrics) StreamEnded() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}
