// Package metrics registers the deliberation engine's Prometheus
// collectors, grounded on luxfi-consensus's metrics.Metrics{Registry
// prometheus.Registerer} wrapper, adapted from a single Register method to
// a fixed set of gateway/circuit-breaker/event-bus/orchestrator
// collectors. Only the circuit-breaker gauge and the session, confidence,
// degradation and stage-duration collectors are updated (by
// ObserveBreakers and ObserveSession); the gateway call, gateway latency
// and event-bus queue-depth collectors are registered but nothing in this
// module updates them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/deliberation-engine/council/pkg/council"
	"github.com/deliberation-engine/council/pkg/gateway/resilience"
)

// Metrics holds every collector the deliberation engine publishes,
// registered against a caller-supplied registerer rather than the global
// default, following the injected-collaborator discipline used throughout
// this repo (no process-wide singletons).
type Metrics struct {
	reg prometheus.Registerer

	GatewayCallsTotal    *prometheus.CounterVec
	GatewayCallLatency   *prometheus.HistogramVec
	CircuitBreakerState  *prometheus.GaugeVec
	EventBusQueueDepth   *prometheus.GaugeVec
	StageDuration        *prometheus.HistogramVec
	SessionsTotal        *prometheus.CounterVec
	AggregateConfidence  prometheus.Histogram
	DegradationsTotal    *prometheus.CounterVec
}

// New builds and registers every collector against reg. Registration uses
// MustRegister, so New panics if reg already holds these collectors (for
// example when New is called twice with the same registerer).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,
		GatewayCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "council",
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Completion calls issued through the gateway, by model and outcome.",
		}, []string{"model", "outcome"}),
		GatewayCallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "council",
			Subsystem: "gateway",
			Name:      "call_latency_seconds",
			Help:      "Gateway completion call latency, by model.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"model"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "council",
			Subsystem: "gateway",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per model: 0=closed, 1=open, 2=half-open.",
		}, []string{"model"}),
		EventBusQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "council",
			Subsystem: "events",
			Name:      "bus_queue_depth",
			Help:      "Pending events queued per subscriber.",
		}, []string{"query_id", "subscriber"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "council",
			Subsystem: "orchestrator",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of each deliberation stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "council",
			Subsystem: "orchestrator",
			Name:      "sessions_total",
			Help:      "Deliberation sessions, by terminal exit reason.",
		}, []string{"reason"}),
		AggregateConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "council",
			Subsystem: "aggregate",
			Name:      "confidence",
			Help:      "Aggregator confidence value of sealed sessions.",
			Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}),
		DegradationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "council",
			Subsystem: "orchestrator",
			Name:      "degradations_total",
			Help:      "Degradation notices emitted, by stage and reason.",
		}, []string{"stage", "reason"}),
	}

	reg.MustRegister(
		m.GatewayCallsTotal,
		m.GatewayCallLatency,
		m.CircuitBreakerState,
		m.EventBusQueueDepth,
		m.StageDuration,
		m.SessionsTotal,
		m.AggregateConfidence,
		m.DegradationsTotal,
	)
	return m
}

// Gatherer returns the underlying registry as a prometheus.Gatherer for
// the HTTP /metrics endpoint to scrape. Panics if reg was not built from
// prometheus.NewRegistry() (or another Gatherer-capable Registerer), since
// every caller in this repo constructs Metrics that way.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	g, ok := m.reg.(prometheus.Gatherer)
	if !ok {
		panic("metrics: registerer does not implement prometheus.Gatherer")
	}
	return g
}

// breakerStateValue maps a circuit breaker state onto the gauge's
// documented numeric encoding.
func breakerStateValue(s resilience.State) float64 {
	switch s {
	case resilience.StateOpen:
		return 1
	case resilience.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// ObserveBreakers refreshes the circuit_breaker_state gauge from a
// snapshot taken off a gateway.Gateway's Breakers() method.
func (m *Metrics) ObserveBreakers(states map[string]resilience.State) {
	for model, s := range states {
		m.CircuitBreakerState.WithLabelValues(model).Set(breakerStateValue(s))
	}
}

// ObserveSession folds one sealed or failed session's outcome into the
// session-count and confidence collectors. reason is "sealed" on success;
// the API server passes "exit-<code>" (the result's ExitCode) otherwise.
// StageDuration is observed once per session, under the stage label
// "session", with the whole session's wall-clock time.
func (m *Metrics) ObserveSession(result council.DeliberationResult, reason string) {
	m.SessionsTotal.WithLabelValues(reason).Inc()
	if reason == "sealed" {
		m.AggregateConfidence.Observe(result.Aggregate.Confidence)
	}
	for _, d := range result.Degradations {
		m.DegradationsTotal.WithLabelValues(d.Stage, d.Reason).Inc()
	}
	if !result.StartedAt.IsZero() && !result.SealedAt.IsZero() {
		m.StageDuration.WithLabelValues("session").Observe(result.SealedAt.Sub(result.StartedAt).Seconds())
	}
}
