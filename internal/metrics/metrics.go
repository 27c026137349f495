// Package metrics holds the Prometheus collectors for Mirror.
//
// Every recording method is safe to call on a nil *Registry, so components can
// be constructed without metrics in tests and one-shot CLI runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all Prometheus metrics for Mirror.
type Registry struct {
	reg *prometheus.Registry

	// Pipeline metrics
	PhaseDuration *prometheus.HistogramVec
	PhaseAttempts *prometheus.CounterVec
	Runs          *prometheus.CounterVec
	CurrentPhase  *prometheus.GaugeVec
	AgentCalls    *prometheus.CounterVec

	// Ledger metrics
	LedgerAppends *prometheus.CounterVec
	LedgerLength  prometheus.Gauge

	// Live stream metrics
	Subscribers        prometheus.Gauge
	EventsPublished    *prometheus.CounterVec
	SubscribersDropped prometheus.Counter
	RelayDropped       prometheus.Counter

	// HTTP metrics
	RequestDuration *prometheus.HistogramVec
}

// phases lists every pipeline phase so the gauge can be zeroed on transitions.
var phases = []string{"idle", "ingesting", "deliberating", "synthesizing", "publishing"}

// NewRegistry creates a registry with all Mirror metrics plus the Go and
// process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		PhaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mirror_phase_duration_seconds",
				Help:    "Duration of each pipeline phase in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"phase", "result"},
		),

		PhaseAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirror_phase_attempts_total",
				Help: "Total number of phase attempts including retries",
			},
			[]string{"phase", "result"},
		),

		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirror_runs_total",
				Help: "Pipeline runs by outcome (completed, failed, rejected)",
			},
			[]string{"outcome"},
		),

		CurrentPhase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mirror_current_phase",
				Help: "1 for the phase the pipeline is currently in",
			},
			[]string{"phase"},
		),

		AgentCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirror_agent_calls_total",
				Help: "Agent invocations by agent and result",
			},
			[]string{"agent", "result"},
		),

		LedgerAppends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirror_ledger_appends_total",
				Help: "Ledger entries appended by type",
			},
			[]string{"type"},
		),

		LedgerLength: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mirror_ledger_length",
				Help: "Number of entries in the ledger",
			},
		),

		Subscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mirror_live_subscribers",
				Help: "Currently connected live stream subscribers",
			},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirror_live_events_total",
				Help: "Live events published by type",
			},
			[]string{"type"},
		),

		SubscribersDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mirror_live_subscribers_dropped_total",
				Help: "Subscribers removed because delivery failed",
			},
		),

		RelayDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mirror_live_relay_dropped_total",
				Help: "Live events dropped because the Redis relay queue was full",
			},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mirror_http_request_duration_seconds",
				Help:    "HTTP request duration by route and status",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
	}

	r.reg.MustRegister(
		r.PhaseDuration,
		r.PhaseAttempts,
		r.Runs,
		r.CurrentPhase,
		r.AgentCalls,
		r.LedgerAppends,
		r.LedgerLength,
		r.Subscribers,
		r.EventsPublished,
		r.SubscribersDropped,
		r.RelayDropped,
		r.RequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// SetPhase marks phase as the current pipeline phase.
func (r *Registry) SetPhase(phase string) {
	if r == nil {
		return
	}
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		r.CurrentPhase.WithLabelValues(p).Set(v)
	}
}

// ObservePhase records one attempt of a phase.
func (r *Registry) ObservePhase(phase string, d time.Duration, err error) {
	if r == nil {
		return
	}
	result := resultLabel(err)
	r.PhaseDuration.WithLabelValues(phase, result).Observe(d.Seconds())
	r.PhaseAttempts.WithLabelValues(phase, result).Inc()
}

// RunFinished counts a run by outcome.
func (r *Registry) RunFinished(outcome string) {
	if r == nil {
		return
	}
	r.Runs.WithLabelValues(outcome).Inc()
}

// AgentCall counts one agent invocation.
func (r *Registry) AgentCall(agent string, err error) {
	if r == nil {
		return
	}
	r.AgentCalls.WithLabelValues(agent, resultLabel(err)).Inc()
}

// LedgerAppended records appended entries and the new ledger length.
func (r *Registry) LedgerAppended(entryType string, length uint64) {
	if r == nil {
		return
	}
	r.LedgerAppends.WithLabelValues(entryType).Inc()
	r.LedgerLength.Set(float64(length))
}

// SetLedgerLength records the ledger length found on startup.
func (r *Registry) SetLedgerLength(length uint64) {
	if r == nil {
		return
	}
	r.LedgerLength.Set(float64(length))
}

// SubscriberAdded and SubscriberRemoved track live stream connections.
func (r *Registry) SubscriberAdded() {
	if r == nil {
		return
	}
	r.Subscribers.Inc()
}

func (r *Registry) SubscriberRemoved(dropped bool) {
	if r == nil {
		return
	}
	r.Subscribers.Dec()
	if dropped {
		r.SubscribersDropped.Inc()
	}
}

// EventPublished counts one live event.
func (r *Registry) EventPublished(eventType string) {
	if r == nil {
		return
	}
	r.EventsPublished.WithLabelValues(eventType).Inc()
}

// RelayEventDropped counts one event the relay could not queue.
func (r *Registry) RelayEventDropped() {
	if r == nil {
		return
	}
	r.RelayDropped.Inc()
}

// ObserveRequest records one HTTP request.
func (r *Registry) ObserveRequest(route, method string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.RequestDuration.WithLabelValues(route, method, statusLabel(status)).Observe(d.Seconds())
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
