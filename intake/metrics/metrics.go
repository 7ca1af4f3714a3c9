// Package metrics exposes Prometheus collectors for the intake pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "servicebot"

// Outcome labels for handled events.
const (
	OutcomeOK      = "ok"
	OutcomeIgnored = "ignored"
	OutcomeRace    = "race"
	OutcomeError   = "error"
)

// Metrics groups the intake collectors and their registry.
type Metrics struct {
	registry *prometheus.Registry

	events           *prometheus.CounterVec
	transitions      prometheus.Histogram
	submissions      *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	journalFailures  prometheus.Counter
	expired          prometheus.Counter
	sessions         *prometheus.GaugeVec
}

// New creates the collectors on a private registry together with Go runtime metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "events_total",
			Help:      "Conversation events handled, by event and outcome.",
		}, []string{"event", "outcome"}),
		transitions: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "handle_duration_seconds",
			Help:      "Time spent handling one event including delivery.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "submissions_total",
			Help:      "Confirmed submissions forwarded to the operator.",
		}, []string{"flow", "variant"}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "intake",
			Name:      "delivery_failures_total",
			Help:      "Failed deliveries to the user or the operator.",
		}, []string{"target"}),
		journalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "failures_total",
			Help:      "Submissions that could not be written to the journal.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "expired_total",
			Help:      "Sessions reset after the idle timeout.",
		}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Active sessions by state as of the last sweep.",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		m.events,
		m.transitions,
		m.submissions,
		m.deliveryFailures,
		m.journalFailures,
		m.expired,
		m.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
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
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveEvent counts one handled event.
func (m *Metrics) ObserveEvent(event, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event, outcome).Inc()
	m.transitions.Observe(took.Seconds())
}

// ObserveSubmission counts a submission handed to the operator sink.
func (m *Metrics) ObserveSubmission(flow, variant string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(flow, variant).Inc()
}

// ObserveDeliveryFailure counts a failed delivery to "user" or "operator".
func (m *Metrics) ObserveDeliveryFailure(target string) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(target).Inc()
}

// ObserveJournalFailure counts a failed journal write.
func (m *Metrics) ObserveJournalFailure() {
	if m == nil {
		return
	}
	m.journalFailures.Inc()
}

// ObserveExpired counts sessions reset by the sweep.
func (m *Metrics) ObserveExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.expired.Add(float64(n))
}

// SetSessions replaces the active session gauges. States missing from counts are zeroed.
func (m *Metrics) SetSessions(counts map[string]int, states ...string) {
	if m == nil {
		return
	}
	for _, st := range states {
		m.sessions.WithLabelValues(st).Set(float64(counts[st]))
	}
	for st, n := range counts {
		m.sessions.WithLabelValues(st).Set(float64(n))
	}
}
