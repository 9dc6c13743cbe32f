// Package metrics exposes broker counters to prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeDominic92/keyless-kingdom/internal/core"
)

const namespace = "keyless"

type Metrics struct {
	registry *prometheus.Registry

	Decisions        *prometheus.CounterVec
	AmbiguousPolicy  *prometheus.CounterVec
	ProviderAttempts *prometheus.CounterVec
	AuditFailures    prometheus.Counter
	Duration         *prometheus.HistogramVec

	TaskRuns     *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec
}

// New creates the broker metrics on a fresh registry, together with the
// go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Federation decisions by provider, kind and reason.",
		}, []string{"provider", "kind", "reason"}),
		AmbiguousPolicy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ambiguous_policy_total",
			Help:      "Requests denied because several trust policies matched with equal specificity.",
		}, []string{"provider"}),
		ProviderAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Provider adapter calls by result (success, transient, denied).",
		}, []string{"provider", "result"}),
		AuditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_write_failures_total",
			Help:      "Requests aborted because their decision could not be recorded.",
		}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "authenticate_duration_seconds",
			Help:      "Time from receiving a token to the recorded decision.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"provider", "kind"}),
		TaskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Background task runs by task and result.",
		}, []string{"task", "result"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of background task runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"task"}),
	}

	m.registry.MustRegister(
		m.Decisions,
		m.AmbiguousPolicy,
		m.ProviderAttempts,
		m.AuditFailures,
		m.Duration,
		m.TaskRuns,
		m.TaskDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveDecision counts a recorded decision. A nil receiver is a no-op.
func (m *Metrics) ObserveDecision(d core.FederationDecision, took time.Duration) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(d.Provider, string(d.Kind), string(d.Reason)).Inc()
	m.Duration.WithLabelValues(d.Provider, string(d.Kind)).Observe(took.Seconds())
	if d.Reason == core.ReasonAmbiguousPolicy {
		m.AmbiguousPolicy.WithLabelValues(d.Provider).Inc()
	}
}

func (m *Metrics) ObserveAttempt(provider, result string) {
	if m == nil {
		return
	}
	m.ProviderAttempts.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) ObserveAuditFailure() {
	if m == nil {
		return
	}
	m.AuditFailures.Inc()
}

// ObserveTaskRun counts a finished background task run.
func (m *Metrics) ObserveTaskRun(task string, took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.TaskRuns.WithLabelValues(task, result).Inc()
	m.TaskDuration.WithLabelValues(task).Observe(took.Seconds())
}
