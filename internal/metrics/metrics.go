// Package metrics exposes pipeline counters for Prometheus. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	transitions    *prometheus.CounterVec
	requestsTotal  prometheus.Counter
	resultsTotal   *prometheus.CounterVec
	stageRowsTotal *prometheus.CounterVec
	externalErrors *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cwbatch_job_transitions_total",
				Help: "Job state transitions by source and target state",
			},
			[]string{"from", "to"},
		),
		requestsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cwbatch_requests_submitted_total",
				Help: "Batch requests submitted to the provider",
			},
		),
		resultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cwbatch_results_fetched_total",
				Help: "Results fetched from completed jobs",
			},
			[]string{"outcome"},
		),
		stageRowsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cwbatch_stage_rows_total",
				Help: "Rows handled by pipeline stages",
			},
			[]string{"stage", "outcome"},
		),
		externalErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cwbatch_provider_errors_total",
				Help: "Failed calls to the batch provider",
			},
			[]string{"operation"},
		),
	}

	m.registry.MustRegister(
		m.transitions,
		m.requestsTotal,
		m.resultsTotal,
		m.stageRowsTotal,
		m.externalErrors,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) Submitted(n int) {
	if m == nil {
		return
	}
	m.requestsTotal.Add(float64(n))
}

func (m *Metrics) Fetched(ok, failed int) {
	if m == nil {
		return
	}
	m.resultsTotal.WithLabelValues("ok").Add(float64(ok))
	m.resultsTotal.WithLabelValues("error").Add(float64(failed))
}

// StageRows adds n rows with the given outcome (processed, skipped, error...)
// for stage.
func (m *Metrics) StageRows(stage, outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.stageRowsTotal.WithLabelValues(stage, outcome).Add(float64(n))
}

func (m *Metrics) ProviderError(operation string) {
	if m == nil {
		return
	}
	m.externalErrors.WithLabelValues(operation).Inc()
}
