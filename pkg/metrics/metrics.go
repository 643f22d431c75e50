// Package metrics exposes Prometheus instrumentation for docflow. All
// recording methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	versionsCreated  prometheus.Counter
	stepTransitions  *prometheus.CounterVec
	policyDecisions  *prometheus.CounterVec
	alertsCreated    *prometheus.CounterVec
	ruleFailures     *prometheus.CounterVec
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	notificationsOut *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh registry, which keeps tests independent of the global default.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		gatherer: reg,
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docflow_http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docflow_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		versionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docflow_document_versions_created_total",
			Help: "Document versions created, restore snapshots included.",
		}),
		stepTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_approval_step_transitions_total",
			Help: "Approval step transitions by resulting status and method.",
		}, []string{"status", "method"}),
		policyDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_access_policy_decisions_total",
			Help: "Access request outcomes of policy evaluation.",
		}, []string{"outcome"}),
		alertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_alerts_created_total",
			Help: "Anomaly alerts created by rule and severity.",
		}, []string{"rule", "severity"}),
		ruleFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_detector_rule_failures_total",
			Help: "Detector rule evaluations that failed.",
		}, []string{"rule"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_job_runs_total",
			Help: "Scheduled routine runs by outcome.",
		}, []string{"routine", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docflow_job_duration_seconds",
			Help:    "Scheduled routine durations in seconds.",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300},
		}, []string{"routine"}),
		notificationsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docflow_notifications_total",
			Help: "Notifications handed to the dispatcher by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
		m.versionsCreated, m.stepTransitions, m.policyDecisions,
		m.alertsCreated, m.ruleFailures, m.jobRuns, m.jobDuration, m.notificationsOut,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) VersionCreated() {
	if m == nil {
		return
	}
	m.versionsCreated.Inc()
}

func (m *Metrics) StepTransition(status, method string) {
	if m == nil {
		return
	}
	m.stepTransitions.WithLabelValues(status, method).Inc()
}

// PolicyDecision records "approve", "deny" or "no_match".
func (m *Metrics) PolicyDecision(outcome string) {
	if m == nil {
		return
	}
	m.policyDecisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AlertCreated(rule, severity string) {
	if m == nil {
		return
	}
	m.alertsCreated.WithLabelValues(rule, severity).Inc()
}

func (m *Metrics) RuleFailed(rule string) {
	if m == nil {
		return
	}
	m.ruleFailures.WithLabelValues(rule).Inc()
}

// JobRun records a routine outcome: "succeeded", "failed" or "skipped".
func (m *Metrics) JobRun(routine, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(routine, outcome).Inc()
	if outcome != "skipped" {
		m.jobDuration.WithLabelValues(routine).Observe(d.Seconds())
	}
}

func (m *Metrics) NotificationQueued(kind string) {
	if m == nil {
		return
	}
	m.notificationsOut.WithLabelValues(kind).Inc()
}

// Instrument records request count, latency and in-flight gauge, labelled
// by the chi route pattern so path parameters do not explode cardinality.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		m.httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.code)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
