// Package metrics exposes Prometheus instrumentation for Larder.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "larder"

// Metrics holds the collectors of one process. A nil *Metrics is valid
// and records nothing, so components can run uninstrumented in tests.
type Metrics struct {
	registry *prometheus.Registry

	evaluations        *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	evaluationCache    *prometheus.CounterVec
	automations        *prometheus.CounterVec
	fulfillmentErrors  *prometheus.CounterVec
	ingestedEvents     prometheus.Counter
	httpRequests       *prometheus.HistogramVec
}

// New creates a registry with process and Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		evaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Scoring passes by domain and tier.",
		}, []string{"domain", "tier"}),
		evaluationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Duration of a scoring pass.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}, []string{"domain"}),
		evaluationCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_cache_total",
			Help:      "Evaluation cache lookups by result.",
		}, []string{"result"}),
		automations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "automations_total",
			Help:      "Automation outcomes by category and status.",
		}, []string{"category", "status"}),
		fulfillmentErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_failures_total",
			Help:      "Failed fulfillment calls by action kind.",
		}, []string{"kind"}),
		ingestedEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_events_total",
			Help:      "History events accepted.",
		}),
		httpRequests: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP requests by method, route pattern and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Registry returns the underlying registry.
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

// ObserveEvaluation records a completed scoring pass.
func (m *Metrics) ObserveEvaluation(domainName, tier string, d time.Duration) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(domainName, tier).Inc()
	m.evaluationDuration.WithLabelValues(domainName).Observe(d.Seconds())
}

// CacheLookup records an evaluation cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.evaluationCache.WithLabelValues(result).Inc()
}

// Automation records an automation outcome.
func (m *Metrics) Automation(category, status string) {
	if m == nil {
		return
	}
	m.automations.WithLabelValues(category, status).Inc()
}

// FulfillmentFailure records a failed fulfillment call.
func (m *Metrics) FulfillmentFailure(kind string) {
	if m == nil {
		return
	}
	m.fulfillmentErrors.WithLabelValues(kind).Inc()
}

// EventIngested records an accepted history event.
func (m *Metrics) EventIngested() {
	if m == nil {
		return
	}
	m.ingestedEvents.Inc()
}

// ObserveRequest records a served HTTP request. route is the matched
// pattern, not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
