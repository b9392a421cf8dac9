// Package metrics exposes Prometheus instruments for votes, sweeps and HTTP
// traffic. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "polls"

// Vote outcomes used as the "outcome" label.
const (
	OutcomeAccepted      = "accepted"
	OutcomeDuplicate     = "duplicate"
	OutcomeClosed        = "closed"
	OutcomeInvalidOption = "invalid_option"
	OutcomeNotFound      = "not_found"
	OutcomeInvalid       = "invalid"
	OutcomeError         = "error"
)

// Metrics holds the collectors registered on a private registry
type Metrics struct {
	registry      *prometheus.Registry
	votes         *prometheus.CounterVec
	pollsCreated  prometheus.Counter
	pollsSwept    prometheus.Counter
	sweepDuration prometheus.Histogram
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates and registers all collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_total",
			Help:      "Vote attempts by outcome.",
		}, []string{"outcome"}),
		pollsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "created_total",
			Help:      "Polls created.",
		}),
		pollsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_total",
			Help:      "Polls removed by the expiry sweeper.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of sweep runs in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.votes,
		m.pollsCreated,
		m.pollsSwept,
		m.sweepDuration,
		m.httpRequests,
		m.httpDuration,
	)
	return m
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
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordVote(outcome string) {
	if m == nil {
		return
	}
	m.votes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordPollCreated() {
	if m == nil {
		return
	}
	m.pollsCreated.Inc()
}

// RecordSweep records one sweep run and how many polls it removed.
func (m *Metrics) RecordSweep(removed int64, duration time.Duration) {
	if m == nil {
		return
	}
	m.pollsSwept.Add(float64(removed))
	m.sweepDuration.Observe(duration.Seconds())
}

// ObserveHTTP records a finished request. route should be the matched
// route template, not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
