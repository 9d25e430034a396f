// Package metrics exposes Prometheus instruments for the answer pipeline.
//
// Every recording method is safe on a nil *Metrics, so components accept
// metrics as optional.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "threadqa"

// Metrics holds the pipeline and HTTP instruments on a private registry
type Metrics struct {
	registry *prometheus.Registry

	askTotal          *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	retrievalDegraded *prometheus.CounterVec
	retrievedMessages *prometheus.HistogramVec
	llmRequests       *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	rateLimited       prometheus.Counter
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New creates and registers all instruments
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		askTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ask_total",
				Help:      "Questions processed by outcome.",
			},
			[]string{"outcome"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each pipeline stage in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		retrievalDegraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retrieval_degraded_total",
				Help:      "Retrieval branches that failed and returned no matches.",
			},
			[]string{"branch"},
		),
		retrievedMessages: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "retrieved_messages",
				Help:      "Messages per retrieval stage.",
				Buckets:   []float64{0, 1, 2, 5, 10, 15, 20, 30, 50},
			},
			[]string{"stage"},
		),
		llmRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "requests_total",
				Help:      "LLM completions by tier and status.",
			},
			[]string{"tier", "status"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Response cache lookups by result.",
			},
			[]string{"result"},
		),
		rateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests processed.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	registry.MustRegister(
		m.askTotal,
		m.stageDuration,
		m.retrievalDegraded,
		m.retrievedMessages,
		m.llmRequests,
		m.cacheLookups,
		m.rateLimited,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry exposes the underlying registry (tests, extra collectors)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordAsk(outcome string) {
	if m == nil {
		return
	}
	m.askTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) RecordDegraded(branch string) {
	if m == nil {
		return
	}
	m.retrievalDegraded.WithLabelValues(branch).Inc()
}

func (m *Metrics) ObserveRetrieved(stage string, count int) {
	if m == nil {
		return
	}
	m.retrievedMessages.WithLabelValues(stage).Observe(float64(count))
}

func (m *Metrics) RecordLLM(tier, status string) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(tier, status).Inc()
}

func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// Middleware records request counts and latency per route pattern
func (m *Metrics) Middleware(routeName func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(recorder, r)

			path := r.URL.Path
			if routeName != nil {
				if name := routeName(r); name != "" {
					path = name
				}
			}
			m.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(recorder.statusCode)).Inc()
			m.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
