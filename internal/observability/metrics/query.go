package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// QueryMetrics implements both the engine's metrics sink and the resilience
// layer's sink on a private registry.
type QueryMetrics struct {
	registry *prometheus.Registry

	queryDuration      *prometheus.HistogramVec
	vectorCallDuration *prometheus.HistogramVec
	rerankDuration     *prometheus.HistogramVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	breakerState    *prometheus.GaugeVec
	breakerRejected *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
}

func NewQueryMetrics(service string) *QueryMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	queryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "retrieval",
			Subsystem:   "engine",
			Name:        "query_duration_seconds",
			Help:        "End-to-end query processing duration by outcome.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	vectorCallDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "retrieval",
			Subsystem:   "engine",
			Name:        "vector_call_duration_seconds",
			Help:        "Vector backend call duration by outcome.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	rerankDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "retrieval",
			Subsystem:   "engine",
			Name:        "rerank_duration_seconds",
			Help:        "Cross-encoder rerank call duration by outcome.",
			Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	cacheHits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "retrieval",
			Subsystem:   "cache",
			Name:        "hits_total",
			Help:        "Cache hits per tier.",
			ConstLabels: constLabels,
		},
		[]string{"tier"},
	)
	cacheMisses := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "retrieval",
			Subsystem:   "cache",
			Name:        "misses_total",
			Help:        "Cache misses per tier.",
			ConstLabels: constLabels,
		},
		[]string{"tier"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   "retrieval",
			Subsystem:   "breaker",
			Name:        "state",
			Help:        "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			ConstLabels: constLabels,
		},
		[]string{"name"},
	)
	breakerRejected := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "retrieval",
			Subsystem:   "breaker",
			Name:        "rejected_total",
			Help:        "Calls rejected while a breaker was open or probing.",
			ConstLabels: constLabels,
		},
		[]string{"name"},
	)
	retriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "retrieval",
			Subsystem:   "engine",
			Name:        "retries_total",
			Help:        "Retry attempts performed per guarded operation.",
			ConstLabels: constLabels,
		},
		[]string{"operation"},
	)

	registry.MustRegister(
		queryDuration, vectorCallDuration, rerankDuration,
		cacheHits, cacheMisses,
		breakerState, breakerRejected, retriesTotal,
	)

	return &QueryMetrics{
		registry:           registry,
		queryDuration:      queryDuration,
		vectorCallDuration: vectorCallDuration,
		rerankDuration:     rerankDuration,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
		breakerState:       breakerState,
		breakerRejected:    breakerRejected,
		retriesTotal:       retriesTotal,
	}
}

func (m *QueryMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *QueryMetrics) ObserveQuery(outcome string, seconds float64) {
	m.queryDuration.WithLabelValues(outcome).Observe(seconds)
}

func (m *QueryMetrics) ObserveVectorCall(outcome string, seconds float64) {
	m.vectorCallDuration.WithLabelValues(outcome).Observe(seconds)
}

func (m *QueryMetrics) ObserveRerank(outcome string, seconds float64) {
	m.rerankDuration.WithLabelValues(outcome).Observe(seconds)
}

func (m *QueryMetrics) CacheHit(tier string) {
	m.cacheHits.WithLabelValues(tier).Inc()
}

func (m *QueryMetrics) CacheMiss(tier string) {
	m.cacheMisses.WithLabelValues(tier).Inc()
}

func (m *QueryMetrics) ObserveRetry(operation string) {
	m.retriesTotal.WithLabelValues(operation).Inc()
}

func (m *QueryMetrics) BreakerStateChanged(name string, state int) {
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

func (m *QueryMetrics) BreakerRejected(name string) {
	m.breakerRejected.WithLabelValues(name).Inc()
}
