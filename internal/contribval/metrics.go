package contribval

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the service collectors on a private registry so several
// services (tests) can coexist in one process. A nil *metrics is a no-op.
type metrics struct {
	registry *prometheus.Registry

	validations   *prometheus.CounterVec
	reachability  *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	upstream      *prometheus.CounterVec
	documentBytes prometheus.Histogram
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contribval_validations_total",
			Help: "Validation requests by outcome.",
		}, []string{"outcome"}),
		reachability: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contribval_reachability_checks_total",
			Help: "URL reachability checks by resulting status code.",
		}, []string{"code"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contribval_cache_lookups_total",
			Help: "Cache lookups by key kind and result.",
		}, []string{"kind", "result"}),
		upstream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "contribval_upstream_fetches_total",
			Help: "Outbound GETs by target and status class.",
		}, []string{"target", "result"}),
		documentBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "contribval_document_bytes",
			Help:    "Size of posted documents.",
			Buckets: prometheus.ExponentialBuckets(128, 4, 8),
		}),
	}
	reg.MustRegister(
		m.validations,
		m.reachability,
		m.cacheLookups,
		m.upstream,
		m.documentBytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *metrics) handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) observeValidation(outcome string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(outcome).Inc()
}

func (m *metrics) observeReachability(code int) {
	if m == nil {
		return
	}
	m.reachability.WithLabelValues(strconv.Itoa(code)).Inc()
}

func (m *metrics) observeCache(kind string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(kind, result).Inc()
}

func (m *metrics) observeFetch(target, result string) {
	if m == nil {
		return
	}
	m.upstream.WithLabelValues(target, result).Inc()
}

func (m *metrics) observeDocument(n int) {
	if m == nil {
		return
	}
	m.documentBytes.Observe(float64(n))
}
