// Package observability registers and records Prometheus metrics.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream source calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // slow upstreams
		},
		[]string{"upstream"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Composite cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	cacheOpTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis operations by op and result.",
		},
		[]string{"op", "result"},
	)

	rewarmTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewarm_total",
			Help: "Background rewarm attempts by outcome.",
		},
		[]string{"outcome"},
	)

	admissionRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "admission_rejected_total",
			Help: "Requests rejected by the per-client rate limiter.",
		},
	)

	hedgeAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedge_attempts_total",
			Help: "Hedged upstream query rounds by outcome.",
		},
		[]string{"upstream", "outcome"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func IncCacheHit()  { cacheResults.WithLabelValues("hit").Inc() }
func IncCacheMiss() { cacheResults.WithLabelValues("miss").Inc() }

func ObserveCacheOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOpTotal.WithLabelValues(op, result).Inc()
}

func IncRewarm(outcome string) {
	rewarmTotal.WithLabelValues(outcome).Inc()
}

func IncAdmissionRejected() {
	admissionRejectedTotal.Inc()
}

func ObserveHedgeRound(upstream string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	hedgeAttemptsTotal.WithLabelValues(upstream, outcome).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
