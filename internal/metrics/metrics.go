// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dexarb"

var (
	VenueRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "venue_requests_total",
		Help:      "Outbound venue API requests by venue and result",
	}, []string{"venue", "result"})

	VenueLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "venue_request_seconds",
		Help:      "Latency of outbound venue API requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"venue"})

	PriceRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "price_refresh_total",
		Help:      "Per-pair price refreshes by result",
	}, []string{"result"})

	TrackedPairs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_pairs",
		Help:      "Pairs currently tracked by the price aggregator",
	})

	ListenerFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "price_listener_failures_total",
		Help:      "Price listeners that returned an error or panicked",
	})

	OpportunitiesDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "opportunities_detected_total",
		Help:      "Opportunities persisted by the detector",
	})

	ScanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scan_seconds",
		Help:      "Duration of a full detector scan",
		Buckets:   prometheus.DefBuckets,
	})

	Executions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executions_total",
		Help:      "Execution attempts by outcome kind",
	}, []string{"outcome"})

	ExecutionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "execution_seconds",
		Help:      "Duration of execution attempts",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
)

func init() {
	prometheus.MustRegister(
		VenueRequests,
		VenueLatency,
		PriceRefreshes,
		TrackedPairs,
		ListenerFailures,
		OpportunitiesDetected,
		ScanDuration,
		Executions,
		ExecutionDuration,
	)
}

// Handler serves the default registry in the prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
