// Package metrics declares the Prometheus collectors for both services.
// Collectors register on the default registry; /metrics serves them with
// promhttp.Handler.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hazard_http_request_duration_seconds",
			Help:    "HTTP request latency by service, method, route pattern and status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "route", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hazard_http_requests_in_flight",
			Help: "Requests currently being served.",
		},
		[]string{"service"},
	)

	// Inference

	InferenceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hazard_inference_duration_seconds",
			Help:    "Forward pass latency, excluding time spent waiting for a slot.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	InferenceQueueWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hazard_inference_queue_wait_seconds",
			Help:    "Time spent waiting for an inference slot.",
			Buckets: prometheus.DefBuckets,
		},
	)

	InferenceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hazard_inference_errors_total",
			Help: "Failed classifications by reason.",
		},
		[]string{"reason"}, // decode, runtime, canceled
	)

	Predictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hazard_predictions_total",
			Help: "Successful classifications by predicted label.",
		},
		[]string{"label"},
	)

	// Scratch files

	ScratchFilesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hazard_scratch_files_in_flight",
			Help: "Upload scratch files currently on disk for in-flight requests.",
		},
	)

	ScratchFilesSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hazard_scratch_files_swept_total",
			Help: "Orphaned scratch files removed by the sweeper.",
		},
	)

	// Gateway upstream

	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hazard_upstream_requests_total",
			Help: "Gateway calls to the classifier by outcome.",
		},
		[]string{"outcome"}, // ok, client_error, error, rejected, canceled
	)

	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hazard_upstream_breaker_state",
			Help: "Classifier circuit breaker state: 0 closed, 1 half-open, 2 open.",
		},
	)
)

// ObserveRequest records one finished HTTP request.
func ObserveRequest(service, method, route, status string, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(service, method, route, status).Observe(d.Seconds())
}

// TrackInFlight adjusts the in-flight gauge for service.
func TrackInFlight(service string, delta float64) {
	HTTPRequestsInFlight.WithLabelValues(service).Add(delta)
}
