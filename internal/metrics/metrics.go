// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Path labels for SamplesProcessed.
const (
	PathDirect = "direct"
	PathRefine = "refine"
)

var (
	// StatusServerHandlingSeconds is a histogram for status gRPC latencies
	StatusServerHandlingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "predict_status_handling_seconds",
			Help:    "Histogram of response latency (seconds) of the status gRPC server.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "code"},
	)

	// SamplesProcessed counts samples by pipeline path and outcome
	SamplesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predict_samples_total",
			Help: "Number of samples processed, by path and status.",
		},
		[]string{"path", "status"},
	)

	// InferenceLatencySeconds is a histogram for model forward latency
	InferenceLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "predict_inference_latency_seconds",
			Help:    "Histogram of model forward or refinement latency (seconds).",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// SampleLatencySeconds is a histogram for end-to-end sample latency
	SampleLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "predict_sample_latency_seconds",
			Help:    "Histogram of per-sample latency (seconds) including decode and encode.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// DatasetSize is the number of samples in the current run
	DatasetSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "predict_dataset_size",
			Help: "Number of samples discovered for the current run.",
		},
	)

	// SamplesDone is the index of the next sample to process
	SamplesDone = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "predict_samples_done",
			Help: "Number of samples completed in the current run.",
		},
	)

	// HealthStatus is a gauge indicating the health status of the run
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "health_status",
			Help: "Health status of the run (1 = healthy, 0 = unhealthy).",
		},
	)
)

// RecordStatusLatency records the latency of a status gRPC call
func RecordStatusLatency(method, code string, seconds float64) {
	StatusServerHandlingSeconds.WithLabelValues(method, code).Observe(seconds)
}

// RecordSample records one processed sample
func RecordSample(path string, err error, seconds float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	SamplesProcessed.WithLabelValues(path, status).Inc()
	SampleLatencySeconds.Observe(seconds)
}

// RecordInferenceLatency records the latency of a forward or refinement call
func RecordInferenceLatency(seconds float64) {
	InferenceLatencySeconds.Observe(seconds)
}

// SetProgress publishes run progress
func SetProgress(done, total int) {
	SamplesDone.Set(float64(done))
	DatasetSize.Set(float64(total))
}

// SetHealthy sets the health status to healthy
func SetHealthy() {
	HealthStatus.Set(1)
}

// SetUnhealthy sets the health status to unhealthy
func SetUnhealthy() {
	HealthStatus.Set(0)
}
