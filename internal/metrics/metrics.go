// Package metrics exposes Prometheus metrics for credential acquisition, rotation and cleanup.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Acquisition metrics
	acquisitionsTotal *prometheus.CounterVec
	fallbackTotal     *prometheus.CounterVec
	rateLimitedTotal  prometheus.Counter
	cacheRequests     *prometheus.CounterVec
	integrityFailures *prometheus.CounterVec

	// Rotation metrics
	rotationStartedTotal   *prometheus.CounterVec
	rotationCompletedTotal *prometheus.CounterVec
	rotationDuration       prometheus.Histogram

	// Ephemeral file metrics
	ephemeralFiles    prometheus.Gauge
	ephemeralReleased *prometheus.CounterVec

	// Health check metrics
	healthCheckDuration *prometheus.HistogramVec
	healthCheckStatus   *prometheus.GaugeVec

	// Registration guard
	metricsOnce       sync.Once
	metricsRegistered bool
)

// Recorder records credential manager metrics. All methods are no-ops until InitMetrics runs.
type Recorder struct{}

// New creates a Recorder
func New() *Recorder {
	return &Recorder{}
}

// InitMetrics registers all metrics with the default registry.
// This should be called once at startup when the metrics server is enabled.
func InitMetrics() {
	metricsOnce.Do(func() {
		acquisitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cookieguard_acquisitions_total",
				Help: "Total number of credential acquisitions by serving slot and result",
			},
			[]string{"slot", "result"},
		)

		fallbackTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cookieguard_fallback_total",
				Help: "Total number of fallback transitions in the acquisition chain",
			},
			[]string{"from", "to", "reason"},
		)

		rateLimitedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "cookieguard_rate_limited_total",
				Help: "Total number of acquisitions rejected by the rate limiter",
			},
		)

		cacheRequests = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cookieguard_cache_requests_total",
				Help: "Total number of decrypted bundle cache lookups",
			},
			[]string{"result"},
		)

		integrityFailures = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cookieguard_integrity_failures_total",
				Help: "Total number of digest mismatches and decrypt failures",
			},
			[]string{"slot"},
		)

		rotationStartedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cookieguard_rotation_started_total",
				Help: "Total number of rotations started",
			},
			[]string{"trigger"},
		)

		rotationCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cookieguard_rotation_completed_total",
				Help: "Total number of rotations completed",
			},
			[]string{"trigger", "status"},
		)

		rotationDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cookieguard_rotation_duration_seconds",
				Help:    "Duration of rotations in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
		)

		ephemeralFiles = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "cookieguard_ephemeral_files",
				Help: "Number of issued ephemeral credential files not yet released",
			},
		)

		ephemeralReleased = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cookieguard_ephemeral_released_total",
				Help: "Total number of ephemeral files released by method",
			},
			[]string{"method"},
		)

		healthCheckDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cookieguard_health_check_duration_seconds",
				Help:    "Duration of health checks in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"check"},
		)

		healthCheckStatus = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cookieguard_health_check_status",
				Help: "Current health check status (1=healthy, 0=unhealthy)",
			},
			[]string{"check"},
		)

		metricsRegistered = true
	})
}

// RecordAcquisition records the outcome of an acquisition
func (m *Recorder) RecordAcquisition(slot, result string) {
	if !metricsRegistered {
		return
	}
	acquisitionsTotal.WithLabelValues(slot, result).Inc()
}

// RecordFallback records a transition in the fallback chain
func (m *Recorder) RecordFallback(from, to, reason string) {
	if !metricsRegistered {
		return
	}
	fallbackTotal.WithLabelValues(from, to, reason).Inc()
}

// RecordRateLimited records a rejected acquisition
func (m *Recorder) RecordRateLimited() {
	if !metricsRegistered {
		return
	}
	rateLimitedTotal.Inc()
}

// RecordCache records a cache hit or miss
func (m *Recorder) RecordCache(hit bool) {
	if !metricsRegistered {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheRequests.WithLabelValues(result).Inc()
}

// RecordIntegrityFailure records a digest mismatch or decrypt failure
func (m *Recorder) RecordIntegrityFailure(slot string) {
	if !metricsRegistered {
		return
	}
	integrityFailures.WithLabelValues(slot).Inc()
}

// RecordRotationStarted records a rotation start
func (m *Recorder) RecordRotationStarted(trigger string) {
	if !metricsRegistered {
		return
	}
	rotationStartedTotal.WithLabelValues(trigger).Inc()
}

// RecordRotationCompleted records a rotation outcome and its duration
func (m *Recorder) RecordRotationCompleted(trigger, status string, durationSeconds float64) {
	if !metricsRegistered {
		return
	}
	rotationCompletedTotal.WithLabelValues(trigger, status).Inc()
	rotationDuration.Observe(durationSeconds)
}

// SetEphemeralFiles sets the number of live ephemeral files
func (m *Recorder) SetEphemeralFiles(n int) {
	if !metricsRegistered {
		return
	}
	ephemeralFiles.Set(float64(n))
}

// RecordEphemeralRelease records how a file was released: shred or unlink
func (m *Recorder) RecordEphemeralRelease(method string) {
	if !metricsRegistered {
		return
	}
	ephemeralReleased.WithLabelValues(method).Inc()
}

// RecordHealthCheck records a health check result
func (m *Recorder) RecordHealthCheck(check string, healthy bool, durationSeconds float64) {
	if !metricsRegistered {
		return
	}
	healthCheckDuration.WithLabelValues(check).Observe(durationSeconds)
	value := 0.0
	if healthy {
		value = 1.0
	}
	healthCheckStatus.WithLabelValues(check).Set(value)
}

// IsMetricsRegistered returns whether metrics have been initialized
func IsMetricsRegistered() bool {
	return metricsRegistered
}
