package hooks

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Skryldev/image-optimizer/core"
)

// PrometheusMetrics exports pipeline observations as Prometheus collectors
// registered on its own registry.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	stepSeconds *prometheus.HistogramVec
	stepErrors  *prometheus.CounterVec
	results     *prometheus.CounterVec
	inputBytes  prometheus.Counter
	savedBytes  prometheus.Counter
}

// NewPrometheusMetrics creates the collectors under the given namespace.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	m := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		stepSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of pipeline steps.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"step"}),
		stepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_errors_total",
			Help:      "Failed pipeline steps by error category.",
		}, []string{"step", "category"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Finished batch items by status.",
		}, []string{"status"}),
		inputBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_bytes_total",
			Help:      "Bytes decoded by the pipeline.",
		}),
		savedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saved_bytes_total",
			Help:      "Bytes saved across successful items.",
		}),
	}
	m.registry.MustRegister(m.stepSeconds, m.stepErrors, m.results, m.inputBytes, m.savedBytes)
	return m
}

// Registry returns the registry to expose over HTTP.
func (m *PrometheusMetrics) Registry() *prometheus.Registry { return m.registry }

func (m *PrometheusMetrics) RecordProcessingTime(stepName string, d interface{ Seconds() float64 }) {
	m.stepSeconds.WithLabelValues(stepName).Observe(d.Seconds())
}

func (m *PrometheusMetrics) RecordThroughput(bytes int64) {
	if bytes > 0 {
		m.inputBytes.Add(float64(bytes))
	}
}

func (m *PrometheusMetrics) RecordResult(status core.Status, originalSize, newSize int64) {
	m.results.WithLabelValues(string(status)).Inc()
	if status == core.StatusDone && originalSize > newSize {
		m.savedBytes.Add(float64(originalSize - newSize))
	}
}

func (m *PrometheusMetrics) RecordError(stepName string, category string) {
	m.stepErrors.WithLabelValues(stepName, category).Inc()
}
