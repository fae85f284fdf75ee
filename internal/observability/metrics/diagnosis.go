// Package metrics provides the Prometheus collectors of the cropdoctor service.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DiagnosisMetrics covers model loading, predictions and the result cache.
// It implements model.LoadObserver and inference.Observer.
type DiagnosisMetrics struct {
	PredictionTotal    *prometheus.CounterVec
	PredictionDuration *prometheus.HistogramVec
	ModelLoadTotal     *prometheus.CounterVec
	ModelLoadDuration  *prometheus.HistogramVec
	ModelsLoaded       prometheus.Gauge
	ClassMismatchTotal *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	ResultsDropped     prometheus.Counter
}

// NewDiagnosisMetrics creates the collectors and registers them with registry.
func NewDiagnosisMetrics(registry *prometheus.Registry) (*DiagnosisMetrics, error) {
	m := &DiagnosisMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register diagnosis metrics: %w", err)
	}
	return m, nil
}

func (m *DiagnosisMetrics) initMetrics() {
	m.PredictionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropdoctor_predictions_total",
			Help: "Total number of predictions partitioned by crop and status",
		},
		[]string{"crop", "status"},
	)

	m.PredictionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cropdoctor_prediction_duration_seconds",
			Help:    "Time taken by the model predict call",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12), // 1ms to ~4s
		},
		[]string{"crop"},
	)

	m.ModelLoadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropdoctor_model_load_total",
			Help: "Total number of crop model resolutions partitioned by status",
		},
		[]string{"crop", "status"},
	)

	m.ModelLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cropdoctor_model_load_duration_seconds",
			Help:    "Time taken to resolve a crop model including failed candidates",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12), // 10ms to ~40s
		},
		[]string{"crop"},
	)

	m.ModelsLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cropdoctor_models_loaded",
		Help: "Number of crops with a bound model",
	})

	m.ClassMismatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropdoctor_class_mismatch_total",
			Help: "Predictions whose index had no configured class label",
		},
		[]string{"crop"},
	)

	m.CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropdoctor_result_cache_lookups_total",
			Help: "Result cache lookups partitioned by outcome",
		},
		[]string{"result"},
	)

	m.ResultsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cropdoctor_results_dropped_total",
		Help: "Results not handed to sinks because the dispatch queue was full",
	})
}

// RecordPrediction records one predict call
func (m *DiagnosisMetrics) RecordPrediction(crop, status string, duration time.Duration) {
	m.PredictionTotal.WithLabelValues(crop, status).Inc()
	m.PredictionDuration.WithLabelValues(crop).Observe(duration.Seconds())
}

// RecordClassMismatch counts a placeholder label
func (m *DiagnosisMetrics) RecordClassMismatch(crop string) {
	m.ClassMismatchTotal.WithLabelValues(crop).Inc()
}

// RecordModelLoad records the resolution of one crop
func (m *DiagnosisMetrics) RecordModelLoad(crop, status string, duration time.Duration) {
	m.ModelLoadTotal.WithLabelValues(crop, status).Inc()
	m.ModelLoadDuration.WithLabelValues(crop).Observe(duration.Seconds())
}

// SetModelsLoaded sets the loaded model gauge
func (m *DiagnosisMetrics) SetModelsLoaded(count int) {
	m.ModelsLoaded.Set(float64(count))
}

// RecordCacheLookup counts a cache hit or miss
func (m *DiagnosisMetrics) RecordCacheLookup(hit bool) {
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

// IncrementResultsDropped counts a dropped result
func (m *DiagnosisMetrics) IncrementResultsDropped() {
	m.ResultsDropped.Inc()
}

func (m *DiagnosisMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PredictionTotal,
		m.PredictionDuration,
		m.ModelLoadTotal,
		m.ModelLoadDuration,
		m.ModelsLoaded,
		m.ClassMismatchTotal,
		m.CacheLookups,
		m.ResultsDropped,
	}
}

// Describe implements the prometheus.Collector interface.
func (m *DiagnosisMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface.
func (m *DiagnosisMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}
