package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HistoryMetrics covers prediction history storage
type HistoryMetrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
}

// NewHistoryMetrics creates history collectors registered with registry
func NewHistoryMetrics(registry *prometheus.Registry) (*HistoryMetrics, error) {
	m := &HistoryMetrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cropdoctor_history_operations_total",
				Help: "History store operations partitioned by operation and status",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cropdoctor_history_operation_duration_seconds",
				Help:    "Time taken by history store operations",
				Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
			},
			[]string{"operation"},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register history metrics: %w", err)
	}
	return m, nil
}

// RecordOperation records one store operation
func (m *HistoryMetrics) RecordOperation(operation string, duration time.Duration, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Describe implements the prometheus.Collector interface.
func (m *HistoryMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.OperationsTotal.Describe(ch)
	m.OperationDuration.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *HistoryMetrics) Collect(ch chan<- prometheus.Metric) {
	m.OperationsTotal.Collect(ch)
	m.OperationDuration.Collect(ch)
}

// NotificationMetrics covers outgoing alerts
type NotificationMetrics struct {
	SentTotal *prometheus.CounterVec
}

// NewNotificationMetrics creates notification collectors registered with registry
func NewNotificationMetrics(registry *prometheus.Registry) (*NotificationMetrics, error) {
	m := &NotificationMetrics{
		SentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cropdoctor_notifications_total",
				Help: "Alert deliveries partitioned by service and status",
			},
			[]string{"service", "status"},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register notification metrics: %w", err)
	}
	return m, nil
}

// RecordDelivery records one delivery to service
func (m *NotificationMetrics) RecordDelivery(service string, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.SentTotal.WithLabelValues(service, status).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.SentTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.SentTotal.Collect(ch)
}
