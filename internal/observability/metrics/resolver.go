// Package metrics provides resolver metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ResolverMetrics contains Prometheus metrics for mapper engine operations
type ResolverMetrics struct {
	registry *prometheus.Registry

	// Operation metrics
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	// Lookup strategy metrics
	fastPathLookupsTotal prometheus.Counter

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewResolverMetrics creates and registers new resolver metrics
func NewResolverMetrics(registry *prometheus.Registry) (*ResolverMetrics, error) {
	m := &ResolverMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *ResolverMetrics) initMetrics() error {
	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resolver_operations_total",
			Help: "Total number of resolver operations",
		},
		[]string{"operation", "dataset_type", "status"}, // operation: map, query, standardize, bypass, backup
	)

	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resolver_operation_duration_seconds",
			Help:    "Time taken for resolver operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
		},
		[]string{"operation", "dataset_type"},
	)

	m.fastPathLookupsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resolver_fast_path_lookups_total",
			Help: "Registry lookups answered through the denormalized visit view",
		},
	)

	m.collectors = []prometheus.Collector{
		m.operationsTotal,
		m.operationDuration,
		m.fastPathLookupsTotal,
	}

	return nil
}

// Describe implements the prometheus.Collector interface
func (m *ResolverMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface
func (m *ResolverMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordOperation records a completed resolver operation
func (m *ResolverMetrics) RecordOperation(operation, datasetType, status string) {
	m.operationsTotal.WithLabelValues(operation, datasetType, status).Inc()
}

// RecordOperationDuration records the duration of a resolver operation
func (m *ResolverMetrics) RecordOperationDuration(operation, datasetType string, seconds float64) {
	m.operationDuration.WithLabelValues(operation, datasetType).Observe(seconds)
}

// RecordFastPathLookup counts a lookup served by the denormalized visit view
func (m *ResolverMetrics) RecordFastPathLookup() {
	m.fastPathLookupsTotal.Inc()
}
