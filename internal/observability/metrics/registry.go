// Package metrics provides registry metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RegistryMetrics contains Prometheus metrics for metadata registry operations
type RegistryMetrics struct {
	registry *prometheus.Registry

	// Lookup metrics
	lookupsTotal      *prometheus.CounterVec
	lookupDuration    *prometheus.HistogramVec
	lookupErrorsTotal *prometheus.CounterVec
	lookupResultSize  *prometheus.HistogramVec

	// Connection metrics
	connectionsOpenGauge *prometheus.GaugeVec

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewRegistryMetrics creates and registers new registry metrics
func NewRegistryMetrics(registry *prometheus.Registry) (*RegistryMetrics, error) {
	m := &RegistryMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *RegistryMetrics) initMetrics() error {
	m.lookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_lookups_total",
			Help: "Total number of registry lookups",
		},
		[]string{"tables", "status"}, // status: success, error
	)

	m.lookupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registry_lookup_duration_seconds",
			Help:    "Time taken for registry lookups",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
		},
		[]string{"tables"},
	)

	m.lookupErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_lookup_errors_total",
			Help: "Total number of registry lookup errors",
		},
		[]string{"tables", "error_type"},
	)

	m.lookupResultSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "registry_lookup_result_size_rows",
			Help:    "Number of rows returned by registry lookups",
			Buckets: []float64{0, 1, 2, 5, 10, 50, 100, 500, 1000},
		},
		[]string{"tables"},
	)

	m.connectionsOpenGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_connections_open",
			Help: "Open registry database connections by driver",
		},
		[]string{"driver"},
	)

	m.collectors = []prometheus.Collector{
		m.lookupsTotal,
		m.lookupDuration,
		m.lookupErrorsTotal,
		m.lookupResultSize,
		m.connectionsOpenGauge,
	}

	return nil
}

// Describe implements the prometheus.Collector interface
func (m *RegistryMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface
func (m *RegistryMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordLookup records a completed registry lookup
func (m *RegistryMetrics) RecordLookup(tables, status string) {
	m.lookupsTotal.WithLabelValues(tables, status).Inc()
}

// RecordLookupDuration records the duration of a registry lookup
func (m *RegistryMetrics) RecordLookupDuration(tables string, seconds float64) {
	m.lookupDuration.WithLabelValues(tables).Observe(seconds)
}

// RecordLookupError records a registry lookup error by type
func (m *RegistryMetrics) RecordLookupError(tables, errorType string) {
	m.lookupErrorsTotal.WithLabelValues(tables, errorType).Inc()
}

// RecordLookupResultSize records the number of rows a lookup returned
func (m *RegistryMetrics) RecordLookupResultSize(tables string, rows int) {
	m.lookupResultSize.WithLabelValues(tables).Observe(float64(rows))
}

// UpdateOpenConnections sets the open connection gauge for a driver
func (m *RegistryMetrics) UpdateOpenConnections(driver string, count int) {
	m.connectionsOpenGauge.WithLabelValues(driver).Set(float64(count))
}
