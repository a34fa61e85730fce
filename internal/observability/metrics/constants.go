// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Operation label values recorded by the resolver metrics.
const (
	// OpMap represents path resolution operations.
	OpMap = "map"
	// OpQuery represents registry query operations.
	OpQuery = "query"
	// OpStandardize represents item standardization operations.
	OpStandardize = "standardize"
	// OpBypass represents bypass operations for derived dataset types.
	OpBypass = "bypass"
	// OpBackup represents output backup chain operations.
	OpBackup = "backup"
)

// Status label values shared by counters.
const (
	// StatusSuccess marks an operation that completed.
	StatusSuccess = "success"
	// StatusError marks an operation that failed.
	StatusError = "error"
)

// Histogram bucket configuration constants.
// These define the base values and factors for exponential bucket generation.
const (
	// BucketStart1ms is the starting bucket for 1ms histograms.
	BucketStart1ms = 0.001
	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2
	// BucketCount15 defines 15 exponential buckets, 1ms to ~32s.
	BucketCount15 = 15
)

// ShutdownTimeout bounds the metrics endpoint graceful shutdown.
const ShutdownTimeout = 5 * time.Second
