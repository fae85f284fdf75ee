package metrics

import "time"

// Histogram bucket parameters shared by the collectors
const (
	BucketStart1ms  = 0.001
	BucketStart10ms = 0.01
	BucketStart100B = 100

	BucketFactor2  = 2
	BucketFactor10 = 10

	BucketCount6  = 6
	BucketCount10 = 10
	BucketCount12 = 12
)

// Status label values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ShutdownTimeout bounds the graceful stop of the metrics server
const ShutdownTimeout = 5 * time.Second
