// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Refresh outcome labels.
const (
	RefreshCompleted = "completed"
	RefreshSkipped   = "skipped"
	RefreshFailed    = "failed"
)

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Refresh pipeline metrics
	IncRefresh(status string) // status: "completed", "skipped", "failed"
	ObserveRefreshDuration(duration time.Duration)
	IncStaleRefetch()
	IncUpstreamError()

	// Chart cache metrics
	IncChartCacheHit()
	IncChartCacheMiss()

	// Edge metrics
	IncRateLimited()
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
