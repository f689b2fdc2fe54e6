package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncRefresh is a no-op.
func (n *NoopRecorder) IncRefresh(status string) {}

// ObserveRefreshDuration is a no-op.
func (n *NoopRecorder) ObserveRefreshDuration(duration time.Duration) {}

// IncStaleRefetch is a no-op.
func (n *NoopRecorder) IncStaleRefetch() {}

// IncUpstreamError is a no-op.
func (n *NoopRecorder) IncUpstreamError() {}

// IncChartCacheHit is a no-op.
func (n *NoopRecorder) IncChartCacheHit() {}

// IncChartCacheMiss is a no-op.
func (n *NoopRecorder) IncChartCacheMiss() {}

// IncRateLimited is a no-op.
func (n *NoopRecorder) IncRateLimited() {}
