package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	RefreshCompleted       uint64
	RefreshSkipped         uint64
	RefreshFailed          uint64
	RefreshDurationCount   uint64
	RefreshDurationTotalNs int64
	StaleRefetches         uint64
	UpstreamErrors         uint64
	ChartCacheHits         uint64
	ChartCacheMisses       uint64
	RateLimited            uint64
}

// InMemoryRecorder stores metrics in memory. It backs /metrics and tests.
type InMemoryRecorder struct {
	refreshCompleted       atomic.Uint64
	refreshSkipped         atomic.Uint64
	refreshFailed          atomic.Uint64
	refreshDurationCount   atomic.Uint64
	refreshDurationTotalNs atomic.Int64
	staleRefetches         atomic.Uint64
	upstreamErrors         atomic.Uint64
	chartCacheHits         atomic.Uint64
	chartCacheMisses       atomic.Uint64
	rateLimited            atomic.Uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		RefreshCompleted:       m.refreshCompleted.Load(),
		RefreshSkipped:         m.refreshSkipped.Load(),
		RefreshFailed:          m.refreshFailed.Load(),
		RefreshDurationCount:   m.refreshDurationCount.Load(),
		RefreshDurationTotalNs: m.refreshDurationTotalNs.Load(),
		StaleRefetches:         m.staleRefetches.Load(),
		UpstreamErrors:         m.upstreamErrors.Load(),
		ChartCacheHits:         m.chartCacheHits.Load(),
		ChartCacheMisses:       m.chartCacheMisses.Load(),
		RateLimited:            m.rateLimited.Load(),
	}
}

// IncRefresh increments the refresh counter for status.
// Unknown statuses are dropped.
func (m *InMemoryRecorder) IncRefresh(status string) {
	switch status {
	case RefreshCompleted:
		m.refreshCompleted.Add(1)
	case RefreshSkipped:
		m.refreshSkipped.Add(1)
	case RefreshFailed:
		m.refreshFailed.Add(1)
	}
}

// ObserveRefreshDuration records refresh duration.
func (m *InMemoryRecorder) ObserveRefreshDuration(duration time.Duration) {
	m.refreshDurationCount.Add(1)
	m.refreshDurationTotalNs.Add(duration.Nanoseconds())
}

// IncStaleRefetch increments the stale refetch counter.
func (m *InMemoryRecorder) IncStaleRefetch() {
	m.staleRefetches.Add(1)
}

// IncUpstreamError increments the upstream error counter.
func (m *InMemoryRecorder) IncUpstreamError() {
	m.upstreamErrors.Add(1)
}

// IncChartCacheHit increments the chart cache hit counter.
func (m *InMemoryRecorder) IncChartCacheHit() {
	m.chartCacheHits.Add(1)
}

// IncChartCacheMiss increments the chart cache miss counter.
func (m *InMemoryRecorder) IncChartCacheMiss() {
	m.chartCacheMisses.Add(1)
}

// IncRateLimited increments the rate-limited request counter.
func (m *InMemoryRecorder) IncRateLimited() {
	m.rateLimited.Add(1)
}
