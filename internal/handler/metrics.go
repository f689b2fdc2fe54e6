package handler

import (
	"fmt"
	"net/http"

	"github.com/coinpulse/coinpulse/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "coinpulse_refresh_total{status=\"completed\"} %d\n", snap.RefreshCompleted)
	writeMetric(w, "coinpulse_refresh_total{status=\"skipped\"} %d\n", snap.RefreshSkipped)
	writeMetric(w, "coinpulse_refresh_total{status=\"failed\"} %d\n", snap.RefreshFailed)
	writeMetric(w, "coinpulse_refresh_duration_seconds_count %d\n", snap.RefreshDurationCount)
	writeMetric(w, "coinpulse_refresh_duration_seconds_sum %.6f\n", float64(snap.RefreshDurationTotalNs)/1e9)

	writeMetric(w, "coinpulse_stale_refetch_total %d\n", snap.StaleRefetches)
	writeMetric(w, "coinpulse_upstream_errors_total %d\n", snap.UpstreamErrors)

	writeMetric(w, "coinpulse_chart_cache_hits_total %d\n", snap.ChartCacheHits)
	writeMetric(w, "coinpulse_chart_cache_misses_total %d\n", snap.ChartCacheMisses)

	writeMetric(w, "coinpulse_rate_limited_total %d\n", snap.RateLimited)
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
