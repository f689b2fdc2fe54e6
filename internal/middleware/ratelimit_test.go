package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coinpulse/coinpulse/internal/cache"
	"github.com/coinpulse/coinpulse/internal/metrics"
)

type fakeLimiter struct {
	result *cache.RateLimitResult
	err    error
	gotIP  string
	gotLim cache.WindowLimit
}

func (f *fakeLimiter) CheckIPRateLimit(_ context.Context, ip string, limit cache.WindowLimit) (*cache.RateLimitResult, error) {
	f.gotIP = ip
	f.gotLim = limit
	return f.result, f.err
}

func newRateLimitHandler(limiter IPRateLimiter, rec metrics.Recorder, enabled bool) http.Handler {
	return RateLimitIP(RateLimitConfig{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Limiter:  limiter,
		Metrics:  rec,
		Enabled:  enabled,
		Requests: 100,
		Window:   15 * time.Minute,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestRateLimitIP_Allowed(t *testing.T) {
	limiter := &fakeLimiter{result: &cache.RateLimitResult{Allowed: true, Limit: 100, Remaining: 99, ResetAt: time.Unix(1700000000, 0)}}
	handler := newRateLimitHandler(limiter, nil, true)

	req := httptest.NewRequest(http.MethodGet, "/api/coins", nil)
	req.RemoteAddr = "203.0.113.9:41234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if limiter.gotIP != "203.0.113.9" {
		t.Errorf("limiter got IP %q, want port stripped", limiter.gotIP)
	}
	if limiter.gotLim.Requests != 100 || limiter.gotLim.Window != 15*time.Minute {
		t.Errorf("unexpected limit %+v", limiter.gotLim)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "99" {
		t.Errorf("X-RateLimit-Remaining = %q, want 99", got)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "100" {
		t.Errorf("X-RateLimit-Limit = %q, want 100", got)
	}
}

func TestRateLimitIP_Rejected(t *testing.T) {
	limiter := &fakeLimiter{result: &cache.RateLimitResult{Allowed: false, Limit: 100, RetryAfter: 9 * time.Second}}
	rec := metrics.NewInMemory()
	handler := newRateLimitHandler(limiter, rec, true)

	req := httptest.NewRequest(http.MethodGet, "/api/coins", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.Code)
	}
	if got := resp.Header().Get("Retry-After"); got != "9" {
		t.Errorf("Retry-After = %q, want 9", got)
	}
	if !strings.Contains(resp.Body.String(), "Too many requests") {
		t.Errorf("unexpected body: %s", resp.Body.String())
	}
	if rec.Snapshot().RateLimited != 1 {
		t.Error("expected rate-limited counter to increment")
	}
}

func TestRateLimitIP_FailsOpen(t *testing.T) {
	limiter := &fakeLimiter{result: &cache.RateLimitResult{Allowed: true}, err: errors.New("redis: connection refused")}
	handler := newRateLimitHandler(limiter, nil, true)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/coins", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 when limiter fails", rec.Code)
	}
}

func TestRateLimitIP_Disabled(t *testing.T) {
	limiter := &fakeLimiter{}
	handler := newRateLimitHandler(limiter, nil, false)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/coins", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if limiter.gotIP != "" {
		t.Error("limiter should not be consulted when disabled")
	}
}
