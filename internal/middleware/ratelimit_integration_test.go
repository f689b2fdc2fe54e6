//go:build integration

package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coinpulse/coinpulse/internal/cache"
	"github.com/coinpulse/coinpulse/internal/testutil"
)

// TestIPRateLimitConcurrency verifies the Redis bucket under concurrent load.
func TestIPRateLimitConcurrency(t *testing.T) {
	redisURL := testutil.RequireEnv(t, "TEST_REDIS_URL")
	ctx := context.Background()

	cacheClient, err := cache.New(ctx, redisURL)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	defer cacheClient.Close()
	_ = testutil.FlushRedis(ctx, cacheClient.Client())

	handler := RateLimitIP(RateLimitConfig{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Limiter:  cacheClient,
		Enabled:  true,
		Requests: 10,
		Window:   time.Hour,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var allowed, rejected int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				req := httptest.NewRequest(http.MethodGet, "/api/coins", nil)
				req.RemoteAddr = "198.51.100.20:5555"
				rec := httptest.NewRecorder()
				handler.ServeHTTP(rec, req)

				switch rec.Code {
				case http.StatusOK:
					atomic.AddInt64(&allowed, 1)
				case http.StatusTooManyRequests:
					atomic.AddInt64(&rejected, 1)
				}
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Errorf("expected exactly 10 allowed requests, got %d (rejected %d)", allowed, rejected)
	}
	if allowed+rejected != 60 {
		t.Errorf("expected 60 total requests, got %d", allowed+rejected)
	}
}
