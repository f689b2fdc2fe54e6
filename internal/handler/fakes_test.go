package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coinpulse/coinpulse/internal/auth"
	"github.com/coinpulse/coinpulse/internal/cache"
	"github.com/coinpulse/coinpulse/internal/metrics"
	"github.com/coinpulse/coinpulse/internal/middleware"
	"github.com/coinpulse/coinpulse/internal/model"
	"github.com/coinpulse/coinpulse/internal/refresh"
	"github.com/coinpulse/coinpulse/internal/service"
)

type fakeMarket struct {
	list    *service.CoinList
	listErr error
	gotIDs  []string

	result refresh.Result

	history    []model.CoinHistoryRecord
	historyErr error
	gotCoin    string
	gotDays    int
	gotLimit   int

	stats    *model.StoreStats
	statsErr error

	chart    []model.PricePoint
	chartErr error
}

func (f *fakeMarket) ListTopCoins(context.Context) (*service.CoinList, error) {
	return f.list, f.listErr
}

func (f *fakeMarket) ListCoinsByIDs(_ context.Context, ids []string) (*service.CoinList, error) {
	f.gotIDs = ids
	return f.list, f.listErr
}

func (f *fakeMarket) ForceRefresh(context.Context) refresh.Result {
	return f.result
}

func (f *fakeMarket) CoinHistory(_ context.Context, coinID string, days, limit int) ([]model.CoinHistoryRecord, error) {
	f.gotCoin, f.gotDays, f.gotLimit = coinID, days, limit
	return f.history, f.historyErr
}

func (f *fakeMarket) Stats(context.Context) (*model.StoreStats, error) {
	return f.stats, f.statsErr
}

func (f *fakeMarket) Chart(_ context.Context, coinID string, days int) ([]model.PricePoint, error) {
	f.gotCoin, f.gotDays = coinID, days
	return f.chart, f.chartErr
}

type fakeAuth struct {
	session *service.Session
	err     error
	gotPass string
}

func (f *fakeAuth) Register(_ context.Context, _, password string) (*service.Session, error) {
	f.gotPass = password
	return f.session, f.err
}

func (f *fakeAuth) Login(_ context.Context, _, password string) (*service.Session, error) {
	f.gotPass = password
	return f.session, f.err
}

type fakeSessions struct {
	user *model.User
	err  error
}

func (f *fakeSessions) Authenticate(context.Context, string) (*model.User, error) {
	return f.user, f.err
}

type fakeLimiter struct {
	allowed bool
}

func (f *fakeLimiter) CheckIPRateLimit(context.Context, string, cache.WindowLimit) (*cache.RateLimitResult, error) {
	return &cache.RateLimitResult{Allowed: f.allowed, Limit: 100, RetryAfter: time.Second, ResetAt: time.Now()}, nil
}

// testDeps collects the fakes behind a test router.
type testDeps struct {
	market     *fakeMarket
	auth       *fakeAuth
	sessions   *fakeSessions
	limiter    *fakeLimiter
	metrics    *metrics.InMemoryRecorder
	production bool
}

func newTestDeps() *testDeps {
	return &testDeps{
		market:   &fakeMarket{},
		auth:     &fakeAuth{},
		sessions: &fakeSessions{},
		metrics:  metrics.NewInMemory(),
	}
}

func (d *testDeps) router(t *testing.T) *chi.Mux {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dev := !d.production

	rl := middleware.RateLimitConfig{Logger: logger, Metrics: d.metrics, Requests: 100, Window: 15 * time.Minute}
	if d.limiter != nil {
		rl.Enabled = true
		rl.Limiter = d.limiter
	}

	return NewRouter(RouterConfig{
		Logger:             logger,
		Root:               New(),
		Health:             NewHealthHandler(nil, nil),
		Metrics:            NewMetricsHandler(d.metrics),
		Market:             NewMarketHandler(d.market, logger, dev),
		Auth:               NewAuthHandler(d.auth, auth.CookiePolicy{Production: d.production, MaxAge: auth.SessionTTL}, logger, dev),
		Sessions:           d.sessions,
		IsDevelopment:      dev,
		AllowedOrigins:     []string{"http://localhost:3000"},
		MaxRequestBodySize: 1 << 20,
		RateLimit:          rl,
	})
}

// serve sends one request through router and returns the recorded response.
func serve(router http.Handler, method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(token string) *http.Cookie {
	return &http.Cookie{Name: auth.SessionCookieName, Value: token}
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
