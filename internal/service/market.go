// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coinpulse/coinpulse/internal/cache"
	"github.com/coinpulse/coinpulse/internal/metrics"
	"github.com/coinpulse/coinpulse/internal/model"
	"github.com/coinpulse/coinpulse/internal/refresh"
)

// Market query errors.
var (
	ErrNoHistory     = errors.New("no historical data found for this coin")
	ErrInvalidCoinID = errors.New("invalid coin id")
	ErrTooManyIDs    = errors.New("too many coin ids")
)

const (
	// TopCoinsLimit is how many coins GET /api/coins returns.
	TopCoinsLimit = 10
	// MaxCoinIDs caps the ids filter on GET /api/coins.
	MaxCoinIDs = 50

	DefaultHistoryDays  = 7
	MaxHistoryDays      = 30
	DefaultHistoryLimit = 168
	MaxHistoryLimit     = 1000

	DefaultChartDays = 7
	MaxChartDays     = 365

	// DefaultStalenessWindow is the age past which current data is refetched.
	DefaultStalenessWindow = 30 * time.Minute
	// DefaultChartCacheTTL is how long upstream chart series are cached.
	DefaultChartCacheTTL = 5 * time.Minute
)

// CoinStore reads the snapshot and history collections.
type CoinStore interface {
	ListCurrentCoins(ctx context.Context, limit int) ([]model.CoinSnapshot, error)
	ListCurrentCoinsByIDs(ctx context.Context, ids []string) ([]model.CoinSnapshot, error)
	ListHistory(ctx context.Context, coinID string, since time.Time, limit int) ([]model.CoinHistoryRecord, error)
	Stats(ctx context.Context) (*model.StoreStats, error)
}

// Refresher runs a guarded refresh.
type Refresher interface {
	Refresh(ctx context.Context, trigger refresh.Trigger) refresh.Result
}

// ChartSource fetches upstream price series.
type ChartSource interface {
	FetchCoinHistory(ctx context.Context, coinID string, days int) ([]model.PricePoint, error)
}

// ChartCache stores upstream price series.
type ChartCache interface {
	GetChart(ctx context.Context, coinID string, days int) ([]model.PricePoint, error)
	SetChart(ctx context.Context, coinID string, days int, points []model.PricePoint, ttl time.Duration) error
}

// MarketConfig tunes the market service.
type MarketConfig struct {
	StalenessWindow time.Duration
	ChartCacheTTL   time.Duration
}

// MarketService answers coin, history, stats and chart queries.
type MarketService struct {
	store      CoinStore
	refresher  Refresher
	source     ChartSource
	chartCache ChartCache
	staleness  time.Duration
	chartTTL   time.Duration
	logger     *slog.Logger
	metrics    metrics.Recorder
	now        func() time.Time
}

// NewMarketService creates a new MarketService. chartCache and recorder may be nil.
func NewMarketService(store CoinStore, refresher Refresher, source ChartSource, chartCache ChartCache, cfg MarketConfig, logger *slog.Logger, recorder metrics.Recorder) *MarketService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = DefaultStalenessWindow
	}
	if cfg.ChartCacheTTL <= 0 {
		cfg.ChartCacheTTL = DefaultChartCacheTTL
	}
	return &MarketService{
		store:      store,
		refresher:  refresher,
		source:     source,
		chartCache: chartCache,
		staleness:  cfg.StalenessWindow,
		chartTTL:   cfg.ChartCacheTTL,
		logger:     logger.With("component", "service.market"),
		metrics:    recorder,
		now:        time.Now,
	}
}

// CoinList is the current top coins.
type CoinList struct {
	Coins       []model.CoinSnapshot
	LastUpdated time.Time
	// Refresh is set when the read triggered a stale refresh.
	Refresh *refresh.Result
}

// ListTopCoins returns the current top coins. When the set is empty or any
// coin is older than the staleness window, it refreshes through the shared
// coordinator first and serves the coins that refresh wrote. A failed or
// skipped refresh serves what was read.
func (s *MarketService) ListTopCoins(ctx context.Context) (*CoinList, error) {
	coins, err := s.store.ListCurrentCoins(ctx, TopCoinsLimit)
	if err != nil {
		return nil, fmt.Errorf("list current coins: %w", err)
	}

	list := &CoinList{Coins: coins}

	if model.AnyStale(coins, s.now(), s.staleness) {
		s.metrics.IncStaleRefetch()

		// The refresh is shared with other callers; a client disconnect must not abort it.
		result := s.refresher.Refresh(context.WithoutCancel(ctx), refresh.TriggerStale)
		list.Refresh = &result

		switch {
		case result.Completed() && len(result.Coins) > 0:
			list.Coins = topOf(result.Coins)
		case result.Completed():
			fresh, err := s.store.ListCurrentCoins(ctx, TopCoinsLimit)
			if err != nil {
				s.logger.Warn("re-read after stale refresh failed, serving previous data", "error", err)
			} else {
				list.Coins = fresh
			}
		default:
			s.logger.Warn("stale refresh did not complete, serving stored data",
				"status", result.Status,
				"error", result.Err,
				"coins", len(coins),
			)
		}
	}

	list.LastUpdated = model.NewestUpdate(list.Coins)
	if list.LastUpdated.IsZero() {
		list.LastUpdated = s.now().UTC()
	}

	return list, nil
}

// ListCoinsByIDs returns the stored snapshots for ids, deduplicated and
// ranked. Unknown ids are left out. It never triggers a refresh.
func (s *MarketService) ListCoinsByIDs(ctx context.Context, ids []string) (*CoinList, error) {
	seen := make(map[string]struct{}, len(ids))
	wanted := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		if err := validateCoinID(id); err != nil {
			return nil, err
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		wanted = append(wanted, id)
	}
	if len(wanted) == 0 {
		return nil, ErrInvalidCoinID
	}
	if len(wanted) > MaxCoinIDs {
		return nil, ErrTooManyIDs
	}

	coins, err := s.store.ListCurrentCoinsByIDs(ctx, wanted)
	if err != nil {
		return nil, fmt.Errorf("list coins by id: %w", err)
	}

	list := &CoinList{Coins: coins, LastUpdated: model.NewestUpdate(coins)}
	if list.LastUpdated.IsZero() {
		list.LastUpdated = s.now().UTC()
	}
	return list, nil
}

// ForceRefresh runs a manual refresh and returns its outcome.
func (s *MarketService) ForceRefresh(ctx context.Context) refresh.Result {
	return s.refresher.Refresh(context.WithoutCancel(ctx), refresh.TriggerManual)
}

// CoinHistory returns up to limit records for coinID within the last days,
// oldest first. Out-of-range days or limit fall back to the defaults.
func (s *MarketService) CoinHistory(ctx context.Context, coinID string, days, limit int) ([]model.CoinHistoryRecord, error) {
	if err := validateCoinID(coinID); err != nil {
		return nil, err
	}
	days = boundedOrDefault(days, 1, MaxHistoryDays, DefaultHistoryDays)
	limit = boundedOrDefault(limit, 1, MaxHistoryLimit, DefaultHistoryLimit)

	since := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	records, err := s.store.ListHistory(ctx, coinID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrNoHistory
	}

	// Store returns newest first so the limit keeps the latest records.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}

	return records, nil
}

// Stats summarizes the stored data.
func (s *MarketService) Stats(ctx context.Context) (*model.StoreStats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	return stats, nil
}

// Chart returns the upstream price series for coinID over days, served from
// cache when possible. Upstream failures are returned as *coingecko.RemoteFetchError.
func (s *MarketService) Chart(ctx context.Context, coinID string, days int) ([]model.PricePoint, error) {
	if err := validateCoinID(coinID); err != nil {
		return nil, err
	}
	days = boundedOrDefault(days, 1, MaxChartDays, DefaultChartDays)

	if s.chartCache != nil {
		points, err := s.chartCache.GetChart(ctx, coinID, days)
		switch {
		case err == nil:
			s.metrics.IncChartCacheHit()
			return points, nil
		case errors.Is(err, cache.ErrCacheMiss):
			s.metrics.IncChartCacheMiss()
		default:
			s.metrics.IncChartCacheMiss()
			s.logger.Warn("chart cache read failed", "coin_id", coinID, "error", err)
		}
	}

	points, err := s.source.FetchCoinHistory(ctx, coinID, days)
	if err != nil {
		s.metrics.IncUpstreamError()
		return nil, fmt.Errorf("fetch chart for %s: %w", coinID, err)
	}

	if s.chartCache != nil {
		if err := s.chartCache.SetChart(ctx, coinID, days, points, s.chartTTL); err != nil {
			s.logger.Warn("chart cache write failed", "coin_id", coinID, "error", err)
		}
	}

	return points, nil
}

// topOf returns at most TopCoinsLimit coins from a refresh, which arrive in
// upstream market-cap order.
func topOf(coins []model.CoinSnapshot) []model.CoinSnapshot {
	if len(coins) > TopCoinsLimit {
		coins = coins[:TopCoinsLimit]
	}
	out := make([]model.CoinSnapshot, len(coins))
	copy(out, coins)
	return out
}

func validateCoinID(coinID string) error {
	if !model.ValidCoinID(coinID) {
		return ErrInvalidCoinID
	}
	return nil
}

func boundedOrDefault(v, min, max, def int) int {
	if v < min || v > max {
		return def
	}
	return v
}
