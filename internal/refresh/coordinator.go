// Package refresh runs the market-data refresh: a single-flight coordinator
// that fetches the top coins and writes them to the store, and a scheduler
// that drives it on a cron spec.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/coinpulse/coinpulse/internal/metrics"
	"github.com/coinpulse/coinpulse/internal/model"
	"github.com/coinpulse/coinpulse/internal/repository"
)

const (
	// DefaultLimit is how many top coins one refresh fetches.
	DefaultLimit = 10
	// DefaultRetention is how long history records are kept.
	DefaultRetention = 30 * 24 * time.Hour
	// DefaultTimeout bounds one refresh, fetch and write together.
	DefaultTimeout = time.Minute
)

// Trigger names what started a refresh.
type Trigger string

// Refresh triggers.
const (
	TriggerScheduled Trigger = "scheduled"
	TriggerStartup   Trigger = "startup"
	TriggerManual    Trigger = "manual"
	TriggerStale     Trigger = "stale"
)

// Status is the outcome of a refresh.
type Status string

// Refresh outcomes.
const (
	StatusCompleted Status = metrics.RefreshCompleted
	StatusSkipped   Status = metrics.RefreshSkipped
	StatusFailed    Status = metrics.RefreshFailed
)

// ErrAlreadyRunning is set on skipped results.
var ErrAlreadyRunning = errors.New("refresh already in progress")

// Result describes one refresh attempt.
type Result struct {
	Status     Status
	Trigger    Trigger
	StartedAt  time.Time
	FinishedAt time.Time
	Fetched    int
	Upserted   int
	Inserted   int
	Pruned     int64
	Unranked   int64
	// Coins is the set written by a completed refresh, in upstream rank order.
	Coins []model.CoinSnapshot
	Err   error
}

// Duration returns how long the refresh ran.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Completed reports whether the refresh wrote fresh data.
func (r Result) Completed() bool {
	return r.Status == StatusCompleted
}

// MarketClient fetches the current top coins.
type MarketClient interface {
	FetchTopCoins(ctx context.Context, limit int) ([]model.CoinSnapshot, error)
}

// Store persists a refresh as one unit of work.
type Store interface {
	ApplyRefresh(ctx context.Context, coins []model.CoinSnapshot, capturedAt, cutoff time.Time) (*repository.RefreshWrite, error)
}

// Locker is an optional cross-process lock held for the duration of a refresh.
// acquired is false when another process holds it.
type Locker interface {
	TryLock(ctx context.Context) (unlock func(context.Context) error, acquired bool, err error)
}

// Config tunes the coordinator.
type Config struct {
	Limit     int
	Retention time.Duration
	// Timeout bounds each refresh. Keep it below the Locker's TTL so the
	// shared lock cannot expire while this process is still writing.
	Timeout time.Duration
}

// Coordinator runs at most one refresh at a time. Overlapping calls are
// skipped, not queued.
type Coordinator struct {
	client    MarketClient
	store     Store
	locker    Locker
	logger    *slog.Logger
	metrics   metrics.Recorder
	limit     int
	retention time.Duration
	timeout   time.Duration
	now       func() time.Time

	running atomic.Bool
}

// NewCoordinator creates a coordinator. locker and recorder may be nil.
func NewCoordinator(client MarketClient, store Store, locker Locker, cfg Config, logger *slog.Logger, recorder metrics.Recorder) *Coordinator {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Coordinator{
		client:    client,
		store:     store,
		locker:    locker,
		logger:    logger.With("component", "refresh.coordinator"),
		metrics:   recorder,
		limit:     cfg.Limit,
		retention: cfg.Retention,
		timeout:   cfg.Timeout,
		now:       time.Now,
	}
}

// Running reports whether a refresh is in flight in this process.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// Refresh fetches the top coins and applies them to the store.
// It never panics on failure; the outcome is in the returned Result.
func (c *Coordinator) Refresh(ctx context.Context, trigger Trigger) Result {
	result := Result{Trigger: trigger, StartedAt: c.now().UTC()}

	if !c.running.CompareAndSwap(false, true) {
		return c.finish(c.skip(result))
	}
	defer c.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.locker != nil {
		unlock, acquired, err := c.locker.TryLock(ctx)
		switch {
		case err != nil:
			c.logger.Warn("refresh lock unavailable, continuing with local guard",
				"trigger", trigger,
				"error", err,
			)
		case !acquired:
			return c.finish(c.skip(result))
		default:
			defer func() {
				if err := unlock(context.WithoutCancel(ctx)); err != nil {
					c.logger.Warn("release refresh lock failed", "error", err)
				}
			}()
		}
	}

	return c.finish(c.run(ctx, result))
}

func (c *Coordinator) skip(result Result) Result {
	result.Status = StatusSkipped
	result.Err = ErrAlreadyRunning
	result.FinishedAt = result.StartedAt
	return result
}

func (c *Coordinator) run(ctx context.Context, result Result) Result {
	coins, err := c.client.FetchTopCoins(ctx, c.limit)
	if err != nil {
		c.metrics.IncUpstreamError()
		return c.fail(result, fmt.Errorf("fetch top coins: %w", err))
	}
	result.Fetched = len(coins)

	capturedAt := c.now().UTC()
	write, err := c.store.ApplyRefresh(ctx, coins, capturedAt, capturedAt.Add(-c.retention))
	if err != nil {
		return c.fail(result, fmt.Errorf("apply refresh: %w", err))
	}

	result.Status = StatusCompleted
	result.Upserted = write.Upserted
	result.Inserted = write.Inserted
	result.Pruned = write.Pruned
	result.Unranked = write.Unranked
	result.Coins = coins
	result.FinishedAt = c.now().UTC()
	return result
}

func (c *Coordinator) fail(result Result, err error) Result {
	result.Status = StatusFailed
	result.Err = err
	result.FinishedAt = c.now().UTC()
	return result
}

// finish logs and records the outcome.
func (c *Coordinator) finish(result Result) Result {
	c.metrics.IncRefresh(string(result.Status))

	switch result.Status {
	case StatusSkipped:
		c.logger.Info("refresh skipped, already running", "trigger", result.Trigger)
	case StatusFailed:
		c.metrics.ObserveRefreshDuration(result.Duration())
		c.logger.Error("refresh failed",
			"trigger", result.Trigger,
			"duration_ms", result.Duration().Milliseconds(),
			"error", result.Err,
		)
	default:
		c.metrics.ObserveRefreshDuration(result.Duration())
		if result.Fetched == 0 {
			c.logger.Warn("refresh fetched no coins", "trigger", result.Trigger)
		}
		c.logger.Info("refresh completed",
			"trigger", result.Trigger,
			"fetched", result.Fetched,
			"upserted", result.Upserted,
			"inserted", result.Inserted,
			"pruned", result.Pruned,
			"unranked", result.Unranked,
			"duration_ms", result.Duration().Milliseconds(),
		)
	}

	return result
}
