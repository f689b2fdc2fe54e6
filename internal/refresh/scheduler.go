package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// DefaultSchedule fires at the top of every hour.
	DefaultSchedule = "0 * * * *"
	// DefaultStartupDelay is the wait before the cold-start refresh.
	DefaultStartupDelay = 5 * time.Second
)

// Refresher runs one refresh.
type Refresher interface {
	Refresh(ctx context.Context, trigger Trigger) Result
}

// Scheduler triggers refreshes on a UTC cron spec plus once shortly after start.
// Results are logged by the coordinator and dropped here.
type Scheduler struct {
	refresher    Refresher
	spec         string
	startupDelay time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	cron     *cron.Cron
	runCtx   context.Context
	cancel   context.CancelFunc
	stopping chan struct{}
	stopped  bool
	wg       sync.WaitGroup
}

// NewScheduler creates a scheduler. Start must be called to begin firing.
func NewScheduler(refresher Refresher, spec string, startupDelay time.Duration, logger *slog.Logger) *Scheduler {
	if spec == "" {
		spec = DefaultSchedule
	}
	return &Scheduler{
		refresher:    refresher,
		spec:         spec,
		startupDelay: startupDelay,
		logger:       logger.With("component", "refresh.scheduler"),
	}
}

// Start registers the cron job and the startup run.
// Call it only after the datastore is reachable.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("scheduler already started")
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger{s.logger})),
		cron.WithLogger(cronLogger{s.logger}),
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if _, err := c.AddFunc(s.spec, func() { s.refresher.Refresh(runCtx, TriggerScheduled) }); err != nil {
		cancel()
		return fmt.Errorf("invalid refresh schedule %q: %w", s.spec, err)
	}

	s.cron = c
	s.runCtx = runCtx
	s.cancel = cancel
	s.stopping = make(chan struct{})

	s.wg.Add(1)
	go s.startupRun()

	c.Start()
	s.logger.Info("refresh scheduler started",
		"schedule", s.spec,
		"startup_delay", s.startupDelay.String(),
	)

	return nil
}

func (s *Scheduler) startupRun() {
	defer s.wg.Done()

	timer := time.NewTimer(s.startupDelay)
	defer timer.Stop()

	select {
	case <-s.stopping:
		return
	case <-timer.C:
	}

	s.refresher.Refresh(s.runCtx, TriggerStartup)
}

// Stop stops firing, cancels a pending startup run and waits for in-flight
// refreshes. If ctx expires first, in-flight refreshes are cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	if c == nil || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopping)
	s.mu.Unlock()

	cronDone := c.Stop()

	allDone := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(allDone)
	}()

	defer s.cancel()

	select {
	case <-allDone:
		s.logger.Info("refresh scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for refresh to finish: %w", ctx.Err())
	}
}

// cronLogger routes cron's internal logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
