package refresh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRefresher struct {
	mu       sync.Mutex
	triggers []Trigger
	fired    chan Trigger
}

func (r *recordingRefresher) Refresh(_ context.Context, trigger Trigger) Result {
	r.mu.Lock()
	r.triggers = append(r.triggers, trigger)
	r.mu.Unlock()
	if r.fired != nil {
		r.fired <- trigger
	}
	return Result{Status: StatusCompleted, Trigger: trigger}
}

func (r *recordingRefresher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.triggers)
}

func TestScheduler_StartupRun(t *testing.T) {
	rec := &recordingRefresher{fired: make(chan Trigger, 1)}
	s := NewScheduler(rec, DefaultSchedule, 10*time.Millisecond, discardLogger())

	require.NoError(t, s.Start(context.Background()))

	select {
	case trigger := <-rec.fired:
		assert.Equal(t, TriggerStartup, trigger)
	case <-time.After(2 * time.Second):
		t.Fatal("startup refresh did not fire")
	}

	require.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_StopCancelsPendingStartup(t *testing.T) {
	rec := &recordingRefresher{}
	s := NewScheduler(rec, DefaultSchedule, time.Hour, discardLogger())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))

	assert.Zero(t, rec.count())
	// Second stop is a no-op.
	assert.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_InvalidSpec(t *testing.T) {
	s := NewScheduler(&recordingRefresher{}, "not a cron spec", time.Hour, discardLogger())

	err := s.Start(context.Background())
	assert.Error(t, err)
	assert.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_DoubleStart(t *testing.T) {
	s := NewScheduler(&recordingRefresher{}, DefaultSchedule, time.Hour, discardLogger())

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(context.Background()) }()

	assert.Error(t, s.Start(context.Background()))
}

func TestScheduler_DefaultSpec(t *testing.T) {
	s := NewScheduler(&recordingRefresher{}, "", time.Hour, discardLogger())
	assert.Equal(t, DefaultSchedule, s.spec)
}
