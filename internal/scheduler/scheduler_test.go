package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := NewBackoff(2*time.Second, 180*time.Second)

	require.Equal(t, 2*time.Second, b.Next(false))
	require.Equal(t, 4*time.Second, b.Next(false))
	require.Equal(t, 8*time.Second, b.Next(false))
	require.Equal(t, 16*time.Second, b.Next(false))
	require.Equal(t, 32*time.Second, b.Next(false))
	require.Equal(t, 64*time.Second, b.Next(false))
	require.Equal(t, 128*time.Second, b.Next(false))
	require.Equal(t, 180*time.Second, b.Next(false))
	require.Equal(t, 180*time.Second, b.Next(false))
}

func TestBackoffResetsOnProgress(t *testing.T) {
	b := NewBackoff(2*time.Second, 180*time.Second)

	b.Next(false)
	b.Next(false)
	require.Equal(t, 2*time.Second, b.Next(true))
	require.Equal(t, 2*time.Second, b.Next(false))
	require.Equal(t, 4*time.Second, b.Next(false))
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff(0, 0)
	require.Equal(t, DefaultBaseInterval, b.Next(true))

	// A max below the base is lifted to the base.
	b = NewBackoff(10*time.Second, time.Second)
	require.Equal(t, 10*time.Second, b.Next(false))
	require.Equal(t, 10*time.Second, b.Next(false))
}

func TestBackoffFixedInterval(t *testing.T) {
	// max == base pins the interval regardless of progress. This is how
	// a fixed-interval poller (the queue consumer) is configured.
	b := NewBackoff(2*time.Second, 2*time.Second)

	require.Equal(t, 2*time.Second, b.Next(false))
	require.Equal(t, 2*time.Second, b.Next(false))
	require.Equal(t, 2*time.Second, b.Next(true))
	require.Equal(t, 2*time.Second, b.Next(false))
}

// fakeClock releases one waiter per Tick call and records requested delays.
type fakeClock struct {
	delays chan time.Duration
	wake   chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{
		delays: make(chan time.Duration, 100),
		wake:   make(chan time.Time),
	}
}

func (c *fakeClock) Now() time.Time { return time.Unix(0, 0) }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.delays <- d
	return c.wake
}

func (c *fakeClock) Tick() {
	c.wake <- time.Time{}
}

func TestSchedulerBacksOffWhenIdle(t *testing.T) {
	defer goleak.VerifyNone(t)

	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())

	task := func(ctx context.Context) (bool, error) {
		return false, nil
	}

	s := New("idle", task, NewBackoff(2*time.Second, 180*time.Second), clock, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	require.Equal(t, 2*time.Second, <-clock.delays)
	clock.Tick()
	require.Equal(t, 4*time.Second, <-clock.delays)
	clock.Tick()
	require.Equal(t, 8*time.Second, <-clock.delays)

	cancel()
	<-done
}

func TestSchedulerResetsAfterProgress(t *testing.T) {
	defer goleak.VerifyNone(t)

	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())

	cycle := 0
	task := func(ctx context.Context) (bool, error) {
		cycle++
		// One unproductive cycle, then a productive one.
		return cycle == 2, nil
	}

	s := New("mixed", task, NewBackoff(2*time.Second, 180*time.Second), clock, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	require.Equal(t, 2*time.Second, <-clock.delays)
	clock.Tick()
	require.Equal(t, 2*time.Second, <-clock.delays)
	clock.Tick()
	require.Equal(t, 2*time.Second, <-clock.delays)

	cancel()
	<-done
}

func TestSchedulerKeepsRunningOnTaskError(t *testing.T) {
	defer goleak.VerifyNone(t)

	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	task := func(ctx context.Context) (bool, error) {
		calls++
		return false, errors.New("boom")
	}

	s := New("failing", task, NewBackoff(2*time.Second, 180*time.Second), clock, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	<-clock.delays
	clock.Tick()
	<-clock.delays

	cancel()
	<-done

	require.GreaterOrEqual(t, calls, 2)
}
