// Package scheduler runs the pipeline's periodic work with exponential
// backoff when cycles make no progress.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mtnfog/entitydb/pkg/logger"
)

const (
	// DefaultBaseInterval is the delay after a productive cycle.
	DefaultBaseInterval = 2 * time.Second

	// DefaultMaxInterval caps the backoff between unproductive cycles.
	DefaultMaxInterval = 180 * time.Second
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// NewRealClock returns a Clock backed by the system clock.
func NewRealClock() Clock {
	return realClock{}
}

// Backoff tracks the delay between cycles. It starts at the base interval,
// doubles after every unproductive cycle, caps at the max interval, and
// resets to the base interval as soon as a cycle does work.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

// NewBackoff creates a backoff over [base, max]. Non-positive arguments fall
// back to the defaults.
func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultBaseInterval
	}
	if max <= 0 {
		max = DefaultMaxInterval
	}
	if max < base {
		max = base
	}
	return &Backoff{base: base, max: max, current: base}
}

// Next returns the delay before the next cycle given whether the last cycle
// made progress.
func (b *Backoff) Next(progress bool) time.Duration {
	if progress {
		b.current = b.base
		return b.current
	}
	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// Task is one scheduled unit of work. It reports whether it made progress so
// the scheduler can decide between the base interval and backing off.
type Task func(ctx context.Context) (progress bool, err error)

// Scheduler repeatedly runs a task, never overlapping invocations, sleeping
// between cycles according to the task's progress.
type Scheduler struct {
	name    string
	task    Task
	backoff *Backoff
	clock   Clock
	logger  logger.Logger
}

// New creates a scheduler for the named task. A nil clock uses the system
// clock and a nil logger discards output.
func New(name string, task Task, backoff *Backoff, clock Clock, log logger.Logger) *Scheduler {
	if clock == nil {
		clock = NewRealClock()
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}
	if backoff == nil {
		backoff = NewBackoff(0, 0)
	}
	return &Scheduler{
		name:    name,
		task:    task,
		backoff: backoff,
		clock:   clock,
		logger:  log,
	}
}

// Run executes the task loop until the context is canceled. A task error is
// logged and treated as an unproductive cycle; the loop keeps going.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		progress, err := s.task(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("scheduled task failed",
				zap.String("task", s.name),
				zap.Error(err),
			)
			progress = false
		}

		delay := s.backoff.Next(progress)

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(delay):
		}
	}
}
