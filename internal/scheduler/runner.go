// Package scheduler runs a task on a fixed, reconfigurable interval.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Task is invoked on every tick.
type Task func(ctx context.Context)

// Runner invokes a task immediately and then once per interval. Changing the
// interval stops the current ticker and starts a fresh one.
type Runner struct {
	task   Task
	logger *slog.Logger
	reset  chan struct{}

	mu       sync.Mutex
	interval time.Duration
}

// New constructs a Runner.
func New(interval time.Duration, task Task, logger *slog.Logger) (*Runner, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	if task == nil {
		return nil, fmt.Errorf("task must not be nil")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		task:     task,
		logger:   logger,
		reset:    make(chan struct{}, 1),
		interval: interval,
	}, nil
}

// Interval returns the current interval.
func (r *Runner) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// Reset changes the interval. The next tick fires one full new interval after
// the running loop picks up the change.
func (r *Runner) Reset(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be > 0")
	}

	r.mu.Lock()
	r.interval = interval
	r.mu.Unlock()

	select {
	case r.reset <- struct{}{}:
	default:
	}
	return nil
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	interval := r.Interval()
	r.logger.Debug("runner started", "interval", interval)

	r.task(ctx)

	ticker := time.NewTicker(interval)
	defer func() { ticker.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.reset:
			ticker.Stop()
			interval = r.Interval()
			ticker = time.NewTicker(interval)
			r.logger.Info("runner interval changed", "interval", interval)
		case <-ticker.C:
			r.task(ctx)
		}
	}
}
