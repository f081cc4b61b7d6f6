// Package schedule runs timer-driven loops that can be stopped from any
// goroutine without leaking timers.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Step does one unit of work and returns the delay before the next run.
// A delay <= 0 ends the task.
type Step func(ctx context.Context) time.Duration

// Task is a running Step loop.
type Task struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Start runs step after first and then after every delay it returns, until
// the step asks to end, parent is cancelled or Stop is called. A first of
// zero runs the step immediately.
func Start(parent context.Context, clock clockwork.Clock, first time.Duration, step Step) *Task {
	ctx, cancel := context.WithCancel(parent)
	t := &Task{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.run(ctx, clock, first, step)
	return t
}

// Every runs fn on a fixed interval, the first time after one interval.
func Every(parent context.Context, clock clockwork.Clock, interval time.Duration, fn func(ctx context.Context)) *Task {
	return Start(parent, clock, interval, func(ctx context.Context) time.Duration {
		fn(ctx)
		return interval
	})
}

func (t *Task) run(ctx context.Context, clock clockwork.Clock, first time.Duration, step Step) {
	defer close(t.done)
	defer t.cancel()

	timer := clock.NewTimer(first)
	defer stopAndDrainTimer(timer)

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
		}

		// Stop may land while the timer fires; it wins.
		if ctx.Err() != nil {
			return
		}

		next := step(ctx)
		if next <= 0 || ctx.Err() != nil {
			return
		}
		timer.Reset(next)
	}
}

// Stop cancels the task. It is safe to call more than once and from inside
// the step. It does not wait for a step that is already running.
func (t *Task) Stop() {
	t.stopOnce.Do(t.cancel)
}

// Done is closed once the loop has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait stops the task and blocks until it has exited or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	t.Stop()
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stopAndDrainTimer stops a timer and drains its channel so a later Reset
// cannot deliver a stale tick.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
