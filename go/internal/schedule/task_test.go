package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForTimer(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
}

func TestStartRunsWithReturnedDelays(t *testing.T) {
	clock := clockwork.NewFakeClock()
	runs := make(chan int, 10)
	var n int

	task := Start(context.Background(), clock, time.Second, func(ctx context.Context) time.Duration {
		n++
		runs <- n
		return 3 * time.Second
	})
	defer task.Stop()

	waitForTimer(t, clock)
	clock.Advance(time.Second)
	assert.Equal(t, 1, <-runs)

	waitForTimer(t, clock)
	clock.Advance(2 * time.Second)
	select {
	case <-runs:
		t.Fatal("step ran before its delay elapsed")
	default:
	}

	clock.Advance(time.Second)
	assert.Equal(t, 2, <-runs)
}

func TestStartZeroDelayRunsImmediately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ran := make(chan struct{}, 1)

	task := Start(context.Background(), clock, 0, func(ctx context.Context) time.Duration {
		ran <- struct{}{}
		return 0
	})

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("step did not run")
	}
	<-task.Done()
}

func TestStopIsIdempotentAndTotal(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var runs atomic.Int32

	task := Every(context.Background(), clock, time.Second, func(ctx context.Context) {
		runs.Add(1)
	})

	waitForTimer(t, clock)
	task.Stop()
	task.Stop()

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not exit after Stop")
	}

	clock.Advance(time.Minute)
	assert.Zero(t, runs.Load())
}

func TestStopFromInsideStep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var task *Task
	started := make(chan struct{})

	task = Start(context.Background(), clock, 0, func(ctx context.Context) time.Duration {
		<-started
		task.Stop()
		return time.Second
	})
	close(started)

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not exit")
	}
}

func TestParentCancellation(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())

	task := Every(ctx, clock, time.Second, func(context.Context) {})
	cancel()

	require.NoError(t, task.Wait(context.Background()))
}
