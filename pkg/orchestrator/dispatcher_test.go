package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDispatcherSingleRunPerTask(t *testing.T) {
	d := NewDispatcher(context.Background(), nopLogger{})

	release := make(chan struct{})
	err := d.Dispatch("t1", func(ctx context.Context) { <-release })
	assert.NoError(t, err)
	assert.True(t, d.Active("t1"))

	err = d.Dispatch("t1", func(ctx context.Context) {})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already has an active run")

	close(release)
	assert.Eventually(t, func() bool { return !d.Active("t1") }, time.Second, 5*time.Millisecond)

	// A finished task can be dispatched again.
	assert.NoError(t, d.Dispatch("t1", func(ctx context.Context) {}))
	d.Drain()
}

func TestDispatcherDrainWaitsAndRejects(t *testing.T) {
	d := NewDispatcher(context.Background(), nopLogger{})

	var finished atomic.Bool
	assert.NoError(t, d.Dispatch("t1", func(ctx context.Context) {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	}))

	d.Drain()
	assert.True(t, finished.Load())

	err := d.Dispatch("t2", func(ctx context.Context) {})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "draining")
}

func TestDispatcherShutdownCancelsRuns(t *testing.T) {
	d := NewDispatcher(context.Background(), nopLogger{})

	var sawCancel atomic.Bool
	assert.NoError(t, d.Dispatch("t1", func(ctx context.Context) {
		<-ctx.Done()
		sawCancel.Store(true)
	}))

	d.Shutdown()
	assert.True(t, sawCancel.Load())
}
