package orchestrator

import (
	"context"
	"fmt"
	"sync"
)

// Dispatcher runs one detached background unit of work per accepted task. It
// exists so the trigger endpoint can return immediately while the process
// keeps a handle on every in-flight run for graceful-shutdown draining.
type Dispatcher struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  Logger
	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
	closed  bool
}

func NewDispatcher(ctx context.Context, logger Logger) *Dispatcher {
	dctx, cancel := context.WithCancel(ctx)
	return &Dispatcher{
		ctx:     dctx,
		cancel:  cancel,
		logger:  logger,
		running: make(map[string]struct{}),
	}
}

// Dispatch schedules fn as a detached run for taskID. At most one run per
// task id may be active at a time; a second dispatch for the same id fails.
func (d *Dispatcher) Dispatch(taskID string, fn func(ctx context.Context)) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher is draining, rejecting task %s", taskID)
	}
	if _, ok := d.running[taskID]; ok {
		d.mu.Unlock()
		return fmt.Errorf("task %s already has an active run", taskID)
	}
	d.running[taskID] = struct{}{}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.running, taskID)
			d.mu.Unlock()
			d.wg.Done()
		}()
		fn(d.ctx)
	}()
	return nil
}

// Active reports whether taskID currently has a run in flight.
func (d *Dispatcher) Active(taskID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.running[taskID]
	return ok
}

// Drain stops accepting new runs and waits for in-flight runs to finish.
func (d *Dispatcher) Drain() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

// Shutdown cancels the shared context so in-flight runs abort, then drains.
func (d *Dispatcher) Shutdown() {
	d.cancel()
	d.Drain()
}
