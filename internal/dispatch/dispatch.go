// Package dispatch runs delayed, fire-and-forget tasks on detached
// workers. Timer expiry and reminder triggers are registered here so
// their completion happens outside the caller's execution path.
//
// Each task is isolated: a failure (or panic) is logged and does not
// affect the caller, other tasks, or any session. A task runs at most
// once, after its delay, unless cancelled first.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verbalis/verbalis/internal/events"
)

// TaskFunc is the body of a scheduled task. The context carries the
// per-task execution timeout.
type TaskFunc func(ctx context.Context) error

// taskTimeout bounds a single task execution once its delay elapses.
const taskTimeout = time.Minute

// Dispatcher manages delayed task execution.
type Dispatcher struct {
	logger *slog.Logger
	bus    *events.Bus

	mu      sync.Mutex
	timers  map[string]*time.Timer // taskID -> pending timer
	running bool
	wg      sync.WaitGroup
}

// New creates a dispatcher ready to accept tasks.
func New(logger *slog.Logger, bus *events.Bus) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:  logger,
		bus:     bus,
		timers:  make(map[string]*time.Timer),
		running: true,
	}
}

// After schedules fn to run once delay has elapsed and returns the task
// ID. The caller does not block. A non-positive delay runs the task
// almost immediately, still on a detached worker.
func (d *Dispatcher) After(delay time.Duration, name string, fn TaskFunc) string {
	id := newID()

	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		d.logger.Warn("task rejected, dispatcher stopped", "name", name)
		return ""
	}
	// The waitgroup entry is taken here, not in the timer callback, so
	// Stop never observes an Add racing its Wait. Whoever defuses the
	// timer first (fire, Cancel, or Stop) releases it.
	d.wg.Add(1)
	d.timers[id] = time.AfterFunc(delay, func() {
		d.fire(id, name, fn)
	})
	d.mu.Unlock()

	d.logger.Debug("task scheduled", "id", id, "name", name, "delay", delay)
	d.bus.Publish(events.Event{
		Source: events.SourceDispatch,
		Kind:   events.KindTaskScheduled,
		Data:   map[string]any{"task_id": id, "name": name, "delay_ms": delay.Milliseconds()},
	})

	return id
}

// fire runs a task whose delay has elapsed.
func (d *Dispatcher) fire(id, name string, fn TaskFunc) {
	defer d.wg.Done()

	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	delete(d.timers, id)
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	defer cancel()

	start := time.Now()
	err := runIsolated(ctx, fn)
	if err != nil {
		d.logger.Error("task failed", "id", id, "name", name, "error", err)
	} else {
		d.logger.Debug("task completed", "id", id, "name", name, "duration", time.Since(start))
	}

	d.bus.Publish(events.Event{
		Source: events.SourceDispatch,
		Kind:   events.KindTaskFired,
		Data:   map[string]any{"task_id": id, "name": name, "ok": err == nil},
	})
}

// runIsolated invokes fn, converting a panic into an error so one bad
// task cannot take down the process.
func runIsolated(ctx context.Context, fn TaskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Cancel defuses a pending task by ID. Reports whether the task was
// stopped before firing; a task already running or finished is
// unaffected and reports false.
func (d *Dispatcher) Cancel(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	timer, ok := d.timers[id]
	if !ok {
		return false
	}
	delete(d.timers, id)
	if !timer.Stop() {
		// Callback already launched; fire releases the waitgroup entry.
		return false
	}
	d.wg.Done()
	d.logger.Debug("task cancelled", "id", id)
	return true
}

// Stop cancels all pending timers and waits for in-flight tasks to
// finish. Tasks whose delay had not yet elapsed never run.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	for id, timer := range d.timers {
		if timer.Stop() {
			d.wg.Done()
		}
		delete(d.timers, id)
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

// PendingCount returns the number of tasks whose delay has not elapsed.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
