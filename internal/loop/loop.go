package loop

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// TimerID names a timer scheduled with SetTimeout. The zero value never
// names a live timer.
type TimerID uint64

// Loop is a single-writer cooperative event loop.
//
// Thread-safety model:
//   - Post, Stop: safe from any goroutine
//   - Microtask, SetTimeout, ClearTimeout: loop goroutine only
//   - Run / RunPending: exactly one goroutine at a time
type Loop struct {
	queue  *taskQueue
	micro  []Task
	clock  Clock
	logger *slog.Logger

	nextTimer TimerID
	timers    map[TimerID]Timer
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock sets the clock used for timers. Defaults to RealClock.
func WithClock(c Clock) Option {
	return func(l *Loop) {
		l.clock = c
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// New creates an idle Loop.
func New(opts ...Option) *Loop {
	l := &Loop{
		queue:  newTaskQueue(),
		clock:  RealClock(),
		logger: slog.Default(),
		timers: make(map[TimerID]Timer),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "loop")
	return l
}

// Clock returns the clock driving this loop's timers.
func (l *Loop) Clock() Clock {
	return l.clock
}

// Post enqueues a macrotask. Safe from any goroutine.
// Returns false if the loop has been stopped.
func (l *Loop) Post(t Task) bool {
	return l.queue.Enqueue(t)
}

// Microtask queues t to run after the current task and before the next
// macrotask.
func (l *Loop) Microtask(t Task) {
	l.micro = append(l.micro, t)
}

// SetTimeout schedules t as a macrotask after d.
func (l *Loop) SetTimeout(d time.Duration, t Task) TimerID {
	l.nextTimer++
	id := l.nextTimer
	l.timers[id] = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			// A cleared timer may already have been posted; only run if it is
			// still registered.
			if _, ok := l.timers[id]; !ok {
				return
			}
			delete(l.timers, id)
			t()
		})
	})
	return id
}

// ClearTimeout cancels a timer. Clearing an unknown or already fired timer
// is a no-op.
func (l *Loop) ClearTimeout(id TimerID) {
	timer, ok := l.timers[id]
	if !ok {
		return
	}
	delete(l.timers, id)
	timer.Stop()
}

// PendingTimers returns the number of timers that have neither fired nor
// been cleared.
func (l *Loop) PendingTimers() int {
	return len(l.timers)
}

// Run processes tasks until ctx is cancelled or Stop is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Debug("loop starting")

	for {
		if t, ok := l.queue.TryDequeue(); ok {
			l.runTask(t)
			continue
		}

		select {
		case <-ctx.Done():
			l.logger.Debug("loop stopping: context cancelled")
			l.queue.Close()
			return ctx.Err()

		case <-l.queue.Wait():
			// The signal channel is closed by Stop; a stale buffered signal
			// just loops back to TryDequeue.
			if l.queue.Closed() && l.queue.Len() == 0 {
				l.logger.Debug("loop stopping: queue closed")
				return nil
			}
		}
	}
}

// RunPending runs queued microtasks and macrotasks on the calling goroutine
// until the queue is empty, returning the number of macrotasks executed.
// Used by tests and the scenario harness instead of Run.
func (l *Loop) RunPending() int {
	l.drainMicrotasks()

	n := 0
	for {
		t, ok := l.queue.TryDequeue()
		if !ok {
			return n
		}
		l.runTask(t)
		n++
	}
}

// Do runs t synchronously as if it were a macrotask, including the
// microtask checkpoint that follows it.
func (l *Loop) Do(t Task) {
	l.runTask(t)
}

// Stop closes the task queue, which causes Run to return.
func (l *Loop) Stop() {
	l.queue.Close()
}

func (l *Loop) runTask(t Task) {
	l.guard(t)
	l.drainMicrotasks()
}

func (l *Loop) drainMicrotasks() {
	for len(l.micro) > 0 {
		t := l.micro[0]
		l.micro[0] = nil
		l.micro = l.micro[1:]
		l.guard(t)
	}
	l.micro = l.micro[:0]
}

// guard runs t, converting a panic into a logged error so that one bad
// task cannot take the loop down.
func (l *Loop) guard(t Task) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task panicked", "error", fmt.Sprint(r))
		}
	}()
	t()
}
