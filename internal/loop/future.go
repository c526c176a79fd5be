package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrAlreadySettled is returned by Resolve and Reject when the promise has
// already settled. The second outcome is discarded.
var ErrAlreadySettled = errors.New("promise already settled")

// Future is the read side of an asynchronous result.
type Future struct {
	mu        sync.Mutex
	settled   bool
	value     any
	err       error
	done      chan struct{}
	callbacks []func(any, error)
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Done is closed once the future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the future has a value or an error.
func (f *Future) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Result returns the settled value and error. Before settlement it returns
// (nil, nil).
func (f *Future) Result() (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err
}

// Wait blocks until the future settles or ctx is done.
// Never call Wait from a loop goroutine; use Loop.Await instead.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// onSettle registers fn to be called exactly once with the settled result.
// If the future is already settled fn runs synchronously.
func (f *Future) onSettle(fn func(any, error)) {
	f.mu.Lock()
	if !f.settled {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	fn(v, err)
}

func (f *Future) settle(v any, err error) error {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return ErrAlreadySettled
	}
	f.settled = true
	f.value = v
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(v, err)
	}
	return nil
}

// Promise is the write side of a Future.
type Promise struct {
	future *Future
}

// NewPromise creates an unsettled promise.
func NewPromise() *Promise {
	return &Promise{future: newFuture()}
}

// Future returns the read side.
func (p *Promise) Future() *Future {
	return p.future
}

// Resolve settles the promise with v. Later calls are ignored.
func (p *Promise) Resolve(v any) error {
	return p.future.settle(v, nil)
}

// Reject settles the promise with err. Later calls are ignored.
func (p *Promise) Reject(err error) error {
	if err == nil {
		err = errors.New("promise rejected with nil error")
	}
	return p.future.settle(nil, err)
}

// Resolved returns an already resolved future.
func Resolved(v any) *Future {
	f := newFuture()
	_ = f.settle(v, nil)
	return f
}

// Rejected returns an already rejected future.
func Rejected(err error) *Future {
	p := NewPromise()
	_ = p.Reject(err)
	return p.future
}

// All resolves with the values of fs in order once all of them resolve, or
// rejects with the first error.
func All(fs ...*Future) *Future {
	p := NewPromise()
	if len(fs) == 0 {
		_ = p.Resolve([]any{})
		return p.future
	}

	var mu sync.Mutex
	values := make([]any, len(fs))
	remaining := len(fs)
	for i, f := range fs {
		i := i
		f.onSettle(func(v any, err error) {
			if err != nil {
				_ = p.Reject(err)
				return
			}
			mu.Lock()
			values[i] = v
			remaining--
			last := remaining == 0
			mu.Unlock()
			if last {
				_ = p.Resolve(values)
			}
		})
	}
	return p.future
}

// Await runs fn on the loop once f settles.
func (l *Loop) Await(f *Future, fn func(any, error)) {
	f.onSettle(func(v any, err error) {
		l.Post(func() { fn(v, err) })
	})
}

// Then runs fn on the loop with the resolved value of f and returns a future
// for fn's result. A rejection of f skips fn and propagates. If fn returns a
// *Future, the returned future adopts its outcome. A panic in fn rejects the
// returned future.
func (l *Loop) Then(f *Future, fn func(any) (any, error)) *Future {
	p := NewPromise()
	l.Await(f, func(v any, err error) {
		if err != nil {
			_ = p.Reject(err)
			return
		}
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error("continuation panicked", "error", fmt.Sprint(r))
				_ = p.Reject(fmt.Errorf("continuation panicked: %v", r))
			}
		}()
		next, err := fn(v)
		if err != nil {
			_ = p.Reject(err)
			return
		}
		if nf, ok := next.(*Future); ok {
			nf.onSettle(func(v any, err error) {
				if err != nil {
					_ = p.Reject(err)
					return
				}
				_ = p.Resolve(v)
			})
			return
		}
		_ = p.Resolve(next)
	})
	return p.future
}

// Spawn runs fn on a new goroutine and returns its future. fn must not
// touch loop-owned state; hand results back through Then or Await.
func (l *Loop) Spawn(fn func() (any, error)) *Future {
	p := NewPromise()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				_ = p.Reject(fmt.Errorf("spawned task panicked: %v", r))
			}
		}()
		v, err := fn()
		if err != nil {
			_ = p.Reject(err)
			return
		}
		_ = p.Resolve(v)
	}()
	return p.future
}
