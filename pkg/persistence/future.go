package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/ajitpratap0/strata/pkg/errors"
)

// Future is the pending result of an asynchronous operation. A future
// completes exactly once, either with a value or with an error.
type Future[T any] struct {
	done      chan struct{}
	mu        sync.Mutex
	value     T
	err       error
	completed bool
	cancelled bool
	callbacks []func(T, error)
	cancel    func()
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns a future already holding v.
func Completed[T any](v T) *Future[T] {
	f := newFuture[T]()
	f.complete(v, nil)
	return f
}

// Failed returns a future already holding err.
func Failed[T any](err error) *Future[T] {
	f := newFuture[T]()
	var zero T
	f.complete(zero, err)
	return f
}

// complete settles the future. Later calls are ignored and report false.
func (f *Future[T]) complete(v T, err error) bool {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return false
	}
	f.value, f.err, f.completed = v, err, true
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(v, err)
	}
	return true
}

// Done is closed once the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result returns the outcome without blocking. ok is false while pending.
func (f *Future[T]) Result() (value T, err error, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err, f.completed
}

// Get blocks until the future completes or ctx is done. A done ctx does not
// cancel the future.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		v, err, _ := f.Result()
		return v, err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Await blocks up to timeout. On timeout it returns context.DeadlineExceeded
// and leaves the operation running.
func (f *Future[T]) Await(timeout time.Duration) (T, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		v, err, _ := f.Result()
		return v, err
	case <-timer.C:
		var zero T
		return zero, context.DeadlineExceeded
	}
}

// OnComplete registers cb to run when the future completes. If it already
// has, cb runs immediately on the calling goroutine.
func (f *Future[T]) OnComplete(cb func(T, error)) {
	f.mu.Lock()
	if !f.completed {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		return
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	cb(v, err)
}

// Cancel aborts the operation and completes the future with a CANCELLED
// failure. It reports whether this call settled the future.
func (f *Future[T]) Cancel() bool {
	f.mu.Lock()
	cancel := f.cancel
	f.mu.Unlock()

	var zero T
	if !f.complete(zero, errors.OperationFailed(errors.FailureCancelled, context.Canceled)) {
		return false
	}
	f.mu.Lock()
	f.cancelled = true
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

// Cancelled reports whether Cancel settled the future.
func (f *Future[T]) Cancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

// Then chains fn onto f. Cancelling the returned future cancels f.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	next := newFuture[U]()
	next.cancel = func() { f.Cancel() }
	f.OnComplete(func(v T, err error) {
		if err != nil {
			var zero U
			next.complete(zero, err)
			return
		}
		next.complete(fn(v))
	})
	return next
}

// Wait blocks on f for at most timeout, translating faults into operation
// failures: an elapsed wait is TIMEOUT, a cancelled ctx is INTERRUPTED and
// any other fault is INTERNAL wrapping its cause. Failures that already
// carry a kind pass through.
func Wait[T any](ctx context.Context, f *Future[T], timeout time.Duration) (T, error) {
	var zero T
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		v, err, _ := f.Result()
		if err != nil {
			return zero, translate(err)
		}
		return v, nil
	case <-timer.C:
		return zero, errors.OperationFailed(errors.FailureTimeout, context.DeadlineExceeded)
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return zero, errors.OperationFailed(errors.FailureTimeout, ctx.Err())
		}
		return zero, errors.OperationFailed(errors.FailureInterrupted, ctx.Err())
	}
}

func translate(err error) error {
	if _, ok := errors.FailureOf(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return errors.OperationFailed(errors.FailureTimeout, err)
	case errors.Is(err, context.Canceled):
		return errors.OperationFailed(errors.FailureCancelled, err)
	}
	return errors.OperationFailed(errors.FailureInternal, err)
}
