package persistence

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Executor runs asynchronous operations with bounded concurrency. Submitted
// work waits for a slot inside its own goroutine, so Submit never blocks.
type Executor struct {
	sem      *semaphore.Weighted
	limit    int64
	inFlight atomic.Int64
	wg       sync.WaitGroup
	// mu orders Submit's closed check and wg.Add against Close
	mu     sync.RWMutex
	closed bool
	logger *zap.Logger
}

// NewExecutor creates an executor allowing maxConcurrency operations at
// once. Non-positive values default to NumCPU*4.
func NewExecutor(maxConcurrency int) *Executor {
	if maxConcurrency <= 0 {
		maxConcurrency = runtime.NumCPU() * 4
	}
	return &Executor{
		sem:    semaphore.NewWeighted(int64(maxConcurrency)),
		limit:  int64(maxConcurrency),
		logger: logger.With(zap.String("component", "executor")),
	}
}

// Limit returns the maximum number of concurrent operations.
func (e *Executor) Limit() int64 {
	return e.limit
}

// InFlight returns the number of operations currently holding a slot.
func (e *Executor) InFlight() int64 {
	return e.inFlight.Load()
}

// Close stops accepting work and waits for in-flight operations.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}

// Submit runs fn on ex and returns its future. The context passed to fn is
// cancelled when the future is cancelled or ctx is done.
func Submit[T any](ctx context.Context, ex *Executor, fn func(context.Context) (T, error)) *Future[T] {
	ex.mu.RLock()
	if ex.closed {
		ex.mu.RUnlock()
		return Failed[T](errors.New(errors.ErrorTypeInternal, "executor is closed"))
	}
	ex.wg.Add(1)
	ex.mu.RUnlock()

	f := newFuture[T]()
	taskCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	go func() {
		defer ex.wg.Done()
		defer cancel()

		if err := ex.sem.Acquire(taskCtx, 1); err != nil {
			var zero T
			f.complete(zero, translate(err))
			return
		}
		ex.inFlight.Add(1)
		defer func() {
			ex.inFlight.Add(-1)
			ex.sem.Release(1)
		}()

		v, err := run(taskCtx, fn)
		if err != nil && taskCtx.Err() != nil && !f.Cancelled() {
			ex.logger.Debug("operation ended after context was done", zap.Error(err))
		}
		f.complete(v, err)
	}()
	return f
}

func run[T any](ctx context.Context, fn func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.ErrorTypeInternal, fmt.Sprintf("operation panicked: %v", r))
		}
	}()
	return fn(ctx)
}

// Compose runs fn on its own goroutine outside any executor bound. It is
// meant for work that only waits on other futures, so composing operations
// never holds a slot the composed operations need.
func Compose[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	taskCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	go func() {
		defer cancel()
		f.complete(run(taskCtx, fn))
	}()
	return f
}
