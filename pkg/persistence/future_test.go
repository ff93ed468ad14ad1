package persistence

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureCompletesOnce(t *testing.T) {
	f := newFuture[int]()
	assert.True(t, f.complete(1, nil))
	assert.False(t, f.complete(2, nil))

	v, err, ok := f.Result()
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestFutureCallbacks(t *testing.T) {
	f := newFuture[string]()
	var got []string
	var mu sync.Mutex
	f.OnComplete(func(v string, err error) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, "before:"+v)
	})
	f.complete("x", nil)
	f.OnComplete(func(v string, err error) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, "after:"+v)
	})
	assert.Equal(t, []string{"before:x", "after:x"}, got)
}

func TestThen(t *testing.T) {
	doubled := Then(Completed(21), func(v int) (int, error) { return v * 2, nil })
	v, err := doubled.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	boom := fmt.Errorf("boom")
	failed := Then(Failed[int](boom), func(v int) (string, error) {
		t.Fatal("mapper must not run on failure")
		return "", nil
	})
	_, err = failed.Get(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestCancel(t *testing.T) {
	ex := NewExecutor(1)
	started := make(chan struct{})
	f := Submit(context.Background(), ex, func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	})
	<-started

	assert.True(t, f.Cancel())
	assert.False(t, f.Cancel())
	assert.True(t, f.Cancelled())

	_, err := f.Get(context.Background())
	kind, ok := errors.FailureOf(err)
	require.True(t, ok)
	assert.Equal(t, errors.FailureCancelled, kind)
	ex.Close()
}

func TestAwaitDoesNotCancel(t *testing.T) {
	release := make(chan struct{})
	var finished atomic.Bool
	ex := NewExecutor(1)
	f := Submit(context.Background(), ex, func(ctx context.Context) (int, error) {
		<-release
		finished.Store(true)
		return 7, nil
	})

	_, err := f.Await(10 * time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.Cancelled())

	close(release)
	v, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.True(t, finished.Load())
}

func TestWaitTranslatesFailures(t *testing.T) {
	tests := []struct {
		name string
		run  func() error
		want errors.Failure
	}{
		{
			name: "timeout",
			run: func() error {
				_, err := Wait(context.Background(), newFuture[int](), 5*time.Millisecond)
				return err
			},
			want: errors.FailureTimeout,
		},
		{
			name: "interrupted",
			run: func() error {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				_, err := Wait(ctx, newFuture[int](), time.Second)
				return err
			},
			want: errors.FailureInterrupted,
		},
		{
			name: "internal",
			run: func() error {
				_, err := Wait(context.Background(), Failed[int](fmt.Errorf("disk on fire")), time.Second)
				return err
			},
			want: errors.FailureInternal,
		},
		{
			name: "kind passes through",
			run: func() error {
				err := errors.OperationFailed(errors.FailureTimeout, nil)
				_, err2 := Wait(context.Background(), Failed[int](err), time.Second)
				return err2
			},
			want: errors.FailureTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			require.Error(t, err)
			kind, ok := errors.FailureOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestWaitKeepsCause(t *testing.T) {
	conflict := errors.ModelWriteConflict("k", "MUST_NOT_EXIST")
	_, err := Wait(context.Background(), Failed[int](conflict), time.Second)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
	assert.Equal(t, "An unknown internal error occurred.", err.(*errors.Error).Message)
}

func TestExecutorBoundsConcurrency(t *testing.T) {
	ex := NewExecutor(2)
	var current, peak atomic.Int64
	release := make(chan struct{})

	futures := make([]*Future[int], 6)
	for i := range futures {
		futures[i] = Submit(context.Background(), ex, func(ctx context.Context) (int, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			current.Add(-1)
			return 1, nil
		})
	}
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, ex.InFlight(), int64(2))
	close(release)

	for _, f := range futures {
		_, err := f.Get(context.Background())
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, peak.Load(), int64(2))
	assert.Equal(t, int64(2), ex.Limit())
	ex.Close()
}

func TestExecutorRecoversPanics(t *testing.T) {
	ex := NewExecutor(1)
	defer ex.Close()
	f := Submit(context.Background(), ex, func(ctx context.Context) (int, error) {
		panic("kaboom")
	})
	_, err := f.Get(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestExecutorClosed(t *testing.T) {
	ex := NewExecutor(1)
	ex.Close()
	ex.Close()
	_, err := Submit(context.Background(), ex, func(ctx context.Context) (int, error) { return 1, nil }).
		Get(context.Background())
	assert.Error(t, err)
}

func TestExecutorSubmitRacesClose(t *testing.T) {
	for round := 0; round < 20; round++ {
		ex := NewExecutor(2)
		var (
			wg      sync.WaitGroup
			futures = make(chan *Future[int], 64)
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 8; j++ {
					futures <- Submit(context.Background(), ex, func(context.Context) (int, error) { return j, nil })
				}
			}()
		}
		ex.Close()
		wg.Wait()
		close(futures)

		for f := range futures {
			_, err := f.Get(context.Background())
			if err != nil {
				assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
			}
		}
		// work admitted before Close has finished by the time Close returns
		assert.Zero(t, ex.InFlight())
	}
}
