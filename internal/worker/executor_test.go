package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackgroundRunsQueuedTasks(t *testing.T) {
	pool := NewBackground(2)
	pool.Start(context.Background())
	defer pool.Stop()

	var ran int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		err := pool.Submit(Task{
			Name: "count",
			Run: func(ctx context.Context, tc TaskContext) error {
				atomic.AddInt32(&ran, 1)
				return nil
			},
			OnDone: func(err error) {
				assert.NoError(t, err)
				wg.Done()
			},
		})
		require.NoError(t, err)
	}

	wg.Wait()
	assert.EqualValues(t, 8, atomic.LoadInt32(&ran))
}

func TestBackgroundReportsProgress(t *testing.T) {
	pool := NewBackground(1)
	pool.Start(context.Background())
	defer pool.Stop()

	type report struct {
		fraction float64
		message  string
	}
	var mu sync.Mutex
	var reports []report
	done := make(chan struct{})

	err := pool.Submit(Task{
		Name: "staged",
		Run: func(ctx context.Context, tc TaskContext) error {
			tc.Progress(0.5, "halfway")
			tc.Progress(1, "done")
			return nil
		},
		OnProgress: func(fraction float64, message string) {
			mu.Lock()
			reports = append(reports, report{fraction, message})
			mu.Unlock()
		},
		OnDone: func(error) { close(done) },
	})
	require.NoError(t, err)

	<-done
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reports, 2)
	assert.Equal(t, report{0.5, "halfway"}, reports[0])
	assert.Equal(t, report{1, "done"}, reports[1])
}

func TestBackgroundSubmitAfterStop(t *testing.T) {
	pool := NewBackground(1)
	pool.Start(context.Background())
	pool.Stop()

	err := pool.Submit(Task{Name: "late", Run: func(context.Context, TaskContext) error { return nil }})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestBackgroundDeliversTaskError(t *testing.T) {
	pool := NewBackground(1)
	pool.Start(context.Background())
	defer pool.Stop()

	boom := errors.New("boom")
	got := make(chan error, 1)
	require.NoError(t, pool.Submit(Task{
		Name:   "failing",
		Run:    func(context.Context, TaskContext) error { return boom },
		OnDone: func(err error) { got <- err },
	}))

	assert.ErrorIs(t, <-got, boom)
}

func TestImmediateBoundsConcurrency(t *testing.T) {
	const limit = 3
	pool := NewImmediate(limit)

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		err := pool.Submit(context.Background(), Task{
			Name: "burst",
			Run: func(ctx context.Context, tc TaskContext) error {
				now := atomic.AddInt32(&running, 1)
				for {
					seen := atomic.LoadInt32(&peak)
					if now <= seen || atomic.CompareAndSwapInt32(&peak, seen, now) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			},
			OnDone: func(error) { wg.Done() },
		})
		require.NoError(t, err)
	}

	wg.Wait()
	pool.Stop()
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(limit))
}

func TestLowPriorityTaskIsCancelable(t *testing.T) {
	pool := NewLowPriority()
	defer pool.Stop()

	started := make(chan struct{})
	result := make(chan error, 1)
	cancel, err := pool.Submit(context.Background(), Task{
		Name: "cancelable",
		Run: func(ctx context.Context, tc TaskContext) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
		OnDone: func(err error) { result <- err },
	})
	require.NoError(t, err)

	<-started
	cancel()
	assert.ErrorIs(t, <-result, context.Canceled)
}

func TestWorkerIDsAreStablePerGoroutine(t *testing.T) {
	pool := NewBackground(1)
	pool.Start(context.Background())
	defer pool.Stop()

	ids := make(chan string, 2)
	for i := 0; i < 2; i++ {
		require.NoError(t, pool.Submit(Task{
			Name: "ident",
			Run: func(ctx context.Context, tc TaskContext) error {
				ids <- tc.WorkerID
				return nil
			},
		}))
	}

	first, second := <-ids, <-ids
	assert.Equal(t, "background-0", first)
	assert.Equal(t, first, second)
}
