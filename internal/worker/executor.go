// Package worker provides the three task executors the engine schedules
// on: a fixed-size queued pool for background jobs, a bounded pool for
// immediate user-triggered work, and a cancelable pool for low-priority
// jobs. Tasks report fractional progress with a message; completion
// callbacks run on whichever goroutine finishes the task.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/aviarydata/aviary/internal/logging"
)

// ProgressFunc receives fractional progress in [0,1] plus a status message.
type ProgressFunc func(fraction float64, message string)

// TaskContext is handed to a running task. WorkerID identifies the worker
// goroutine executing it; session checkouts key on it.
type TaskContext struct {
	WorkerID string
	Progress ProgressFunc
}

// Task is one schedulable unit of work.
type Task struct {
	Name string
	Run  func(ctx context.Context, tc TaskContext) error

	// OnProgress receives the task's progress reports. Optional.
	OnProgress ProgressFunc

	// OnDone runs after the task returns, on the finishing goroutine.
	// Optional.
	OnDone func(err error)
}

func (t Task) progress() ProgressFunc {
	if t.OnProgress != nil {
		return t.OnProgress
	}
	return func(float64, string) {}
}

func runTask(ctx context.Context, t Task, workerID string) {
	err := t.Run(ctx, TaskContext{WorkerID: workerID, Progress: t.progress()})
	if err != nil {
		logging.Error("task failed",
			zap.String("task", t.Name),
			zap.String("worker", workerID),
			zap.Error(err))
	}
	if t.OnDone != nil {
		t.OnDone(err)
	}
}

// ErrStopped is returned by Submit after the executor shut down.
var ErrStopped = errors.New("executor stopped")

// Background is a fixed-size pool draining a queue. Uploads, index
// rebuilds, and detection jobs run here.
type Background struct {
	workers int
	queue   chan Task
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

func NewBackground(workers int) *Background {
	if workers < 1 {
		workers = 1
	}
	return &Background{
		workers: workers,
		queue:   make(chan Task, workers*64),
	}
}

func (b *Background) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.run(ctx, fmt.Sprintf("background-%d", i))
	}
	logging.Info("background pool started", zap.Int("workers", b.workers))
}

func (b *Background) run(ctx context.Context, workerID string) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-b.queue:
			if !ok {
				return
			}
			runTask(ctx, task, workerID)
		}
	}
}

// Submit queues a task. It fails rather than blocks when the queue is
// full, so a flooded pool is visible to the caller instead of deadlocking
// the submitter.
func (b *Background) Submit(task Task) error {
	b.mu.Lock()
	stopped := b.stopped
	b.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	select {
	case b.queue <- task:
		return nil
	default:
		return errors.Errorf("background queue full, rejecting task %q", task.Name)
	}
}

// Stop drains nothing: queued tasks not yet started are dropped, running
// tasks are canceled through their context.
func (b *Background) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	logging.Info("background pool stopped")
}

// Immediate runs short user-triggered tasks. Each submission starts at
// once on its own goroutine; the semaphore only caps how many run
// concurrently.
type Immediate struct {
	sem chan struct{}
	wg  sync.WaitGroup

	mu      sync.Mutex
	nextID  int
	stopped bool
}

func NewImmediate(limit int) *Immediate {
	if limit < 1 {
		limit = 1
	}
	return &Immediate{sem: make(chan struct{}, limit)}
}

func (im *Immediate) Submit(ctx context.Context, task Task) error {
	im.mu.Lock()
	if im.stopped {
		im.mu.Unlock()
		return ErrStopped
	}
	id := im.nextID
	im.nextID++
	im.wg.Add(1)
	im.mu.Unlock()

	workerID := fmt.Sprintf("immediate-%d", id)
	go func() {
		defer im.wg.Done()
		select {
		case im.sem <- struct{}{}:
		case <-ctx.Done():
			if task.OnDone != nil {
				task.OnDone(ctx.Err())
			}
			return
		}
		defer func() { <-im.sem }()
		runTask(ctx, task, workerID)
	}()
	return nil
}

func (im *Immediate) Stop() {
	im.mu.Lock()
	im.stopped = true
	im.mu.Unlock()
	im.wg.Wait()
}

// LowPriority runs cancelable jobs. Submit hands back the cancel handle
// for the one task; Stop cancels everything still running.
type LowPriority struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	nextID  int
	cancels map[int]context.CancelFunc
	stopped bool
}

func NewLowPriority() *LowPriority {
	return &LowPriority{cancels: make(map[int]context.CancelFunc)}
}

func (lp *LowPriority) Submit(ctx context.Context, task Task) (context.CancelFunc, error) {
	lp.mu.Lock()
	if lp.stopped {
		lp.mu.Unlock()
		return nil, ErrStopped
	}
	id := lp.nextID
	lp.nextID++
	taskCtx, cancel := context.WithCancel(ctx)
	lp.cancels[id] = cancel
	lp.wg.Add(1)
	lp.mu.Unlock()

	workerID := fmt.Sprintf("lowpriority-%d", id)
	go func() {
		defer lp.wg.Done()
		defer func() {
			lp.mu.Lock()
			delete(lp.cancels, id)
			lp.mu.Unlock()
			cancel()
		}()
		runTask(taskCtx, task, workerID)
	}()
	return cancel, nil
}

func (lp *LowPriority) Stop() {
	lp.mu.Lock()
	lp.stopped = true
	for _, cancel := range lp.cancels {
		cancel()
	}
	lp.mu.Unlock()
	lp.wg.Wait()
}
