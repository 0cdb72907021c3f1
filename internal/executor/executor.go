// Package executor runs submitted tasks on a fixed worker pool, draining
// them in priority order: the highest index first, with earlier batches
// winning ties.
package executor

import (
	"container/heap"
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/syncstack/crm-connector/internal/config"
	"github.com/syncstack/crm-connector/internal/platform/logger"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrExecutorShutDown = errors.New("executor has been shut down")
	ErrTaskRemoved      = errors.New("task was removed before it ran")
	ErrDrainTimeout     = errors.New("executor drain timed out")
)

type TaskFunc func(ctx context.Context) error

// TaskHandle tracks one submitted task.  Done is closed once the task has
// finished, was removed or was dropped by ShutdownNow.
type TaskHandle struct {
	Id    string
	Index int
	Batch int

	task TaskFunc
	seq  uint64

	heapPosition int
	started      bool

	done chan struct{}
	err  error
}

func (h *TaskHandle) Done() <-chan struct{} {
	return h.done
}

// Err reports the task outcome.  It is only meaningful once Done is closed.
func (h *TaskHandle) Err() error {
	return h.err
}

type PriorityExecutor struct {
	drainTimeout time.Duration

	lock     sync.Mutex
	cond     *sync.Cond
	queue    taskQueue
	nextSeq  uint64
	shutdown bool
	stopNow  bool

	runCtx    context.Context
	runCancel context.CancelFunc
	workers   sync.WaitGroup
}

func NewPriorityExecutor(cfg *config.Config) *PriorityExecutor {

	poolSize := cfg.ExecutorPoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
	}

	runCtx, runCancel := context.WithCancel(context.Background())

	e := &PriorityExecutor{
		drainTimeout: cfg.ExecutorDrainTimeout,
		runCtx:       runCtx,
		runCancel:    runCancel,
	}
	e.cond = sync.NewCond(&e.lock)

	for i := 0; i < poolSize; i++ {
		e.workers.Add(1)
		go e.worker()
	}

	logger.Log.WithFields(logrus.Fields{"pool_size": poolSize}).Debug("Priority executor started")

	return e
}

// Execute queues a task.  Higher index tasks run first; within an index,
// lower batch numbers run first.
func (e *PriorityExecutor) Execute(index int, batch int, task TaskFunc) (*TaskHandle, error) {

	e.lock.Lock()
	defer e.lock.Unlock()

	if e.shutdown {
		return nil, ErrExecutorShutDown
	}

	handle := &TaskHandle{
		Id:    uuid.NewString(),
		Index: index,
		Batch: batch,
		task:  task,
		seq:   e.nextSeq,
		done:  make(chan struct{}),
	}
	e.nextSeq++

	heap.Push(&e.queue, handle)
	e.cond.Signal()

	return handle, nil
}

// Remove takes a queued task out of the queue.  It reports false when the
// task has already started or finished.
func (e *PriorityExecutor) Remove(handle *TaskHandle) bool {

	e.lock.Lock()
	defer e.lock.Unlock()

	if handle.started || handle.heapPosition < 0 {
		return false
	}

	heap.Remove(&e.queue, handle.heapPosition)
	handle.err = ErrTaskRemoved
	close(handle.done)

	return true
}

// WaitForAll blocks until every given task has finished.  Individual task
// failures are logged, not returned; inspect each handle's Err for them.
func (e *PriorityExecutor) WaitForAll(ctx context.Context, handles []*TaskHandle) error {

	for _, handle := range handles {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-handle.Done():
		}

		err := handle.Err()
		if err != nil && err != ErrTaskRemoved {
			logger.LogWithError(logger.Log.WithFields(logrus.Fields{"task_id": handle.Id, "index": handle.Index, "batch": handle.Batch}),
				"Task failed", err)
		}
	}

	return nil
}

// Shutdown stops accepting new tasks and drains the queue.  It returns
// ErrDrainTimeout when the drain window elapses first.
func (e *PriorityExecutor) Shutdown() error {

	e.lock.Lock()
	e.shutdown = true
	e.cond.Broadcast()
	e.lock.Unlock()

	drained := make(chan struct{})
	go func() {
		e.workers.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-time.After(e.drainTimeout):
		e.runCancel()
		return ErrDrainTimeout
	}
}

// ShutdownNow stops accepting new tasks, drops everything still queued and
// cancels the context passed to running tasks.  The dropped handles are
// returned.
func (e *PriorityExecutor) ShutdownNow() []*TaskHandle {

	e.lock.Lock()

	e.shutdown = true
	e.stopNow = true

	dropped := make([]*TaskHandle, 0, e.queue.Len())
	for e.queue.Len() > 0 {
		handle := heap.Pop(&e.queue).(*TaskHandle)
		handle.err = ErrExecutorShutDown
		close(handle.done)
		dropped = append(dropped, handle)
	}

	e.cond.Broadcast()
	e.lock.Unlock()

	e.runCancel()
	e.workers.Wait()

	return dropped
}

func (e *PriorityExecutor) worker() {
	defer e.workers.Done()

	for {
		e.lock.Lock()
		for e.queue.Len() == 0 && !e.shutdown {
			e.cond.Wait()
		}

		if e.queue.Len() == 0 || e.stopNow {
			e.lock.Unlock()
			return
		}

		handle := heap.Pop(&e.queue).(*TaskHandle)
		handle.started = true
		e.lock.Unlock()

		handle.err = handle.task(e.runCtx)
		close(handle.done)
	}
}

// taskQueue orders handles by descending index, then ascending batch, then
// submission order.
type taskQueue []*TaskHandle

func (q taskQueue) Len() int {
	return len(q)
}

func (q taskQueue) Less(i, j int) bool {
	if q[i].Index != q[j].Index {
		return q[i].Index > q[j].Index
	}
	if q[i].Batch != q[j].Batch {
		return q[i].Batch < q[j].Batch
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].heapPosition = i
	q[j].heapPosition = j
}

func (q *taskQueue) Push(x interface{}) {
	handle := x.(*TaskHandle)
	handle.heapPosition = len(*q)
	*q = append(*q, handle)
}

func (q *taskQueue) Pop() interface{} {
	old := *q
	n := len(old)
	handle := old[n-1]
	old[n-1] = nil
	handle.heapPosition = -1
	*q = old[:n-1]
	return handle
}
