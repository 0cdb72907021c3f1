package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/syncstack/crm-connector/internal/config"
	"github.com/syncstack/crm-connector/internal/platform/logger"
)

func init() {
	logger.InitLogger()
}

func singleWorkerConfig() *config.Config {
	return &config.Config{
		ExecutorPoolSize:     1,
		ExecutorDrainTimeout: 5 * time.Second,
	}
}

func TestTasksRunInPriorityOrder(t *testing.T) {
	e := NewPriorityExecutor(singleWorkerConfig())
	defer e.Shutdown()

	gate := make(chan struct{})
	var lock sync.Mutex
	var order []string

	record := func(name string) TaskFunc {
		return func(ctx context.Context) error {
			lock.Lock()
			order = append(order, name)
			lock.Unlock()
			return nil
		}
	}

	// occupy the single worker so the queue builds up
	blocker, err := e.Execute(100, 0, func(ctx context.Context) error {
		<-gate
		return nil
	})
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	var handles []*TaskHandle
	for _, submission := range []struct {
		name  string
		index int
		batch int
	}{
		{"batch1-index5", 5, 1},
		{"batch2-index5", 5, 2},
		{"batch1-index10", 10, 1},
	} {
		handle, err := e.Execute(submission.index, submission.batch, record(submission.name))
		if err != nil {
			t.Fatalf("Expected no error, got %s", err)
		}
		handles = append(handles, handle)
	}

	close(gate)

	err = e.WaitForAll(context.TODO(), append([]*TaskHandle{blocker}, handles...))
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	expected := []string{"batch1-index10", "batch1-index5", "batch2-index5"}
	if len(order) != len(expected) {
		t.Fatalf("Expected %d executions, got %d", len(expected), len(order))
	}
	for i := range expected {
		if order[i] != expected[i] {
			t.Fatalf("Expected execution order %v, got %v", expected, order)
		}
	}
}

func TestRemoveCancelsQueuedTask(t *testing.T) {
	e := NewPriorityExecutor(singleWorkerConfig())
	defer e.Shutdown()

	gate := make(chan struct{})

	blocker, err := e.Execute(100, 0, func(ctx context.Context) error {
		<-gate
		return nil
	})
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	ran := false
	queued, err := e.Execute(1, 1, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	if e.Remove(queued) == false {
		t.Fatalf("Expected the queued task to be removable")
	}

	select {
	case <-queued.Done():
	default:
		t.Fatalf("Expected a removed task to be marked done")
	}
	if queued.Err() != ErrTaskRemoved {
		t.Fatalf("Expected ErrTaskRemoved, got %v", queued.Err())
	}

	close(gate)

	err = e.WaitForAll(context.TODO(), []*TaskHandle{blocker})
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	if ran {
		t.Fatalf("Expected the removed task to never run")
	}

	if e.Remove(blocker) {
		t.Fatalf("Expected a finished task to not be removable")
	}
}

func TestWaitForAllKeepsFailuresOnTheHandle(t *testing.T) {
	e := NewPriorityExecutor(singleWorkerConfig())
	defer e.Shutdown()

	taskError := errors.New("query job failed")

	failing, err := e.Execute(10, 1, func(ctx context.Context) error {
		return taskError
	})
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	succeeding, err := e.Execute(5, 1, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	err = e.WaitForAll(context.TODO(), []*TaskHandle{failing, succeeding})
	if err != nil {
		t.Fatalf("Expected WaitForAll to swallow task failures, got %v", err)
	}

	if errors.Is(failing.Err(), taskError) == false {
		t.Fatalf("Expected the task error on the handle, got %v", failing.Err())
	}
	if succeeding.Err() != nil {
		t.Fatalf("Expected no error on the succeeding handle, got %v", succeeding.Err())
	}
}

func TestShutdownDrainsQueuedTasks(t *testing.T) {
	e := NewPriorityExecutor(singleWorkerConfig())

	var lock sync.Mutex
	completed := 0

	var handles []*TaskHandle
	for i := 0; i < 5; i++ {
		handle, err := e.Execute(1, 1, func(ctx context.Context) error {
			lock.Lock()
			completed++
			lock.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("Expected no error, got %s", err)
		}
		handles = append(handles, handle)
	}

	err := e.Shutdown()
	if err != nil {
		t.Fatalf("Expected a clean drain, got %s", err)
	}

	if completed != 5 {
		t.Fatalf("Expected all queued tasks to run before shutdown, got %d", completed)
	}

	_, err = e.Execute(1, 1, func(ctx context.Context) error { return nil })
	if err != ErrExecutorShutDown {
		t.Fatalf("Expected ErrExecutorShutDown, got %v", err)
	}
}

func TestShutdownNowDropsQueuedTasks(t *testing.T) {
	e := NewPriorityExecutor(singleWorkerConfig())

	gate := make(chan struct{})
	started := make(chan struct{})

	_, err := e.Execute(100, 0, func(ctx context.Context) error {
		close(started)
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	<-started

	queued, err := e.Execute(1, 1, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Expected no error, got %s", err)
	}

	dropped := e.ShutdownNow()

	if len(dropped) != 1 || dropped[0] != queued {
		t.Fatalf("Expected the queued task to be dropped, got %d dropped", len(dropped))
	}
	if queued.Err() != ErrExecutorShutDown {
		t.Fatalf("Expected ErrExecutorShutDown on the dropped handle, got %v", queued.Err())
	}
}
