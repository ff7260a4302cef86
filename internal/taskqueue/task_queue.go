// Package taskqueue runs independent units of work on a bounded worker pool
// and waits for all of them. A failing task never cancels its siblings and is
// never retried; the caller decides what a failure means.
package taskqueue

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Task is a unit of work producing a T.
type Task[T any] struct {
	ID  string
	Run func(ctx context.Context) (T, error)
}

// TaskResult represents the result of a task execution
type TaskResult[T any] struct {
	TaskID string
	Result T
	Err    error
}

// TaskQueue collects tasks and processes them with at most maxWorkers in
// flight.
type TaskQueue[T any] struct {
	tasks      []Task[T]
	maxWorkers int
	mu         sync.Mutex
}

// New creates a new task queue; maxWorkers below one means one.
func New[T any](maxWorkers int) *TaskQueue[T] {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &TaskQueue[T]{maxWorkers: maxWorkers}
}

// Add adds a task to the queue
func (q *TaskQueue[T]) Add(id string, run func(ctx context.Context) (T, error)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, Task[T]{ID: id, Run: run})
}

// Len reports the number of queued tasks.
func (q *TaskQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// ProcessAll runs every queued task and returns the results in the order the
// tasks were added. It returns only after all tasks have finished. A task that
// panics is reported as failed.
func (q *TaskQueue[T]) ProcessAll(ctx context.Context) []TaskResult[T] {
	q.mu.Lock()
	tasks := make([]Task[T], len(q.tasks))
	copy(tasks, q.tasks)
	q.mu.Unlock()

	results := make([]TaskResult[T], len(tasks))

	var g errgroup.Group
	g.SetLimit(q.maxWorkers)
	for i, task := range tasks {
		g.Go(func() error {
			results[i] = runTask(ctx, task)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func runTask[T any](ctx context.Context, task Task[T]) (res TaskResult[T]) {
	res.TaskID = task.ID
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("task %s panicked: %v", task.ID, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		res.Err = fmt.Errorf("task %s cancelled: %w", task.ID, err)
		return res
	}
	res.Result, res.Err = task.Run(ctx)
	return res
}
