package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrQueueClosed = errors.New("queue is closed")
	ErrQueueFull   = errors.New("queue is full")
)

// Task is one pending search.
type Task struct {
	ID        string
	Query     string
	MaxPages  int
	Priority  int
	CreatedAt time.Time
}

type Queue interface {
	Push(task *Task) error
	Pop(ctx context.Context) (*Task, error)
	Size() int
	Drain() []*Task
	Close() error
}

// InMemoryQueue orders tasks by descending priority, FIFO within the same
// priority. Pop blocks until a task arrives, the queue is closed or ctx ends.
type InMemoryQueue struct {
	mu      sync.Mutex
	tasks   []*Task
	maxSize int
	closed  bool
	notify  chan struct{}
	done    chan struct{}
}

// NewInMemoryQueue creates a queue holding at most maxSize tasks. maxSize
// <= 0 means unbounded.
func NewInMemoryQueue(maxSize int) *InMemoryQueue {
	return &InMemoryQueue{
		maxSize: maxSize,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (q *InMemoryQueue) Push(task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.maxSize > 0 && len(q.tasks) >= q.maxSize {
		return ErrQueueFull
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	q.tasks = append(q.tasks, task)
	sort.SliceStable(q.tasks, func(i, j int) bool {
		return q.tasks[i].Priority > q.tasks[j].Priority
	})
	q.signal()

	return nil
}

// Pop returns the highest priority task. Tasks still queued when the queue
// is closed are drained before ErrQueueClosed is reported.
func (q *InMemoryQueue) Pop(ctx context.Context) (*Task, error) {
	for {
		q.mu.Lock()
		if len(q.tasks) > 0 {
			task := q.tasks[0]
			q.tasks[0] = nil
			q.tasks = q.tasks[1:]
			if len(q.tasks) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return task, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		case <-q.done:
		}
	}
}

func (q *InMemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Drain removes and returns every queued task in Pop order.
func (q *InMemoryQueue) Drain() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	tasks := q.tasks
	q.tasks = nil
	return tasks
}

func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

// signal must be called with q.mu held.
func (q *InMemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
