package settlement

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Task is one withdrawal to execute against the payout channel. Tasks are
// process-local: a crash loses the queue, and the pending withdrawal
// records stay behind for manual review.
type Task struct {
	Ref     string
	UserID  int64
	Amount  decimal.Decimal
	Account string
}

// Queue is a strictly FIFO task queue for a single consumer. Enqueue never
// blocks; the worker is woken through the signal channel and additionally
// polls on an idle interval as a fallback.
type Queue struct {
	mu    sync.Mutex
	tasks []Task
	wake  chan struct{}
}

func NewQueue() *Queue {
	return &Queue{
		wake: make(chan struct{}, 1),
	}
}

func (q *Queue) Enqueue(t Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()

	// wake already has a pending signal, the worker will drain everything
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest task.
func (q *Queue) Pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return Task{}, false
	}

	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Wake exposes the signal channel for the worker's select loop.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}
