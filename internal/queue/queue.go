// Package queue implements the background work queue: a fixed worker pool
// draining a priority heap of named tasks. Submitting a name that is already
// queued or running is silently dropped, so each name executes at most once
// at a time.
package queue

import (
	"container/heap"
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Task priorities; smaller runs first. Equal priorities run in submission
// order.
const (
	High   = 1
	Normal = 5
	Low    = 10
)

// Fn is one unit of background work.
type Fn func(ctx context.Context) error

type task struct {
	priority int
	seq      uint64
	name     string
	fn       Fn
}

// taskHeap orders by (priority, seq).
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Stats is a point-in-time snapshot of queue state. Depth counts queued
// tasks; Pending counts names held against duplicates, queued or running.
type Stats struct {
	Depth     int `json:"depth"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Workers   int `json:"workers"`
}

// Queue is the worker pool. Create with New, stop with Shutdown.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	heap    taskHeap
	pending map[string]*task
	seq     uint64
	closed  bool

	running   int
	completed int
	failed    int

	workers int
	log     *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Queue with the given number of workers and starts them.
func New(workers int, log *slog.Logger) *Queue {
	if workers <= 0 {
		workers = 2
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		pending: make(map[string]*task),
		workers: workers,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	q.cond = sync.NewCond(&q.mu)

	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker(i)
	}
	return q
}

// Submit enqueues fn under the given name and priority. If the name is
// already queued or currently running, the submission is dropped and Submit
// reports false; the existing entry keeps its fn, priority, and queue
// position. Submitting to a shut-down queue also reports false.
func (q *Queue) Submit(priority int, name string, fn Fn) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if _, ok := q.pending[name]; ok {
		return false
	}

	q.seq++
	t := &task{priority: priority, seq: q.seq, name: name, fn: fn}
	q.pending[name] = t
	heap.Push(&q.heap, t)
	q.cond.Signal()
	return true
}

// Stats returns a snapshot of queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Depth:     len(q.heap),
		Pending:   len(q.pending),
		Running:   q.running,
		Completed: q.completed,
		Failed:    q.failed,
		Workers:   q.workers,
	}
}

// Shutdown stops accepting work, cancels the worker context, and waits for
// in-flight tasks up to the given timeout. Queued tasks that never started
// are dropped.
func (q *Queue) Shutdown(timeout time.Duration) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		q.log.Warn("queue shutdown timed out", "timeout", timeout)
	}
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	for {
		t := q.next()
		if t == nil {
			return
		}

		start := time.Now()
		err := q.run(t)

		q.mu.Lock()
		// The name blocks duplicates until the task has finished, success
		// or failure.
		delete(q.pending, t.name)
		q.running--
		if err != nil {
			q.failed++
		} else {
			q.completed++
		}
		q.mu.Unlock()

		if err != nil {
			q.log.Warn("task failed",
				"task", t.name, "worker", id, "elapsed", time.Since(start), "error", err)
		} else {
			q.log.Debug("task done",
				"task", t.name, "worker", id, "elapsed", time.Since(start))
		}
	}
}

// next blocks until a task is available or the queue shuts down. The name
// stays in the pending set while the task runs; the worker clears it after
// completion.
func (q *Queue) next() *task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.heap) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil
	}

	t := heap.Pop(&q.heap).(*task)
	q.running++
	return t
}

// run executes a task, converting panics into errors so one bad task cannot
// take a worker down.
func (q *Queue) run(t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("task panicked",
				"task", t.name, "panic", r, "stack", string(debug.Stack()))
			err = &PanicError{Task: t.name, Value: r}
		}
	}()
	return t.fn(q.ctx)
}

// PanicError wraps a recovered task panic.
type PanicError struct {
	Task  string
	Value any
}

func (e *PanicError) Error() string {
	return "task " + e.Task + " panicked"
}
