// Package ioqueue runs blocking unit opens off the scheduler goroutine.
//
// Jobs are ordered by priority (higher first) and FIFO within a priority.
// A job that has not been picked up by a worker can be cancelled for free;
// a started job always runs to completion, and its owner is expected to
// ignore the outcome if it no longer cares.
package ioqueue

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittobundle/internal/logger"
)

// Priority levels used by the lifecycle packages.
const (
	PriorityLow    = -10
	PriorityNormal = 0
	PriorityHigh   = 10
)

// Config holds queue configuration.
type Config struct {
	// QueueSize bounds the number of jobs waiting for a worker.
	// Submit fails once the bound is reached. Default: 1024
	QueueSize int

	// Workers is the number of goroutines executing jobs. Default: 4
	Workers int
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize: 1024,
		Workers:   4,
	}
}

// Job is the work a worker runs. ctx is cancelled when the queue stops.
type Job func(ctx context.Context)

type item struct {
	id       uint64
	priority int
	seq      uint64
	job      Job
	index    int
}

type jobHeap []*item

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *jobHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Queue is a bounded priority worker pool.
type Queue struct {
	cfg Config

	mu      sync.Mutex
	cond    *sync.Cond
	jobs    jobHeap
	byID    map[uint64]*item
	nextID  uint64
	seq     uint64
	started bool
	stopped bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	completed atomic.Uint64
	cancelled atomic.Uint64
	running   atomic.Int64
}

// New creates a queue. Non-positive config values fall back to defaults,
// except Workers which may be zero to get a queue that only accumulates.
func New(cfg Config) *Queue {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers < 0 {
		cfg.Workers = def.Workers
	}
	q := &Queue{
		cfg:  cfg,
		byID: make(map[uint64]*item),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the workers. Calling Start twice is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped {
		return
	}
	q.started = true

	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	logger.Debug("I/O queue started", "workers", q.cfg.Workers, "queue_size", q.cfg.QueueSize)
}

// Submit queues job and returns its id. It reports false when the queue is
// full or stopped.
func (q *Queue) Submit(priority int, job Job) (uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped || len(q.jobs) >= q.cfg.QueueSize {
		return 0, false
	}
	q.nextID++
	q.seq++
	it := &item{id: q.nextID, priority: priority, seq: q.seq, job: job}
	heap.Push(&q.jobs, it)
	q.byID[it.id] = it
	q.cond.Signal()
	return it.id, true
}

// Cancel removes a job that has not started yet. It reports whether the job
// was removed; false means it already started, finished or never existed.
func (q *Queue) Cancel(id uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byID[id]
	if !ok || it.index < 0 {
		return false
	}
	heap.Remove(&q.jobs, it.index)
	delete(q.byID, id)
	q.cancelled.Add(1)
	return true
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.jobs) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if q.stopped && len(q.jobs) == 0 {
			q.mu.Unlock()
			return
		}
		it := heap.Pop(&q.jobs).(*item)
		delete(q.byID, it.id)
		q.mu.Unlock()

		q.run(ctx, it)
	}
}

func (q *Queue) run(ctx context.Context, it *item) {
	q.running.Add(1)
	defer func() {
		q.running.Add(-1)
		q.completed.Add(1)
		if r := recover(); r != nil {
			logger.Error("I/O job panicked", "job", it.id, "panic", r)
		}
	}()
	it.job(ctx)
}

// Stop stops accepting jobs, lets workers drain what is queued and waits up
// to timeout for them. Jobs still queued after the timeout see a cancelled
// context.
func (q *Queue) Stop(timeout time.Duration) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	started := q.started
	q.cond.Broadcast()
	q.mu.Unlock()

	if !started {
		return
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("I/O queue stop timed out", "pending", q.Pending())
		q.cancel()
		<-done
	}
	q.cancel()
}

// Pending returns the number of jobs waiting for a worker.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Stats returns pending, running and completed job counts.
func (q *Queue) Stats() (pending, running int, completed uint64) {
	return q.Pending(), int(q.running.Load()), q.completed.Load()
}
