// Package scheduler is the single-threaded cooperative loop every lifecycle
// state machine runs on.
//
// Work finishing on other goroutines (I/O workers, HTTP handlers, file
// watchers) never touches lifecycle state directly. It posts a continuation
// with Post, and the continuation runs on the next Tick on the loop's owner
// goroutine. All registry mutation therefore happens on one goroutine and
// needs no locking beyond the ingress queue.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrStopped is returned by Do when the loop stops before running the task.
var ErrStopped = errors.New("scheduler: loop stopped")

// Loop is a tick-driven continuation queue.
type Loop struct {
	mu      sync.Mutex
	ingress []func()
	spare   []func()
	stopped bool
	wake    chan struct{}

	ticks uint64
}

// New creates an empty loop.
func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post queues fn to run on the next Tick. Safe from any goroutine. Posting to
// a stopped loop drops fn and reports false.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.ingress = append(l.ingress, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Len returns the number of continuations waiting for the next Tick.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ingress)
}

// Ticks returns how many times Tick has run.
func (l *Loop) Ticks() uint64 {
	return l.ticks
}

// Tick runs every continuation posted before the call. Continuations posted
// while draining run on the following Tick, so a continuation that re-posts
// itself cannot starve the caller. Must only be called from the owner
// goroutine.
func (l *Loop) Tick() int {
	l.mu.Lock()
	batch := l.ingress
	l.ingress = l.spare[:0]
	l.mu.Unlock()

	for i, fn := range batch {
		fn()
		batch[i] = nil
	}

	l.mu.Lock()
	l.spare = batch[:0]
	l.mu.Unlock()

	l.ticks++
	return len(batch)
}

// Stop makes further Posts fail. Pending continuations stay queued so the
// owner can drain them with a final Tick.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
}

// Do posts fn and blocks until it has run on the loop or ctx is done.
// Used by callers on foreign goroutines that need a result from loop state.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run ticks the loop every interval until ctx is cancelled, calling onTick
// after each drain. It is the owner goroutine for the duration of the call.
func (l *Loop) Run(ctx context.Context, clk clock.Clock, interval time.Duration, onTick func()) {
	if clk == nil {
		clk = clock.New()
	}
	ticker := clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-l.wake:
			// Drain early when work arrives so Do callers are not held for a
			// full interval. onTick still only runs on the ticker cadence.
			l.Tick()
			continue
		}
		l.Tick()
		if onTick != nil {
			onTick()
		}
	}
}
