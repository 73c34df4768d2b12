package ioqueue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_SubmitAndRun(t *testing.T) {
	q := New(Config{QueueSize: 10, Workers: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		_, ok := q.Submit(PriorityNormal, func(context.Context) { ran.Add(1) })
		require.True(t, ok)
	}

	require.Eventually(t, func() bool { return ran.Load() == 5 }, time.Second, time.Millisecond)
	q.Stop(time.Second)

	pending, running, completed := q.Stats()
	assert.Equal(t, 0, pending)
	assert.Equal(t, 0, running)
	assert.EqualValues(t, 5, completed)
}

func TestQueue_QueueFull(t *testing.T) {
	q := New(Config{QueueSize: 2, Workers: 0})

	_, ok := q.Submit(PriorityNormal, func(context.Context) {})
	assert.True(t, ok)
	_, ok = q.Submit(PriorityNormal, func(context.Context) {})
	assert.True(t, ok)
	_, ok = q.Submit(PriorityNormal, func(context.Context) {})
	assert.False(t, ok)

	assert.Equal(t, 2, q.Pending())
}

func TestQueue_PriorityOrder(t *testing.T) {
	q := New(Config{QueueSize: 10, Workers: 1})

	var mu sync.Mutex
	var order []string
	record := func(name string) Job {
		return func(context.Context) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	// Queue everything before starting the single worker.
	q.Submit(PriorityLow, record("low"))
	q.Submit(PriorityNormal, record("normal-1"))
	q.Submit(PriorityHigh, record("high"))
	q.Submit(PriorityNormal, record("normal-2"))

	q.Start(context.Background())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 4
	}, time.Second, time.Millisecond)
	q.Stop(time.Second)

	assert.Equal(t, []string{"high", "normal-1", "normal-2", "low"}, order)
}

func TestQueue_Cancel(t *testing.T) {
	q := New(Config{QueueSize: 10, Workers: 0})

	ran := false
	id, ok := q.Submit(PriorityNormal, func(context.Context) { ran = true })
	require.True(t, ok)

	assert.True(t, q.Cancel(id))
	assert.False(t, q.Cancel(id), "second cancel is a no-op")
	assert.False(t, q.Cancel(9999))
	assert.Equal(t, 0, q.Pending())
	assert.False(t, ran)
}

func TestQueue_CancelStartedJob(t *testing.T) {
	q := New(Config{QueueSize: 10, Workers: 1})
	q.Start(context.Background())
	defer q.Stop(time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	id, _ := q.Submit(PriorityNormal, func(context.Context) {
		close(started)
		<-release
	})
	<-started

	assert.False(t, q.Cancel(id))
	close(release)
}

func TestQueue_StopNotStarted(t *testing.T) {
	q := New(DefaultConfig())
	q.Stop(time.Second)

	_, ok := q.Submit(PriorityNormal, func(context.Context) {})
	assert.False(t, ok)
}

func TestQueue_DoubleStart(t *testing.T) {
	q := New(DefaultConfig())
	q.Start(context.Background())
	q.Start(context.Background())
	q.Stop(time.Second)
}

func TestQueue_PanicDoesNotKillWorker(t *testing.T) {
	q := New(Config{QueueSize: 4, Workers: 1})
	q.Start(context.Background())
	defer q.Stop(time.Second)

	q.Submit(PriorityNormal, func(context.Context) { panic("boom") })

	var ok atomic.Bool
	q.Submit(PriorityNormal, func(context.Context) { ok.Store(true) })
	require.Eventually(t, ok.Load, time.Second, time.Millisecond)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1024, cfg.QueueSize)
	assert.Equal(t, 4, cfg.Workers)

	q := New(Config{QueueSize: -1, Workers: -1})
	assert.Equal(t, 1024, q.cfg.QueueSize)
	assert.Equal(t, 4, q.cfg.Workers)
}
