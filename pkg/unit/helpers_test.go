package unit

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittobundle/pkg/ioqueue"
	"github.com/marmos91/dittobundle/pkg/scheduler"
	"github.com/marmos91/dittobundle/pkg/source"
	"github.com/marmos91/dittobundle/pkg/source/memory"
)

// manualExec queues jobs until the test runs them.
type manualExec struct {
	next    uint64
	queue   map[uint64]ioqueue.Job
	order   []uint64
	reject  bool
	started map[uint64]bool
}

func newManualExec() *manualExec {
	return &manualExec{queue: map[uint64]ioqueue.Job{}, started: map[uint64]bool{}}
}

func (e *manualExec) Submit(_ int, job ioqueue.Job) (uint64, bool) {
	if e.reject {
		return 0, false
	}
	e.next++
	e.queue[e.next] = job
	e.order = append(e.order, e.next)
	return e.next, true
}

func (e *manualExec) Cancel(id uint64) bool {
	if e.started[id] {
		return false
	}
	if _, ok := e.queue[id]; !ok {
		return false
	}
	delete(e.queue, id)
	return true
}

func (e *manualExec) pending() int { return len(e.queue) }

// start marks a job as picked up by a worker without running it.
func (e *manualExec) start(id uint64) { e.started[id] = true }

func (e *manualExec) run(id uint64) {
	job, ok := e.queue[id]
	if !ok {
		return
	}
	delete(e.queue, id)
	job(context.Background())
}

func (e *manualExec) runAll() {
	for _, id := range e.order {
		e.run(id)
	}
	e.order = e.order[:0]
}

// jobFor returns the id of the pending job submitted n-th (1-based).
func (e *manualExec) jobFor(n int) uint64 { return e.order[n-1] }

// flakySource wraps a memory store, failing the first N opens per unit.
type flakySource struct {
	inner *memory.Store

	mu       sync.Mutex
	failures map[string]int
	failErr  error
	opens    map[string]int
	handles  []*trackedHandle
}

func newFlakySource() *flakySource {
	return &flakySource{
		inner:    memory.NewStore(),
		failures: map[string]int{},
		opens:    map[string]int{},
		failErr:  fmt.Errorf("%w: connection reset", source.ErrNetwork),
	}
}

func (s *flakySource) Kind() string { return "fake" }

func (s *flakySource) Open(ctx context.Context, name, hash string) (source.Handle, error) {
	s.mu.Lock()
	s.opens[name]++
	if s.failures[name] > 0 {
		s.failures[name]--
		s.mu.Unlock()
		return nil, s.failErr
	}
	s.mu.Unlock()

	h, err := s.inner.Open(ctx, name, hash)
	if err != nil {
		return nil, err
	}
	th := &trackedHandle{Handle: h}
	s.mu.Lock()
	s.handles = append(s.handles, th)
	s.mu.Unlock()
	return th, nil
}

func (s *flakySource) openCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens[name]
}

type trackedHandle struct {
	source.Handle
	unloads int
	forced  bool
}

func (h *trackedHandle) Unload(force bool) {
	h.unloads++
	h.forced = force
	h.Handle.Unload(force)
}

func putUnits(t *testing.T, s *flakySource, names ...string) {
	t.Helper()
	for _, n := range names {
		_, err := s.inner.PutAssets(n, source.Asset{Path: n + "/main", Name: n, Type: "blob", Data: []byte(n)})
		require.NoError(t, err)
	}
}

type fixture struct {
	src   *flakySource
	exec  *manualExec
	loop  *scheduler.Loop
	clock *clock.Mock
	env   *Env
}

func newFixture(t *testing.T, units ...string) *fixture {
	t.Helper()
	f := &fixture{
		src:   newFlakySource(),
		exec:  newManualExec(),
		loop:  scheduler.New(),
		clock: clock.NewMock(),
	}
	putUnits(t, f.src, units...)
	f.env = &Env{
		Source:     f.src,
		Exec:       f.exec,
		Loop:       f.loop,
		MaxRetries: 3,
		Clock:      f.clock,
	}
	return f
}

// settle runs every queued job and drains the loop.
func (f *fixture) settle() {
	f.exec.runAll()
	f.loop.Tick()
}

// staticManifest is a map-backed Manifest.
type staticManifest map[string][]string

func (m staticManifest) Dependencies(name string) []string { return m[name] }
func (m staticManifest) Hash(string) string                { return "" }
