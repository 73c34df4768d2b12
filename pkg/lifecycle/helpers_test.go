package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittobundle/pkg/asset"
	"github.com/marmos91/dittobundle/pkg/ioqueue"
	"github.com/marmos91/dittobundle/pkg/manifest"
	"github.com/marmos91/dittobundle/pkg/source"
	"github.com/marmos91/dittobundle/pkg/source/memory"
	"github.com/marmos91/dittobundle/pkg/unit"
)

// queueExec holds async jobs until the test runs them. It is safe for use
// from a Run goroutine.
type queueExec struct {
	mu   sync.Mutex
	next uint64
	jobs map[uint64]ioqueue.Job
	ids  []uint64
}

func newQueueExec() *queueExec { return &queueExec{jobs: map[uint64]ioqueue.Job{}} }

func (e *queueExec) Submit(_ int, job ioqueue.Job) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	e.jobs[e.next] = job
	e.ids = append(e.ids, e.next)
	return e.next, true
}

func (e *queueExec) Cancel(id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.jobs[id]
	delete(e.jobs, id)
	return ok
}

func (e *queueExec) pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.jobs)
}

func (e *queueExec) runAll() {
	e.mu.Lock()
	ids := e.ids
	e.ids = nil
	jobs := make([]ioqueue.Job, 0, len(ids))
	for _, id := range ids {
		if job, ok := e.jobs[id]; ok {
			delete(e.jobs, id)
			jobs = append(jobs, job)
		}
	}
	e.mu.Unlock()
	for _, job := range jobs {
		job(context.Background())
	}
}

type fakeHost struct {
	loads   []string
	unloads []asset.SceneHandle
}

func (h *fakeHost) LoadScene(name string, _ bool, _ unit.Mode) error {
	h.loads = append(h.loads, name)
	return nil
}

func (h *fakeHost) UnloadScene(s asset.SceneHandle) error {
	h.unloads = append(h.unloads, s)
	return nil
}

type fakeBootstrap struct {
	mu    sync.Mutex
	m     *manifest.Manifest
	err   error
	calls int
}

func (b *fakeBootstrap) FetchManifest(context.Context) (*manifest.Manifest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return b.m, b.err
}

type memCache struct {
	m *manifest.Manifest
}

func (c *memCache) Save(m *manifest.Manifest) error {
	c.m = m
	return nil
}

func (c *memCache) Load() (*manifest.Manifest, time.Time, error) {
	if c.m == nil {
		return nil, time.Time{}, errors.New("empty")
	}
	return c.m, time.Unix(0, 0), nil
}

type fixture struct {
	store    *memory.Store
	flat     *memory.Flat
	exec     *queueExec
	clock    *clock.Mock
	manifest *manifest.Manifest
	host     *fakeHost
	cfg      Config
}

func newFixture() *fixture {
	return &fixture{
		store:    memory.NewStore(),
		flat:     memory.NewFlat(),
		exec:     newQueueExec(),
		clock:    clock.NewMock(),
		manifest: manifest.New(),
		host:     &fakeHost{},
		cfg:      DefaultConfig(),
	}
}

// addUnit stores a unit and declares it, redirecting each asset path to it.
func (f *fixture) addUnit(t *testing.T, name string, deps []string, assets ...source.Asset) {
	t.Helper()
	hash, err := f.store.PutAssets(name, assets...)
	require.NoError(t, err)
	f.manifest.AddUnit(name, hash, deps...)
	seen := map[string]bool{}
	for _, a := range assets {
		if !seen[a.Path] {
			seen[a.Path] = true
			f.manifest.AddRedirect(a.Path, manifest.Location{Unit: name, Asset: a.Path})
		}
	}
}

func (f *fixture) options() Options {
	return Options{
		Source:    f.store,
		Flat:      f.flat,
		Manifest:  f.manifest,
		SceneHost: f.host,
		Executor:  f.exec,
		Clock:     f.clock,
	}
}

func (f *fixture) manager(t *testing.T) *Manager {
	t.Helper()
	m := New(f.cfg, f.options())
	m.Start(context.Background())
	return m
}

// settle runs every queued job and ticks once.
func (f *fixture) settle(m *Manager) {
	f.exec.runAll()
	m.Tick()
}

// advance moves the clock and ticks.
func (f *fixture) advance(m *Manager, d time.Duration) {
	f.clock.Add(d)
	m.Tick()
}

func mkAsset(path, name string, typ source.Type) source.Asset {
	return source.Asset{Path: path, Name: name, Type: typ, Data: []byte(name)}
}

func names(objs []*source.Object) []string {
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.Name)
	}
	return out
}

func unitOf(t *testing.T, m *Manager, name string) *unit.Unit {
	t.Helper()
	u, ok := m.Registry().Lookup(name)
	require.True(t, ok, "unit %s not registered", name)
	return u
}
