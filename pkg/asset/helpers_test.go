package asset

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittobundle/pkg/ioqueue"
	"github.com/marmos91/dittobundle/pkg/scheduler"
	"github.com/marmos91/dittobundle/pkg/source"
	"github.com/marmos91/dittobundle/pkg/source/memory"
	"github.com/marmos91/dittobundle/pkg/unit"
)

// queueExec holds async jobs until the test runs them.
type queueExec struct {
	next uint64
	jobs map[uint64]ioqueue.Job
	ids  []uint64
}

func newQueueExec() *queueExec { return &queueExec{jobs: map[uint64]ioqueue.Job{}} }

func (e *queueExec) Submit(_ int, job ioqueue.Job) (uint64, bool) {
	e.next++
	e.jobs[e.next] = job
	e.ids = append(e.ids, e.next)
	return e.next, true
}

func (e *queueExec) Cancel(id uint64) bool {
	_, ok := e.jobs[id]
	delete(e.jobs, id)
	return ok
}

func (e *queueExec) pending() int { return len(e.jobs) }

func (e *queueExec) runAll() {
	ids := e.ids
	e.ids = nil
	for _, id := range ids {
		if job, ok := e.jobs[id]; ok {
			delete(e.jobs, id)
			job(context.Background())
		}
	}
}

// recordingTracker remembers what Track was called with.
type recordingTracker struct {
	units []*unit.Unit
	objs  [][]*source.Object
}

func (r *recordingTracker) Track(u *unit.Unit, objs []*source.Object) {
	r.units = append(r.units, u)
	r.objs = append(r.objs, objs)
}

type staticManifest map[string][]string

func (m staticManifest) Dependencies(name string) []string { return m[name] }
func (m staticManifest) Hash(string) string                { return "" }

type fixture struct {
	store    *memory.Store
	flat     *memory.Flat
	exec     *queueExec
	loop     *scheduler.Loop
	resolver *unit.Resolver
	tracker  *recordingTracker
	index    *TypeIndex
	env      *Env
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.NewStore(),
		flat:    memory.NewFlat(),
		exec:    newQueueExec(),
		loop:    scheduler.New(),
		tracker: &recordingTracker{},
		index:   NewTypeIndex(),
	}
	reg := unit.NewRegistry(&unit.Env{
		Source:     f.store,
		Exec:       f.exec,
		Loop:       f.loop,
		MaxRetries: 3,
		Clock:      clock.NewMock(),
	})
	f.resolver = unit.NewResolver(reg, staticManifest{})
	f.env = &Env{Flat: f.flat, Tracker: f.tracker, Index: f.index}
	return f
}

func (f *fixture) put(t *testing.T, name string, assets ...source.Asset) {
	t.Helper()
	_, err := f.store.PutAssets(name, assets...)
	require.NoError(t, err)
}

func (f *fixture) settle() {
	f.exec.runAll()
	f.loop.Tick()
}

func (f *fixture) entry(path string, typ source.Type, unitName string, all bool) *Entry {
	return NewEntry(Key{Path: path, Type: typ}, path, all, f.resolver.Resolve(unitName), f.env, true)
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
