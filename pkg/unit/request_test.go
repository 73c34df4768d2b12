package unit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittobundle/pkg/source"
)

func TestResolver_Dedup(t *testing.T) {
	f := newFixture(t, "a", "b", "shared")
	reg := NewRegistry(f.env)
	res := NewResolver(reg, staticManifest{
		"a": {"shared"},
		"b": {"shared"},
	})

	ra := res.Resolve("a")
	assert.Same(t, ra, res.Resolve("a"))

	rb := res.Resolve("b")
	require.Len(t, ra.Dependencies(), 1)
	require.Len(t, rb.Dependencies(), 1)
	assert.Same(t, ra.Dependencies()[0], rb.Dependencies()[0], "one request per dependency name")
	assert.Equal(t, 3, reg.Len())
	assert.Equal(t, 3, reg.Requests())

	ra.Load(Async, 0)
	rb.Load(Async, 0)
	assert.Equal(t, 3, f.exec.pending(), "shared dependency is loaded once")

	f.settle()
	assert.True(t, ra.Done())
	assert.True(t, rb.Done())
	assert.Equal(t, 1, f.src.openCount("shared"))
}

func TestResolver_NilManifestAndCycles(t *testing.T) {
	f := newFixture(t, "a", "b")
	reg := NewRegistry(f.env)

	res := NewResolver(reg, nil)
	assert.Empty(t, res.Resolve("a").Dependencies())

	reg.Clear()
	res.SetManifest(staticManifest{"a": {"b"}, "b": {"a"}})
	ra := res.Resolve("a")
	require.Len(t, ra.Dependencies(), 1)
	rb := ra.Dependencies()[0]
	assert.Equal(t, "b", rb.Name())
	require.Len(t, rb.Dependencies(), 1)
	assert.Same(t, ra, rb.Dependencies()[0])

	ra.Load(Sync, 0)
	assert.True(t, ra.Done())
	assert.True(t, rb.Done())
}

// Every arrival order of U2 and U3 (and U1 itself) must yield Done only
// once all three have settled.
func TestRequest_DependencyArrivalOrder(t *testing.T) {
	orders := [][]int{
		{1, 2, 3}, {1, 3, 2}, {2, 1, 3}, {2, 3, 1}, {3, 1, 2}, {3, 2, 1},
	}
	for _, order := range orders {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			f := newFixture(t, "u1", "u2", "u3")
			res := NewResolver(NewRegistry(f.env), staticManifest{"u1": {"u2", "u3"}})

			req := res.Resolve("u1")
			fired := 0
			req.OnDone(func() { fired++ })
			req.Load(Async, 0)
			require.Equal(t, 3, f.exec.pending(), "dependencies and main start together")

			// Jobs were submitted as u2, u3, u1.
			ids := map[int]uint64{2: f.exec.jobFor(1), 3: f.exec.jobFor(2), 1: f.exec.jobFor(3)}
			for i, n := range order {
				assert.False(t, req.Done())
				f.exec.run(ids[n])
				f.loop.Tick()
				if i < len(order)-1 {
					assert.Zero(t, fired)
				}
			}
			assert.True(t, req.MainDone())
			assert.True(t, req.DependenciesDone())
			assert.True(t, req.Done())
			assert.Equal(t, 1, fired)
		})
	}
}

func TestRequest_DependencyErrorIsDone(t *testing.T) {
	f := newFixture(t, "main")
	res := NewResolver(NewRegistry(f.env), staticManifest{"main": {"broken"}})

	req := res.Resolve("main")
	done := false
	req.OnDone(func() { done = true })
	req.Load(Async, 0)
	f.settle()

	assert.True(t, done, "a failed dependency never blocks its dependents")
	assert.Equal(t, Loaded, req.Main().State())
	assert.ErrorIs(t, req.Err(), source.ErrNotFound)
}

func TestRequest_ReferencesAndPins(t *testing.T) {
	f := newFixture(t, "x", "d1", "d2")
	reg := NewRegistry(f.env)
	res := NewResolver(reg, staticManifest{"x": {"d1", "d2"}})
	req := res.Resolve("x")

	req.IncreaseReferenceCount(1)
	req.IncreaseReferenceCount(1)
	for _, u := range reg.Units() {
		assert.Equal(t, 2, u.RefCount(), u.Name())
	}
	assert.Equal(t, 2, req.Holders())

	req.IncreaseReferenceCount(-1)
	d1, _ := reg.Lookup("d1")
	assert.Equal(t, 1, d1.RefCount())

	req.Pin()
	assert.False(t, req.Unloadable())
	assert.False(t, d1.Unloadable())

	// Another holder of d1 keeps it pinned until both agree.
	d1.Pin()
	req.Unpin()
	assert.False(t, d1.Unloadable())
	assert.False(t, req.Unloadable())
	d1.Unpin()
	assert.True(t, req.Unloadable())
}

func TestRegistry_States(t *testing.T) {
	f := newFixture(t, "ok")
	reg := NewRegistry(f.env)
	res := NewResolver(reg, nil)

	res.Resolve("ok").Load(Sync, 0)
	res.Resolve("bad").Load(Sync, 0)
	res.Resolve("idle")

	counts := reg.States()
	assert.Equal(t, 1, counts[Loaded])
	assert.Equal(t, 1, counts[Error])
	assert.Equal(t, 1, counts[Ready])
	assert.Equal(t, 0, counts[Loading])
}

func TestRegistry_Prune(t *testing.T) {
	f := newFixture(t, "a", "dep")
	reg := NewRegistry(f.env)
	res := NewResolver(reg, staticManifest{"a": {"dep"}})

	req := res.Resolve("a")
	req.IncreaseReferenceCount(1)

	f.clock.Add(time.Minute)
	assert.Zero(t, reg.Prune(f.clock.Now(), 30*time.Second, nil), "held request keeps its units")

	req.IncreaseReferenceCount(-1)
	assert.Zero(t, reg.Prune(f.clock.Now(), 30*time.Second, nil), "not idle long enough")

	loose, _ := reg.Lookup("dep")
	loose.SetQueued(true)
	f.clock.Add(time.Minute)
	assert.Equal(t, 1, reg.Prune(f.clock.Now(), 30*time.Second, nil), "queued unit survives")
	assert.Zero(t, reg.Requests())

	loose.SetQueued(false)
	assert.Equal(t, 1, reg.Prune(f.clock.Now(), 30*time.Second, nil))
	assert.Zero(t, reg.Len())

	// A pruned name is recreated fresh on the next resolve.
	assert.NotSame(t, req, res.Resolve("a"))
}

func TestRegistry_PruneKeep(t *testing.T) {
	f := newFixture(t, "kept", "loose")
	reg := NewRegistry(f.env)
	res := NewResolver(reg, nil)
	res.Resolve("kept")
	res.Resolve("loose")

	f.clock.Add(time.Minute)
	keep := func(name string) bool { return name == "kept" }
	assert.Equal(t, 1, reg.Prune(f.clock.Now(), 30*time.Second, keep))

	_, ok := reg.Lookup("kept")
	assert.True(t, ok)
	_, ok = reg.Lookup("loose")
	assert.False(t, ok)
}
