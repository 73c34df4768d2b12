package orphan

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittobundle/pkg/source"
	"github.com/marmos91/dittobundle/pkg/source/memory"
	"github.com/marmos91/dittobundle/pkg/unit"
)

func loaded(t *testing.T, name string) *unit.Unit {
	t.Helper()
	store := memory.NewStore()
	_, err := store.PutAssets(name,
		source.Asset{Path: "a", Type: "blob", Data: []byte("a")},
		source.Asset{Path: "b", Type: "blob", Data: []byte("b")},
	)
	require.NoError(t, err)
	u := unit.New(name, "", &unit.Env{Source: store})
	u.LoadRequest(unit.Sync, 0)
	require.Equal(t, unit.Loaded, u.State())
	return u
}

func TestDetector_AdoptPinsUntilAllDead(t *testing.T) {
	var released []*unit.Unit
	d := New(func(u *unit.Unit) { released = append(released, u) })

	u := loaded(t, "core")
	objs := u.Handle().ExtractAll("", source.Any)
	require.Len(t, objs, 2)

	d.Adopt(u, objs[:1])
	d.Adopt(u, objs[1:])
	assert.Equal(t, 1, u.Pins(), "one pin per record")
	assert.True(t, d.Tracked(u))

	assert.Zero(t, d.Probe())

	objs[0].Destroy()
	assert.Zero(t, d.Probe(), "one object still live")
	assert.Equal(t, 1, u.Pins())

	objs[1].Destroy()
	assert.Equal(t, 1, d.Probe())
	assert.Zero(t, u.Pins())
	assert.False(t, d.Tracked(u))
	assert.Equal(t, []*unit.Unit{u}, released)

	// Nothing left to probe.
	assert.Zero(t, d.Probe())
}

func TestDetector_TrackDoesNotPin(t *testing.T) {
	released := 0
	d := New(func(*unit.Unit) { released++ })

	u := loaded(t, "ui")
	u.Pin()
	objs := u.Handle().ExtractAll("", source.Any)
	d.Track(u, objs)
	assert.Equal(t, 1, u.Pins())

	for _, o := range objs {
		o.Destroy()
	}
	assert.Equal(t, 1, d.Probe())
	assert.Equal(t, 1, u.Pins(), "external pin is not touched")
	assert.Equal(t, 1, released)
}

func TestDetector_CollectedObjects(t *testing.T) {
	released := 0
	d := New(func(*unit.Unit) { released++ })

	store := memory.NewStore()
	_, err := store.PutAssets("gc", source.Asset{Path: "a", Type: "blob", Data: make([]byte, 1024)})
	require.NoError(t, err)

	u := unit.New("gc", "", &unit.Env{Source: store})
	func() {
		u.LoadRequest(unit.Sync, 0)
		d.Adopt(u, u.Handle().ExtractAll("a", source.Any))
	}()
	// The handle caches extracted objects weakly, so nothing but the
	// detector refers to them now.

	for i := 0; i < 5 && released == 0; i++ {
		runtime.GC()
		d.Probe()
	}
	assert.Equal(t, 1, released)
	assert.Zero(t, u.Pins())
}

func TestDetector_ForgetAndClear(t *testing.T) {
	d := New(func(*unit.Unit) { t.Fatal("onRelease must not run") })

	a := loaded(t, "a")
	b := loaded(t, "b")
	d.Adopt(a, a.Handle().ExtractAll("", source.Any))
	d.Track(b, b.Handle().ExtractAll("", source.Any))
	d.Track(b, nil)
	assert.Equal(t, 2, d.Len())

	d.Forget(a)
	assert.Zero(t, a.Pins())
	assert.Equal(t, 1, d.Len())

	d.Clear()
	assert.Zero(t, d.Len())
}
