package asset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittobundle/pkg/source"
	"github.com/marmos91/dittobundle/pkg/unit"
)

func putCharacters(t *testing.T, f *fixture) {
	f.put(t, "chars",
		mkAsset("chars/hero", "hero", "texture"),
		mkAsset("chars/hero", "hero-walk", "anim"),
		mkAsset("chars/villain", "villain", "texture/sprite"),
	)
}

func TestEntry_LoadSingle(t *testing.T) {
	f := newFixture(t)
	putCharacters(t, f)

	e := f.entry("chars/hero", source.Any, "chars", false)
	fired := 0
	e.OnDone(func() { fired++ })

	e.LoadRequest(unit.Sync, 0)

	require.True(t, e.Done())
	assert.Equal(t, Loaded, e.State())
	assert.Equal(t, []string{"hero"}, names(e.Objects()))
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, e.Unit().RefCount())

	// Settled entries ignore further requests.
	e.LoadRequest(unit.Async, 0)
	assert.Equal(t, 1, e.Unit().RefCount())
	assert.Zero(t, f.exec.pending())
}

func TestEntry_LoadAsync(t *testing.T) {
	f := newFixture(t)
	putCharacters(t, f)

	e := f.entry("chars/villain", "texture", "chars", false)
	e.LoadRequest(unit.Async, 0)
	assert.Equal(t, Loading, e.State())
	assert.Equal(t, 1, f.exec.pending())

	f.settle()
	require.True(t, e.Done())
	assert.Equal(t, []string{"villain"}, names(e.Objects()), "texture/sprite derives from texture")
}

func TestEntry_ModeSwitchWhileLoading(t *testing.T) {
	f := newFixture(t)
	putCharacters(t, f)

	e := f.entry("chars/hero", source.Any, "chars", false)
	e.LoadRequest(unit.Async, 0)
	require.Equal(t, Loading, e.State())

	e.LoadRequest(unit.Sync, 0)
	require.True(t, e.Done())
	assert.Len(t, e.Objects(), 1)
	assert.Zero(t, f.exec.pending(), "queued async open cancelled")
	assert.Equal(t, 1, e.Unit().RefCount())
}

func TestEntry_SingleToAll(t *testing.T) {
	f := newFixture(t)
	putCharacters(t, f)

	e := f.entry("chars/hero", source.Any, "chars", false)
	e.LoadRequest(unit.Sync, 0)
	require.Len(t, e.Objects(), 1)

	e.EnsureAll()
	assert.Equal(t, Ready, e.State())
	assert.True(t, e.All())
	assert.Equal(t, 1, e.Unit().RefCount(), "reference kept across the switch")

	e.LoadRequest(unit.Sync, 0)
	assert.ElementsMatch(t, []string{"hero", "hero-walk"}, names(e.Objects()))
	assert.Equal(t, 1, e.Unit().RefCount())
}

func TestEntry_MissingIsNotError(t *testing.T) {
	f := newFixture(t)
	putCharacters(t, f)

	e := f.entry("chars/nobody", source.Any, "chars", false)
	e.LoadRequest(unit.Sync, 0)

	assert.Equal(t, Loaded, e.State())
	assert.NoError(t, e.Err())
	assert.NotNil(t, e.Objects())
	assert.Empty(t, e.Objects())
}

func TestEntry_UnitErrorSettlesEntry(t *testing.T) {
	f := newFixture(t)

	e := f.entry("ghost/thing", source.Any, "ghost", false)
	called := false
	e.OnDone(func() { called = true })
	e.LoadRequest(unit.Sync, 0)

	assert.True(t, called)
	assert.Equal(t, Error, e.State())
	assert.ErrorIs(t, e.Err(), source.ErrNotFound)
	assert.NotNil(t, e.Objects())
	assert.Empty(t, e.Objects())
}

func TestEntry_UnloadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	putCharacters(t, f)

	a := f.entry("chars/hero", source.Any, "chars", false)
	b := f.entry("chars/villain", source.Any, "chars", false)
	a.LoadRequest(unit.Sync, 0)
	b.LoadRequest(unit.Sync, 0)
	u := a.Unit()
	require.Same(t, u, b.Unit())
	require.Equal(t, 2, u.RefCount())

	assert.True(t, a.Unload())
	assert.Equal(t, 1, u.RefCount())
	assert.Equal(t, Ready, a.State())

	assert.False(t, a.Unload())
	assert.Equal(t, 1, u.RefCount(), "second unload does not decrement")
}

func TestEntry_TrackedWhenPinned(t *testing.T) {
	f := newFixture(t)
	putCharacters(t, f)

	plain := f.entry("chars/villain", source.Any, "chars", false)
	plain.LoadRequest(unit.Sync, 0)
	assert.Empty(t, f.tracker.units)

	pinned := f.entry("chars/hero", source.Any, "chars", false)
	pinned.Request().Pin()
	pinned.LoadRequest(unit.Sync, 0)

	require.Len(t, f.tracker.units, 1)
	assert.Same(t, pinned.Unit(), f.tracker.units[0])
	assert.Equal(t, pinned.Objects(), f.tracker.objs[0])
}

func TestEntry_Indexed(t *testing.T) {
	f := newFixture(t)
	putCharacters(t, f)

	e := f.entry("chars/hero", source.Any, "chars", true)
	e.LoadRequest(unit.Sync, 0)
	require.Len(t, e.Objects(), 2)

	anims := f.index.Lookup("chars/hero", "anim", false)
	require.Len(t, anims, 1)
	owner, ok := f.index.Owner(anims[0])
	require.True(t, ok)
	assert.Equal(t, e.Key(), owner.Key())

	assert.False(t, e.RemoveObject(anims[0]))
	assert.Len(t, e.Objects(), 1)
	assert.Empty(t, f.index.Lookup("chars/hero", "anim", false))

	e.Unload()
	assert.Zero(t, f.index.Len())
}

func TestEntry_Flat(t *testing.T) {
	f := newFixture(t)
	f.flat.Register(mkAsset("ui/icon", "icon", "texture"))

	e := NewEntry(Key{Path: "ui/icon", Type: "texture"}, "ui/icon", false, nil, f.env, true)
	assert.True(t, e.Flat())
	assert.Nil(t, e.Unit())

	e.LoadRequest(unit.Async, 0)
	require.True(t, e.Done(), "flat loads settle immediately")
	assert.Equal(t, []string{"icon"}, names(e.Objects()))
	assert.Zero(t, f.flat.Orphans())

	assert.True(t, e.Unload())
	assert.Equal(t, 1, f.flat.Orphans())
	assert.False(t, e.Unload())
	assert.Equal(t, 1, f.flat.Orphans())
}
