package asset

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittobundle/pkg/unit"
)

type fakeHost struct {
	loads    []string
	unloads  []SceneHandle
	loadErr  error
	lastMode unit.Mode
}

func (h *fakeHost) LoadScene(name string, _ bool, mode unit.Mode) error {
	if h.loadErr != nil {
		return h.loadErr
	}
	h.loads = append(h.loads, name)
	h.lastMode = mode
	return nil
}

func (h *fakeHost) UnloadScene(s SceneHandle) error {
	h.unloads = append(h.unloads, s)
	return nil
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Levels/Forest.scene", "levels/forest"},
		{`Levels\Forest`, "levels/forest"},
		{"/levels//forest/", "levels/forest"},
		{"levels/./cave/../forest.SCENE", "levels/forest"},
		{"menu", "menu"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePath(tt.in))
		})
	}
}

func TestScene_LoadAndMatch(t *testing.T) {
	f := newFixture(t)
	f.put(t, "forest", mkAsset("levels/forest", "forest", "scene"))
	host := &fakeHost{}
	tr := NewSceneTracker()

	s := NewScene("levels/forest", "Forest", false, f.resolver.Resolve("forest"), host, tr, f.env)
	s.LoadRequest(unit.Async, 0)
	assert.Empty(t, host.loads, "host waits for the unit")

	f.settle()
	require.Equal(t, []string{"Forest"}, host.loads)
	assert.Equal(t, unit.Async, host.lastMode)
	assert.Equal(t, 1, tr.Pending())
	assert.Equal(t, Loading, s.State())

	got, ok := tr.Loaded(`Levels\Forest.scene`, 7)
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, Loaded, s.State())
	h, bound := s.Handle()
	assert.True(t, bound)
	assert.Equal(t, SceneHandle(7), h)
	assert.Equal(t, 1, s.Request().Main().RefCount())

	assert.True(t, s.Unload())
	assert.Equal(t, []SceneHandle{7}, host.unloads)
	assert.Zero(t, s.Request().Main().RefCount())
	assert.Zero(t, tr.Bound())
	assert.False(t, s.Unload())
}

func TestScene_MatchesHostPath(t *testing.T) {
	f := newFixture(t)
	host := &fakeHost{}
	tr := NewSceneTracker()

	s := NewScene("levels/forest", "scenes/Forest.scene", false, nil, host, tr, f.env)
	s.LoadRequest(unit.Sync, 0)
	require.Equal(t, []string{"scenes/Forest.scene"}, host.loads)
	assert.Equal(t, "scenes/forest", s.HostPath())
	assert.Equal(t, 1, tr.Pending())

	got, ok := tr.Loaded("scenes/Forest.scene", 3)
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, Loaded, s.State())
	assert.Zero(t, tr.Pending(), "claimed under one path, gone from the other")

	_, ok = tr.Loaded("levels/forest", 4)
	assert.False(t, ok)
}

func TestSceneTracker_FIFO(t *testing.T) {
	f := newFixture(t)
	host := &fakeHost{}
	tr := NewSceneTracker()

	first := NewScene("arena", "arena", true, nil, host, tr, f.env)
	second := NewScene("Arena", "arena", true, nil, host, tr, f.env)
	first.LoadRequest(unit.Sync, 0)
	second.LoadRequest(unit.Sync, 0)
	require.Equal(t, 2, tr.Pending())

	s, ok := tr.Loaded("arena", 1)
	require.True(t, ok)
	assert.Same(t, first, s)
	s, ok = tr.Loaded("arena", 2)
	require.True(t, ok)
	assert.Same(t, second, s)

	_, ok = tr.Loaded("arena", 3)
	assert.False(t, ok, "unexpected host events are ignored")
}

func TestScene_UnloadBeforeHostLoaded(t *testing.T) {
	f := newFixture(t)
	host := &fakeHost{}
	tr := NewSceneTracker()

	s := NewScene("cave", "cave", false, nil, host, tr, f.env)
	s.LoadRequest(unit.Sync, 0)
	assert.False(t, s.Unload())
	assert.Empty(t, host.unloads)

	_, ok := tr.Loaded("cave", 4)
	assert.True(t, ok)
	assert.Equal(t, []SceneHandle{4}, host.unloads, "late scene undone")
	assert.Equal(t, Ready, s.State())
	assert.Zero(t, tr.Bound())
}

func TestScene_HostUnloaded(t *testing.T) {
	f := newFixture(t)
	f.put(t, "town", mkAsset("town", "town", "scene"))
	host := &fakeHost{}
	tr := NewSceneTracker()

	s := NewScene("town", "town", false, f.resolver.Resolve("town"), host, tr, f.env)
	s.LoadRequest(unit.Sync, 0)
	tr.Loaded("town", 9)
	require.Equal(t, Loaded, s.State())

	got, ok := tr.Unloaded(9)
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, Ready, s.State())
	assert.Zero(t, s.Request().Main().RefCount())
	assert.Empty(t, host.unloads)

	_, ok = tr.Unloaded(9)
	assert.False(t, ok)
}

func TestScene_Failures(t *testing.T) {
	f := newFixture(t)
	tr := NewSceneTracker()

	t.Run("UnitError", func(t *testing.T) {
		host := &fakeHost{}
		s := NewScene("void", "void", false, f.resolver.Resolve("void"), host, tr, f.env)
		called := false
		s.OnDone(func() { called = true })
		s.LoadRequest(unit.Sync, 0)
		assert.True(t, called)
		assert.Equal(t, Error, s.State())
		assert.Empty(t, host.loads)
	})

	t.Run("HostError", func(t *testing.T) {
		host := &fakeHost{loadErr: errors.New("no such scene")}
		s := NewScene("bad", "bad", false, nil, host, tr, f.env)
		s.LoadRequest(unit.Sync, 0)
		assert.Equal(t, Error, s.State())
		assert.EqualError(t, s.Err(), "no such scene")
		assert.Zero(t, tr.Pending())
	})
}
