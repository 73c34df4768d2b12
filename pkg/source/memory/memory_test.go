package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittobundle/pkg/source"
)

// ============================================================================
// Store Tests
// ============================================================================

func TestStore_Open(t *testing.T) {
	s := NewStore()
	hash, err := s.PutAssets("core", source.Asset{Path: "shaders/lit", Name: "lit", Type: "shader", Data: []byte("glsl")})
	require.NoError(t, err)

	h, err := s.Open(context.Background(), "core", hash)
	require.NoError(t, err)
	defer h.Unload(true)

	assert.Equal(t, "memory", s.Kind())
	assert.Equal(t, 1, s.Opens("core"))
	assert.Equal(t, []string{"core"}, s.Names())
	assert.NotNil(t, h.Extract("shaders/lit", "shader"))
}

func TestStore_Errors(t *testing.T) {
	s := NewStore()

	_, err := s.Open(context.Background(), "missing", "")
	assert.ErrorIs(t, err, source.ErrNotFound)
	assert.Equal(t, 1, s.Opens("missing"))

	_, err = s.PutAssets("u", source.Asset{Path: "a", Type: "t"})
	require.NoError(t, err)
	s.Delete("u")
	_, err = s.Open(context.Background(), "u", "")
	assert.ErrorIs(t, err, source.ErrNotFound)

	require.NoError(t, s.Close())
	_, err = s.Open(context.Background(), "u", "")
	assert.ErrorIs(t, err, source.ErrClosed)
}

// ============================================================================
// Flat Tests
// ============================================================================

func newFlat() *Flat {
	f := NewFlat()
	f.Register(
		source.Asset{Path: "fx/spark", Name: "spark", Type: "texture", Data: []byte("s")},
		source.Asset{Path: "fx/spark", Name: "spark-anim", Type: "anim", Data: []byte("a")},
		source.Asset{Path: "fx/smoke", Name: "smoke", Type: "texture", Data: []byte("m")},
	)
	return f
}

func TestFlat_Load(t *testing.T) {
	f := newFlat()

	t.Run("Single", func(t *testing.T) {
		objs := f.Load("fx/spark", source.Any, false)
		require.Len(t, objs, 1)
		assert.Equal(t, "spark", objs[0].Name)
		f.Release("fx/spark")
	})

	t.Run("All", func(t *testing.T) {
		objs := f.Load("fx/spark", source.Any, true)
		assert.Len(t, objs, 2)
		f.Release("fx/spark")
	})

	t.Run("TypeFilter", func(t *testing.T) {
		objs := f.Load("fx/spark", "anim", true)
		require.Len(t, objs, 1)
		assert.Equal(t, "spark-anim", objs[0].Name)
		f.Release("fx/spark")
	})

	t.Run("MissingIsEmptyNotNil", func(t *testing.T) {
		objs := f.Load("fx/none", source.Any, true)
		assert.NotNil(t, objs)
		assert.Empty(t, objs)
		assert.False(t, f.Has("fx/none"))
		assert.True(t, f.Has("fx/smoke"))
	})

	t.Run("SharedInstancesWhileHeld", func(t *testing.T) {
		a := f.Load("fx/smoke", "texture", false)
		b := f.Load("fx/smoke", "texture", false)
		assert.Same(t, a[0], b[0])
		f.Release("fx/smoke")
		f.Release("fx/smoke")
	})
}

func TestFlat_OrphansAndSweep(t *testing.T) {
	f := newFlat()

	spark := f.Load("fx/spark", source.Any, true)
	smoke := f.Load("fx/smoke", source.Any, true)
	assert.Equal(t, 0, f.Orphans())

	f.Release("fx/spark")
	assert.Equal(t, 2, f.Orphans())

	// Releasing a path with no holders is a no-op.
	f.Release("fx/spark")
	assert.Equal(t, 2, f.Orphans())

	// Re-acquiring resident copies takes them back out of the orphan count.
	again := f.Load("fx/spark", source.Any, false)
	assert.Same(t, spark[0], again[0])
	assert.Equal(t, 0, f.Orphans())
	f.Release("fx/spark")
	assert.Equal(t, 2, f.Orphans())

	assert.Equal(t, 2, f.Sweep())
	assert.Equal(t, 0, f.Orphans())
	assert.True(t, spark[0].Destroyed())
	assert.True(t, spark[1].Destroyed())
	assert.False(t, smoke[0].Destroyed(), "held objects survive a sweep")

	fresh := f.Load("fx/spark", source.Any, false)
	assert.NotSame(t, spark[0], fresh[0])
	assert.Equal(t, []byte("s"), fresh[0].Data)
}
