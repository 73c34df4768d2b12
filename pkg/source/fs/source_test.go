package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittobundle/pkg/source"
)

func newTestSource(t *testing.T) *Source {
	t.Helper()
	s, err := New(DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	return s
}

func writeUnit(t *testing.T, s *Source, name string, assets ...source.Asset) []byte {
	t.Helper()
	raw, err := source.EncodePack(name, assets)
	require.NoError(t, err)
	require.NoError(t, s.Write(name, raw))
	return raw
}

func TestNew(t *testing.T) {
	t.Run("RequiresRoot", func(t *testing.T) {
		_, err := New(Config{})
		assert.Error(t, err)
	})

	t.Run("RootMustBeDirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, nil, 0o644))
		_, err := New(Config{Root: file})
		assert.Error(t, err)
	})

	t.Run("CreatesRoot", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "a", "b")
		s, err := New(DefaultConfig(root))
		require.NoError(t, err)
		assert.DirExists(t, s.Root())
		assert.Equal(t, "fs", s.Kind())
	})
}

func TestSource_Open(t *testing.T) {
	s := newTestSource(t)
	raw := writeUnit(t, s, "levels/forest",
		source.Asset{Path: "levels/forest/tree", Name: "tree", Type: "mesh", Data: []byte("verts")})

	t.Run("Success", func(t *testing.T) {
		h, err := s.Open(context.Background(), "levels/forest", source.Hash(raw))
		require.NoError(t, err)
		defer h.Unload(true)

		obj := h.Extract("levels/forest/tree", "mesh")
		require.NotNil(t, obj)
		assert.Equal(t, []byte("verts"), obj.Data)
		assert.Equal(t, "levels/forest", obj.Unit)
	})

	t.Run("NotFoundIsPermanent", func(t *testing.T) {
		_, err := s.Open(context.Background(), "nope", "")
		assert.ErrorIs(t, err, source.ErrNotFound)
		assert.False(t, source.Retryable(err))
	})

	t.Run("HashMismatch", func(t *testing.T) {
		_, err := s.Open(context.Background(), "levels/forest", "00")
		assert.ErrorIs(t, err, source.ErrHashMismatch)
	})

	t.Run("PathTraversalRejected", func(t *testing.T) {
		_, err := s.Open(context.Background(), "../etc/passwd", "")
		assert.ErrorIs(t, err, source.ErrProtocol)
	})

	t.Run("CancelledContextIsTransient", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := s.Open(ctx, "levels/forest", "")
		assert.True(t, source.Retryable(err))
	})
}

func TestSource_MaxUnitSize(t *testing.T) {
	root := t.TempDir()
	s, err := New(Config{Root: root, MaxUnitSize: 4})
	require.NoError(t, err)
	writeUnit(t, s, "big", source.Asset{Path: "a", Type: "blob", Data: make([]byte, 128)})

	_, err = s.Open(context.Background(), "big", "")
	assert.ErrorIs(t, err, source.ErrTooLarge)
}

func TestSource_List(t *testing.T) {
	s := newTestSource(t)
	writeUnit(t, s, "core", source.Asset{Path: "x", Type: "t"})
	writeUnit(t, s, "levels/forest", source.Asset{Path: "y", Type: "t"})

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"core", "levels/forest"}, names)
}

func TestSource_Closed(t *testing.T) {
	s := newTestSource(t)
	require.NoError(t, s.Close())

	_, err := s.Open(context.Background(), "core", "")
	assert.ErrorIs(t, err, source.ErrClosed)
	assert.ErrorIs(t, s.Write("core", nil), source.ErrClosed)
}
