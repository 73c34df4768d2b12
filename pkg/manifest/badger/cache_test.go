package badger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittobundle/pkg/manifest"
)

func TestCache_SaveLoad(t *testing.T) {
	c, err := Open("")
	require.NoError(t, err)
	defer c.Close()

	_, _, err = c.Load()
	assert.ErrorIs(t, err, ErrEmpty)

	m := manifest.New()
	m.AddUnit("core", "abc")
	m.AddUnit("ui", "", "core")
	require.NoError(t, c.Save(m))

	got, savedAt, err := c.Load()
	require.NoError(t, err)
	assert.False(t, savedAt.IsZero())
	assert.Equal(t, "abc", got.Hash("core"))
	assert.Equal(t, []string{"core"}, got.Dependencies("ui"))
}

func TestCache_Persists(t *testing.T) {
	dir := t.TempDir()

	c, err := Open(dir)
	require.NoError(t, err)
	m := manifest.New()
	m.AddUnit("core", "v2")
	require.NoError(t, c.Save(m))
	require.NoError(t, c.Close())

	c, err = Open(dir)
	require.NoError(t, err)
	defer c.Close()

	got, _, err := c.Load()
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Hash("core"))
}
