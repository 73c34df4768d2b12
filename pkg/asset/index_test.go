package asset

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittobundle/pkg/source"
)

type stubOwner struct {
	key     Key
	removed []*source.Object
}

func (o *stubOwner) Key() Key { return o.key }

func (o *stubOwner) RemoveObject(obj *source.Object) bool {
	o.removed = append(o.removed, obj)
	return true
}

func obj(path, name string, t source.Type) *source.Object {
	return &source.Object{Path: path, Name: name, Type: t}
}

func TestTypeIndex_Lookup(t *testing.T) {
	x := NewTypeIndex()
	owner := &stubOwner{key: Key{Path: "chars/hero"}}
	tex := obj("chars/hero", "tex", "texture")
	sprite := obj("chars/hero", "sprite", "texture/sprite")
	anim := obj("chars/hero", "anim", "anim")
	x.Add(owner, []*source.Object{tex, sprite, anim})

	tests := []struct {
		name    string
		typ     source.Type
		inherit bool
		want    []string
	}{
		{"Exact", "texture", false, []string{"tex"}},
		{"Inherit", "texture", true, []string{"tex", "sprite"}},
		{"Any", source.Any, false, []string{"anim", "tex", "sprite"}},
		{"NoMatch", "audio", true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := x.Lookup("chars/hero", tt.typ, tt.inherit)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, names(got))
		})
	}

	assert.Empty(t, x.Lookup("chars/villain", source.Any, true))
	assert.Equal(t, 3, x.Len())
}

func TestTypeIndex_OwnerAndRemove(t *testing.T) {
	x := NewTypeIndex()
	owner := &stubOwner{}
	a := obj("p", "a", "t")
	b := obj("p", "b", "t")
	x.Add(owner, []*source.Object{a, b})

	got, ok := x.Owner(a)
	require.True(t, ok)
	assert.Same(t, owner, got)

	x.Remove(a)
	_, ok = x.Owner(a)
	assert.False(t, ok)
	assert.Equal(t, []string{"b"}, names(x.Lookup("p", "t", false)))

	// Removing twice or removing unknown objects is harmless.
	x.Remove(a)
	x.Remove(obj("p", "c", "t"))

	x.RemoveAll([]*source.Object{b})
	assert.Zero(t, x.Len())
	assert.Empty(t, x.Lookup("p", source.Any, false))
}

func TestTypeIndex_ReAddKeepsSingleSlot(t *testing.T) {
	x := NewTypeIndex()
	first, second := &stubOwner{}, &stubOwner{}
	a := obj("p", "a", "t")

	x.Add(first, []*source.Object{a})
	x.Add(second, []*source.Object{a})

	assert.Len(t, x.Lookup("p", "t", false), 1)
	got, _ := x.Owner(a)
	assert.Same(t, second, got)
}

func TestTypeIndex_DoesNotKeepObjectsAlive(t *testing.T) {
	x := NewTypeIndex()
	keep := obj("p", "keep", "t")
	x.Add(&stubOwner{}, []*source.Object{keep, obj("p", "gone", "t")})

	runtime.GC()
	runtime.GC()

	assert.Equal(t, 1, x.Compact())
	assert.Equal(t, 1, x.Len())
	assert.Equal(t, []string{"keep"}, names(x.Lookup("p", "t", false)))
	runtime.KeepAlive(keep)
}
