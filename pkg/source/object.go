package source

import (
	"strings"
	"sync/atomic"
)

// Type is a slash-separated asset type. "texture/sprite" derives from
// "texture". The empty Type is Any and every type derives from it.
type Type string

// Any matches every asset type.
const Any Type = ""

// Is reports whether t equals base or derives from it.
func (t Type) Is(base Type) bool {
	if base == Any || t == base {
		return true
	}
	return strings.HasPrefix(string(t), string(base)+"/")
}

// Parent returns the type t derives from directly, or Any.
func (t Type) Parent() Type {
	i := strings.LastIndexByte(string(t), '/')
	if i < 0 {
		return Any
	}
	return t[:i]
}

func (t Type) String() string {
	if t == Any {
		return "any"
	}
	return string(t)
}

// AssetInfo describes one asset inside a unit.
type AssetInfo struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Type Type   `json:"type"`
	Size int64  `json:"size"`
}

// Object is an extracted asset. Objects are handed to callers and may
// outlive the unit they came from unless the unit is force-unloaded.
type Object struct {
	Path string
	Name string
	Type Type
	Unit string
	Data []byte

	destroyed atomic.Bool
}

// Destroy releases the object's data. Further Destroy calls are no-ops.
func (o *Object) Destroy() {
	if o.destroyed.CompareAndSwap(false, true) {
		o.Data = nil
	}
}

// Destroyed reports whether Destroy has been called.
func (o *Object) Destroyed() bool {
	return o.destroyed.Load()
}
