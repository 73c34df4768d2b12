package asset

import (
	"sort"
	"weak"

	"github.com/marmos91/dittobundle/pkg/source"
)

// Owner is a record that can give up single objects.
type Owner interface {
	Key() Key
	RemoveObject(obj *source.Object) bool
}

// TypeIndex is a secondary, weak cache of loaded objects by (object path,
// object type), plus a reverse index from object to owning record. It never
// keeps an object alive: both maps are keyed by weak pointers.
type TypeIndex struct {
	byPath map[string]map[source.Type][]weak.Pointer[source.Object]
	owners map[weak.Pointer[source.Object]]Owner
}

// NewTypeIndex creates an empty index.
func NewTypeIndex() *TypeIndex {
	return &TypeIndex{
		byPath: make(map[string]map[source.Type][]weak.Pointer[source.Object]),
		owners: make(map[weak.Pointer[source.Object]]Owner),
	}
}

// Add indexes objs as owned by owner.
func (x *TypeIndex) Add(owner Owner, objs []*source.Object) {
	for _, o := range objs {
		wp := weak.Make(o)
		if _, ok := x.owners[wp]; !ok {
			types := x.byPath[o.Path]
			if types == nil {
				types = make(map[source.Type][]weak.Pointer[source.Object])
				x.byPath[o.Path] = types
			}
			types[o.Type] = append(types[o.Type], wp)
		}
		x.owners[wp] = owner
	}
}

// Owner returns the record owning obj.
func (x *TypeIndex) Owner(obj *source.Object) (Owner, bool) {
	o, ok := x.owners[weak.Make(obj)]
	return o, ok
}

// Remove forgets obj.
func (x *TypeIndex) Remove(obj *source.Object) {
	wp := weak.Make(obj)
	if _, ok := x.owners[wp]; !ok {
		return
	}
	delete(x.owners, wp)

	types := x.byPath[obj.Path]
	list := types[obj.Type]
	for i, h := range list {
		if h == wp {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(types, obj.Type)
	} else {
		types[obj.Type] = list
	}
	if len(types) == 0 {
		delete(x.byPath, obj.Path)
	}
}

// RemoveAll forgets every object in objs.
func (x *TypeIndex) RemoveAll(objs []*source.Object) {
	for _, o := range objs {
		x.Remove(o)
	}
}

// Lookup returns the live objects at path whose type is t, or derives from
// t when inherit is set. The Any type matches every object. Dead handles
// found on the way are dropped. Results are ordered by type, then by
// insertion.
func (x *TypeIndex) Lookup(path string, t source.Type, inherit bool) []*source.Object {
	types := x.byPath[path]
	if len(types) == 0 {
		return nil
	}

	keys := make([]source.Type, 0, len(types))
	for k := range types {
		if k == t || t == source.Any || (inherit && k.Is(t)) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var out []*source.Object
	for _, k := range keys {
		live := types[k][:0]
		for _, h := range types[k] {
			if o := h.Value(); o != nil {
				live = append(live, h)
				out = append(out, o)
			} else {
				delete(x.owners, h)
			}
		}
		if len(live) == 0 {
			delete(types, k)
		} else {
			types[k] = live
		}
	}
	if len(types) == 0 {
		delete(x.byPath, path)
	}
	return out
}

// Len returns the number of indexed objects, dead ones included until a
// Lookup or Compact drops them.
func (x *TypeIndex) Len() int { return len(x.owners) }

// Compact drops every dead handle and returns how many were dropped.
func (x *TypeIndex) Compact() int {
	dropped := 0
	for path, types := range x.byPath {
		for k, list := range types {
			live := list[:0]
			for _, h := range list {
				if h.Value() != nil {
					live = append(live, h)
				} else {
					delete(x.owners, h)
					dropped++
				}
			}
			if len(live) == 0 {
				delete(types, k)
			} else {
				types[k] = live
			}
		}
		if len(types) == 0 {
			delete(x.byPath, path)
		}
	}
	return dropped
}
