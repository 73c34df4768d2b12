// Package asset holds the per-key records the lifecycle manager hands out:
// cache entries extracting objects from a unit or from flat storage, list
// entries aggregating several of them, and scene entries correlated with a
// host's scene events. It also holds the TypeIndex used for instance-level
// unload.
//
// Records are driven from the scheduler goroutine only.
package asset

import (
	"github.com/marmos91/dittobundle/pkg/metrics"
	"github.com/marmos91/dittobundle/pkg/source"
	"github.com/marmos91/dittobundle/pkg/unit"
)

// Key identifies a record: a logical path and the requested type.
type Key struct {
	Path string
	Type source.Type
}

func (k Key) String() string {
	return k.Path + "#" + k.Type.String()
}

// State is the state of a record.
type State int

const (
	Ready State = iota
	Loading
	Loaded
	Error
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	default:
		return "error"
	}
}

// Record is what the manager keeps per Key: an Entry or a List.
type Record interface {
	Key() Key
	State() State
	Done() bool
	Err() error

	// Objects is never nil once Done. Empty means the asset is absent.
	Objects() []*source.Object

	LoadRequest(mode unit.Mode, priority int)
	OnDone(fn func())

	// EnsureAll switches the record to all-objects mode, resetting it if it
	// already loaded in single mode. The caller issues LoadRequest next.
	EnsureAll()

	// Unload releases the record and reports whether it held objects. A
	// second call is a no-op returning false.
	Unload() bool

	// RemoveObject drops one object and reports whether the record is now
	// empty.
	RemoveObject(obj *source.Object) bool
}

// FlatStore is unit-less object storage.
type FlatStore interface {
	Load(path string, t source.Type, all bool) []*source.Object
	Release(path string)
}

// Tracker watches objects whose unit is pinned elsewhere.
type Tracker interface {
	Track(u *unit.Unit, objs []*source.Object)
}

// Env is shared by the records of one manager.
type Env struct {
	Flat    FlatStore
	Tracker Tracker
	Index   *TypeIndex
	Metrics metrics.LifecycleMetrics
}

func outcome(s State, n int) string {
	switch {
	case s == Error:
		return "error"
	case n == 0:
		return "missing"
	default:
		return "loaded"
	}
}
