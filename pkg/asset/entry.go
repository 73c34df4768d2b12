package asset

import (
	"errors"
	"fmt"
	"slices"

	"github.com/marmos91/dittobundle/internal/logger"
	"github.com/marmos91/dittobundle/pkg/metrics"
	"github.com/marmos91/dittobundle/pkg/scheduler"
	"github.com/marmos91/dittobundle/pkg/source"
	"github.com/marmos91/dittobundle/pkg/unit"
)

// ErrUnitUnavailable is reported when a unit settled without a handle.
var ErrUnitUnavailable = errors.New("asset: unit handle unavailable")

// Entry loads one asset, or all objects at one asset path, from a unit or
// from flat storage.
type Entry struct {
	key   Key
	asset string
	all   bool
	req   *unit.Request
	env   *Env

	// indexed entries register their objects in the TypeIndex. Children of
	// a List are not indexed; the List indexes the merged result.
	indexed bool

	state    State
	objects  []*source.Object
	err      error
	gen      uint64
	refHeld  bool
	flatHeld bool
	done     scheduler.Signal
}

// NewEntry creates an entry for key that extracts asset from req's main
// unit, or from flat storage when req is nil.
func NewEntry(key Key, asset string, all bool, req *unit.Request, env *Env, indexed bool) *Entry {
	return &Entry{key: key, asset: asset, all: all, req: req, env: env, indexed: indexed}
}

func (e *Entry) Key() Key                  { return e.key }
func (e *Entry) Asset() string             { return e.asset }
func (e *Entry) All() bool                 { return e.all }
func (e *Entry) State() State              { return e.state }
func (e *Entry) Err() error                { return e.err }
func (e *Entry) Request() *unit.Request    { return e.req }
func (e *Entry) Flat() bool                { return e.req == nil }
func (e *Entry) Done() bool                { return e.state == Loaded || e.state == Error }
func (e *Entry) OnDone(fn func())          { e.done.Wait(fn) }
func (e *Entry) Objects() []*source.Object { return e.objects }

// Unit returns the main unit, or nil for flat entries.
func (e *Entry) Unit() *unit.Unit {
	if e.req == nil {
		return nil
	}
	return e.req.Main()
}

// LoadRequest starts the load. While loading, a request in another mode is
// forwarded to the units, which restart in that mode.
func (e *Entry) LoadRequest(mode unit.Mode, priority int) {
	switch e.state {
	case Loaded, Error:
		return
	case Loading:
		if e.req != nil {
			e.req.Load(mode, priority)
		}
		return
	}

	e.state = Loading
	e.gen++

	if e.req == nil {
		e.completeFlat()
		return
	}

	if !e.refHeld {
		e.req.IncreaseReferenceCount(1)
		e.refHeld = true
	}
	gen := e.gen
	e.req.Load(mode, priority)
	e.req.OnDone(func() {
		if gen == e.gen && e.state == Loading {
			e.complete()
		}
	})
}

func (e *Entry) completeFlat() {
	if e.env.Flat == nil {
		e.finish(Loaded, []*source.Object{}, nil)
		return
	}
	objs := e.env.Flat.Load(e.asset, e.key.Type, e.all)
	e.flatHeld = len(objs) > 0
	e.finish(Loaded, objs, nil)
}

func (e *Entry) complete() {
	if err := e.req.Err(); err != nil {
		e.finish(Error, []*source.Object{}, err)
		return
	}
	u := e.req.Main()
	h := u.Handle()
	if h == nil {
		e.finish(Error, []*source.Object{}, fmt.Errorf("%w: %s", ErrUnitUnavailable, u.Name()))
		return
	}

	var objs []*source.Object
	if e.all {
		objs = h.ExtractAll(e.asset, e.key.Type)
	} else if o := h.Extract(e.asset, e.key.Type); o != nil {
		objs = []*source.Object{o}
	} else {
		objs = []*source.Object{}
	}

	if len(objs) > 0 && !u.Unloadable() && e.env.Tracker != nil {
		e.env.Tracker.Track(u, objs)
	}
	e.finish(Loaded, objs, nil)
}

func (e *Entry) finish(state State, objs []*source.Object, err error) {
	e.state = state
	e.objects = objs
	e.err = err

	if e.indexed && e.env.Index != nil {
		e.env.Index.Add(e, objs)
	}

	if err != nil {
		logger.Warn("Asset load failed", logger.KeyPath, e.key.Path, logger.AssetType(string(e.key.Type)), logger.Err(err))
	} else if len(objs) == 0 {
		logger.Debug("Asset missing", logger.KeyPath, e.key.Path, logger.AssetType(string(e.key.Type)))
	}
	metrics.RecordEntry(e.env.Metrics, "entry", outcome(state, len(objs)))
	e.done.Fire()
}

// EnsureAll switches a single-object entry to all-objects mode.
func (e *Entry) EnsureAll() {
	if e.all {
		return
	}
	e.all = true
	if e.state != Ready {
		e.rearm()
	}
}

// rearm returns the entry to Ready while keeping its unit reference and
// pending waiters.
func (e *Entry) rearm() {
	e.dropObjects()
	e.state = Ready
	e.err = nil
	e.gen++
	e.done.Reset()
}

func (e *Entry) dropObjects() {
	if e.indexed && e.env.Index != nil {
		e.env.Index.RemoveAll(e.objects)
	}
	if e.flatHeld {
		e.env.Flat.Release(e.asset)
		e.flatHeld = false
	}
	e.objects = nil
}

// Unload drops the entry's unit reference and objects.
func (e *Entry) Unload() bool {
	had := len(e.objects) > 0
	e.dropObjects()
	if e.refHeld {
		e.req.IncreaseReferenceCount(-1)
		e.refHeld = false
	}
	e.state = Ready
	e.err = nil
	e.gen++
	e.done.Reset()
	e.done.Clear()
	return had
}

// RemoveObject drops obj from the entry.
func (e *Entry) RemoveObject(obj *source.Object) bool {
	i := slices.Index(e.objects, obj)
	if i >= 0 {
		e.objects = slices.Delete(e.objects, i, i+1)
		if e.indexed && e.env.Index != nil {
			e.env.Index.Remove(obj)
		}
	}
	return len(e.objects) == 0
}
