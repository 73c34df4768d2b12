// Package orphan watches objects that escaped the reference graph.
//
// Reference counts are authoritative for everything the manager tracks. Some
// objects outlive their entry: they were detached by the caller, or their
// unit was pinned by another holder when they were extracted. The detector
// keeps weak handles to those objects and, on each Probe, releases a unit
// once none of its tracked objects is reachable any more. The scan is
// advisory and eventually consistent: it only ever frees what the garbage
// collector has already proven unreachable.
package orphan

import (
	"sort"
	"weak"

	"github.com/marmos91/dittobundle/internal/logger"
	"github.com/marmos91/dittobundle/pkg/freelist"
	"github.com/marmos91/dittobundle/pkg/source"
	"github.com/marmos91/dittobundle/pkg/unit"
)

type record struct {
	unit    *unit.Unit
	handles []weak.Pointer[source.Object]
	pinned  bool
}

// Detector is not safe for concurrent use.
type Detector struct {
	records   map[*unit.Unit]*record
	pool      *freelist.List[record]
	onRelease func(*unit.Unit)
}

// New creates a detector. onRelease runs for each unit whose tracked
// objects are all gone.
func New(onRelease func(*unit.Unit)) *Detector {
	return &Detector{
		records: make(map[*unit.Unit]*record),
		pool: freelist.New(64, func(r *record) {
			r.unit = nil
			clear(r.handles)
			r.handles = r.handles[:0]
			r.pinned = false
		}),
		onRelease: onRelease,
	}
}

func (d *Detector) recordFor(u *unit.Unit) *record {
	r, ok := d.records[u]
	if !ok {
		r = d.pool.Get()
		r.unit = u
		d.records[u] = r
	}
	return r
}

// Track watches objs of a unit pinned by someone else.
func (d *Detector) Track(u *unit.Unit, objs []*source.Object) {
	if len(objs) == 0 {
		return
	}
	r := d.recordFor(u)
	for _, o := range objs {
		r.handles = append(r.handles, weak.Make(o))
	}
	logger.Debug("Tracking objects of pinned unit", logger.KeyUnit, u.Name(), logger.KeyObjects, len(objs))
}

// Adopt takes over objs on behalf of a caller leaving the graph. The unit is
// pinned until every adopted object is gone.
func (d *Detector) Adopt(u *unit.Unit, objs []*source.Object) {
	if len(objs) == 0 {
		return
	}
	r := d.recordFor(u)
	if !r.pinned {
		u.Pin()
		r.pinned = true
	}
	for _, o := range objs {
		r.handles = append(r.handles, weak.Make(o))
	}
	logger.Debug("Adopted detached objects", logger.KeyUnit, u.Name(), logger.KeyObjects, len(objs))
}

// Tracked reports whether u has a record.
func (d *Detector) Tracked(u *unit.Unit) bool {
	_, ok := d.records[u]
	return ok
}

// Len returns the number of tracked units.
func (d *Detector) Len() int { return len(d.records) }

// Probe drops dead handles and releases units with none left. An object
// counts as dead once collected or destroyed. Returns the number of units
// released.
func (d *Detector) Probe() int {
	if len(d.records) == 0 {
		return 0
	}

	units := make([]*unit.Unit, 0, len(d.records))
	for u := range d.records {
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Name() < units[j].Name() })

	released := 0
	for _, u := range units {
		r := d.records[u]
		live := r.handles[:0]
		for _, h := range r.handles {
			if o := h.Value(); o != nil && !o.Destroyed() {
				live = append(live, h)
			}
		}
		clear(r.handles[len(live):])
		r.handles = live
		if len(live) > 0 {
			continue
		}

		d.drop(u, r)
		released++
		logger.Debug("Orphaned unit released", logger.KeyUnit, u.Name())
		if d.onRelease != nil {
			d.onRelease(u)
		}
	}
	return released
}

// Forget drops the record of u without calling onRelease.
func (d *Detector) Forget(u *unit.Unit) {
	if r, ok := d.records[u]; ok {
		d.drop(u, r)
	}
}

// Clear forgets every record.
func (d *Detector) Clear() {
	for u, r := range d.records {
		d.drop(u, r)
	}
}

func (d *Detector) drop(u *unit.Unit, r *record) {
	if r.pinned {
		u.Unpin()
	}
	delete(d.records, u)
	d.pool.Put(r)
}
