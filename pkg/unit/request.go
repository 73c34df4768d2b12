package unit

import (
	"time"
)

// Request is a unit together with the requests of its flattened dependency
// set. It is shared: every entry loading from the same unit holds the same
// Request, and every Request depending on a unit shares that unit's Request.
type Request struct {
	main *Unit
	deps []*Request

	// holders counts entries holding this request. The registry keeps idle
	// requests until the idle sweep prunes them.
	holders  int
	lastUsed time.Time
}

// Main returns the unit this request loads.
func (r *Request) Main() *Unit { return r.main }

// Name returns the main unit name.
func (r *Request) Name() string { return r.main.name }

// Dependencies returns the dependency requests, sorted by name.
func (r *Request) Dependencies() []*Request { return r.deps }

// Holders returns the number of holders counted by IncreaseReferenceCount.
func (r *Request) Holders() int { return r.holders }

// MainDone reports whether the main unit has settled.
func (r *Request) MainDone() bool { return r.main.Done() }

// DependenciesDone reports whether every dependency has settled. The
// dependency set is already transitive, so only dependency mains are
// checked.
func (r *Request) DependenciesDone() bool {
	for _, d := range r.deps {
		if !d.main.Done() {
			return false
		}
	}
	return true
}

// Done reports whether the main unit and all dependencies have settled.
func (r *Request) Done() bool {
	return r.MainDone() && r.DependenciesDone()
}

// Err returns the main unit's error, else the first dependency error.
func (r *Request) Err() error {
	if err := r.main.Err(); err != nil {
		return err
	}
	for _, d := range r.deps {
		if err := d.main.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Load starts the dependencies and the main unit together.
func (r *Request) Load(mode Mode, priority int) {
	r.lastUsed = r.main.env.now()
	for _, d := range r.deps {
		d.main.LoadRequest(mode, priority)
	}
	r.main.LoadRequest(mode, priority)
}

// OnDone runs fn once Done holds, immediately if it already does. fn runs
// at most once per call.
func (r *Request) OnDone(fn func()) {
	if r.Done() {
		fn()
		return
	}
	fired := false
	check := func() {
		if !fired && r.Done() {
			fired = true
			fn()
		}
	}
	r.each(func(u *Unit) {
		if !u.Done() {
			u.OnDone(check)
		}
	})
}

// IncreaseReferenceCount applies delta to the main unit and every
// dependency main, and counts delta against this request's holders.
func (r *Request) IncreaseReferenceCount(delta int) {
	r.holders += delta
	r.lastUsed = r.main.env.now()
	r.each(func(u *Unit) { u.IncreaseReferenceCount(delta) })
}

// Pin pins the main unit and every dependency main.
func (r *Request) Pin() {
	r.each(func(u *Unit) { u.Pin() })
}

// Unpin reverses Pin.
func (r *Request) Unpin() {
	r.each(func(u *Unit) { u.Unpin() })
}

// Unloadable reports whether no unit of the request is pinned.
func (r *Request) Unloadable() bool {
	ok := true
	r.each(func(u *Unit) { ok = ok && u.Unloadable() })
	return ok
}

func (r *Request) each(fn func(*Unit)) {
	for _, d := range r.deps {
		fn(d.main)
	}
	fn(r.main)
}
