package unit

import (
	"sort"
	"time"

	"github.com/marmos91/dittobundle/internal/logger"
)

// Manifest is what the resolver needs from the unit manifest.
type Manifest interface {
	Dependencies(name string) []string
	Hash(name string) string
}

// Registry holds one Unit and one Request per unit name. Lookups are
// get-or-create within a single call, so there is never more than one loader
// for a name.
type Registry struct {
	env      *Env
	units    map[string]*Unit
	requests map[string]*Request
}

// NewRegistry creates an empty registry whose units share env.
func NewRegistry(env *Env) *Registry {
	return &Registry{
		env:      env,
		units:    make(map[string]*Unit),
		requests: make(map[string]*Request),
	}
}

// Env returns the shared unit environment.
func (r *Registry) Env() *Env { return r.env }

// Unit returns the unit for name, creating it with hash if needed.
func (r *Registry) Unit(name, hash string) *Unit {
	if u, ok := r.units[name]; ok {
		u.SetHash(hash)
		return u
	}
	u := New(name, hash, r.env)
	r.units[name] = u
	return u
}

// Lookup returns the unit for name without creating it.
func (r *Registry) Lookup(name string) (*Unit, bool) {
	u, ok := r.units[name]
	return u, ok
}

// Units returns every registered unit sorted by name.
func (r *Registry) Units() []*Unit {
	out := make([]*Unit, 0, len(r.units))
	for _, u := range r.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Len returns the number of registered units.
func (r *Registry) Len() int { return len(r.units) }

// Requests returns the number of registered requests.
func (r *Registry) Requests() int { return len(r.requests) }

// States counts units per state.
func (r *Registry) States() map[State]int {
	counts := map[State]int{Ready: 0, Loading: 0, Loaded: 0, Error: 0}
	for _, u := range r.units {
		counts[u.state]++
	}
	return counts
}

// Prune drops bookkeeping for idle units: requests nobody holds whose main
// unit is Ready, then Ready units with no references, pins or pending
// unload that no remaining request depends on. Requests for which keep
// returns true survive regardless; keep may be nil. It returns the number of
// units removed.
func (r *Registry) Prune(now time.Time, idle time.Duration, keep func(name string) bool) int {
	for name, req := range r.requests {
		if req.holders > 0 || req.main.state != Ready || now.Sub(req.lastUsed) < idle {
			continue
		}
		if keep != nil && keep(name) {
			continue
		}
		delete(r.requests, name)
	}

	dependents := make(map[string]int, len(r.units))
	for _, req := range r.requests {
		req.each(func(u *Unit) { dependents[u.name]++ })
	}

	removed := 0
	for name, u := range r.units {
		if u.state != Ready || u.refs > 0 || u.pins > 0 || u.queued || dependents[name] > 0 {
			continue
		}
		if now.Sub(u.lastUsed) < idle {
			continue
		}
		delete(r.units, name)
		removed++
	}
	if removed > 0 {
		logger.Debug("Pruned idle units", logger.KeyCount, removed)
	}
	return removed
}

// Clear forgets every unit and request.
func (r *Registry) Clear() {
	clear(r.units)
	clear(r.requests)
}

// Resolver builds Requests from the manifest through the registry.
type Resolver struct {
	reg      *Registry
	manifest Manifest
}

// NewResolver creates a resolver over reg. m may be nil until bootstrap
// provides one; units then resolve without dependencies or hashes.
func NewResolver(reg *Registry, m Manifest) *Resolver {
	return &Resolver{reg: reg, manifest: m}
}

// Registry returns the underlying registry.
func (r *Resolver) Registry() *Registry { return r.reg }

// SetManifest swaps the manifest. Requests already built keep their
// dependency sets.
func (r *Resolver) SetManifest(m Manifest) { r.manifest = m }

// Manifest returns the current manifest, possibly nil.
func (r *Resolver) Manifest() Manifest { return r.manifest }

// Resolve returns the request for name, creating it and the requests of
// every dependency on first use.
func (r *Resolver) Resolve(name string) *Request {
	if req, ok := r.reg.requests[name]; ok {
		return req
	}

	var hash string
	var deps []string
	if r.manifest != nil {
		hash = r.manifest.Hash(name)
		deps = r.manifest.Dependencies(name)
	}

	req := &Request{
		main:     r.reg.Unit(name, hash),
		lastUsed: r.reg.env.now(),
	}
	// Registered before resolving dependencies so that cycles terminate.
	r.reg.requests[name] = req

	req.deps = make([]*Request, 0, len(deps))
	for _, d := range deps {
		if d == name {
			continue
		}
		req.deps = append(req.deps, r.Resolve(d))
	}

	logger.Debug("Unit request created", logger.KeyUnit, name, logger.KeyDeps, len(req.deps))
	return req
}
