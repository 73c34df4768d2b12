package lifecycle

import (
	"context"
	"fmt"

	"github.com/marmos91/dittobundle/internal/logger"
	"github.com/marmos91/dittobundle/internal/telemetry"
	"github.com/marmos91/dittobundle/pkg/asset"
	"github.com/marmos91/dittobundle/pkg/ioqueue"
	"github.com/marmos91/dittobundle/pkg/manifest"
	"github.com/marmos91/dittobundle/pkg/source"
	"github.com/marmos91/dittobundle/pkg/unit"
)

// Result is the outcome of a load.
type Result struct {
	Handle  Handle
	Key     asset.Key
	Objects []*source.Object
	Err     error
}

// Object returns the first object, or nil.
func (r Result) Object() *source.Object {
	if len(r.Objects) == 0 {
		return nil
	}
	return r.Objects[0]
}

// Missing reports whether the load succeeded but found nothing.
func (r Result) Missing() bool { return r.Err == nil && len(r.Objects) == 0 }

// Callback receives the result of an async load on the manager goroutine.
type Callback func(Result)

// Load loads the first object at path of type t and blocks until it is
// available. Load errors are returned and also set on the Result, whose
// Handle must still be unloaded.
func (m *Manager) Load(ctx context.Context, path string, t source.Type) (Result, error) {
	return m.loadSync(ctx, path, t, false)
}

// LoadAll is Load for every object at path.
func (m *Manager) LoadAll(ctx context.Context, path string, t source.Type) (Result, error) {
	return m.loadSync(ctx, path, t, true)
}

// LoadAsync starts loading the first object at path and calls cb once it
// settles. Before bootstrap completes the load is deferred; the handle is
// valid at once.
func (m *Manager) LoadAsync(ctx context.Context, path string, t source.Type, cb Callback) (Handle, error) {
	return m.loadAsync(ctx, path, t, false, cb)
}

// LoadAllAsync is LoadAsync for every object at path.
func (m *Manager) LoadAllAsync(ctx context.Context, path string, t source.Type, cb Callback) (Handle, error) {
	return m.loadAsync(ctx, path, t, true, cb)
}

func (m *Manager) check(path string) error {
	if m.closed {
		return ErrClosed
	}
	if path == "" {
		return ErrInvalidKey
	}
	return nil
}

func (m *Manager) loadSync(ctx context.Context, path string, t source.Type, all bool) (Result, error) {
	if err := m.check(path); err != nil {
		return Result{}, err
	}
	if !m.ready {
		return Result{}, ErrNotReady
	}

	ctx, span := telemetry.StartAssetSpan(ctx, "load", path, t.String(), telemetry.Mode(unit.Sync.String()))
	defer span.End()
	ctx = telemetry.WithLogContext(ctx, "load")

	s := m.acquire(asset.Key{Path: path, Type: t})
	m.attach(s, all, unit.Sync, ioqueue.PriorityHigh)
	if !s.rec.Done() {
		return Result{Handle: s.handle, Key: s.key}, fmt.Errorf("%w: %s", ErrPending, s.key)
	}

	res := m.result(s)
	span.SetAttributes(telemetry.Objects(len(res.Objects)))
	if res.Err != nil {
		telemetry.RecordError(ctx, res.Err)
		return res, res.Err
	}
	logger.DebugCtx(ctx, "Asset loaded", logger.KeyHandle, s.handle, logger.KeyObjects, len(res.Objects))
	return res, nil
}

func (m *Manager) loadAsync(ctx context.Context, path string, t source.Type, all bool, cb Callback) (Handle, error) {
	if err := m.check(path); err != nil {
		return 0, err
	}
	_, span := telemetry.StartAssetSpan(ctx, "load", path, t.String(), telemetry.Mode(unit.Async.String()))
	defer span.End()

	s := m.acquire(asset.Key{Path: path, Type: t})
	if !m.ready {
		m.deferred = append(m.deferred, deferredLoad{slot: s, all: all, priority: ioqueue.PriorityNormal, cb: cb})
		logger.Debug("Load deferred until ready", logger.KeyPath, path, logger.KeyHandle, s.handle)
		return s.handle, nil
	}

	m.attach(s, all, unit.Async, ioqueue.PriorityNormal)
	m.notify(s, cb)
	return s.handle, nil
}

// acquire returns the live slot of key with one more holder, allocating
// it with a fresh handle on first use.
func (m *Manager) acquire(key asset.Key) *slot {
	s := m.slotFor(key)
	s.holders++
	return s
}

func (m *Manager) slotFor(key asset.Key) *slot {
	if s, ok := m.slots[key]; ok {
		return s
	}
	m.next++
	s := &slot{handle: m.next, key: key}
	m.slots[key] = s
	m.handles[s.handle] = s
	return s
}

// attach creates the slot's record if needed, upgrades it to all-objects
// mode when asked and issues the load.
func (m *Manager) attach(s *slot, all bool, mode unit.Mode, priority int) {
	if s.rec == nil {
		s.rec = m.newRecord(s.key, all)
	} else if all {
		s.rec.EnsureAll()
	}
	s.rec.LoadRequest(mode, priority)
}

// newRecord builds the record for key from the manifest redirects: none
// means flat storage, one an Entry and several a List.
func (m *Manager) newRecord(key asset.Key, all bool) asset.Record {
	var locs []manifest.Location
	if m.manifest != nil {
		locs = m.manifest.Resolve(key.Path)
	}

	switch len(locs) {
	case 0:
		return asset.NewEntry(key, key.Path, all, nil, &m.env, true)
	case 1:
		return asset.NewEntry(key, locs[0].Asset, all, m.resolver.Resolve(locs[0].Unit), &m.env, true)
	}

	children := make([]*asset.Entry, 0, len(locs))
	for _, l := range locs {
		children = append(children, asset.NewEntry(key, l.Asset, all, m.resolver.Resolve(l.Unit), &m.env, false))
	}
	policy := asset.FirstAvailable
	if all {
		policy = asset.LoadAll
	}
	return asset.NewList(key, children, policy, &m.env)
}

// notify calls cb once the slot's record settles, unless the slot was
// unloaded first.
func (m *Manager) notify(s *slot, cb Callback) {
	if cb == nil {
		return
	}
	rec := s.rec
	rec.OnDone(func() {
		if s.dead || s.rec != rec {
			return
		}
		cb(m.result(s))
	})
}

func (m *Manager) result(s *slot) Result {
	return Result{Handle: s.handle, Key: s.key, Objects: s.rec.Objects(), Err: s.rec.Err()}
}

// markReady completes bootstrap and issues deferred loads.
func (m *Manager) markReady() {
	if m.ready {
		return
	}
	m.ready = true
	deferred := m.deferred
	m.deferred = nil
	logger.Info("Lifecycle manager ready", "instance", m.id, logger.KeyCount, len(deferred))

	for _, d := range deferred {
		if d.slot.dead {
			continue
		}
		m.attach(d.slot, d.all, unit.Async, d.priority)
		m.notify(d.slot, d.cb)
	}
	m.readySig.Fire()
}

// Lookup returns the current result of a live handle.
func (m *Manager) Lookup(h Handle) (Result, bool) {
	s, ok := m.handles[h]
	if !ok || s.rec == nil {
		return Result{}, false
	}
	return m.result(s), true
}
