package lifecycle

import (
	"github.com/marmos91/dittobundle/internal/logger"
	"github.com/marmos91/dittobundle/pkg/asset"
	"github.com/marmos91/dittobundle/pkg/source"
	"github.com/marmos91/dittobundle/pkg/unit"
)

// drop retires a slot so its handle and pending callbacks go stale.
func (m *Manager) drop(s *slot) {
	if s.dead {
		return
	}
	s.dead = true
	delete(m.handles, s.handle)
	if m.slots[s.key] == s {
		delete(m.slots, s.key)
	}
}

// UnloadAsset drops one holder of the record behind h and releases the
// record once no holder is left. It reports false for unknown or already
// released handles.
func (m *Manager) UnloadAsset(h Handle) bool {
	s, ok := m.handles[h]
	if !ok {
		return false
	}
	s.holders--
	if s.holders > 0 {
		logger.Debug("Asset holder released", logger.KeyPath, s.key.Path, logger.KeyHandle, s.handle, "holders", s.holders)
		return true
	}
	m.release(s)
	return true
}

// Holders returns how many loads still hold the record behind h.
func (m *Manager) Holders(h Handle) int {
	if s, ok := m.handles[h]; ok {
		return s.holders
	}
	return 0
}

func (m *Manager) release(s *slot) {
	m.drop(s)
	had := false
	if s.rec != nil {
		had = s.rec.Unload()
	}
	logger.Debug("Asset unloaded", logger.KeyPath, s.key.Path, logger.AssetType(string(s.key.Type)),
		logger.KeyHandle, s.handle, "had_objects", had)
	m.armUnload()
}

// UnloadAssetPath releases every record loaded for path whose type is t
// (or derives from t when inherit is set), then every remaining indexed
// object at path matching the same rule. It returns how many records and
// objects were released.
func (m *Manager) UnloadAssetPath(path string, t source.Type, inherit bool) int {
	n := 0
	for _, k := range m.Keys() {
		if k.Path != path || !typeMatches(k.Type, t, inherit) {
			continue
		}
		m.release(m.slots[k])
		n++
	}
	for _, obj := range m.index.Lookup(path, t, inherit) {
		if m.UnloadObject(obj) {
			n++
		}
	}
	if n > 0 {
		logger.Debug("Assets unloaded by path", logger.KeyPath, path, logger.AssetType(string(t)),
			logger.KeyInherit, inherit, logger.KeyCount, n)
	}
	return n
}

func typeMatches(have, want source.Type, inherit bool) bool {
	if want == source.Any || have == want {
		return true
	}
	return inherit && have.Is(want)
}

// UnloadObject releases one object. The owning record gives it up; a
// record left empty is released entirely. It reports false for objects the
// manager does not know.
func (m *Manager) UnloadObject(obj *source.Object) bool {
	owner, ok := m.index.Owner(obj)
	if !ok {
		return false
	}
	if !owner.RemoveObject(obj) {
		return true
	}
	if s, ok := m.slots[owner.Key()]; ok && s.rec == owner {
		m.release(s)
	} else {
		m.armUnload()
	}
	return true
}

// Detach releases the record behind h but leaves its objects with the
// caller. Their units stay pinned until the orphan detector sees every
// detached object collected, then they are released without destroying
// anything. It returns the detached objects.
func (m *Manager) Detach(h Handle) ([]*source.Object, bool) {
	s, ok := m.handles[h]
	if !ok || s.rec == nil {
		return nil, false
	}
	objs := append([]*source.Object(nil), s.rec.Objects()...)

	byUnit := make(map[*unit.Unit][]*source.Object)
	for _, o := range objs {
		if u, ok := m.registry.Lookup(o.Unit); ok {
			byUnit[u] = append(byUnit[u], o)
		}
	}
	for u, uo := range byUnit {
		m.detector.Adopt(u, uo)
	}

	m.index.RemoveAll(objs)
	m.release(s)
	logger.Debug("Asset detached", logger.KeyPath, s.key.Path, logger.KeyObjects, len(objs), logger.KeyCount, len(byUnit))
	return objs, true
}

// UnloadAll releases every asset record and level. It returns how many
// were released.
func (m *Manager) UnloadAll() int {
	n := 0
	for _, k := range m.Keys() {
		m.release(m.slots[k])
		n++
	}
	for h := range m.levels {
		if m.UnloadLevel(h) {
			n++
		}
	}
	for _, d := range m.deferred {
		m.drop(d.slot)
	}
	m.deferred = nil
	return n
}

// Record returns the record behind h, for inspection.
func (m *Manager) Record(h Handle) (asset.Record, bool) {
	s, ok := m.handles[h]
	if !ok || s.rec == nil {
		return nil, false
	}
	return s.rec, true
}
