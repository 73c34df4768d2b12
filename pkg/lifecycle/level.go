package lifecycle

import (
	"context"

	"github.com/marmos91/dittobundle/internal/logger"
	"github.com/marmos91/dittobundle/internal/telemetry"
	"github.com/marmos91/dittobundle/pkg/asset"
	"github.com/marmos91/dittobundle/pkg/ioqueue"
	"github.com/marmos91/dittobundle/pkg/unit"
)

// LevelCallback receives a settled level load.
type LevelCallback func(h Handle, err error)

// LoadLevel loads the unit holding the scene at path, then asks the scene
// host to load it. The level settles when the host reports a scene whose
// normalized path matches, first come first served. cb may be nil.
func (m *Manager) LoadLevel(ctx context.Context, path string, additive bool, mode unit.Mode, cb LevelCallback) (Handle, error) {
	if err := m.check(path); err != nil {
		return 0, err
	}
	if m.opts.SceneHost == nil {
		return 0, ErrNoSceneHost
	}
	if mode == unit.Sync && !m.ready {
		return 0, ErrNotReady
	}
	_, span := telemetry.StartAssetSpan(ctx, "load_level", path, "scene", telemetry.Mode(mode.String()))
	defer span.End()

	var req *unit.Request
	name := path
	if m.manifest != nil {
		if locs := m.manifest.Resolve(path); len(locs) > 0 {
			req = m.resolver.Resolve(locs[0].Unit)
			if locs[0].Asset != "" {
				name = locs[0].Asset
			}
		}
	}

	m.next++
	h := m.next
	sc := asset.NewScene(path, name, additive, req, m.opts.SceneHost, m.scenes, &m.env)
	m.levels[h] = sc

	start := func() {
		if _, ok := m.levels[h]; !ok {
			return
		}
		sc.LoadRequest(mode, ioqueue.PriorityHigh)
	}
	if cb != nil {
		sc.OnDone(func() {
			if m.levels[h] == sc {
				cb(h, sc.Err())
			}
		})
	}
	// Async levels wait for bootstrap like async asset loads.
	m.OnReady(start)

	logger.Debug("Level requested", logger.KeyScene, path, logger.KeyHandle, h, "additive", additive)
	return h, nil
}

// UnloadLevel unloads the level behind h. A level the host has not
// reported yet is unloaded as soon as it does.
func (m *Manager) UnloadLevel(h Handle) bool {
	sc, ok := m.levels[h]
	if !ok {
		return false
	}
	delete(m.levels, h)
	sc.Unload()
	m.armUnload()
	return true
}

// Level returns the scene entry behind h.
func (m *Manager) Level(h Handle) (*asset.Scene, bool) {
	sc, ok := m.levels[h]
	return sc, ok
}

// SceneLoaded is called by the scene host when a scene finished loading.
// It reports whether a pending level claimed it.
func (m *Manager) SceneLoaded(path string, sh asset.SceneHandle) bool {
	_, ok := m.scenes.Loaded(path, sh)
	if !ok {
		logger.Debug("Unclaimed scene loaded", logger.KeyScene, path, logger.KeyHandle, sh)
	}
	return ok
}

// SceneUnloaded is called by the scene host when it unloaded a scene on
// its own. The owning level is released.
func (m *Manager) SceneUnloaded(sh asset.SceneHandle) bool {
	sc, ok := m.scenes.Unloaded(sh)
	if !ok {
		return false
	}
	for h, l := range m.levels {
		if l == sc {
			delete(m.levels, h)
			break
		}
	}
	m.armUnload()
	return true
}
