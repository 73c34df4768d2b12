package asset

import (
	"path"
	"slices"
	"strings"

	"github.com/marmos91/dittobundle/internal/logger"
	"github.com/marmos91/dittobundle/pkg/metrics"
	"github.com/marmos91/dittobundle/pkg/scheduler"
	"github.com/marmos91/dittobundle/pkg/unit"
)

// SceneHandle is the host's identifier for a loaded scene.
type SceneHandle uint64

// SceneHost loads and unloads scenes. Completion is reported back through
// SceneTracker.Loaded and SceneTracker.Unloaded.
type SceneHost interface {
	LoadScene(name string, additive bool, mode unit.Mode) error
	UnloadScene(h SceneHandle) error
}

// NormalizePath maps a scene path to the form host events are matched on:
// lower case, forward slashes, cleaned, without extension.
func NormalizePath(p string) string {
	p = strings.ToLower(strings.ReplaceAll(p, `\`, "/"))
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	return strings.TrimSuffix(p, path.Ext(p))
}

// Scene is a level load. It waits for its unit request, asks the host to
// load the scene and settles when the host reports a matching scene.
type Scene struct {
	path       string
	name       string
	normalized string
	hostPath   string
	additive   bool
	req        *unit.Request
	host       SceneHost
	tracker    *SceneTracker
	env        *Env

	state     State
	err       error
	gen       uint64
	refHeld   bool
	requested bool
	assigned  bool
	cancelled bool
	handle    SceneHandle
	done      scheduler.Signal
}

// NewScene creates a scene entry. req may be nil when the scene needs no
// unit.
func NewScene(p, name string, additive bool, req *unit.Request, host SceneHost, tracker *SceneTracker, env *Env) *Scene {
	return &Scene{
		path:       p,
		name:       name,
		normalized: NormalizePath(p),
		hostPath:   NormalizePath(name),
		additive:   additive,
		req:        req,
		host:       host,
		tracker:    tracker,
		env:        env,
	}
}

func (s *Scene) Path() string                { return s.path }
func (s *Scene) Normalized() string          { return s.normalized }
func (s *Scene) HostPath() string            { return s.hostPath }
func (s *Scene) Additive() bool              { return s.additive }
func (s *Scene) State() State                { return s.state }
func (s *Scene) Err() error                  { return s.err }
func (s *Scene) Done() bool                  { return s.state == Loaded || s.state == Error }
func (s *Scene) OnDone(fn func())            { s.done.Wait(fn) }
func (s *Scene) Request() *unit.Request      { return s.req }
func (s *Scene) Handle() (SceneHandle, bool) { return s.handle, s.assigned }

// LoadRequest starts the scene load.
func (s *Scene) LoadRequest(mode unit.Mode, priority int) {
	switch s.state {
	case Loaded, Error:
		return
	case Loading:
		if s.req != nil && !s.requested {
			s.req.Load(mode, priority)
		}
		return
	}

	s.state = Loading
	s.gen++
	gen := s.gen

	if s.req == nil {
		s.start(mode)
		return
	}
	if !s.refHeld {
		s.req.IncreaseReferenceCount(1)
		s.refHeld = true
	}
	s.req.Load(mode, priority)
	s.req.OnDone(func() {
		if gen == s.gen && s.state == Loading && !s.requested {
			s.start(s.req.Main().Mode())
		}
	})
}

func (s *Scene) start(mode unit.Mode) {
	if s.req != nil {
		if err := s.req.Err(); err != nil {
			s.fail(err)
			return
		}
	}
	if err := s.host.LoadScene(s.name, s.additive, mode); err != nil {
		s.fail(err)
		return
	}
	s.requested = true
	s.tracker.expect(s)
	logger.Debug("Scene requested", logger.KeyScene, s.path, logger.KeyMode, mode.String())
}

func (s *Scene) fail(err error) {
	s.state = Error
	s.err = err
	logger.Warn("Scene load failed", logger.KeyScene, s.path, logger.Err(err))
	metrics.RecordEntry(s.env.Metrics, "scene", "error")
	s.done.Fire()
}

// assign binds the scene to a host handle. A scene unloaded while the host
// was still loading it is unloaded right away.
func (s *Scene) assign(h SceneHandle) {
	s.requested = false
	if s.cancelled {
		s.cancelled = false
		if err := s.host.UnloadScene(h); err != nil {
			logger.Warn("Scene unload failed", logger.KeyScene, s.path, logger.KeyHandle, h, logger.Err(err))
		}
		return
	}
	s.handle = h
	s.assigned = true
	s.tracker.byHandle[h] = s
	s.state = Loaded
	metrics.RecordEntry(s.env.Metrics, "scene", "loaded")
	s.done.Fire()
}

// Unload asks the host to unload the scene and drops the unit reference. It
// reports whether a host scene was bound.
func (s *Scene) Unload() bool {
	had := s.assigned
	if s.assigned {
		delete(s.tracker.byHandle, s.handle)
		if err := s.host.UnloadScene(s.handle); err != nil {
			logger.Warn("Scene unload failed", logger.KeyScene, s.path, logger.KeyHandle, s.handle, logger.Err(err))
		}
	} else if s.requested {
		s.cancelled = true
	}
	s.reset()
	return had
}

// hostUnloaded handles a scene the host dropped on its own.
func (s *Scene) hostUnloaded() {
	s.reset()
}

func (s *Scene) reset() {
	if s.refHeld {
		s.req.IncreaseReferenceCount(-1)
		s.refHeld = false
	}
	s.assigned = false
	s.handle = 0
	s.state = Ready
	s.err = nil
	s.gen++
	s.done.Reset()
	s.done.Clear()
}

// matchKeys are the normalized paths a host event may name: the scene the
// host was asked to load, and the logical path it was requested under.
func (s *Scene) matchKeys() []string {
	if s.hostPath == s.normalized {
		return []string{s.hostPath}
	}
	return []string{s.hostPath, s.normalized}
}

// SceneTracker matches host scene events to Scene entries. Scenes waiting
// for the host are matched first-in first-out per normalized path.
type SceneTracker struct {
	pending  map[string][]*Scene
	byHandle map[SceneHandle]*Scene
}

// NewSceneTracker creates an empty tracker.
func NewSceneTracker() *SceneTracker {
	return &SceneTracker{
		pending:  make(map[string][]*Scene),
		byHandle: make(map[SceneHandle]*Scene),
	}
}

func (t *SceneTracker) expect(s *Scene) {
	for _, k := range s.matchKeys() {
		t.pending[k] = append(t.pending[k], s)
	}
}

// forget removes s from every queue it waits in.
func (t *SceneTracker) forget(s *Scene) {
	for _, k := range s.matchKeys() {
		q := slices.DeleteFunc(t.pending[k], func(o *Scene) bool { return o == s })
		if len(q) == 0 {
			delete(t.pending, k)
		} else {
			t.pending[k] = q
		}
	}
}

// Loaded matches a host load event to the oldest scene waiting on path.
// It returns false when no scene was waiting.
func (t *SceneTracker) Loaded(p string, h SceneHandle) (*Scene, bool) {
	n := NormalizePath(p)
	q := t.pending[n]
	if len(q) == 0 {
		return nil, false
	}
	s := q[0]
	t.forget(s)
	s.assign(h)
	return s, true
}

// Unloaded handles a host unload event for h.
func (t *SceneTracker) Unloaded(h SceneHandle) (*Scene, bool) {
	s, ok := t.byHandle[h]
	if !ok {
		return nil, false
	}
	delete(t.byHandle, h)
	s.hostUnloaded()
	return s, true
}

// Pending returns the number of scenes waiting for the host.
func (t *SceneTracker) Pending() int {
	seen := make(map[*Scene]bool)
	for _, q := range t.pending {
		for _, s := range q {
			seen[s] = true
		}
	}
	return len(seen)
}

// Bound returns the number of scenes bound to host handles.
func (t *SceneTracker) Bound() int { return len(t.byHandle) }
