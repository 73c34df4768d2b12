// Package lifecycle is the façade over the content lifecycle: it hands out
// asset loads keyed by (path, type), shares records between callers,
// resolves units through the manifest and routes unreferenced units to the
// throttled unload pipeline.
//
// A Manager is single-threaded. Every method must be called from the
// goroutine driving Tick (or Run); other goroutines use Do. Async I/O runs
// on an I/O queue and completes on a later tick.
package lifecycle

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/marmos91/dittobundle/internal/logger"
	"github.com/marmos91/dittobundle/pkg/asset"
	"github.com/marmos91/dittobundle/pkg/ioqueue"
	"github.com/marmos91/dittobundle/pkg/manifest"
	"github.com/marmos91/dittobundle/pkg/metrics"
	"github.com/marmos91/dittobundle/pkg/orphan"
	"github.com/marmos91/dittobundle/pkg/scheduler"
	"github.com/marmos91/dittobundle/pkg/source"
	"github.com/marmos91/dittobundle/pkg/unit"
	"github.com/marmos91/dittobundle/pkg/unload"
)

var (
	// ErrNotReady is returned by sync loads issued before bootstrap
	// completed.
	ErrNotReady = errors.New("lifecycle: manager not ready")

	// ErrInvalidKey is returned for an empty asset or level path.
	ErrInvalidKey = errors.New("lifecycle: invalid key")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("lifecycle: manager closed")

	// ErrReferenced is returned by Close while a unit is still referenced.
	ErrReferenced = errors.New("lifecycle: units still referenced")

	// ErrNoSceneHost is returned by LoadLevel when no scene host is set.
	ErrNoSceneHost = errors.New("lifecycle: no scene host configured")

	// ErrPending is returned by a sync load whose record could not settle
	// inline.
	ErrPending = errors.New("lifecycle: load still pending")
)

// Handle identifies a loaded asset or level. Zero is never a valid handle.
type Handle uint64

// FlatStorage is unit-less object storage with an explicit orphan sweep.
type FlatStorage interface {
	asset.FlatStore
	Orphans() int
	Sweep() int
}

// Manifest is what the manager needs from a manifest.
type Manifest interface {
	unit.Manifest
	Resolve(path string) []manifest.Location
}

// ManifestSource provides the manifest during remote bootstrap.
type ManifestSource interface {
	FetchManifest(ctx context.Context) (*manifest.Manifest, error)
}

// ManifestCache keeps the last manifest that bootstrapped successfully.
type ManifestCache interface {
	Save(m *manifest.Manifest) error
	Load() (*manifest.Manifest, time.Time, error)
}

// Options wires the manager's collaborators. Only Source is required.
type Options struct {
	Source source.Source

	// Flat is searched for paths the manifest does not redirect.
	Flat FlatStorage

	// Manifest is used as-is. When Bootstrap is set the manager starts not
	// ready and replaces it with the fetched manifest.
	Manifest Manifest

	Bootstrap ManifestSource
	Cache     ManifestCache

	SceneHost asset.SceneHost

	// Executor runs async opens. When nil the manager owns an ioqueue.Queue
	// sized by Config.
	Executor unit.Executor

	Clock   clock.Clock
	Metrics metrics.LifecycleMetrics
}

// slot is the live record of one key. Every Load of the key returns the
// same handle and adds a holder; the record is released when the last
// holder unloads it.
type slot struct {
	handle  Handle
	key     asset.Key
	rec     asset.Record
	holders int
	dead    bool
}

type deferredLoad struct {
	slot     *slot
	all      bool
	priority int
	cb       Callback
}

// Manager is the lifecycle façade. Not safe for concurrent use.
type Manager struct {
	cfg   Config
	opts  Options
	id    string
	clock clock.Clock

	ctx    context.Context
	cancel context.CancelFunc

	loop  *scheduler.Loop
	queue *ioqueue.Queue
	exec  unit.Executor

	registry *unit.Registry
	resolver *unit.Resolver
	manifest Manifest

	env      asset.Env
	index    *asset.TypeIndex
	unloads  *unload.Scheduler
	detector *orphan.Detector
	scenes   *asset.SceneTracker

	slots   map[asset.Key]*slot
	handles map[Handle]*slot
	levels  map[Handle]*asset.Scene
	next    Handle

	ready    bool
	readySig scheduler.Signal
	deferred []deferredLoad
	started  bool
	closed   bool

	// Deadlines checked in step. Zero means disarmed.
	unloadAt    time.Time
	sweepAt     time.Time
	probeAt     time.Time
	pruneAt     time.Time
	bootstrapAt time.Time
	bootstrapID uint64

	sweeps int
}

// New creates a manager. It is ready at once unless opts.Bootstrap is set,
// in which case Start fetches the manifest first.
func New(cfg Config, opts Options) *Manager {
	cfg.applyDefaults()
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:     cfg,
		opts:    opts,
		id:      uuid.NewString(),
		clock:   opts.Clock,
		ctx:     ctx,
		cancel:  cancel,
		loop:    scheduler.New(),
		exec:    opts.Executor,
		index:   asset.NewTypeIndex(),
		scenes:  asset.NewSceneTracker(),
		slots:   make(map[asset.Key]*slot),
		handles: make(map[Handle]*slot),
		levels:  make(map[Handle]*asset.Scene),
	}
	if m.exec == nil {
		m.queue = ioqueue.New(ioqueue.Config{Workers: cfg.Workers, QueueSize: cfg.QueueSize})
		m.exec = m.queue
	}

	m.registry = unit.NewRegistry(&unit.Env{
		Source:     opts.Source,
		Exec:       m.exec,
		Loop:       m.loop,
		MaxRetries: cfg.MaxRetries,
		Backoff:    cfg.RetryBackoff,
		Ctx:        ctx,
		Clock:      opts.Clock,
		Metrics:    opts.Metrics,
		OnSettled:  m.unitSettled,
	})
	m.resolver = unit.NewResolver(m.registry, nil)
	if opts.Manifest != nil {
		m.setManifest(opts.Manifest)
	}

	m.env = asset.Env{Index: m.index, Metrics: opts.Metrics}
	if opts.Flat != nil {
		m.env.Flat = opts.Flat
	}
	m.unloads = unload.New(cfg.UnloadRate, opts.Metrics)
	m.detector = orphan.New(func(u *unit.Unit) {
		m.unloads.Enqueue(u, false)
		m.armUnload()
	})
	m.env.Tracker = m.detector

	m.ready = opts.Bootstrap == nil
	if m.ready {
		m.readySig.Fire()
	}
	return m
}

// ID returns the manager's instance id.
func (m *Manager) ID() string { return m.id }

// Ready reports whether bootstrap has completed.
func (m *Manager) Ready() bool { return m.ready }

// Closed reports whether Close succeeded.
func (m *Manager) Closed() bool { return m.closed }

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Registry exposes the unit registry for inspection.
func (m *Manager) Registry() *unit.Registry { return m.registry }

// Index exposes the object index for inspection.
func (m *Manager) Index() *asset.TypeIndex { return m.index }

// OnReady runs fn once bootstrap completes, immediately if it has.
func (m *Manager) OnReady(fn func()) { m.readySig.Wait(fn) }

// SetManifest swaps the manifest. Records already created keep their
// locations; units pick up new hashes the next time they load.
func (m *Manager) SetManifest(mf Manifest) {
	m.setManifest(mf)
}

func (m *Manager) setManifest(mf Manifest) {
	m.manifest = mf
	m.resolver.SetManifest(mf)
}

// Manifest returns the current manifest, possibly nil.
func (m *Manager) Manifest() Manifest { return m.manifest }

// Start starts the owned I/O queue and, in remote mode, bootstrap.
func (m *Manager) Start(ctx context.Context) {
	if m.started || m.closed {
		return
	}
	m.started = true
	if m.queue != nil {
		m.queue.Start(m.ctx)
	}
	logger.InfoCtx(ctx, "Lifecycle manager started", "instance", m.id, "ready", m.ready)
	if !m.ready {
		m.bootstrap()
	}
}

// Do runs fn on the manager's goroutine and waits for it. For use from
// other goroutines while Run is active.
func (m *Manager) Do(ctx context.Context, fn func()) error {
	if err := m.loop.Do(ctx, fn); err != nil {
		if errors.Is(err, scheduler.ErrStopped) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Post queues fn for the next tick without waiting.
func (m *Manager) Post(fn func()) bool { return m.loop.Post(fn) }

// Run ticks the manager every TickInterval until ctx is done. The calling
// goroutine becomes the manager's goroutine.
func (m *Manager) Run(ctx context.Context) {
	m.Start(ctx)
	m.loop.Run(ctx, m.clock, m.cfg.TickInterval, m.step)
}

// Tick drains completions and advances every timer once. Games call it
// once per frame when not using Run.
func (m *Manager) Tick() {
	m.loop.Tick()
	m.step()
}

func (m *Manager) step() {
	if m.closed {
		return
	}
	now := m.clock.Now()

	if !m.bootstrapAt.IsZero() && !now.Before(m.bootstrapAt) {
		m.bootstrapAt = time.Time{}
		m.bootstrap()
	}

	if !m.unloadAt.IsZero() && !now.Before(m.unloadAt) {
		m.unloadAt = time.Time{}
		m.routeUnreferenced()
		m.sweepAt = deadline(now, m.cfg.SweepDelay)
	}

	if !m.sweepAt.IsZero() && !now.Before(m.sweepAt) {
		m.sweepAt = time.Time{}
		m.sweepFlat()
	}

	m.unloads.Tick()

	if m.cfg.ProbeInterval > 0 {
		if m.probeAt.IsZero() {
			m.probeAt = now.Add(m.cfg.ProbeInterval)
		} else if !now.Before(m.probeAt) {
			m.probeAt = now.Add(m.cfg.ProbeInterval)
			m.detector.Probe()
		}
	}

	if m.cfg.IdleTimeout > 0 {
		if m.pruneAt.IsZero() {
			m.pruneAt = now.Add(m.cfg.IdleTimeout)
		} else if !now.Before(m.pruneAt) {
			m.pruneAt = now.Add(m.cfg.IdleTimeout)
			m.registry.Prune(now, m.cfg.IdleTimeout, m.liveRequests())
		}
	}

	m.publish()
}

func deadline(now time.Time, d time.Duration) time.Time {
	if d < 0 {
		d = 0
	}
	return now.Add(d)
}

// armUnload restarts Timer A.
func (m *Manager) armUnload() {
	m.unloadAt = deadline(m.clock.Now(), m.cfg.UnloadDelay)
}

// unitSettled restarts Timer A for a unit that finished loading after its
// last reference was dropped; Timer A skips units still loading.
func (m *Manager) unitSettled(u *unit.Unit) {
	if m.closed || u.RefCount() > 0 || !u.Unloadable() {
		return
	}
	logger.Debug("Unreferenced unit settled", logger.KeyUnit, u.Name(), logger.KeyState, u.State().String())
	m.armUnload()
}

// routeUnreferenced hands every settled, unreferenced, unpinned unit to the
// unload scheduler.
func (m *Manager) routeUnreferenced() {
	queued := 0
	for _, u := range m.registry.Units() {
		if u.RefCount() > 0 || !u.Unloadable() || u.Queued() || !u.Done() {
			continue
		}
		if m.unloads.Enqueue(u, true) {
			queued++
		}
	}
	if queued > 0 {
		logger.Debug("Unreferenced units queued for unload", logger.KeyCount, queued, logger.KeyQueueSize, m.unloads.Len())
	}
}

func (m *Manager) sweepFlat() {
	if m.opts.Flat == nil {
		return
	}
	orphans := m.opts.Flat.Orphans()
	if orphans < m.cfg.OrphanThreshold {
		return
	}
	freed := m.opts.Flat.Sweep()
	m.sweeps++
	metrics.RecordSweep(m.opts.Metrics, freed)
	logger.Debug("Flat storage swept", logger.KeyOrphans, orphans, logger.KeyCount, freed)
}

// liveRequests reports the unit names some live record still refers to,
// including list children that were dropped but may load again.
func (m *Manager) liveRequests() func(string) bool {
	live := make(map[string]bool)
	add := func(req *unit.Request) {
		if req != nil {
			live[req.Name()] = true
		}
	}
	for _, s := range m.slots {
		switch r := s.rec.(type) {
		case *asset.Entry:
			add(r.Request())
		case *asset.List:
			for _, c := range r.Children() {
				add(c.Request())
			}
		}
	}
	for _, sc := range m.levels {
		add(sc.Request())
	}
	return func(name string) bool { return live[name] }
}

func (m *Manager) publish() {
	if m.opts.Metrics == nil {
		return
	}
	states := m.registry.States()
	counts := make(map[string]int, len(states))
	for s, n := range states {
		counts[s.String()] = n
	}
	metrics.SetUnitStates(m.opts.Metrics, counts)
	metrics.SetQueueDepth(m.opts.Metrics, m.unloads.Len())
	flat := 0
	if m.opts.Flat != nil {
		flat = m.opts.Flat.Orphans()
	}
	metrics.SetOrphans(m.opts.Metrics, flat, m.detector.Len())
}

// Close shuts the manager down. It fails with ErrReferenced while any unit
// is still referenced; otherwise it force-unloads every unit and stops the
// I/O queue and the loop.
func (m *Manager) Close() error {
	if m.closed {
		return ErrClosed
	}
	var held []string
	for _, u := range m.registry.Units() {
		if u.RefCount() > 0 {
			held = append(held, u.Name())
		}
	}
	if len(held) > 0 {
		logger.Warn("Refusing to close with referenced units", logger.KeyCount, len(held), "units", held)
		return ErrReferenced
	}

	m.closed = true
	m.detector.Clear()
	m.unloads.Flush()
	for _, u := range m.registry.Units() {
		if u.State() != unit.Ready {
			u.Unload(true)
		}
	}
	for _, s := range m.slots {
		m.drop(s)
		if s.rec != nil {
			s.rec.Unload()
		}
	}
	if m.opts.Flat != nil {
		m.opts.Flat.Sweep()
	}
	m.registry.Clear()
	m.deferred = nil

	m.cancel()
	m.loop.Stop()
	if m.queue != nil {
		m.queue.Stop(5 * time.Second)
	}
	logger.Info("Lifecycle manager closed", "instance", m.id)
	return nil
}

// UnitInfo is a snapshot of one unit.
type UnitInfo struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	RefCount int    `json:"ref_count"`
	Pins     int    `json:"pins"`
	Source   string `json:"source"`
	Hash     string `json:"hash,omitempty"`
	Queued   bool   `json:"queued"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// Units returns a snapshot of every registered unit, sorted by name.
func (m *Manager) Units() []UnitInfo {
	units := m.registry.Units()
	out := make([]UnitInfo, 0, len(units))
	for _, u := range units {
		info := UnitInfo{
			Name:     u.Name(),
			State:    u.State().String(),
			RefCount: u.RefCount(),
			Pins:     u.Pins(),
			Source:   u.SourceKind(),
			Hash:     u.Hash(),
			Queued:   u.Queued(),
			Attempts: u.Attempts(),
		}
		if err := u.Err(); err != nil {
			info.Error = err.Error()
		}
		out = append(out, info)
	}
	return out
}

// Stats is a snapshot of manager state.
type Stats struct {
	InstanceID     string         `json:"instance_id"`
	Ready          bool           `json:"ready"`
	Units          map[string]int `json:"units"`
	Requests       int            `json:"requests"`
	Entries        int            `json:"entries"`
	Levels         int            `json:"levels"`
	UnloadQueue    int            `json:"unload_queue"`
	Tracked        int            `json:"tracked"`
	FlatOrphans    int            `json:"flat_orphans"`
	IndexedObjects int            `json:"indexed_objects"`
	Sweeps         int            `json:"sweeps"`
	Deferred       int            `json:"deferred"`
}

// Stats returns a snapshot of manager state.
func (m *Manager) Stats() Stats {
	states := m.registry.States()
	units := make(map[string]int, len(states))
	for s, n := range states {
		units[s.String()] = n
	}
	st := Stats{
		InstanceID:     m.id,
		Ready:          m.ready,
		Units:          units,
		Requests:       m.registry.Requests(),
		Entries:        len(m.handles),
		Levels:         len(m.levels),
		UnloadQueue:    m.unloads.Len(),
		Tracked:        m.detector.Len(),
		IndexedObjects: m.index.Len(),
		Sweeps:         m.sweeps,
		Deferred:       len(m.deferred),
	}
	if m.opts.Flat != nil {
		st.FlatOrphans = m.opts.Flat.Orphans()
	}
	return st
}

// Keys returns the keys of every live record, sorted.
func (m *Manager) Keys() []asset.Key {
	keys := make([]asset.Key, 0, len(m.slots))
	for k := range m.slots {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Type < keys[j].Type
	})
	return keys
}
