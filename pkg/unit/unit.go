// Package unit loads content units and resolves their dependencies.
//
// A Unit is the state machine for one named unit in one source. A Request
// pairs a unit with the requests of its flattened dependency set, so that
// "usable" means the unit and every dependency have settled. The Registry
// keeps exactly one Unit and one Request per name.
//
// Everything here runs on the scheduler goroutine. Async opens run on an
// Executor and post their completion back through the scheduler loop; a
// generation counter discards completions that were superseded by a mode
// switch or an unload.
package unit

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/marmos91/dittobundle/internal/logger"
	"github.com/marmos91/dittobundle/internal/telemetry"
	"github.com/marmos91/dittobundle/pkg/ioqueue"
	"github.com/marmos91/dittobundle/pkg/metrics"
	"github.com/marmos91/dittobundle/pkg/scheduler"
	"github.com/marmos91/dittobundle/pkg/source"
)

// State is the load state of a unit.
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
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Done reports whether s is terminal. Error counts as done so that a failed
// dependency never blocks its dependents.
func (s State) Done() bool {
	return s == Loaded || s == Error
}

// Mode selects how a load is performed.
type Mode int

const (
	// Async opens on the Executor; completion is observed on a later tick.
	Async Mode = iota
	// Sync opens inline on the scheduler goroutine.
	Sync
)

func (m Mode) String() string {
	if m == Sync {
		return "sync"
	}
	return "async"
}

// Executor runs blocking opens off the scheduler goroutine.
// *ioqueue.Queue implements it.
type Executor interface {
	Submit(priority int, job ioqueue.Job) (uint64, bool)
	Cancel(id uint64) bool
}

// Env is shared by every unit of one registry.
type Env struct {
	Source source.Source
	Exec   Executor
	Loop   *scheduler.Loop

	// MaxRetries is the total number of open attempts for transient
	// failures. Values below 1 mean a single attempt.
	MaxRetries int

	// Backoff is the base delay between async retries, doubled per attempt.
	// Sync retries never wait.
	Backoff time.Duration

	// Ctx bounds every open. Defaults to context.Background().
	Ctx context.Context

	Clock   clock.Clock
	Metrics metrics.LifecycleMetrics

	// OnSettled, if set, runs after a unit reaches Loaded or Error.
	OnSettled func(*Unit)
}

func (e *Env) now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock.Now()
}

func (e *Env) ctx() context.Context {
	if e.Ctx == nil {
		return context.Background()
	}
	return e.Ctx
}

func (e *Env) maxAttempts() int {
	if e.MaxRetries < 1 {
		return 1
	}
	return e.MaxRetries
}

// Unit is one content unit.
type Unit struct {
	name string
	hash string
	env  *Env

	state State
	mode  Mode
	refs  int
	pins  int

	handle source.Handle
	err    error

	gen      uint64
	attempts int
	jobID    uint64
	jobLive  bool
	started  time.Time
	lastUsed time.Time
	queued   bool

	done scheduler.Signal
}

// New creates a unit in the Ready state.
func New(name, hash string, env *Env) *Unit {
	return &Unit{name: name, hash: hash, env: env, lastUsed: env.now()}
}

func (u *Unit) Name() string          { return u.name }
func (u *Unit) Hash() string          { return u.hash }
func (u *Unit) State() State          { return u.state }
func (u *Unit) Mode() Mode            { return u.mode }
func (u *Unit) RefCount() int         { return u.refs }
func (u *Unit) Pins() int             { return u.pins }
func (u *Unit) Err() error            { return u.err }
func (u *Unit) Handle() source.Handle { return u.handle }
func (u *Unit) Attempts() int         { return u.attempts }
func (u *Unit) Generation() uint64    { return u.gen }
func (u *Unit) LastUsed() time.Time   { return u.lastUsed }

// SourceKind names the source the unit is opened from.
func (u *Unit) SourceKind() string { return u.env.Source.Kind() }

// Done reports whether the unit has settled.
func (u *Unit) Done() bool { return u.state.Done() }

// Unloadable reports whether no holder has pinned the unit.
func (u *Unit) Unloadable() bool { return u.pins == 0 }

// Queued reports whether the unit sits in the unload queue.
func (u *Unit) Queued() bool { return u.queued }

// SetQueued is maintained by the unload scheduler.
func (u *Unit) SetQueued(q bool) { u.queued = q }

// SetHash updates the expected content hash. Ignored unless the unit is
// Ready, since a loaded handle already matched the previous hash.
func (u *Unit) SetHash(hash string) {
	if u.state == Ready {
		u.hash = hash
	}
}

// IncreaseReferenceCount adds delta (which may be negative) and returns the
// new count.
func (u *Unit) IncreaseReferenceCount(delta int) int {
	u.refs += delta
	u.lastUsed = u.env.now()
	return u.refs
}

// Pin marks the unit as held by something outside the reference graph.
func (u *Unit) Pin() { u.pins++ }

// Unpin releases one Pin. Extra calls are ignored.
func (u *Unit) Unpin() {
	if u.pins > 0 {
		u.pins--
	}
}

// OnDone runs fn once the unit settles, immediately if it already has.
func (u *Unit) OnDone(fn func()) { u.done.Wait(fn) }

// LoadRequest starts loading. It is a no-op once settled or while a load in
// the same mode is in flight. A request in the other mode abandons the
// in-flight load and restarts in the new mode.
func (u *Unit) LoadRequest(mode Mode, priority int) {
	switch u.state {
	case Loaded, Error:
		return
	case Loading:
		if u.mode == mode {
			return
		}
		logger.Debug("Unit load mode switch, restarting",
			logger.KeyUnit, u.name, "from", u.mode.String(), "to", mode.String())
		u.abandon()
	}

	u.state = Loading
	u.mode = mode
	u.attempts = 0
	u.err = nil
	u.started = u.env.now()
	u.lastUsed = u.started

	logger.Debug("Unit loading", logger.KeyUnit, u.name, logger.KeyMode, mode.String(),
		logger.KeySource, u.env.Source.Kind())

	if mode == Sync {
		u.loadSync()
		return
	}
	u.loadAsync(priority)
}

func (u *Unit) loadSync() {
	h, attempts, err := open(u.env.ctx(), u.env, u.name, u.hash, false)
	u.complete(u.gen, h, attempts, err)
}

func (u *Unit) loadAsync(priority int) {
	gen := u.gen
	env := u.env
	name, hash := u.name, u.hash

	id, ok := env.Exec.Submit(priority, func(ctx context.Context) {
		h, attempts, err := open(ctx, env, name, hash, true)
		if !env.Loop.Post(func() { u.complete(gen, h, attempts, err) }) && h != nil {
			// Loop already stopped: nobody will ever own this handle.
			h.Unload(true)
		}
	})
	if !ok {
		logger.Warn("I/O queue rejected unit load, loading inline", logger.KeyUnit, name)
		u.mode = Sync
		u.loadSync()
		return
	}
	u.jobID = id
	u.jobLive = true
}

// abandon invalidates the in-flight load. A job still queued is removed; a
// running one completes and is discarded by the generation check.
func (u *Unit) abandon() {
	u.gen++
	if u.jobLive {
		if u.env.Exec.Cancel(u.jobID) {
			logger.Debug("Queued unit load cancelled", logger.KeyUnit, u.name)
		}
		u.jobLive = false
	}
}

func (u *Unit) complete(gen uint64, h source.Handle, attempts int, err error) {
	if gen != u.gen {
		if h != nil {
			logger.Debug("Releasing superseded unit handle", logger.KeyUnit, u.name, logger.KeyGen, gen)
			h.Unload(true)
		}
		return
	}

	u.jobLive = false
	u.attempts = attempts
	elapsed := u.env.now().Sub(u.started)

	if err != nil {
		u.state = Error
		u.err = err
		logger.Warn("Unit load failed",
			logger.KeyUnit, u.name,
			logger.KeySource, u.env.Source.Kind(),
			logger.KeyAttempt, attempts,
			logger.Err(err))
		metrics.ObserveUnitLoad(u.env.Metrics, u.env.Source.Kind(), "error", attempts, elapsed)
	} else {
		u.state = Loaded
		u.handle = h
		logger.Debug("Unit loaded",
			logger.KeyUnit, u.name,
			logger.KeyUnitSize, h.Size(),
			logger.KeyAttempt, attempts,
			logger.DurationMs(elapsed))
		metrics.ObserveUnitLoad(u.env.Metrics, u.env.Source.Kind(), "loaded", attempts, elapsed)
	}

	u.done.Fire()
	if u.env.OnSettled != nil {
		u.env.OnSettled(u)
	}
}

// Unload frees the unit and returns it to Ready. With force, objects already
// extracted from it are destroyed too. It returns whether the unit was
// pinned; callers are expected to have dropped their references first.
func (u *Unit) Unload(force bool) bool {
	pinned := u.pins > 0

	if u.state == Loading {
		u.abandon()
	}
	if u.handle != nil {
		u.handle.Unload(force)
		u.handle = nil
	}

	prev := u.state
	u.state = Ready
	u.err = nil
	u.attempts = 0
	u.gen++
	u.done.Reset()

	logger.Debug("Unit unloaded",
		logger.KeyUnit, u.name,
		"from", prev.String(),
		"force", force,
		"pinned", pinned)
	return pinned
}

// Reset re-arms a settled unit without destroying extracted objects.
func (u *Unit) Reset() {
	u.Unload(false)
}

// open runs the attempt loop. Only errors classified as transient are
// retried; anything else settles on the first failure.
func open(ctx context.Context, env *Env, name, hash string, wait bool) (source.Handle, int, error) {
	limit := env.maxAttempts()
	kind := env.Source.Kind()

	var lastErr error
	for attempt := 1; attempt <= limit; attempt++ {
		spanCtx, span := telemetry.StartUnitSpan(ctx, "open", name, kind,
			telemetry.Attempt(attempt), telemetry.UnitHash(hash))
		h, err := env.Source.Open(spanCtx, name, hash)
		telemetry.RecordError(spanCtx, err)
		span.End()

		if err == nil {
			return h, attempt, nil
		}
		lastErr = err
		if !source.Retryable(err) {
			return nil, attempt, err
		}
		if attempt == limit {
			break
		}

		logger.Debug("Unit open failed, retrying",
			logger.KeyUnit, name, logger.KeyAttempt, attempt, logger.KeyMaxRetry, limit, logger.Err(err))

		if wait {
			if werr := sleep(ctx, env.Clock, backoff(env.Backoff, attempt)); werr != nil {
				return nil, attempt, fmt.Errorf("%w: %w", source.ErrProtocol, werr)
			}
		}
	}
	return nil, limit, fmt.Errorf("unit %q: gave up after %d attempts: %w", name, limit, lastErr)
}

func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base << (attempt - 1)
	if d > 30*time.Second || d <= 0 {
		return 30 * time.Second
	}
	return d
}

func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if clk == nil {
		clk = clock.New()
	}
	t := clk.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
