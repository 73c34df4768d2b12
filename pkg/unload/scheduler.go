// Package unload drains pending unit unloads at a bounded rate.
//
// Units whose reference count reached zero are queued rather than freed
// synchronously. Each Tick grants a budget of Rate items (at most ⌈Rate⌉ per
// tick, fractional rates accumulate across ticks) and pops that many items.
// An item is executed only if its unit is still unreferenced and not loading
// when popped; a unit re-acquired while waiting is simply skipped.
package unload

import (
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/marmos91/dittobundle/internal/logger"
	"github.com/marmos91/dittobundle/pkg/metrics"
	"github.com/marmos91/dittobundle/pkg/unit"
)

// DefaultRate is one unload per tick.
const DefaultRate = 1.0

// tickDuration is how far one Tick advances the limiter's clock. Rate is
// expressed per tick, so a tick is one second of limiter time.
const tickDuration = time.Second

type item struct {
	unit  *unit.Unit
	force bool
}

// Scheduler is a FIFO of pending unloads. Not safe for concurrent use.
type Scheduler struct {
	limiter *rate.Limiter
	now     time.Time
	r       float64

	queue []*item
	index map[*unit.Unit]*item

	metrics metrics.LifecycleMetrics
}

// New creates a scheduler draining r items per tick. r <= 0 uses
// DefaultRate.
func New(r float64, m metrics.LifecycleMetrics) *Scheduler {
	if r <= 0 {
		r = DefaultRate
	}
	burst := int(math.Ceil(r))
	return &Scheduler{
		limiter: rate.NewLimiter(rate.Limit(r), burst),
		now:     time.Unix(0, 0),
		r:       r,
		index:   make(map[*unit.Unit]*item),
		metrics: m,
	}
}

// Rate returns the configured items per tick.
func (s *Scheduler) Rate() float64 { return s.r }

// Len returns the number of queued items.
func (s *Scheduler) Len() int { return len(s.queue) }

// Enqueue queues u. force destroys extracted objects on unload; without it
// only the unit data is released. A unit already queued is not added again,
// but a force request upgrades the queued item. Returns whether a new item
// was queued.
func (s *Scheduler) Enqueue(u *unit.Unit, force bool) bool {
	if it, ok := s.index[u]; ok {
		it.force = it.force || force
		return false
	}
	it := &item{unit: u, force: force}
	s.queue = append(s.queue, it)
	s.index[u] = it
	u.SetQueued(true)

	logger.Debug("Unit queued for unload",
		logger.KeyUnit, u.Name(), "force", force, logger.KeyQueueSize, len(s.queue))
	metrics.SetQueueDepth(s.metrics, len(s.queue))
	return true
}

// Tick advances one tick and pops as many items as the budget allows.
// Returns the number of units actually unloaded.
func (s *Scheduler) Tick() int {
	s.now = s.now.Add(tickDuration)

	executed := 0
	for len(s.queue) > 0 && s.limiter.AllowN(s.now, 1) {
		if s.execute(s.pop()) {
			executed++
		}
	}
	if executed > 0 || len(s.queue) > 0 {
		metrics.SetQueueDepth(s.metrics, len(s.queue))
	}
	return executed
}

// Flush pops every item regardless of budget. Used on shutdown.
func (s *Scheduler) Flush() int {
	executed := 0
	for len(s.queue) > 0 {
		if s.execute(s.pop()) {
			executed++
		}
	}
	metrics.SetQueueDepth(s.metrics, 0)
	return executed
}

// Clear drops every queued item without executing it.
func (s *Scheduler) Clear() {
	for _, it := range s.queue {
		it.unit.SetQueued(false)
	}
	s.queue = nil
	clear(s.index)
	metrics.SetQueueDepth(s.metrics, 0)
}

func (s *Scheduler) pop() *item {
	it := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	delete(s.index, it.unit)
	it.unit.SetQueued(false)
	return it
}

// execute unloads the item's unit unless it was re-acquired or started
// loading again while queued.
func (s *Scheduler) execute(it *item) bool {
	u := it.unit
	switch {
	case u.RefCount() > 0:
		logger.Debug("Queued unload skipped, unit re-acquired",
			logger.KeyUnit, u.Name(), logger.KeyRefCount, u.RefCount())
		metrics.RecordUnloadSkipped(s.metrics)
		return false
	case u.State() == unit.Loading || u.State() == unit.Ready:
		logger.Debug("Queued unload skipped", logger.KeyUnit, u.Name(), logger.KeyState, u.State().String())
		metrics.RecordUnloadSkipped(s.metrics)
		return false
	}

	pinned := u.Unload(it.force)
	metrics.RecordUnitUnload(s.metrics, it.force, pinned)
	return true
}
