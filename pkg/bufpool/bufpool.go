// Package bufpool provides a tiered buffer pool for asset payload reads.
//
// Content units are read whole from their source before the pack index is
// decoded, and payloads are decompressed into scratch buffers. Both paths
// borrow from this pool so that unit churn does not turn into GC churn.
//
// Three size classes are kept:
//   - Small (default 16KB): pack indexes and small payloads
//   - Medium (default 256KB): typical asset payloads
//   - Large (default 4MB): whole-unit reads
//
// Requests above the large class are allocated directly and never pooled.
//
// Usage:
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
package bufpool

import (
	"sync"
	"sync/atomic"
)

// Default size classes
const (
	DefaultSmallSize  = 16 << 10
	DefaultMediumSize = 256 << 10
	DefaultLargeSize  = 4 << 20
)

// Pool manages byte slices organized by size class.
type Pool struct {
	classes [3]class

	oversized atomic.Uint64
}

type class struct {
	size int
	pool sync.Pool
	gets atomic.Uint64
}

// Config overrides the size classes of a Pool.
type Config struct {
	SmallSize  int
	MediumSize int
	LargeSize  int
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		SmallSize:  DefaultSmallSize,
		MediumSize: DefaultMediumSize,
		LargeSize:  DefaultLargeSize,
	}
}

// Stats reports how many Get calls each class served.
type Stats struct {
	Small     uint64
	Medium    uint64
	Large     uint64
	Oversized uint64
}

// NewPool creates a pool. A nil config or zero fields fall back to defaults.
func NewPool(cfg *Config) *Pool {
	c := DefaultConfig()
	if cfg != nil {
		if cfg.SmallSize > 0 {
			c.SmallSize = cfg.SmallSize
		}
		if cfg.MediumSize > 0 {
			c.MediumSize = cfg.MediumSize
		}
		if cfg.LargeSize > 0 {
			c.LargeSize = cfg.LargeSize
		}
	}

	p := &Pool{}
	for i, size := range [3]int{c.SmallSize, c.MediumSize, c.LargeSize} {
		cl := &p.classes[i]
		cl.size = size
		cl.pool.New = func() any {
			buf := make([]byte, size)
			return &buf
		}
	}
	return p
}

// Get returns a slice of length size. Its capacity may be larger. Callers
// must hand it back with Put once done.
func (p *Pool) Get(size int) []byte {
	for i := range p.classes {
		cl := &p.classes[i]
		if size <= cl.size {
			cl.gets.Add(1)
			buf := *(cl.pool.Get().(*[]byte))
			return buf[:size]
		}
	}
	p.oversized.Add(1)
	return make([]byte, size)
}

// Put returns a buffer obtained from Get. Buffers whose capacity matches no
// class are left to the garbage collector.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	for i := range p.classes {
		cl := &p.classes[i]
		if cap(buf) == cl.size {
			full := buf[:cap(buf)]
			cl.pool.Put(&full)
			return
		}
	}
}

// Stats returns the per-class Get counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Small:     p.classes[0].gets.Load(),
		Medium:    p.classes[1].gets.Load(),
		Large:     p.classes[2].gets.Load(),
		Oversized: p.oversized.Load(),
	}
}

// =============================================================================
// Global Pool
// =============================================================================

var globalPool = NewPool(nil)

// Get borrows a buffer from the global pool.
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns a buffer to the global pool.
func Put(buf []byte) {
	globalPool.Put(buf)
}

// Configure replaces the global pool. Call it once at startup, before any
// buffer is borrowed.
func Configure(cfg *Config) {
	globalPool = NewPool(cfg)
}

// Default returns the global pool.
func Default() *Pool {
	return globalPool
}
