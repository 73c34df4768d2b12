package lifecycle

import (
	"time"

	"github.com/marmos91/dittobundle/pkg/ioqueue"
	"github.com/marmos91/dittobundle/pkg/unload"
)

// Default configuration values.
const (
	DefaultUnloadDelay     = 2 * time.Second
	DefaultSweepDelay      = 5 * time.Second
	DefaultOrphanThreshold = 16
	DefaultProbeInterval   = 10 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultMaxRetries      = 3
	DefaultRetryBackoff    = 250 * time.Millisecond
	DefaultTickInterval    = 16 * time.Millisecond
)

// Config holds manager configuration.
type Config struct {
	// UnloadRate is how many units the unload scheduler frees per tick.
	// Fractional rates accumulate across ticks. Default: 1
	UnloadRate float64

	// UnloadDelay is Timer A: how long after the last unload-triggering
	// event zero-reference units are handed to the unload scheduler.
	// Default: 2s
	UnloadDelay time.Duration

	// SweepDelay is Timer B: how long after Timer A fired flat storage is
	// swept. Default: 5s
	SweepDelay time.Duration

	// OrphanThreshold is the minimum number of orphaned flat objects that
	// makes a sweep worth its cost. Default: 16
	OrphanThreshold int

	// ProbeInterval is how often the orphan detector checks its weak
	// handles. It also paces bootstrap retries. Default: 10s
	ProbeInterval time.Duration

	// IdleTimeout is how long a Ready, unreferenced unit stays in the
	// registry before its bookkeeping is pruned. Default: 60s
	IdleTimeout time.Duration

	// MaxRetries is the total number of open attempts for transient
	// failures. Default: 3
	MaxRetries int

	// RetryBackoff is the base delay between async retries. Default: 250ms
	RetryBackoff time.Duration

	// Workers and QueueSize size the I/O queue when the manager owns it.
	Workers   int
	QueueSize int

	// TickInterval paces Run. Default: 16ms
	TickInterval time.Duration
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	q := ioqueue.DefaultConfig()
	return Config{
		UnloadRate:      unload.DefaultRate,
		UnloadDelay:     DefaultUnloadDelay,
		SweepDelay:      DefaultSweepDelay,
		OrphanThreshold: DefaultOrphanThreshold,
		ProbeInterval:   DefaultProbeInterval,
		IdleTimeout:     DefaultIdleTimeout,
		MaxRetries:      DefaultMaxRetries,
		RetryBackoff:    DefaultRetryBackoff,
		Workers:         q.Workers,
		QueueSize:       q.QueueSize,
		TickInterval:    DefaultTickInterval,
	}
}

// applyDefaults fills zero values. Negative durations are left alone so
// callers can disable a timer with -1.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.UnloadRate <= 0 {
		c.UnloadRate = def.UnloadRate
	}
	if c.UnloadDelay == 0 {
		c.UnloadDelay = def.UnloadDelay
	}
	if c.SweepDelay == 0 {
		c.SweepDelay = def.SweepDelay
	}
	if c.OrphanThreshold <= 0 {
		c.OrphanThreshold = def.OrphanThreshold
	}
	if c.ProbeInterval == 0 {
		c.ProbeInterval = def.ProbeInterval
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = def.RetryBackoff
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
}
