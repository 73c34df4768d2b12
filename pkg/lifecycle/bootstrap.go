package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/dittobundle/internal/logger"
	"github.com/marmos91/dittobundle/pkg/ioqueue"
	"github.com/marmos91/dittobundle/pkg/manifest"
	"github.com/marmos91/dittobundle/pkg/source"
)

// DefaultManifestKey is the storage key of the manifest next to the units.
const DefaultManifestKey = "manifest.yaml"

// FetcherManifest fetches and parses the manifest through a Fetcher.
type FetcherManifest struct {
	Fetcher source.Fetcher
	Key     string
}

// FetchManifest implements ManifestSource.
func (f FetcherManifest) FetchManifest(ctx context.Context) (*manifest.Manifest, error) {
	key := f.Key
	if key == "" {
		key = DefaultManifestKey
	}
	data, err := f.Fetcher.Fetch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", source.ErrProtocol, err)
	}
	return m, nil
}

// bootstrap fetches the manifest off the manager goroutine. On failure the
// cached copy is used when there is one; otherwise the fetch is retried
// after ProbeInterval.
func (m *Manager) bootstrap() {
	src := m.opts.Bootstrap
	cache := m.opts.Cache
	m.bootstrapID++
	attempt := m.bootstrapID

	job := func(ctx context.Context) {
		mf, err := src.FetchManifest(ctx)
		if err == nil && cache != nil {
			if serr := cache.Save(mf); serr != nil {
				logger.Warn("Failed to cache manifest", logger.Err(serr))
			}
		}
		m.loop.Post(func() { m.bootstrapped(attempt, mf, err) })
	}
	if _, ok := m.exec.Submit(ioqueue.PriorityHigh, job); !ok {
		logger.Warn("I/O queue rejected manifest fetch, fetching inline")
		job(m.ctx)
	}
}

func (m *Manager) bootstrapped(attempt uint64, mf *manifest.Manifest, err error) {
	if m.closed || m.ready || attempt != m.bootstrapID {
		return
	}
	if err == nil {
		logger.Info("Manifest fetched", logger.KeyCount, len(mf.Units))
		m.setManifest(mf)
		m.markReady()
		return
	}

	logger.Warn("Manifest fetch failed", logger.Err(err))
	if m.opts.Cache != nil {
		cached, savedAt, cerr := m.opts.Cache.Load()
		if cerr == nil {
			logger.Warn("Using cached manifest", "saved_at", savedAt.Format(time.RFC3339), logger.KeyCount, len(cached.Units))
			m.setManifest(cached)
			m.markReady()
			return
		}
		logger.Debug("No cached manifest", logger.Err(cerr))
	}

	retry := m.cfg.ProbeInterval
	if retry <= 0 {
		retry = DefaultProbeInterval
	}
	m.bootstrapAt = m.clock.Now().Add(retry)
}
