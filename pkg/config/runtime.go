package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/marmos91/dittobundle/internal/logger"
	"github.com/marmos91/dittobundle/pkg/bufpool"
	"github.com/marmos91/dittobundle/pkg/lifecycle"
	"github.com/marmos91/dittobundle/pkg/manifest"
	manifestbadger "github.com/marmos91/dittobundle/pkg/manifest/badger"
	"github.com/marmos91/dittobundle/pkg/metrics"
	"github.com/marmos91/dittobundle/pkg/source"
	"github.com/marmos91/dittobundle/pkg/source/fs"
	"github.com/marmos91/dittobundle/pkg/source/s3"
)

// Runtime is a lifecycle manager assembled from configuration, together
// with the resources the manager does not own.
type Runtime struct {
	Manager *lifecycle.Manager

	cfg     *Config
	source  source.Source
	fetcher *s3.Fetcher
	cache   *manifestbadger.Cache
}

// ToLifecycle converts the lifecycle section into manager configuration.
func (c *LifecycleConfig) ToLifecycle() lifecycle.Config {
	return lifecycle.Config{
		UnloadRate:      c.UnloadRate,
		UnloadDelay:     c.UnloadDelay,
		SweepDelay:      c.SweepDelay,
		OrphanThreshold: c.OrphanThreshold,
		ProbeInterval:   c.ProbeInterval,
		IdleTimeout:     c.IdleTimeout,
		MaxRetries:      c.MaxRetries,
		RetryBackoff:    c.RetryBackoff,
		Workers:         c.Workers,
		QueueSize:       c.QueueSize,
		TickInterval:    c.TickInterval,
	}
}

// ConfigurePools applies the pool section to the global buffer pool.
func ConfigurePools(cfg PoolConfig) {
	bufpool.Configure(&bufpool.Config{
		SmallSize:  int(cfg.SmallSize),
		MediumSize: int(cfg.MediumSize),
		LargeSize:  int(cfg.LargeSize),
	})
}

// InitializeMetrics creates the process metrics registry when metrics are
// enabled. The Prometheus implementations must be linked in (by importing
// pkg/metrics/prometheus) for the constructors to return collectors.
func InitializeMetrics(cfg *Config) bool {
	if !cfg.Metrics.Enabled {
		metrics.Reset()
		return false
	}
	metrics.InitRegistry()
	return true
}

// NewSource builds the configured unit source. For an s3 source the
// fetcher is returned as well, since remote bootstrap reads the manifest
// through it.
func NewSource(ctx context.Context, cfg *SourceConfig) (source.Source, *s3.Fetcher, error) {
	switch cfg.Type {
	case "fs":
		src, err := fs.New(fs.Config{
			Root:        cfg.FS.Root,
			MaxUnitSize: cfg.MaxUnitSize.Int64(),
			CreateDir:   cfg.FS.CreateDir,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create fs source: %w", err)
		}
		return src, nil, nil

	case "s3":
		f, err := s3.NewFromConfig(ctx, s3.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			KeyPrefix:       cfg.S3.KeyPrefix,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			ForcePathStyle:  cfg.S3.ForcePathStyle,
			MaxObjectSize:   cfg.MaxUnitSize.Int64(),
		}, metrics.NewFetchMetrics())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create s3 source: %w", err)
		}
		return source.NewRemote(f, cfg.MaxUnitSize.Int64()), f, nil

	default:
		return nil, nil, fmt.Errorf("unknown source type: %q", cfg.Type)
	}
}

// NewRuntime builds the source, the manifest wiring and the manager. The
// manager is created but not started.
func NewRuntime(ctx context.Context, cfg *Config) (*Runtime, error) {
	ConfigurePools(cfg.Pool)

	src, fetcher, err := NewSource(ctx, &cfg.Source)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{cfg: cfg, source: src, fetcher: fetcher}

	opts := lifecycle.Options{
		Source:  src,
		Metrics: metrics.NewLifecycleMetrics(),
	}

	if cfg.IsRemote() {
		opts.Bootstrap = lifecycle.FetcherManifest{Fetcher: fetcher, Key: cfg.Manifest.Key}
		if cfg.Manifest.CacheDir != "" {
			cache, err := manifestbadger.Open(cfg.Manifest.CacheDir)
			if err != nil {
				_ = rt.Close()
				return nil, fmt.Errorf("failed to open manifest cache: %w", err)
			}
			rt.cache = cache
			opts.Cache = cache
		}
	} else {
		mf, err := manifest.Load(cfg.Manifest.Path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Every path falls through to flat lookup until a manifest
			// appears; with watch enabled it is picked up live.
			logger.Warn("Manifest not found, starting empty", logger.KeyPath, cfg.Manifest.Path)
			mf = manifest.New()
		case err != nil:
			_ = rt.Close()
			return nil, fmt.Errorf("failed to load manifest: %w", err)
		}
		opts.Manifest = mf
	}

	rt.Manager = lifecycle.New(cfg.Lifecycle.ToLifecycle(), opts)

	logger.Info("Lifecycle runtime configured",
		logger.KeySource, src.Kind(),
		"instance_id", rt.Manager.ID(),
		"remote_manifest", cfg.IsRemote())
	return rt, nil
}

// WatchManifest reloads a local manifest on change and swaps it in on the
// manager's loop. It blocks until ctx is done and returns nil right away
// when watching is disabled.
func (r *Runtime) WatchManifest(ctx context.Context) error {
	if !r.cfg.Manifest.Watch || r.cfg.IsRemote() {
		return nil
	}
	return manifest.Watch(ctx, r.cfg.Manifest.Path, r.cfg.Manifest.WatchDebounce, func(mf *manifest.Manifest) {
		if err := r.Manager.Do(ctx, func() { r.Manager.SetManifest(mf) }); err != nil {
			logger.Warn("Manifest reload dropped", logger.KeyError, err)
			return
		}
		logger.Info("Manifest reloaded", logger.KeyPath, r.cfg.Manifest.Path, "units", len(mf.UnitNames()))
	})
}

// Close releases what the runtime opened besides the manager. The manager
// itself is closed through Manager.Close on its loop.
func (r *Runtime) Close() error {
	var errs []error
	if r.cache != nil {
		errs = append(errs, r.cache.Close())
	}
	if r.fetcher != nil {
		errs = append(errs, r.fetcher.Close())
	}
	if c, ok := r.source.(interface{ Close() error }); ok && r.fetcher == nil {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
