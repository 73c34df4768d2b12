package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittobundle/internal/bytesize"
	"github.com/marmos91/dittobundle/internal/telemetry"
	"github.com/marmos91/dittobundle/pkg/api"
	"github.com/marmos91/dittobundle/pkg/lifecycle"
)

// DefaultMaxUnitSize caps a single packed unit.
const DefaultMaxUnitSize = 256 * bytesize.MiB

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults; explicit values are preserved.
// Negative lifecycle durations are explicit (they disable a timer) and are
// kept as well.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyAPIDefaults(&cfg.API)
	applySourceDefaults(&cfg.Source)
	applyManifestDefaults(&cfg.Manifest, &cfg.Source)
	applyLifecycleDefaults(&cfg.Lifecycle)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = append([]string(nil), telemetry.DefaultProfileTypes...)
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyAPIDefaults(cfg *api.APIConfig) {
	cfg.ApplyDefaults()
}

// applySourceDefaults defaults to a local directory source.
func applySourceDefaults(cfg *SourceConfig) {
	if cfg.Type == "" {
		cfg.Type = "fs"
	}
	if cfg.MaxUnitSize == 0 {
		cfg.MaxUnitSize = DefaultMaxUnitSize
	}
}

// applyManifestDefaults places a local manifest next to the units of an fs
// source.
func applyManifestDefaults(cfg *ManifestConfig, src *SourceConfig) {
	if cfg.Key == "" {
		cfg.Key = lifecycle.DefaultManifestKey
	}
	if cfg.WatchDebounce == 0 {
		cfg.WatchDebounce = 500 * time.Millisecond
	}
	if cfg.Path == "" && src.Type == "fs" && src.FS.Root != "" {
		cfg.Path = filepath.Join(src.FS.Root, cfg.Key)
	}
}

// applyLifecycleDefaults fills zero values from the manager defaults.
func applyLifecycleDefaults(cfg *LifecycleConfig) {
	def := lifecycle.DefaultConfig()
	if cfg.UnloadRate == 0 {
		cfg.UnloadRate = def.UnloadRate
	}
	if cfg.UnloadDelay == 0 {
		cfg.UnloadDelay = def.UnloadDelay
	}
	if cfg.SweepDelay == 0 {
		cfg.SweepDelay = def.SweepDelay
	}
	if cfg.OrphanThreshold == 0 {
		cfg.OrphanThreshold = def.OrphanThreshold
	}
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = def.ProbeInterval
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.Workers == 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = def.TickInterval
	}
}

// GetDefaultConfig returns a Config with all default values applied. The
// source is a units/ directory under the state directory.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Source: SourceConfig{
			Type: "fs",
			FS: FSSourceConfig{
				Root:      filepath.Join(getStateDir(), "units"),
				CreateDir: true,
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
