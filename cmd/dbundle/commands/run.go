package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittobundle/internal/logger"
	"github.com/marmos91/dittobundle/internal/telemetry"
	"github.com/marmos91/dittobundle/pkg/api"
	"github.com/marmos91/dittobundle/pkg/config"
	"github.com/marmos91/dittobundle/pkg/lifecycle"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/dittobundle/pkg/metrics/prometheus"
)

var (
	runPreload []string
	pidFile    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a lifecycle manager with its HTTP API",
	Long: `Run a lifecycle manager in the foreground.

The manager reads units from the configured source (a local directory or an
S3 bucket) and serves the HTTP API until interrupted. On SIGINT/SIGTERM every
asset is released and the manager is closed.

Examples:
  # Run with the default config
  dbundle run

  # Run with a custom config and warm two assets
  dbundle run --config ./dbundle.yaml --preload ui/logo@texture --preload levels/intro

  # Override settings through the environment
  DBUNDLE_LOGGING_LEVEL=DEBUG DBUNDLE_SOURCE_FS_ROOT=./units dbundle run`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVar(&runPreload, "preload", nil, "Asset to load at startup, as path or path@type (repeatable)")
	runCmd.Flags().StringVar(&pidFile, "pid-file", "", "Write the process id to this file")
}

func runRun(cmd *cobra.Command, args []string) error {
	refs := make([]assetRef, 0, len(runPreload))
	for _, p := range runPreload {
		ref, err := parseAssetRef(p)
		if err != nil {
			return err
		}
		refs = append(refs, ref)
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsEnabled := config.InitializeMetrics(cfg)

	rt, err := config.NewRuntime(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("Runtime close error", logger.KeyError, err)
		}
	}()
	m := rt.Manager

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "dittobundle",
		ServiceVersion: Version,
		InstanceID:     m.ID(),
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "dittobundle",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		InstanceID:     m.ID(),
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	}()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	logger.Info("Observability",
		"telemetry", telemetry.IsEnabled(),
		"profiling", telemetry.IsProfilingEnabled(),
		"metrics", metricsEnabled)

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// The manager goroutine. Everything else reaches the manager via Do. It
	// outlives ctx so shutdown can still run on it.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		m.Run(loopCtx)
	}()
	defer func() {
		stopLoop()
		<-loopDone
	}()

	preload(ctx, m, refs)

	errChan := make(chan error, 2)
	if cfg.API.IsEnabled() {
		server := api.NewServer(cfg.API, m)
		go func() {
			if err := server.Start(ctx); err != nil {
				errChan <- err
			}
		}()
	}
	go func() {
		if err := rt.WatchManifest(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("manifest watch failed: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "dbundle %s running (instance %s). Press Ctrl+C to stop.\n", Version, m.ID())

	var runErr error
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown")
	case runErr = <-errChan:
		logger.Error("Server error", logger.KeyError, runErr)
	}

	cancel()
	if err := shutdown(m, cfg); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// preload issues async loads for the --preload assets. Results are only
// logged; the handles stay referenced for the life of the process.
func preload(ctx context.Context, m *lifecycle.Manager, refs []assetRef) {
	for _, ref := range refs {
		err := m.Do(ctx, func() {
			_, err := m.LoadAsync(ctx, ref.Path, ref.Type, func(res lifecycle.Result) {
				switch {
				case res.Err != nil:
					logger.Warn("Preload failed", logger.KeyPath, ref.Path, logger.KeyError, res.Err)
				case res.Missing():
					logger.Warn("Preload found nothing", logger.KeyPath, ref.Path)
				default:
					logger.Info("Preloaded", logger.KeyPath, ref.Path, logger.KeyObjects, len(res.Objects))
				}
			})
			if err != nil {
				logger.Warn("Preload rejected", logger.KeyPath, ref.Path, logger.KeyError, err)
			}
		})
		if err != nil {
			logger.Warn("Preload not issued", logger.KeyPath, ref.Path, logger.KeyError, err)
		}
	}
}

// shutdown releases every asset and closes the manager on its own
// goroutine, bounded by the configured shutdown timeout.
func shutdown(m *lifecycle.Manager, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var closeErr error
	err := m.Do(ctx, func() {
		n := m.UnloadAll()
		logger.Info("Released assets", logger.KeyCount, n)
		closeErr = m.Close()
	})
	if err == nil {
		err = closeErr
	}
	if err != nil {
		logger.Error("Manager shutdown error", logger.KeyError, err)
		return fmt.Errorf("manager shutdown: %w", err)
	}
	logger.Info("Manager stopped gracefully")
	return nil
}
