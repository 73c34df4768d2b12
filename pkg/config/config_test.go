package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/marmos91/dittobundle/internal/bytesize"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
// On Windows, backslashes in double-quoted YAML strings are interpreted as
// escape sequences (e.g. \U -> Unicode escape), causing parse errors.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	root := t.TempDir()
	configPath := writeConfig(t, `
logging:
  level: "info"

source:
  type: fs
  max_unit_size: 64Mi
  fs:
    root: "`+yamlSafePath(root)+`"

lifecycle:
  unload_delay: 500ms
  orphan_threshold: 4
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected level normalized to 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Source.MaxUnitSize != 64*bytesize.MiB {
		t.Errorf("Expected max_unit_size 64Mi, got %v", cfg.Source.MaxUnitSize)
	}
	if cfg.Lifecycle.UnloadDelay != 500*time.Millisecond {
		t.Errorf("Expected unload_delay 500ms, got %v", cfg.Lifecycle.UnloadDelay)
	}
	if cfg.Lifecycle.OrphanThreshold != 4 {
		t.Errorf("Expected orphan_threshold 4, got %d", cfg.Lifecycle.OrphanThreshold)
	}
	if cfg.Lifecycle.SweepDelay != 5*time.Second {
		t.Errorf("Expected default sweep_delay 5s, got %v", cfg.Lifecycle.SweepDelay)
	}
	if want := filepath.Join(root, "manifest.yaml"); cfg.Manifest.Path != want {
		t.Errorf("Expected manifest path %q, got %q", want, cfg.Manifest.Path)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("Expected API port 8080, got %d", cfg.API.Port)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// A missing file yields the defaults, so the daemon runs without setup.
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}
	if cfg.Source.Type != "fs" {
		t.Errorf("Expected default source type 'fs', got %q", cfg.Source.Type)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `
logging:
  level: INFO
  invalid yaml here [[[
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, `
source:
  type: s3
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for s3 source without bucket")
	}
}

func TestLoad_S3RemoteManifest(t *testing.T) {
	configPath := writeConfig(t, `
source:
  type: s3
  s3:
    bucket: units
    endpoint: http://localhost:4566
    force_path_style: true
manifest:
  key: live/manifest.yaml
  cache_dir: "`+yamlSafePath(t.TempDir())+`"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.IsRemote() {
		t.Error("Expected an s3 source without manifest path to be remote")
	}
	if cfg.Manifest.Key != "live/manifest.yaml" {
		t.Errorf("Expected manifest key to be kept, got %q", cfg.Manifest.Key)
	}
	if cfg.Manifest.Path != "" {
		t.Errorf("Expected no local manifest path for s3, got %q", cfg.Manifest.Path)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	configPath := writeConfig(t, `
logging:
  level: INFO
source:
  fs:
    root: "`+yamlSafePath(t.TempDir())+`"
`)
	t.Setenv("DBUNDLE_LOGGING_LEVEL", "debug")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected env override 'DEBUG', got %q", cfg.Logging.Level)
	}
}

func TestMustLoad_MissingFile(t *testing.T) {
	_, err := MustLoad(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Lifecycle.UnloadRate = 2.5
	cfg.Source.MaxUnitSize = 128 * bytesize.MiB

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Config file not written: %v", err)
	}
	if info.Mode().Perm() != 0600 && runtime.GOOS != "windows" {
		t.Errorf("Expected mode 0600, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to reload saved config: %v", err)
	}
	if loaded.Lifecycle.UnloadRate != 2.5 {
		t.Errorf("Expected unload_rate 2.5, got %v", loaded.Lifecycle.UnloadRate)
	}
	if loaded.Source.MaxUnitSize != 128*bytesize.MiB {
		t.Errorf("Expected max_unit_size 128Mi, got %v", loaded.Source.MaxUnitSize)
	}
	if loaded.Lifecycle.TickInterval != cfg.Lifecycle.TickInterval {
		t.Errorf("Expected tick_interval %v, got %v", cfg.Lifecycle.TickInterval, loaded.Lifecycle.TickInterval)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	path := GetDefaultConfigPath()

	if !filepath.IsAbs(path) {
		t.Errorf("Expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("Expected filename 'config.yaml', got %q", filepath.Base(path))
	}
	if filepath.Base(GetConfigDir()) != "dittobundle" {
		t.Errorf("Expected directory name 'dittobundle', got %q", filepath.Base(GetConfigDir()))
	}
	if DefaultConfigExists() {
		t.Error("Expected no config in a fresh XDG_CONFIG_HOME")
	}
}
