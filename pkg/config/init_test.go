package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestInitConfig_Success(t *testing.T) {
	// XDG_CONFIG_HOME rather than HOME: os.UserHomeDir reads USERPROFILE on
	// Windows.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(content, &raw); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}
	for _, section := range []string{"logging", "telemetry", "api", "source", "manifest", "lifecycle"} {
		if _, ok := raw[section]; !ok {
			t.Errorf("Expected section %q in generated config", section)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Generated config does not load: %v", err)
	}
	if !strings.HasPrefix(cfg.Source.FS.Root, os.Getenv("XDG_STATE_HOME")) {
		t.Errorf("Expected fs root under XDG_STATE_HOME, got %q", cfg.Source.FS.Root)
	}
}

func TestInitConfig_RefusesOverwrite(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}

	_, err := InitConfig(false)
	if err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected 'already exists' error, got: %v", err)
	}

	if _, err := InitConfig(true); err != nil {
		t.Errorf("Expected force to overwrite, got: %v", err)
	}
}

func TestWriteConfig_RejectsInvalid(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Source.Type = "s3"
	cfg.Manifest.Path = ""

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteConfig(cfg, path, false); err == nil {
		t.Fatal("Expected invalid config to be rejected")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected no file written for an invalid config")
	}
}
