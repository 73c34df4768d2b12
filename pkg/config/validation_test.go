package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "InvalidLogLevel",
			mutate:  func(c *Config) { c.Logging.Level = "INVALID" },
			wantErr: "oneof",
		},
		{
			name:    "InvalidLogFormat",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "oneof",
		},
		{
			name:    "APIPortOutOfRange",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "max",
		},
		{
			name:    "NegativeAPIPort",
			mutate:  func(c *Config) { c.API.Port = -1 },
			wantErr: "min",
		},
		{
			name:    "SampleRateAboveOne",
			mutate:  func(c *Config) { c.Telemetry.SampleRate = 1.5 },
			wantErr: "lte",
		},
		{
			name:    "UnknownSourceType",
			mutate:  func(c *Config) { c.Source.Type = "ftp" },
			wantErr: "oneof",
		},
		{
			name:    "NegativeUnloadRate",
			mutate:  func(c *Config) { c.Lifecycle.UnloadRate = -1 },
			wantErr: "gte",
		},
		{
			name:    "ZeroShutdownTimeout",
			mutate:  func(c *Config) { c.ShutdownTimeout = 0 },
			wantErr: "required",
		},
		{
			name:    "FSWithoutRoot",
			mutate:  func(c *Config) { c.Source.FS.Root = "" },
			wantErr: "source.fs.root",
		},
		{
			name: "S3WithoutBucket",
			mutate: func(c *Config) {
				c.Source.Type = "s3"
				c.Manifest.Path = ""
			},
			wantErr: "source.s3.bucket",
		},
		{
			name: "S3HalfCredentials",
			mutate: func(c *Config) {
				c.Source.Type = "s3"
				c.Source.S3.Bucket = "units"
				c.Source.S3.AccessKeyID = "AKIA"
			},
			wantErr: "must be set together",
		},
		{
			name: "WatchWithoutLocalManifest",
			mutate: func(c *Config) {
				c.Manifest.Path = ""
				c.Manifest.Watch = true
			},
			wantErr: "manifest.watch",
		},
		{
			name:    "CacheDirForLocalManifest",
			mutate:  func(c *Config) { c.Manifest.CacheDir = "/var/cache/dbundle" },
			wantErr: "manifest.cache_dir",
		},
		{
			name: "UnknownProfileType",
			mutate: func(c *Config) {
				c.Telemetry.Profiling.ProfileTypes = []string{"cpu", "heap"}
			},
			wantErr: "heap",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_S3Remote(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Source.Type = "s3"
	cfg.Source.S3.Bucket = "units"
	cfg.Manifest.Path = ""
	cfg.Manifest.CacheDir = t.TempDir()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected remote s3 config to be valid, got: %v", err)
	}
}
