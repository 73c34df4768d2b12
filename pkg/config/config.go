package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/dittobundle/internal/bytesize"
	"github.com/marmos91/dittobundle/pkg/api"
)

// Config represents the dittobundle configuration.
//
// This structure captures everything the daemon needs to start a lifecycle
// manager:
//   - Logging configuration
//   - Telemetry/tracing and profiling configuration
//   - Metrics and the HTTP API
//   - The content source units are opened from
//   - Where the manifest comes from
//   - Lifecycle timers and throttles
//   - Buffer pool size classes
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DBUNDLE_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics controls Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API configures the HTTP API server
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// Source selects the storage backend units are opened from
	Source SourceConfig `mapstructure:"source" yaml:"source"`

	// Manifest says where the unit manifest comes from
	Manifest ManifestConfig `mapstructure:"manifest" yaml:"manifest"`

	// Lifecycle tunes the manager's timers and throttles
	Lifecycle LifecycleConfig `mapstructure:"lifecycle" yaml:"lifecycle"`

	// Pool overrides the buffer pool size classes
	Pool PoolConfig `mapstructure:"pool" yaml:"pool"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// Unit opens and asset loads become spans when enabled.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig controls Prometheus metrics. When enabled the registry is
// created at startup and served on the API's /metrics route.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// SourceConfig selects where packed units are read from.
type SourceConfig struct {
	// Type is the backend: "fs" (local directory) or "s3" (remote bucket)
	Type string `mapstructure:"type" validate:"required,oneof=fs s3" yaml:"type"`

	// MaxUnitSize rejects units larger than this. Supports "256Mi", "1GB".
	// Default: 256Mi
	MaxUnitSize bytesize.ByteSize `mapstructure:"max_unit_size" yaml:"max_unit_size"`

	// FS configures the local directory backend
	FS FSSourceConfig `mapstructure:"fs" yaml:"fs"`

	// S3 configures the remote backend
	S3 S3SourceConfig `mapstructure:"s3" yaml:"s3"`
}

// FSSourceConfig configures a directory of packed units.
type FSSourceConfig struct {
	// Root is the directory holding <unit>.pack files
	Root string `mapstructure:"root" yaml:"root"`

	// CreateDir creates Root when missing
	CreateDir bool `mapstructure:"create_dir" yaml:"create_dir"`
}

// S3SourceConfig configures an S3 bucket of packed units.
type S3SourceConfig struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`

	// Static credentials. Empty uses the default AWS credential chain.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`

	// ForcePathStyle is required for Localstack and MinIO
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// ManifestConfig says where the unit manifest comes from.
//
// With an fs source the manifest is a local file (Path, defaulting to
// manifest.yaml inside the source root) and can be watched for changes.
// With an s3 source the manager bootstraps: the manifest is fetched from
// Key, and the last good copy is kept in CacheDir for outages.
type ManifestConfig struct {
	// Path is a local manifest file
	Path string `mapstructure:"path" yaml:"path,omitempty"`

	// Key is the remote object key of the manifest
	// Default: "manifest.yaml"
	Key string `mapstructure:"key" yaml:"key"`

	// Watch reloads a local manifest when the file changes
	Watch bool `mapstructure:"watch" yaml:"watch"`

	// WatchDebounce coalesces bursts of file events
	// Default: 500ms
	WatchDebounce time.Duration `mapstructure:"watch_debounce" yaml:"watch_debounce"`

	// CacheDir is a badger directory holding the last bootstrapped
	// manifest. Empty disables the fallback.
	CacheDir string `mapstructure:"cache_dir" yaml:"cache_dir,omitempty"`
}

// LifecycleConfig tunes the lifecycle manager. Zero values take the
// manager's defaults; a negative duration disables the timer.
type LifecycleConfig struct {
	// UnloadRate is units unloaded per tick. Default: 1
	UnloadRate float64 `mapstructure:"unload_rate" validate:"gte=0" yaml:"unload_rate"`

	// UnloadDelay is the debounce before unreferenced units are queued. Default: 2s
	UnloadDelay time.Duration `mapstructure:"unload_delay" yaml:"unload_delay"`

	// SweepDelay is the debounce before flat storage is swept. Default: 5s
	SweepDelay time.Duration `mapstructure:"sweep_delay" yaml:"sweep_delay"`

	// OrphanThreshold is the minimum orphan count worth a sweep. Default: 16
	OrphanThreshold int `mapstructure:"orphan_threshold" validate:"gte=0" yaml:"orphan_threshold"`

	// ProbeInterval paces orphan probes and bootstrap retries. Default: 10s
	ProbeInterval time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`

	// IdleTimeout prunes bookkeeping of idle units. Default: 60s
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// MaxRetries is the attempt cap for network failures. Default: 3
	MaxRetries int `mapstructure:"max_retries" validate:"gte=0,lte=100" yaml:"max_retries"`

	// RetryBackoff is the base delay between attempts. Default: 250ms
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`

	// Workers is the number of I/O workers. Default: 4
	Workers int `mapstructure:"workers" validate:"gte=0,lte=256" yaml:"workers"`

	// QueueSize bounds pending I/O jobs. Default: 1024
	QueueSize int `mapstructure:"queue_size" validate:"gte=0" yaml:"queue_size"`

	// TickInterval paces the manager loop. Default: 16ms
	TickInterval time.Duration `mapstructure:"tick_interval" validate:"gte=0" yaml:"tick_interval"`
}

// PoolConfig overrides the buffer pool size classes. Zero keeps the
// built-in class.
type PoolConfig struct {
	SmallSize  bytesize.ByteSize `mapstructure:"small_size" yaml:"small_size,omitempty"`
	MediumSize bytesize.ByteSize `mapstructure:"medium_size" yaml:"medium_size,omitempty"`
	LargeSize  bytesize.ByteSize `mapstructure:"large_size" yaml:"large_size,omitempty"`
}

// IsRemote reports whether the manager bootstraps its manifest remotely.
func (c *Config) IsRemote() bool {
	return c.Source.Type == "s3" && c.Manifest.Path == ""
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DBUNDLE_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath uses the default location. A missing file is not an
// error: the default configuration is returned.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  dbundle config init\n\n"+
				"Or specify a custom config file:\n"+
				"  dbundle <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  dbundle config init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file may carry S3 credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// DBUNDLE_LOGGING_LEVEL=DEBUG overrides logging.level
	v.SetEnvPrefix("DBUNDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize, so
// config files can say "256Mi" or "1GB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "30s" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Raw integers are nanoseconds
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittobundle")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittobundle")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
