package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/marmos91/dittobundle/internal/cli/prompt"
	"github.com/marmos91/dittobundle/pkg/config"
)

var (
	initForce          bool
	initNonInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file",
	Long: `Create a dbundle configuration file.

On a terminal the command asks where units come from (a local directory or an
S3 bucket), the API port and the log level. Without a terminal, or with
--non-interactive, the defaults are written as-is.

By default the file is created at $XDG_CONFIG_HOME/dittobundle/config.yaml.

Examples:
  dbundle config init
  dbundle config init --non-interactive --config ./dbundle.yaml
  dbundle config init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	initCmd.Flags().BoolVar(&initNonInteractive, "non-interactive", false, "Write defaults without prompting")
}

func interactive() bool {
	if initNonInteractive {
		return false
	}
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	cfg := config.GetDefaultConfig()
	force := initForce

	if interactive() {
		if _, err := os.Stat(path); err == nil && !force {
			ok, err := prompt.Confirm(fmt.Sprintf("%s exists. Overwrite", path), false)
			if err != nil {
				return err
			}
			if !ok {
				return prompt.ErrAborted
			}
			force = true
		}
		if err := askConfig(cfg); err != nil {
			return err
		}
	}

	if err := config.WriteConfig(cfg, path, force); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", path)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	if cfg.Source.Type == "fs" {
		_, _ = fmt.Fprintf(out, "  1. Put packed units and manifest.yaml in %s\n", cfg.Source.FS.Root)
	} else {
		_, _ = fmt.Fprintf(out, "  1. Upload packed units and %s to s3://%s/%s\n", cfg.Manifest.Key, cfg.Source.S3.Bucket, cfg.Source.S3.KeyPrefix)
	}
	_, _ = fmt.Fprintf(out, "  2. Start the manager with: dbundle run --config %s\n", path)
	return nil
}

// askConfig walks the user through the settings that differ between
// deployments. Everything else keeps its default.
func askConfig(cfg *config.Config) error {
	kind, err := prompt.Select("Where are units stored?", []prompt.Option{
		{Label: "Local directory", Value: "fs", Description: "Units and manifest.yaml in one directory, reloaded on change"},
		{Label: "S3 bucket", Value: "s3", Description: "Units fetched on demand; the manifest is bootstrapped at start"},
	})
	if err != nil {
		return err
	}
	cfg.Source.Type = kind
	cfg.Manifest.Path = ""

	switch kind {
	case "fs":
		root, err := prompt.InputRequired("Units directory", cfg.Source.FS.Root)
		if err != nil {
			return err
		}
		cfg.Source.FS.Root = root
		if cfg.Manifest.Watch, err = prompt.Confirm("Reload the manifest when it changes", true); err != nil {
			return err
		}
	case "s3":
		cfg.Source.FS = config.FSSourceConfig{}
		s3 := &cfg.Source.S3
		if s3.Bucket, err = prompt.InputRequired("Bucket", ""); err != nil {
			return err
		}
		if s3.Region, err = prompt.Input("Region", "us-east-1"); err != nil {
			return err
		}
		if s3.Endpoint, err = prompt.Input("Endpoint (empty for AWS)", ""); err != nil {
			return err
		}
		s3.ForcePathStyle = s3.Endpoint != ""
		if s3.KeyPrefix, err = prompt.Input("Key prefix", ""); err != nil {
			return err
		}
		cache, err := prompt.Confirm("Cache the manifest locally for outages", true)
		if err != nil {
			return err
		}
		if cache {
			cfg.Manifest.CacheDir = filepath.Join(config.GetStateDir(), "manifest-cache")
		}
	}

	if cfg.API.Port, err = prompt.InputPort("API port", cfg.API.Port); err != nil {
		return err
	}
	if cfg.Metrics.Enabled, err = prompt.Confirm("Expose Prometheus metrics on /metrics", false); err != nil {
		return err
	}
	level, err := prompt.Select("Log level", []prompt.Option{
		{Label: "INFO", Value: "INFO"},
		{Label: "DEBUG", Value: "DEBUG"},
		{Label: "WARN", Value: "WARN"},
		{Label: "ERROR", Value: "ERROR"},
	})
	if err != nil {
		return err
	}
	cfg.Logging.Level = level

	config.ApplyDefaults(cfg)
	return nil
}
