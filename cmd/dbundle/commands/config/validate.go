package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittobundle/internal/cli/output"
	"github.com/marmos91/dittobundle/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the dbundle configuration file.

Checks for syntax errors, missing required fields and invalid values, then
prints a summary and any warnings.

Examples:
  dbundle config validate
  dbundle config validate --config /etc/dittobundle/config.yaml`,
	RunE: runConfigValidate,
}

// warnings returns non-fatal findings about a valid configuration.
func warnings(cfg *config.Config) []string {
	var out []string
	switch cfg.Source.Type {
	case "fs":
		if _, err := os.Stat(cfg.Source.FS.Root); err != nil && !cfg.Source.FS.CreateDir {
			out = append(out, fmt.Sprintf("Source root %s does not exist and create_dir is off", cfg.Source.FS.Root))
		}
		if _, err := os.Stat(cfg.Manifest.Path); err != nil {
			out = append(out, fmt.Sprintf("Manifest %s not found; every path will resolve through flat lookup", cfg.Manifest.Path))
		}
	case "s3":
		if cfg.IsRemote() && cfg.Manifest.CacheDir == "" {
			out = append(out, "No manifest cache_dir: the manager cannot start while the bucket is unreachable")
		}
	}
	if !cfg.API.IsEnabled() && cfg.Metrics.Enabled {
		out = append(out, "Metrics are enabled but the API (which serves /metrics) is disabled")
	}
	return out
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)
	cfg, err := config.MustLoad(path)
	if err != nil {
		return err
	}
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	p := output.NewPrinter(cmd.OutOrStdout(), output.FormatTable)
	p.Printf("Configuration file: %s\n", path)
	p.Success("Validation: OK")

	if ws := warnings(cfg); len(ws) > 0 {
		p.Println()
		for _, w := range ws {
			p.Warning("  - " + w)
		}
	}

	manifest := cfg.Manifest.Path
	if cfg.IsRemote() {
		manifest = cfg.Source.S3.Bucket + "/" + cfg.Source.S3.KeyPrefix + cfg.Manifest.Key + " (remote)"
	}
	p.Println("\nConfiguration summary:")
	return output.KeyValues(p.Writer(), [][2]string{
		{"  Source", cfg.Source.Type},
		{"  Manifest", manifest},
		{"  Max unit size", cfg.Source.MaxUnitSize.String()},
		{"  API", apiSummary(cfg)},
		{"  Log level", cfg.Logging.Level},
	})
}

func apiSummary(cfg *config.Config) string {
	if !cfg.API.IsEnabled() {
		return "disabled"
	}
	return fmt.Sprintf("port %d", cfg.API.Port)
}
