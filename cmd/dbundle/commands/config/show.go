package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/dittobundle/internal/cli/output"
	"github.com/marmos91/dittobundle/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display the configuration after defaults and DBUNDLE_* environment
overrides are applied.

Examples:
  dbundle config show
  dbundle config show --output json`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(configPath(cmd))
	if err != nil {
		return err
	}
	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	if cfg.Source.S3.SecretAccessKey != "" {
		cfg.Source.S3.SecretAccessKey = "********"
	}

	if format == output.FormatJSON {
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	}
	return output.PrintYAML(cmd.OutOrStdout(), cfg)
}
