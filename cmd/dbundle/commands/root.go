// Package commands implements the dbundle CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/dittobundle/cmd/dbundle/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile   string
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "dbundle",
	Short: "dbundle - content unit lifecycle manager",
	Long: `dbundle loads named assets out of packed content units, tracks who
references them and unloads units once nothing does.

"dbundle run" starts a manager with an HTTP API; the status, units and asset
commands talk to a running instance; inspect reads unit and manifest files
offline.

Use "dbundle [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once by main.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for tests.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/dittobundle/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "API address of a running dbundle")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(unitsCmd)
	rootCmd.AddCommand(assetCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the --config value.
func GetConfigFile() string {
	return cfgFile
}
