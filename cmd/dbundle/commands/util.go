package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittobundle/internal/cli/output"
	"github.com/marmos91/dittobundle/internal/logger"
	"github.com/marmos91/dittobundle/pkg/apiclient"
	"github.com/marmos91/dittobundle/pkg/config"
	"github.com/marmos91/dittobundle/pkg/source"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// assetRef is a "path" or "path@type" argument.
type assetRef struct {
	Path string
	Type source.Type
}

func parseAssetRef(s string) (assetRef, error) {
	s = strings.TrimSpace(s)
	path, typ, _ := strings.Cut(s, "@")
	if path == "" {
		return assetRef{}, fmt.Errorf("invalid asset %q: empty path", s)
	}
	return assetRef{Path: path, Type: source.Type(typ)}, nil
}

// newClient builds an API client for --server.
func newClient(timeout time.Duration) *apiclient.Client {
	c := apiclient.New(serverURL)
	if timeout > 0 {
		c = c.WithTimeout(timeout)
	}
	return c
}

// addOutputFlag registers -o/--output on cmd, bound to dst.
func addOutputFlag(cmd *cobra.Command, dst *string) {
	cmd.Flags().StringVarP(dst, "output", "o", "table", "Output format (table|json|yaml)")
}

func newPrinter(cmd *cobra.Command, format string) (*output.Printer, error) {
	f, err := output.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(cmd.OutOrStdout(), f), nil
}
