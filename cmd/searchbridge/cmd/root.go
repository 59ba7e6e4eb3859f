// Package cmd provides the CLI commands for searchbridge.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/searchbridge/searchbridge/internal/config"
	"github.com/searchbridge/searchbridge/internal/logging"
	"github.com/searchbridge/searchbridge/pkg/version"
)

var configPath string

// NewRootCmd creates the root command for the searchbridge CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "searchbridge",
		Short: "Webhook-to-search bridge for crawled web content",
		Long: `searchbridge receives crawler webhooks, indexes page content into a
vector store and a BM25 index, and serves hybrid search over both.

Run 'searchbridge serve' for the API server and 'searchbridge worker'
for the indexing worker. Both read the same configuration.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("searchbridge version {{.Version}}\n")
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig loads configuration and installs the process logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	return cfg, nil
}
