// Command awesome-search serves full-text search over an awesome-list
// dataset and offers offline build and inspection of index artifacts.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/logger"
)

// version is set at link time with -ldflags "-X main.version=...".
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "awesome-search",
	Short:         "Search and rank repositories from curated awesome lists",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd, buildCmd, inspectCmd, loadtestCmd)
}

// loadConfig reads the config named by --config and installs the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "awesome-search: %v\n", err)
		os.Exit(1)
	}
}
