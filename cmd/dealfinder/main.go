package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/steveyegge/dealfinder/internal/config"
	"github.com/steveyegge/dealfinder/internal/logging"
)

// Version is set at build time.
var Version = "dev"

var (
	configPath string
	dataDir    string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dealfinder",
	Short: "Find and deduplicate biopharma deal announcements",
	Long: `dealfinder crawls press wires and news feeds for biopharma deal announcements,
extracts each deal, and keeps one canonical record per deal across outlets and runs.

A run repeats discovery cycles until several cycles in a row add no new deal.
Processed URLs are ledgered so later runs only look at new articles.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(".env"); err != nil {
			return err
		}
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if dataDir != "" {
			loaded.Storage.DataDir = dataDir
		}
		if logLevel != "" {
			loaded.Logging.Level = logLevel
		}
		l, err := logging.New(loaded.Logging)
		if err != nil {
			return err
		}
		cfg, logger = loaded, l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultFileName, "Config file (missing file means defaults)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override storage.data_dir")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	rootCmd.Version = Version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
