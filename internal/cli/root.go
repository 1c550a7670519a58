package cli

import (
	"fmt"
	"os"

	"github.com/rileyhilliard/gpustat/internal/config"
	"github.com/rileyhilliard/gpustat/internal/logger"
	"github.com/rileyhilliard/gpustat/internal/ui"
	"github.com/spf13/cobra"
)

// Global flags
var (
	cfgFile string
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "gpustat",
	Short: "Collect and watch GPU telemetry from remote hosts over SSH",
	Long: `gpustat polls nvidia-smi on a fleet of hosts over SSH, stores the samples
locally and shows them in a live terminal dashboard.

Examples:
  gpustat init
  gpustat check
  gpustat run
  gpustat query --host gpu1 --since 6h`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor || os.Getenv("NO_COLOR") != "" {
			ui.DisableColors()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.DefaultConfigFile, "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// logConfig applies --verbose on top of the configured log settings.
func logConfig(cfg logger.Config) logger.Config {
	if verbose {
		cfg.Level = "debug"
	}
	return cfg
}
