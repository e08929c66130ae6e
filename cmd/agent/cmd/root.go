// Package cmd provides the CLI commands for the scale-down agent.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/softcane/scaledown-agent/internal/config"
)

var (
	// Global flags
	dryRun  bool
	verbose bool
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "agent",
	Short: "Scale-down agent - remove persistently idle scale set nodes",
	Long: `The scale-down agent inspects per-node CPU and disk utilization over a
lookback window and removes nodes that are idle on both, while never shrinking
the scale set below its configured minimum and never re-submitting removals for
nodes that are already starting, stopping or gone.

Invocation settings (scale set, thresholds, minimum nodes, startup delay) are
read from the environment on every run; see SCALEDOWN_* variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", true,
		"Shadow mode: log removals without executing them (default: true, set --dry-run=false for active mode)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable verbose logging output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"Path to configuration file (default: built-in defaults)")
}

// setupLogging configures structured JSON logging using slog.
func setupLogging() error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if dryRun {
		slog.Info(
			"dry-run mode enabled",
			"action", "node removals are simulated; fleet listing and metric queries still run",
		)
	}

	return nil
}

// IsDryRun returns whether dry-run mode is enabled.
func IsDryRun() bool {
	return dryRun
}

// loadConfig reads --config, or returns the defaults when it is unset.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default(), nil
	}
	return config.Load(cfgFile)
}
