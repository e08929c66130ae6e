package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var outputFormat string

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single scale-down invocation and exit",
	Long: `Once performs exactly one scale-down invocation, prints its summary
message and exits. It is meant for cron jobs and manual runs.

Example:
  SCALEDOWN_SCALE_SET_ID=web-asg agent once --dry-run=false
  agent once --output json`,
	RunE: runOnce,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove nodes already stopped or deallocated, then exit",
	Long: `Sweep removes every node of the scale set that is already stopped or
deallocated. It ignores the minimum node floor and the startup delay and
only requires SCALEDOWN_SCALE_SET_ID.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(sweepCmd)

	for _, c := range []*cobra.Command{onceCmd, sweepCmd} {
		c.Flags().StringVar(&outputFormat, "output", "text",
			"Output format: text, json")
	}
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ctrl, rf, err := newController(ctx, cfg, slog.Default(), IsDryRun())
	if err != nil {
		return err
	}
	defer rf.Close()

	report, err := ctrl.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("scale-down run failed: %w", err)
	}
	return writeResult(cmd.OutOrStdout(), report.Message(), report)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ctrl, rf, err := newController(ctx, cfg, slog.Default(), IsDryRun())
	if err != nil {
		return err
	}
	defer rf.Close()

	report, err := ctrl.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	return writeResult(cmd.OutOrStdout(), report.Message(), report)
}

func writeResult(w io.Writer, message string, report any) error {
	if outputFormat == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(struct {
			Message string `json:"message"`
			Report  any    `json:"report"`
		}{message, report})
	}
	_, err := fmt.Fprintln(w, message)
	return err
}
