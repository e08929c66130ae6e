package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/softcane/scaledown-agent/internal/server"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the scale-down control loop",
	Long: `Run starts the agent in controller mode.

The agent will:
1. Resolve the fleet provider (configured or auto-detected)
2. Every reconcile interval, re-read SCALEDOWN_* settings, query CPU and
   disk averages over the lookback window and remove nodes idle on both
3. On its own interval, remove nodes already stopped or deallocated
4. Optionally serve /api/scaledown, /api/sweep, /healthz and /metrics

Use --dry-run to test without removing nodes.`,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting scale-down agent",
		"dry_run", IsDryRun(),
		"version", "0.1.0",
	)

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctrl, rf, err := newController(ctx, cfg, slog.Default(), IsDryRun())
	if err != nil {
		return err
	}
	defer rf.Close()

	slog.Info("agent ready, starting reconciliation loop...",
		"cloud", rf.cloud,
		"provider", cfg.Provider,
		"metrics_backend", cfg.Metrics.Backend,
		"fake_fleet", rf.isFake,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctrl.Start(gctx)
	})
	if cfg.Server.Enabled {
		srv := server.New(server.Config{
			Runner:        ctrl,
			ListenAddress: cfg.Server.ListenAddress,
			Logger:        slog.Default(),
		})
		g.Go(func() error {
			return srv.ListenAndServe(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("controller failure: %w", err)
	}
	return nil
}
