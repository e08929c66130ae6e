package fleet

import (
	"context"
	"log/slog"
)

// DryRunFleet wraps a real fleet with safety controls. Reads pass through;
// in dry-run mode removals are logged and reported as accepted.
type DryRunFleet struct {
	dryRun bool
	fleet  Fleet
	logger *slog.Logger
}

// DryRunFleetConfig configures the DryRunFleet.
type DryRunFleetConfig struct {
	DryRun bool
	Fleet  Fleet
	Logger *slog.Logger
}

// NewDryRunFleet creates a new safety wrapper for fleet operations.
func NewDryRunFleet(cfg DryRunFleetConfig) *DryRunFleet {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &DryRunFleet{
		dryRun: cfg.DryRun,
		fleet:  cfg.Fleet,
		logger: logger,
	}
}

func (w *DryRunFleet) ListNodes(ctx context.Context, scaleSetID string) ([]Node, error) {
	if w.fleet == nil {
		return nil, ErrNoProvider
	}
	return w.fleet.ListNodes(ctx, scaleSetID)
}

func (w *DryRunFleet) RemoveNode(ctx context.Context, scaleSetID, nodeID string) error {
	w.logger.Info("removal requested",
		"scale_set", scaleSetID,
		"node_id", nodeID,
		"dry_run", w.dryRun,
	)

	if w.dryRun {
		w.logger.Info("dry-run: simulating removal",
			"scale_set", scaleSetID,
			"node_id", nodeID,
			"action", "would_remove_node",
		)
		return nil
	}

	if w.fleet == nil {
		w.logger.Error("no fleet provider configured for live mode")
		return ErrNoProvider
	}

	return w.fleet.RemoveNode(ctx, scaleSetID, nodeID)
}

// IsDryRun returns whether the wrapper is in dry-run mode.
func (w *DryRunFleet) IsDryRun() bool {
	return w.dryRun
}

// Compile-time interface check
var _ Fleet = (*DryRunFleet)(nil)
