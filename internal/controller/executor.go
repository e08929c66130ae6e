package controller

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/softcane/scaledown-agent/internal/fleet"
	"github.com/softcane/scaledown-agent/internal/metrics"
)

// ExecutorConfig contains configuration for the removal executor.
type ExecutorConfig struct {
	Fleet  fleet.Fleet
	Logger *slog.Logger
	// MaxConcurrent bounds in-flight removals. Zero means unbounded.
	MaxConcurrent int
}

// Executor submits node removals against a fresh fleet snapshot.
type Executor struct {
	fleet  fleet.Fleet
	logger *slog.Logger
	limit  int
}

// ExecutionResult reports what happened to each target.
type ExecutionResult struct {
	// Submitted are the identities whose removal the provider accepted, sorted.
	Submitted []string
	// Skipped maps identities to the power state that made them ineligible.
	Skipped map[string]fleet.PowerState
	// Failed maps identities to the provider error message.
	Failed map[string]string
	// Missing are targets absent from the snapshot, sorted.
	Missing []string
}

// NewExecutor creates a new removal executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		fleet:  cfg.Fleet,
		logger: logger,
		limit:  cfg.MaxConcurrent,
	}
}

// removable reports whether a removal may be issued for a node in state s.
// Transitional and unclassified states are never acted on.
func removable(s fleet.PowerState) bool {
	return s == fleet.PowerStateRunning || s == fleet.PowerStateStopped
}

// Execute removes every node in the snapshot whose identity is in targets.
// Removals run concurrently and Execute returns only after all of them have
// finished. A failed removal is logged and recorded; it does not stop the rest.
func (e *Executor) Execute(ctx context.Context, scaleSetID string, targets []string, nodes []fleet.Node, profile MetricProfile) ExecutionResult {
	result := ExecutionResult{
		Submitted: []string{},
		Skipped:   map[string]fleet.PowerState{},
		Failed:    map[string]string{},
		Missing:   []string{},
	}

	wanted := make(map[string]bool, len(targets))
	for _, id := range targets {
		wanted[id] = false
	}

	var eligible []fleet.Node
	var names []string
	for _, n := range nodes {
		id := profile.NodeIdentity(n)
		if _, ok := wanted[id]; !ok {
			continue
		}
		wanted[id] = true

		if !removable(n.PowerState) {
			e.logger.Info("skipping node in transitional state",
				"scale_set", scaleSetID,
				"node", id,
				"power_state", n.PowerState.String(),
			)
			result.Skipped[id] = n.PowerState
			metrics.SkippedTotal.WithLabelValues(n.PowerState.String()).Inc()
			continue
		}
		eligible = append(eligible, n)
		names = append(names, id)
	}

	for id, found := range wanted {
		if !found {
			e.logger.Warn("target not present in fleet snapshot", "scale_set", scaleSetID, "node", id)
			result.Missing = append(result.Missing, id)
		}
	}
	sort.Strings(result.Missing)

	result.Submitted, result.Failed = e.fanOut(ctx, scaleSetID, eligible, names)
	return result
}

// RemoveAll removes every given node without any state check. Names are the
// node IDs.
func (e *Executor) RemoveAll(ctx context.Context, scaleSetID string, nodes []fleet.Node) (submitted []string, failed map[string]string) {
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.ID
	}
	return e.fanOut(ctx, scaleSetID, nodes, names)
}

// fanOut issues one RemoveNode per node and joins on all of them. Each task
// owns one slot of errs; results are merged after Wait.
func (e *Executor) fanOut(ctx context.Context, scaleSetID string, nodes []fleet.Node, names []string) ([]string, map[string]string) {
	errs := make([]error, len(nodes))

	var g errgroup.Group
	if e.limit > 0 {
		g.SetLimit(e.limit)
	}
	for i, n := range nodes {
		g.Go(func() error {
			errs[i] = e.fleet.RemoveNode(ctx, scaleSetID, n.ID)
			return nil
		})
	}
	_ = g.Wait()

	submitted := []string{}
	failed := map[string]string{}
	for i, err := range errs {
		if err != nil {
			e.logger.Error("failed to remove node",
				"scale_set", scaleSetID,
				"node", names[i],
				"node_id", nodes[i].ID,
				"error", err,
			)
			failed[names[i]] = err.Error()
			continue
		}
		e.logger.Info("removal submitted",
			"scale_set", scaleSetID,
			"node", names[i],
			"node_id", nodes[i].ID,
		)
		submitted = append(submitted, names[i])
	}
	sort.Strings(submitted)
	metrics.RecordRemovals(len(submitted), len(failed))
	return submitted, failed
}
