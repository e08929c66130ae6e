// Package controller implements the scale-down control loop.
// Each invocation resolves the OS metric profile, selects nodes idle on both
// CPU and disk, trims them to the minimum-node floor and removes the rest.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/softcane/scaledown-agent/internal/config"
	"github.com/softcane/scaledown-agent/internal/fleet"
	"github.com/softcane/scaledown-agent/internal/metrics"
)

// StoreFactory opens the metric store for one invocation.
type StoreFactory func(ctx context.Context, settings config.Settings) (metrics.Store, error)

// SettingsFunc loads the invocation settings. On error it may still return
// the fields it could parse.
type SettingsFunc func() (config.Settings, error)

// Config holds controller configuration.
type Config struct {
	Fleet    fleet.Fleet
	Stores   StoreFactory
	Settings SettingsFunc
	// Lock guards against overlapping invocations. Defaults to a LocalLock.
	Lock   Locker
	Logger *slog.Logger

	ReconcileInterval time.Duration
	// SweepInterval of zero disables the periodic sweep.
	SweepInterval time.Duration
	// InvocationTimeout bounds one RunOnce or Sweep. Zero means no bound.
	InvocationTimeout     time.Duration
	MaxConcurrentRemovals int

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Controller runs the scale-down pipeline.
type Controller struct {
	mu       sync.Mutex
	fleet    fleet.Fleet
	stores   StoreFactory
	settings SettingsFunc
	lock     Locker
	exec     *Executor
	logger   *slog.Logger
	now      func() time.Time

	reconcileInterval time.Duration
	sweepInterval     time.Duration
	timeout           time.Duration

	running bool
	stopCh  chan struct{}
}

// New creates a new Controller instance.
func New(cfg Config) (*Controller, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Fleet == nil {
		return nil, fmt.Errorf("fleet is required")
	}
	if cfg.Stores == nil {
		return nil, fmt.Errorf("metric store factory is required")
	}
	if cfg.Settings == nil {
		return nil, fmt.Errorf("settings loader is required")
	}
	if cfg.ReconcileInterval != 0 && cfg.ReconcileInterval < 10*time.Second {
		return nil, fmt.Errorf("reconcileInterval must be >= 10s")
	}
	if cfg.SweepInterval < 0 {
		return nil, fmt.Errorf("sweepInterval must be >= 0")
	}
	if cfg.MaxConcurrentRemovals < 0 {
		return nil, fmt.Errorf("maxConcurrentRemovals must be >= 0")
	}

	lock := cfg.Lock
	if lock == nil {
		lock = NewLocalLock()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	interval := cfg.ReconcileInterval
	if interval == 0 {
		interval = 5 * time.Minute
	}

	return &Controller{
		fleet:    cfg.Fleet,
		stores:   cfg.Stores,
		settings: cfg.Settings,
		lock:     lock,
		exec: NewExecutor(ExecutorConfig{
			Fleet:         cfg.Fleet,
			Logger:        logger,
			MaxConcurrent: cfg.MaxConcurrentRemovals,
		}),
		logger:            logger,
		now:               now,
		reconcileInterval: interval,
		sweepInterval:     cfg.SweepInterval,
		timeout:           cfg.InvocationTimeout,
		stopCh:            make(chan struct{}),
	}, nil
}

// IsDryRun reports whether removals are simulated by the wrapped fleet.
func (c *Controller) IsDryRun() bool {
	d, ok := c.fleet.(interface{ IsDryRun() bool })
	return ok && d.IsDryRun()
}

// Start begins the controller's main loop. It runs one invocation
// immediately, then one per reconcile interval, plus the sweep on its own
// interval when enabled.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.mu.Unlock()

	c.logger.Info("controller starting",
		"reconcile_interval", c.reconcileInterval,
		"sweep_interval", c.sweepInterval,
		"invocation_timeout", c.timeout,
		"dry_run", c.IsDryRun(),
	)

	ticker := time.NewTicker(c.reconcileInterval)
	defer ticker.Stop()

	var sweepC <-chan time.Time
	if c.sweepInterval > 0 {
		sweepTicker := time.NewTicker(c.sweepInterval)
		defer sweepTicker.Stop()
		sweepC = sweepTicker.C
	}

	c.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("controller stopped by context")
			return ctx.Err()
		case <-c.stopCh:
			c.logger.Info("controller stopped")
			return nil
		case <-ticker.C:
			c.runAndLog(ctx)
		case <-sweepC:
			report, err := c.Sweep(ctx)
			if err != nil {
				c.logger.Error("sweep failed", "error", err)
				continue
			}
			c.logger.Info(report.Message())
		}
	}
}

func (c *Controller) runAndLog(ctx context.Context) {
	report, err := c.RunOnce(ctx)
	if err != nil {
		c.logger.Error("scale-down run failed", "error", err)
		return
	}
	c.logger.Info(report.Message(), "outcome", report.Outcome)
}

// Stop stops the controller.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		close(c.stopCh)
		c.running = false
	}
}

func (c *Controller) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

// RunOnce executes one scale-down invocation. Configuration problems, the
// startup delay and an overlapping run produce a Report with no side
// effects. Fleet and metric-store failures abort the run with an error.
func (c *Controller) RunOnce(ctx context.Context) (Report, error) {
	start := c.now()
	report, err := c.runOnce(ctx, start)

	outcome := string(report.Outcome)
	if err != nil {
		outcome = "error"
	}
	metrics.RecordRun(outcome, len(report.Candidates), c.now().Sub(start))
	return report, err
}

func (c *Controller) runOnce(ctx context.Context, now time.Time) (Report, error) {
	dryRun := c.IsDryRun()

	settings, err := c.settings()
	if err != nil {
		c.logger.Warn("not all init params are set", "error", err)
		return Report{
			Outcome:    OutcomeMissingConfig,
			ScaleSetID: settings.ScaleSetID,
			DryRun:     dryRun,
			Removed:    []string{},
			Detail:     err.Error(),
		}, nil
	}

	report := Report{ScaleSetID: settings.ScaleSetID, DryRun: dryRun, Removed: []string{}}
	logger := c.logger.With("scale_set", settings.ScaleSetID)

	if settings.TooEarly(now) {
		logger.Info("startup delay not elapsed",
			"created_at", settings.CreatedAt,
			"startup_delay", settings.StartupDelay,
		)
		report.Outcome = OutcomeTooEarly
		report.StartupDelay = settings.StartupDelay
		return report, nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	release, ok, err := c.lock.TryLock(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		logger.Info("another run holds the lock, skipping")
		report.Outcome = OutcomeInProgress
		return report, nil
	}
	defer release()

	nodes, err := c.fleet.ListNodes(ctx, settings.ScaleSetID)
	if err != nil {
		return report, fmt.Errorf("failed to list nodes: %w", err)
	}
	profile := ResolveProfile(nodes)
	report.Profile = profile.Name

	store, err := c.stores(ctx, settings)
	if err != nil {
		return report, fmt.Errorf("failed to open metric store: %w", err)
	}
	defer store.Close()

	since := now.Add(-settings.LookbackWindow)
	samples, err := store.Query(ctx, settings.ScaleSetID, profile.Counters(), since)
	if err != nil {
		return report, fmt.Errorf("failed to query metrics: %w", err)
	}

	sel := SelectCandidates(samples, Thresholds{CPU: settings.CPUThreshold, Disk: settings.DiskThreshold}, profile)
	report.Candidates = sel.Candidates
	logger.Info("candidate selection complete",
		"profile", profile.Name,
		"samples", len(samples),
		"cpu_idle", len(sel.CPUIdle),
		"disk_idle", len(sel.DiskIdle),
		"candidates", len(sel.Candidates),
	)
	if len(sel.Candidates) == 0 {
		logger.Info("all instances are busy")
		report.Outcome = OutcomeAllBusy
		return report, nil
	}

	// Act on a fresh snapshot, not the one used for profile resolution.
	fresh, err := c.fleet.ListNodes(ctx, settings.ScaleSetID)
	if err != nil {
		return report, fmt.Errorf("failed to refresh nodes: %w", err)
	}

	// Candidates already stopping or gone must not use up the removal budget.
	eligible, skipped, missing := RemovableCandidates(sel.Candidates, fresh, profile)
	for id, state := range skipped {
		logger.Info("skipping node in transitional state", "node", id, "power_state", state.String())
		metrics.SkippedTotal.WithLabelValues(state.String()).Inc()
	}
	if len(missing) > 0 {
		logger.Warn("candidates not present in fleet snapshot", "nodes", missing)
	}
	report.Skipped = sortedKeys(skipped)
	report.Missing = missing
	if len(eligible) == 0 {
		report.Outcome = OutcomeInFlight
		return report, nil
	}

	live := LiveNodeCount(fresh)
	decision := EnforceMinNodes(eligible, live, settings.MinNodes)
	report.Targets = decision.Targets
	report.Kept = decision.Kept
	if len(decision.Kept) > 0 {
		logger.Info("minimum node floor retained candidates",
			"live_nodes", live,
			"min_nodes", settings.MinNodes,
			"kept", decision.Kept,
		)
	}
	if len(decision.Targets) == 0 {
		report.Outcome = OutcomeAtMinimum
		return report, nil
	}

	res := c.exec.Execute(ctx, settings.ScaleSetID, decision.Targets, fresh, profile)
	report.Outcome = OutcomeRemoved
	report.Removed = res.Submitted
	for id, state := range res.Skipped {
		skipped[id] = state
	}
	report.Skipped = sortedKeys(skipped)
	report.Missing = mergeSorted(missing, res.Missing)
	report.Failed = sortedKeys(res.Failed)
	return report, nil
}

// Sweep removes every member that is stopped or deallocated, independent of
// metrics, the minimum-node floor and the startup delay. Only the scale set
// ID is required.
func (c *Controller) Sweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{DryRun: c.IsDryRun(), Removed: []string{}}

	settings, err := c.settings()
	if settings.ScaleSetID == "" {
		if err == nil {
			err = errors.New("scale set ID is empty")
		}
		c.logger.Warn("sweep skipped: scale set ID is not set", "error", err)
		report.Detail = "not all init params are set: scale set ID is required"
		return report, nil
	}
	report.ScaleSetID = settings.ScaleSetID
	logger := c.logger.With("scale_set", settings.ScaleSetID)

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	nodes, err := c.fleet.ListNodes(ctx, settings.ScaleSetID)
	if err != nil {
		return report, fmt.Errorf("failed to list nodes: %w", err)
	}

	var stopped []fleet.Node
	for _, n := range nodes {
		if n.PowerState == fleet.PowerStateStopped || n.PowerState == fleet.PowerStateDeallocated {
			stopped = append(stopped, n)
		}
	}
	if len(stopped) == 0 {
		logger.Debug("no stopped nodes to sweep")
		return report, nil
	}

	submitted, failed := c.exec.RemoveAll(ctx, settings.ScaleSetID, stopped)
	metrics.SweepRemovedTotal.Add(float64(len(submitted)))
	report.Removed = submitted
	report.Failed = sortedKeys(failed)
	return report, nil
}

func mergeSorted(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	return dedupeSorted(append(append([]string{}, a...), b...))
}

func sortedKeys[V any](m map[string]V) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
