package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/softcane/scaledown-agent/internal/config"
	"github.com/softcane/scaledown-agent/internal/controller"
)

var (
	samplesOS       string
	samplesLookback time.Duration
	samplesOutput   string
)

var samplesCmd = &cobra.Command{
	Use:   "samples",
	Short: "Show per-node CPU and disk means for the scale set",
	Long: `Fetch CPU and disk counter samples for the configured scale set and
print the per-node means with the idle classification a scale-down run
would make. Nothing is removed.

SCALEDOWN_SCALE_SET_ID is required. Thresholds and the lookback window are
read from the environment when set.

Example:
  agent samples --os linux --lookback 30m
  agent samples --output json`,
	RunE: runSamples,
}

func init() {
	rootCmd.AddCommand(samplesCmd)

	samplesCmd.Flags().StringVar(&samplesOS, "os", "auto",
		"Metric profile: auto (from the first fleet node), linux, windows")
	samplesCmd.Flags().DurationVar(&samplesLookback, "lookback", 0,
		"Lookback window (default: SCALEDOWN_LOOKUP_TIME_IN_MIN, else 30m)")
	samplesCmd.Flags().StringVar(&samplesOutput, "output", "table",
		"Output format: table, json")
}

type nodeSample struct {
	Node     string  `json:"node"`
	CPU      float64 `json:"cpu"`
	Disk     float64 `json:"disk"`
	CPUIdle  bool    `json:"cpu_idle"`
	DiskIdle bool    `json:"disk_idle"`
}

func runSamples(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Partial settings are fine here; only the scale set is mandatory.
	settings, _ := config.SettingsFromEnv(cfg.Metrics.Backend == config.MetricsBackendTable)
	if settings.ScaleSetID == "" {
		return fmt.Errorf("%s is required", config.EnvScaleSetID)
	}

	profile, err := samplesProfile(ctx, cfg, settings.ScaleSetID)
	if err != nil {
		return err
	}

	lookback := samplesLookback
	if lookback <= 0 {
		lookback = settings.LookbackWindow
	}
	if lookback <= 0 {
		lookback = 30 * time.Minute
	}

	store, err := newStoreFactory(cfg, slog.Default())(ctx, settings)
	if err != nil {
		return fmt.Errorf("failed to open metric store: %w", err)
	}
	defer store.Close()

	samples, err := store.Query(ctx, settings.ScaleSetID, profile.Counters(), time.Now().Add(-lookback))
	if err != nil {
		return fmt.Errorf("failed to query samples: %w", err)
	}

	sel := controller.SelectCandidates(samples, controller.Thresholds{
		CPU:  settings.CPUThreshold,
		Disk: settings.DiskThreshold,
	}, profile)
	rows := sampleRows(sel, profile)

	out := cmd.OutOrStdout()
	switch samplesOutput {
	case "json":
		return outputJSON(out, rows)
	default:
		return outputTable(out, rows)
	}
}

func samplesProfile(ctx context.Context, cfg *config.Config, scaleSetID string) (controller.MetricProfile, error) {
	switch samplesOS {
	case "linux":
		return controller.LinuxProfile, nil
	case "windows":
		return controller.WindowsProfile, nil
	case "auto", "":
	default:
		return controller.MetricProfile{}, fmt.Errorf("unsupported --os %q", samplesOS)
	}

	// Listing is read-only, so the dry-run guard stays on.
	rf, err := resolveFleet(ctx, cfg, slog.Default(), true)
	if err != nil {
		return controller.MetricProfile{}, err
	}
	defer rf.Close()

	nodes, err := rf.fleet.ListNodes(ctx, scaleSetID)
	if err != nil {
		return controller.MetricProfile{}, fmt.Errorf("failed to list nodes: %w", err)
	}
	return controller.ResolveProfile(nodes), nil
}

func sampleRows(sel controller.Selection, profile controller.MetricProfile) []nodeSample {
	rows := make([]nodeSample, 0, len(sel.Means))
	for node, means := range sel.Means {
		rows = append(rows, nodeSample{
			Node:     node,
			CPU:      means[profile.CPUCounter],
			Disk:     means[profile.DiskCounter],
			CPUIdle:  slices.Contains(sel.CPUIdle, node),
			DiskIdle: slices.Contains(sel.DiskIdle, node),
		})
	}
	slices.SortFunc(rows, func(a, b nodeSample) int {
		return strings.Compare(a.Node, b.Node)
	})
	return rows
}

func outputJSON(w io.Writer, rows []nodeSample) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rows)
}

func outputTable(w io.Writer, rows []nodeSample) error {
	fmt.Fprintf(w, "%-30s %-10s %-16s %-6s\n",
		"NODE", "CPU%", "DISK B/s", "IDLE")
	fmt.Fprintln(w, "----------------------------------------------------------------")

	for _, r := range rows {
		idle := "-"
		if r.CPUIdle && r.DiskIdle {
			idle = "yes"
		}
		fmt.Fprintf(w, "%-30s %-10.1f %-16.1f %-6s\n", r.Node, r.CPU, r.Disk, idle)
	}

	return nil
}
