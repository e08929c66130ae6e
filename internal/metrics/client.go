// Package metrics provides the performance-counter stores the scale-down loop
// reads from, and the agent's own Prometheus metrics.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// ScaleSetPlaceholder is replaced with the scale set ID in query templates.
const ScaleSetPlaceholder = "$SCALE_SET"

// DefaultQueries maps each known counter to a PromQL range query over
// node_exporter (Linux) and windows_exporter (Windows) series that carry a
// scale_set label.
var DefaultQueries = map[string]string{
	CounterLinuxCPU: `100 - (avg by (host, role_instance) (rate(node_cpu_seconds_total{mode="idle",scale_set="$SCALE_SET"}[5m])) * 100)`,
	CounterLinuxDisk: `sum by (host, role_instance) (rate(node_disk_read_bytes_total{scale_set="$SCALE_SET"}[5m]))` +
		` + sum by (host, role_instance) (rate(node_disk_written_bytes_total{scale_set="$SCALE_SET"}[5m]))`,
	CounterWindowsCPU:  `100 - (avg by (host, role_instance) (rate(windows_cpu_time_total{mode="idle",scale_set="$SCALE_SET"}[5m])) * 100)`,
	CounterWindowsDisk: `sum by (host, role_instance) (rate(windows_physical_disk_read_bytes_total{scale_set="$SCALE_SET"}[5m]))`,
}

// PrometheusStore serves samples from Prometheus range queries.
type PrometheusStore struct {
	api       v1.API
	logger    *slog.Logger
	timeout   time.Duration
	step      time.Duration
	hostLabel model.LabelName
	roleLabel model.LabelName
	queries   map[string]string
	now       func() time.Time
}

// PrometheusStoreConfig holds configuration for the Prometheus store.
type PrometheusStoreConfig struct {
	PrometheusURL string
	Timeout       time.Duration
	Step          time.Duration

	HostLabel         string
	RoleInstanceLabel string

	// Queries override DefaultQueries per counter.
	Queries map[string]string

	Logger *slog.Logger
	// API is an optional Prometheus API client. If nil, one will be created from PrometheusURL.
	// Useful for testing.
	API v1.API
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// NewPrometheusStore creates a Prometheus-backed metric store.
func NewPrometheusStore(cfg PrometheusStoreConfig) (*PrometheusStore, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var v1api v1.API
	if cfg.API != nil {
		v1api = cfg.API
	} else {
		if cfg.PrometheusURL == "" {
			return nil, fmt.Errorf("PrometheusURL is required")
		}

		client, err := api.NewClient(api.Config{
			Address: cfg.PrometheusURL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus client: %w", err)
		}
		v1api = v1.NewAPI(client)
	}

	step := cfg.Step
	if step <= 0 {
		step = time.Minute
	}
	hostLabel := cfg.HostLabel
	if hostLabel == "" {
		hostLabel = "host"
	}
	roleLabel := cfg.RoleInstanceLabel
	if roleLabel == "" {
		roleLabel = "role_instance"
	}

	queries := make(map[string]string, len(DefaultQueries)+len(cfg.Queries))
	for k, v := range DefaultQueries {
		queries[k] = v
	}
	for k, v := range cfg.Queries {
		queries[k] = v
	}

	return &PrometheusStore{
		api:       v1api,
		logger:    logger,
		timeout:   cfg.Timeout,
		step:      step,
		hostLabel: model.LabelName(hostLabel),
		roleLabel: model.LabelName(roleLabel),
		queries:   queries,
		now:       time.Now,
	}, nil
}

// Query runs one range query per counter over [since, now].
func (s *PrometheusStore) Query(ctx context.Context, resourceID string, counters []string, since time.Time) ([]Sample, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	r := v1.Range{Start: since, End: s.now(), Step: s.step}
	var samples []Sample
	for _, counter := range counters {
		tpl, ok := s.queries[counter]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCounter, counter)
		}
		query := strings.ReplaceAll(tpl, ScaleSetPlaceholder, labelEscaper.Replace(resourceID))

		s.logger.Debug("querying counter", "counter", counter, "scale_set", resourceID)
		result, warnings, err := s.api.QueryRange(ctx, query, r)
		if err != nil {
			return nil, fmt.Errorf("failed to query counter %q: %w", counter, err)
		}

		if len(warnings) > 0 {
			s.logger.Warn("prometheus query warnings", "warnings", warnings)
		}

		samples = append(samples, s.extractSamples(counter, result)...)
	}
	return samples, nil
}

// Close is a no-op; the HTTP client holds no resources that need releasing.
func (s *PrometheusStore) Close() error { return nil }

// extractSamples converts a range (or instant) result into samples.
func (s *PrometheusStore) extractSamples(counter string, result model.Value) []Sample {
	var samples []Sample
	switch v := result.(type) {
	case model.Matrix:
		for _, stream := range v {
			host, role := s.identity(stream.Metric)
			if host == "" && role == "" {
				continue
			}
			for _, pair := range stream.Values {
				if math.IsNaN(float64(pair.Value)) {
					continue
				}
				samples = append(samples, Sample{
					Host:         host,
					RoleInstance: role,
					CounterName:  counter,
					Average:      float64(pair.Value),
					Timestamp:    pair.Timestamp.Time(),
				})
			}
		}
	case model.Vector:
		for _, sample := range v {
			host, role := s.identity(sample.Metric)
			if (host == "" && role == "") || math.IsNaN(float64(sample.Value)) {
				continue
			}
			samples = append(samples, Sample{
				Host:         host,
				RoleInstance: role,
				CounterName:  counter,
				Average:      float64(sample.Value),
				Timestamp:    sample.Timestamp.Time(),
			})
		}
	case nil:
	default:
		s.logger.Warn("unexpected prometheus result type", "type", result.Type())
	}
	return samples
}

func (s *PrometheusStore) identity(m model.Metric) (host, role string) {
	host = string(m[s.hostLabel])
	if host == "" {
		host = string(m["node"])
	}
	if host == "" {
		host = string(m["instance"])
	}
	role = string(m[s.roleLabel])
	if role == "" && host != "" {
		// Exporters without a role instance label report the bare instance name.
		role = RoleInstancePrefix + host
	}
	return host, role
}

var _ Store = (*PrometheusStore)(nil)
