// Package config provides configuration loading for the scale-down agent.
// Agent wiring (provider, metric backend, schedules) comes from a YAML file;
// per-invocation scale-down settings come from the environment (see settings.go).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported fleet providers.
const (
	ProviderAWS     = "aws"
	ProviderGCP     = "gcp"
	ProviderHetzner = "hetzner"
	ProviderFake    = "fake"
	ProviderAuto    = "auto"
)

// Supported metric backends.
const (
	MetricsBackendPrometheus = "prometheus"
	MetricsBackendTable      = "table"
)

// Config holds the agent configuration.
type Config struct {
	Provider   string           `yaml:"provider"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Controller ControllerConfig `yaml:"controller"`
	Server     ServerConfig     `yaml:"server"`
	Lock       LockConfig       `yaml:"lock"`
	AWS        AWSConfig        `yaml:"aws"`
	GCP        GCPConfig        `yaml:"gcp"`
	Hetzner    HetznerConfig    `yaml:"hetzner"`
}

// MetricsConfig selects and configures the metric store.
type MetricsConfig struct {
	// Backend is "prometheus" or "table". Default: prometheus.
	Backend    string           `yaml:"backend"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
}

// PrometheusConfig configures the Prometheus-backed metric store.
type PrometheusConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`

	// StepSeconds is the range-query resolution. Default: 60.
	StepSeconds int `yaml:"stepSeconds"`

	// HostLabel carries the Linux node identity. Default: "host".
	HostLabel string `yaml:"hostLabel"`

	// RoleInstanceLabel carries the Windows node identity. Default: "role_instance".
	RoleInstanceLabel string `yaml:"roleInstanceLabel"`

	// Queries maps a counter name to a PromQL template. "$SCALE_SET" is
	// replaced with the scale set ID. Entries override the built-in defaults.
	Queries map[string]string `yaml:"queries"`
}

// ControllerConfig configures the control loop schedule.
type ControllerConfig struct {
	ReconcileIntervalSeconds int `yaml:"reconcileIntervalSeconds"`

	// SweepIntervalSeconds schedules the stopped-node sweep. 0 disables it.
	SweepIntervalSeconds *int `yaml:"sweepIntervalSeconds"`

	InvocationTimeoutSeconds int `yaml:"invocationTimeoutSeconds"`

	// MaxConcurrentRemovals bounds the removal fan-out. 0 means unlimited.
	MaxConcurrentRemovals int `yaml:"maxConcurrentRemovals"`
}

// ServerConfig configures the HTTP trigger surface.
type ServerConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listenAddress"`
}

// LockConfig configures the overlap guard across replicas.
type LockConfig struct {
	Kubernetes KubernetesLockConfig `yaml:"kubernetes"`
}

// KubernetesLockConfig configures a coordination.k8s.io Lease lock.
type KubernetesLockConfig struct {
	Enabled              bool   `yaml:"enabled"`
	Namespace            string `yaml:"namespace"`
	Name                 string `yaml:"name"`
	LeaseDurationSeconds int    `yaml:"leaseDurationSeconds"`
}

// AWSConfig configures the Auto Scaling Group fleet.
type AWSConfig struct {
	Region string `yaml:"region"`
}

// GCPConfig configures the managed instance group fleet.
type GCPConfig struct {
	ProjectID string `yaml:"projectId"`
	Zone      string `yaml:"zone"`
}

// HetznerConfig configures the label-selector fleet.
type HetznerConfig struct {
	// TokenEnv names the environment variable holding the API token.
	// Default: HCLOUD_TOKEN.
	TokenEnv string `yaml:"tokenEnv"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	// Validate on a zero config only fills defaults.
	_ = cfg.Validate()
	return cfg
}

// Load reads configuration from a YAML file.
// Returns an error if file is missing or invalid.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate applies defaults and checks the remaining fields.
func (c *Config) Validate() error {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = ProviderAuto
	}
	switch c.Provider {
	case ProviderAWS, ProviderGCP, ProviderHetzner, ProviderFake, ProviderAuto:
	default:
		return fmt.Errorf("provider %q is not supported", c.Provider)
	}

	c.Metrics.Backend = strings.ToLower(strings.TrimSpace(c.Metrics.Backend))
	if c.Metrics.Backend == "" {
		c.Metrics.Backend = MetricsBackendPrometheus
	}
	switch c.Metrics.Backend {
	case MetricsBackendPrometheus:
		if c.Metrics.Prometheus.URL == "" {
			c.Metrics.Prometheus.URL = "http://localhost:9090"
		}
	case MetricsBackendTable:
	default:
		return fmt.Errorf("metrics.backend %q is not supported", c.Metrics.Backend)
	}
	if c.Metrics.Prometheus.TimeoutSeconds <= 0 {
		c.Metrics.Prometheus.TimeoutSeconds = 30
	}
	if c.Metrics.Prometheus.StepSeconds <= 0 {
		c.Metrics.Prometheus.StepSeconds = 60
	}
	if c.Metrics.Prometheus.HostLabel == "" {
		c.Metrics.Prometheus.HostLabel = "host"
	}
	if c.Metrics.Prometheus.RoleInstanceLabel == "" {
		c.Metrics.Prometheus.RoleInstanceLabel = "role_instance"
	}

	if c.Controller.ReconcileIntervalSeconds == 0 {
		c.Controller.ReconcileIntervalSeconds = 300
	}
	if c.Controller.ReconcileIntervalSeconds < 10 {
		return fmt.Errorf("controller.reconcileIntervalSeconds must be >= 10")
	}
	if c.Controller.SweepIntervalSeconds == nil {
		sweep := 300
		c.Controller.SweepIntervalSeconds = &sweep
	}
	if s := *c.Controller.SweepIntervalSeconds; s != 0 && s < 10 {
		return fmt.Errorf("controller.sweepIntervalSeconds must be 0 or >= 10")
	}
	if c.Controller.InvocationTimeoutSeconds <= 0 {
		c.Controller.InvocationTimeoutSeconds = 600
	}
	if c.Controller.MaxConcurrentRemovals < 0 {
		return fmt.Errorf("controller.maxConcurrentRemovals must be >= 0")
	}

	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8080"
	}

	if c.Lock.Kubernetes.Enabled {
		if c.Lock.Kubernetes.Namespace == "" {
			c.Lock.Kubernetes.Namespace = "default"
		}
		if c.Lock.Kubernetes.Name == "" {
			c.Lock.Kubernetes.Name = "scaledown-agent"
		}
		if c.Lock.Kubernetes.LeaseDurationSeconds <= 0 {
			c.Lock.Kubernetes.LeaseDurationSeconds = c.Controller.InvocationTimeoutSeconds
		}
	}

	if c.AWS.Region == "" {
		c.AWS.Region = "us-east-1"
	}
	if c.Provider == ProviderGCP && (c.GCP.ProjectID == "" || c.GCP.Zone == "") {
		return fmt.Errorf("gcp.projectId and gcp.zone are required for the gcp provider")
	}
	if c.Hetzner.TokenEnv == "" {
		c.Hetzner.TokenEnv = "HCLOUD_TOKEN"
	}

	return nil
}

// ReconcileInterval returns the control loop interval as a duration.
func (c *ControllerConfig) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalSeconds) * time.Second
}

// SweepInterval returns the sweep interval, or 0 when the sweep is disabled.
func (c *ControllerConfig) SweepInterval() time.Duration {
	if c.SweepIntervalSeconds == nil {
		return 0
	}
	return time.Duration(*c.SweepIntervalSeconds) * time.Second
}

// InvocationTimeout returns the per-invocation deadline.
func (c *ControllerConfig) InvocationTimeout() time.Duration {
	return time.Duration(c.InvocationTimeoutSeconds) * time.Second
}

// Timeout returns the Prometheus timeout as a duration.
func (c *PrometheusConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Step returns the range-query step as a duration.
func (c *PrometheusConfig) Step() time.Duration {
	return time.Duration(c.StepSeconds) * time.Second
}

// LeaseDuration returns the Lease validity as a duration.
func (c *KubernetesLockConfig) LeaseDuration() time.Duration {
	return time.Duration(c.LeaseDurationSeconds) * time.Second
}
