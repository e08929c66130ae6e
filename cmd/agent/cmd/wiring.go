package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/softcane/scaledown-agent/internal/config"
	"github.com/softcane/scaledown-agent/internal/controller"
	"github.com/softcane/scaledown-agent/internal/fleet"
	"github.com/softcane/scaledown-agent/internal/kube"
	"github.com/softcane/scaledown-agent/internal/metrics"
)

const (
	fakeFleetFileEnv = "SCALEDOWN_FAKE_FLEET_FILE"
	e2eSuiteEnvVar   = "SCALEDOWN_E2E_SUITE"
)

type runtimeFleet struct {
	fleet  *fleet.DryRunFleet
	cloud  fleet.CloudType
	isFake bool
	closer io.Closer
}

// Close releases provider clients that hold connections.
func (r runtimeFleet) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// resolveFleet builds the provider fleet and wraps it in the dry-run guard.
func resolveFleet(ctx context.Context, cfg *config.Config, logger *slog.Logger, dryRun bool) (runtimeFleet, error) {
	fakeFile := strings.TrimSpace(os.Getenv(fakeFleetFileEnv))
	useFake := cfg.Provider == config.ProviderFake || fakeFile != ""

	if err := validateFakeFleetPolicy(useFake, fakeFile, os.Getenv(e2eSuiteEnvVar)); err != nil {
		return runtimeFleet{}, err
	}

	if useFake {
		fake := fleet.NewFakeFleet()
		if fakeFile != "" {
			var err error
			fake, err = fleet.NewFakeFleetFromFile(fakeFile)
			if err != nil {
				return runtimeFleet{}, fmt.Errorf("load fake fleet from file: %w", err)
			}
		}
		logger.Info("using test-only fake fleet",
			"source_file", fakeFile,
			"suite", os.Getenv(e2eSuiteEnvVar),
		)
		return runtimeFleet{
			fleet:  fleet.NewDryRunFleet(fleet.DryRunFleetConfig{DryRun: dryRun, Fleet: fake, Logger: logger}),
			cloud:  fleet.CloudTypeUnknown,
			isFake: true,
		}, nil
	}

	provider, cloud, err := fleet.New(ctx, fleet.Options{
		Provider:     cfg.Provider,
		AWSRegion:    cfg.AWS.Region,
		GCPProject:   cfg.GCP.ProjectID,
		GCPZone:      cfg.GCP.Zone,
		HetznerToken: os.Getenv(cfg.Hetzner.TokenEnv),
		Logger:       logger,
	})
	if err != nil {
		return runtimeFleet{}, fmt.Errorf("initialize fleet provider: %w", err)
	}

	rf := runtimeFleet{
		fleet: fleet.NewDryRunFleet(fleet.DryRunFleetConfig{DryRun: dryRun, Fleet: provider, Logger: logger}),
		cloud: cloud,
	}
	if c, ok := provider.(io.Closer); ok {
		rf.closer = c
	}
	return rf, nil
}

// newStoreFactory returns the per-invocation metric store constructor for
// the configured backend.
func newStoreFactory(cfg *config.Config, logger *slog.Logger) controller.StoreFactory {
	if cfg.Metrics.Backend == config.MetricsBackendTable {
		return func(ctx context.Context, settings config.Settings) (metrics.Store, error) {
			return metrics.OpenTableStore(settings.StorageConnectionString, settings.TablePrefix, logger)
		}
	}

	prom := cfg.Metrics.Prometheus
	return func(ctx context.Context, settings config.Settings) (metrics.Store, error) {
		return metrics.NewPrometheusStore(metrics.PrometheusStoreConfig{
			PrometheusURL:     prom.URL,
			Timeout:           prom.Timeout(),
			Step:              prom.Step(),
			HostLabel:         prom.HostLabel,
			RoleInstanceLabel: prom.RoleInstanceLabel,
			Queries:           prom.Queries,
			Logger:            logger,
		})
	}
}

// settingsLoader re-reads invocation settings from the environment each run.
func settingsLoader(cfg *config.Config) controller.SettingsFunc {
	requireTable := cfg.Metrics.Backend == config.MetricsBackendTable
	return func() (config.Settings, error) {
		return config.SettingsFromEnv(requireTable)
	}
}

// newLocker returns the overlap guard: always process-local, plus a
// Kubernetes Lease when enabled.
func newLocker(cfg *config.Config, logger *slog.Logger) (controller.Locker, error) {
	local := controller.NewLocalLock()
	if !cfg.Lock.Kubernetes.Enabled {
		return local, nil
	}

	client, err := newKubernetesClient()
	if err != nil {
		return nil, err
	}
	lease, err := kube.NewLeaseLock(kube.LeaseLockConfig{
		Client:        client,
		Namespace:     cfg.Lock.Kubernetes.Namespace,
		Name:          cfg.Lock.Kubernetes.Name,
		Identity:      leaseIdentity(),
		LeaseDuration: cfg.Lock.Kubernetes.LeaseDuration(),
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create lease lock: %w", err)
	}
	logger.Info("kubernetes lease lock enabled",
		"namespace", cfg.Lock.Kubernetes.Namespace,
		"lease", cfg.Lock.Kubernetes.Name,
	)
	return controller.ChainLock{local, lease}, nil
}

func newKubernetesClient() (kubernetes.Interface, error) {
	k8sConfig, err := rest.InClusterConfig()
	if err != nil {
		// Fallback to kubeconfig if not in cluster
		kubeconfig := os.Getenv("KUBECONFIG")
		if kubeconfig == "" {
			kubeconfig = os.Getenv("HOME") + "/.kube/config"
		}
		k8sConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
		}
	}
	client, err := kubernetes.NewForConfig(k8sConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return client, nil
}

func leaseIdentity() string {
	if pod := strings.TrimSpace(os.Getenv("POD_NAME")); pod != "" {
		return pod
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "scaledown-agent"
}

// newController wires a controller from configuration.
func newController(ctx context.Context, cfg *config.Config, logger *slog.Logger, dryRun bool) (*controller.Controller, runtimeFleet, error) {
	rf, err := resolveFleet(ctx, cfg, logger, dryRun)
	if err != nil {
		return nil, runtimeFleet{}, err
	}

	locker, err := newLocker(cfg, logger)
	if err != nil {
		rf.Close()
		return nil, runtimeFleet{}, err
	}

	ctrl, err := controller.New(controller.Config{
		Fleet:                 rf.fleet,
		Stores:                newStoreFactory(cfg, logger),
		Settings:              settingsLoader(cfg),
		Lock:                  locker,
		Logger:                logger,
		ReconcileInterval:     cfg.Controller.ReconcileInterval(),
		SweepInterval:         cfg.Controller.SweepInterval(),
		InvocationTimeout:     cfg.Controller.InvocationTimeout(),
		MaxConcurrentRemovals: cfg.Controller.MaxConcurrentRemovals,
	})
	if err != nil {
		rf.Close()
		return nil, runtimeFleet{}, fmt.Errorf("failed to create controller: %w", err)
	}
	return ctrl, rf, nil
}
