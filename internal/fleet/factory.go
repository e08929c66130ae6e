package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

// Options selects and configures a cloud fleet.
type Options struct {
	// Provider is aws, gcp, hetzner or auto.
	Provider     string
	AWSRegion    string
	GCPProject   string
	GCPZone      string
	HetznerToken string
	Logger       *slog.Logger
}

// New creates the fleet for opts.Provider. With "auto" (or empty) the cloud
// is detected from the environment and instance metadata.
func New(ctx context.Context, opts Options) (Fleet, CloudType, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cloud := CloudType(opts.Provider)
	if opts.Provider == "" || opts.Provider == "auto" {
		cloud = DetectCloud(ctx)
		logger.Info("detected cloud provider", "cloud", cloud)
	}

	switch cloud {
	case CloudTypeAWS:
		region := firstNonEmpty(opts.AWSRegion, os.Getenv("AWS_REGION"), os.Getenv("AWS_DEFAULT_REGION"), "us-east-1")
		f, err := NewAWSFleet(ctx, AWSFleetConfig{Region: region, Logger: logger})
		if err != nil {
			return nil, cloud, fmt.Errorf("failed to create AWS fleet: %w", err)
		}
		return f, cloud, nil

	case CloudTypeGCP:
		project := firstNonEmpty(opts.GCPProject, os.Getenv("GOOGLE_CLOUD_PROJECT"), os.Getenv("GCP_PROJECT"))
		f, err := NewGCPFleet(ctx, GCPFleetConfig{ProjectID: project, Zone: opts.GCPZone, Logger: logger})
		if err != nil {
			return nil, cloud, fmt.Errorf("failed to create GCP fleet: %w", err)
		}
		return f, cloud, nil

	case CloudTypeHetzner:
		if opts.HetznerToken == "" {
			return nil, cloud, errors.New("hetzner fleet requires an API token")
		}
		return NewHetznerFleet(logger, hcloud.WithToken(opts.HetznerToken)), cloud, nil

	default:
		return nil, cloud, fmt.Errorf("%w: unsupported cloud %q", ErrNoProvider, cloud)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
