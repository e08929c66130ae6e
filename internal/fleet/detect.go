package fleet

import (
	"context"
	"net/http"
	"os"
	"time"
)

// CloudType represents a cloud provider.
type CloudType string

const (
	CloudTypeAWS     CloudType = "aws"
	CloudTypeGCP     CloudType = "gcp"
	CloudTypeHetzner CloudType = "hetzner"
	CloudTypeUnknown CloudType = "unknown"
)

// IMDS endpoints probed during detection.
const (
	awsIMDSEndpoint     = "http://169.254.169.254/latest/meta-data/"
	gcpIMDSEndpoint     = "http://metadata.google.internal/computeMetadata/v1/"
	hetznerIMDSEndpoint = "http://169.254.169.254/hetzner/v1/metadata"
)

type detector struct {
	getenv  func(string) string
	client  *http.Client
	aws     string
	gcp     string
	hetzner string
}

func defaultDetector() detector {
	return detector{
		getenv:  os.Getenv,
		client:  &http.Client{Timeout: 2 * time.Second},
		aws:     awsIMDSEndpoint,
		gcp:     gcpIMDSEndpoint,
		hetzner: hetznerIMDSEndpoint,
	}
}

// DetectCloud automatically detects the cloud provider.
// Detection order:
// 1. Environment variables (fastest)
// 2. IMDS endpoints
func DetectCloud(ctx context.Context) CloudType {
	return defaultDetector().detect(ctx)
}

func (d detector) detect(ctx context.Context) CloudType {
	if cloud := d.fromEnv(); cloud != CloudTypeUnknown {
		return cloud
	}
	return d.fromIMDS(ctx)
}

// fromEnv checks common environment variables.
func (d detector) fromEnv() CloudType {
	for _, key := range []string{"AWS_REGION", "AWS_DEFAULT_REGION", "AWS_EXECUTION_ENV"} {
		if d.getenv(key) != "" {
			return CloudTypeAWS
		}
	}
	for _, key := range []string{"GOOGLE_CLOUD_PROJECT", "GCP_PROJECT", "GOOGLE_APPLICATION_CREDENTIALS"} {
		if d.getenv(key) != "" {
			return CloudTypeGCP
		}
	}
	if d.getenv("HCLOUD_TOKEN") != "" {
		return CloudTypeHetzner
	}
	return CloudTypeUnknown
}

// fromIMDS probes instance metadata endpoints.
func (d detector) fromIMDS(ctx context.Context) CloudType {
	// GCP first: it is the only one with a distinct host and header.
	if d.probe(ctx, d.gcp+"project/project-id", "Metadata-Flavor", "Google") {
		return CloudTypeGCP
	}
	// Hetzner shares the link-local address with AWS but serves its own path.
	if d.probe(ctx, d.hetzner, "", "") {
		return CloudTypeHetzner
	}
	if d.probe(ctx, d.aws, "", "") {
		return CloudTypeAWS
	}
	return CloudTypeUnknown
}

func (d detector) probe(ctx context.Context, url, header, value string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	if header != "" {
		req.Header.Set(header, value)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
