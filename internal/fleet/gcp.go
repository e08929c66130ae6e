package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	compute "cloud.google.com/go/compute/apiv1"
	computepb "cloud.google.com/go/compute/apiv1/computepb"
	"google.golang.org/api/iterator"
)

// GCPFleetConfig configures the managed instance group fleet.
type GCPFleetConfig struct {
	ProjectID string
	Zone      string
	Logger    *slog.Logger
}

// GCPFleet implements Fleet for zonal managed instance groups. The scale set
// ID is either the group name or its full
// projects/P/zones/Z/instanceGroupManagers/N path; node IDs are instance names.
type GCPFleet struct {
	migs      *compute.InstanceGroupManagersClient
	instances *compute.InstancesClient
	project   string
	zone      string
	logger    *slog.Logger
}

// NewGCPFleet creates a fleet backed by the Compute Engine REST API.
func NewGCPFleet(ctx context.Context, cfg GCPFleetConfig) (*GCPFleet, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	migs, err := compute.NewInstanceGroupManagersRESTClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create instance group managers client: %w", err)
	}
	instances, err := compute.NewInstancesRESTClient(ctx)
	if err != nil {
		migs.Close()
		return nil, fmt.Errorf("failed to create instances client: %w", err)
	}

	return &GCPFleet{
		migs:      migs,
		instances: instances,
		project:   cfg.ProjectID,
		zone:      cfg.Zone,
		logger:    logger,
	}, nil
}

// ListNodes lists managed instances and enriches them with guest details.
func (f *GCPFleet) ListNodes(ctx context.Context, scaleSetID string) ([]Node, error) {
	project, zone, name, err := parseMIGPath(scaleSetID, f.project, f.zone)
	if err != nil {
		return nil, err
	}

	var managed []*computepb.ManagedInstance
	it := f.migs.ListManagedInstances(ctx, &computepb.ListManagedInstancesInstanceGroupManagersRequest{
		Project:              project,
		Zone:                 zone,
		InstanceGroupManager: name,
	})
	for {
		mi, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list managed instances of %s: %w", scaleSetID, err)
		}
		managed = append(managed, mi)
	}
	if len(managed) == 0 {
		return nil, nil
	}

	details := make(map[string]*computepb.Instance, len(managed))
	iit := f.instances.List(ctx, &computepb.ListInstancesRequest{Project: project, Zone: zone})
	for {
		inst, err := iit.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list instances in %s/%s: %w", project, zone, err)
		}
		details[inst.GetName()] = inst
	}

	nodes := make([]Node, 0, len(managed))
	for _, mi := range managed {
		instName := managedInstanceName(mi)
		nodes = append(nodes, nodeFromGCP(mi, details[instName]))
	}
	return nodes, nil
}

// RemoveNode deletes the instance from the group. The returned operation is
// not awaited.
func (f *GCPFleet) RemoveNode(ctx context.Context, scaleSetID, nodeID string) error {
	project, zone, name, err := parseMIGPath(scaleSetID, f.project, f.zone)
	if err != nil {
		return err
	}

	_, err = f.migs.DeleteInstances(ctx, &computepb.DeleteInstancesInstanceGroupManagerRequest{
		Project:              project,
		Zone:                 zone,
		InstanceGroupManager: name,
		InstanceGroupManagersDeleteInstancesRequestResource: &computepb.InstanceGroupManagersDeleteInstancesRequest{
			Instances: []string{fmt.Sprintf("zones/%s/instances/%s", zone, nodeID)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete instance %s from %s: %w", nodeID, scaleSetID, err)
	}

	f.logger.Info("deleted instance from managed instance group",
		"scale_set", scaleSetID,
		"node_id", nodeID,
	)
	return nil
}

// Close releases both API clients.
func (f *GCPFleet) Close() error {
	return errors.Join(f.migs.Close(), f.instances.Close())
}

// parseMIGPath resolves a scale set ID into project, zone and group name.
func parseMIGPath(id, defaultProject, defaultZone string) (project, zone, name string, err error) {
	if !strings.HasPrefix(id, "projects/") {
		if defaultProject == "" || defaultZone == "" {
			return "", "", "", fmt.Errorf("scale set %q needs a project and zone", id)
		}
		return defaultProject, defaultZone, id, nil
	}
	parts := strings.Split(id, "/")
	if len(parts) != 6 || parts[2] != "zones" || parts[4] != "instanceGroupManagers" {
		return "", "", "", fmt.Errorf("malformed managed instance group path %q", id)
	}
	return parts[1], parts[3], parts[5], nil
}

func managedInstanceName(mi *computepb.ManagedInstance) string {
	if n := mi.GetName(); n != "" {
		return n
	}
	return path.Base(mi.GetInstance())
}

// nodeFromGCP converts a managed instance and its instance resource into a Node.
func nodeFromGCP(mi *computepb.ManagedInstance, inst *computepb.Instance) Node {
	name := managedInstanceName(mi)
	node := Node{
		ID:           name,
		ComputerName: name,
		InstanceName: name,
		PowerState:   powerStateFromGCP(mi.GetCurrentAction(), mi.GetInstanceStatus()),
	}
	if inst == nil {
		return node
	}

	node.OSType = OSLinux
	if h := inst.GetHostname(); h != "" {
		node.ComputerName = hostFromDNS(h)
	}
	for _, disk := range inst.GetDisks() {
		for _, license := range disk.GetLicenses() {
			if strings.Contains(license, "/projects/windows-cloud/") {
				node.OSType = OSWindows
			}
		}
	}
	return node
}

// powerStateFromGCP maps the group's current action, then the instance status.
func powerStateFromGCP(action, status string) PowerState {
	switch action {
	case "DELETING", "ABANDONING":
		return PowerStateDeallocating
	case "CREATING", "CREATING_WITHOUT_RETRIES", "RECREATING", "RESTARTING", "STARTING", "RESUMING":
		return PowerStateStarting
	}
	switch status {
	case "PROVISIONING", "STAGING":
		return PowerStateStarting
	case "RUNNING":
		return PowerStateRunning
	case "STOPPING", "SUSPENDING":
		return PowerStateDeallocating
	case "TERMINATED", "STOPPED", "SUSPENDED":
		return PowerStateStopped
	default:
		return PowerStateUnknown
	}
}

// Compile-time interface check.
var _ Fleet = (*GCPFleet)(nil)
