package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
)

// HetznerFleet implements Fleet for Hetzner Cloud servers grouped by label.
// The scale set ID is a label selector such as "scaleset=web"; node IDs are
// numeric server IDs.
type HetznerFleet struct {
	client *hcloud.Client
	logger *slog.Logger
}

// NewHetznerFleet creates a HetznerFleet with the given hcloud client options.
// Default options (application name) are applied first; callers can override them.
func NewHetznerFleet(logger *slog.Logger, opts ...hcloud.ClientOption) *HetznerFleet {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := []hcloud.ClientOption{
		hcloud.WithApplication("scaledown-agent", "0.1.0"),
	}
	allOpts := append(defaults, opts...)
	return &HetznerFleet{
		client: hcloud.NewClient(allOpts...),
		logger: logger,
	}
}

// ListNodes lists every server matching the selector.
func (h *HetznerFleet) ListNodes(ctx context.Context, scaleSetID string) ([]Node, error) {
	servers, err := h.client.Server.AllWithOpts(ctx, hcloud.ServerListOpts{
		ListOpts: hcloud.ListOpts{LabelSelector: scaleSetID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list servers for %q: %w", scaleSetID, err)
	}

	nodes := make([]Node, 0, len(servers))
	for _, s := range servers {
		nodes = append(nodes, nodeFromHetzner(s))
	}
	return nodes, nil
}

// RemoveNode deletes a server by its numeric ID.
func (h *HetznerFleet) RemoveNode(ctx context.Context, scaleSetID, nodeID string) error {
	numericID, err := strconv.ParseInt(nodeID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid server ID %q: %w", nodeID, err)
	}

	_, _, err = h.client.Server.DeleteWithResult(ctx, &hcloud.Server{ID: numericID})
	if err != nil {
		if hcloud.IsError(err, hcloud.ErrorCodeNotFound) {
			return fmt.Errorf("%w: server %s: %w", ErrNodeNotFound, nodeID, err)
		}
		return fmt.Errorf("failed to delete server %s: %w", nodeID, err)
	}

	h.logger.Info("deleted server",
		"scale_set", scaleSetID,
		"node_id", nodeID,
	)
	return nil
}

// nodeFromHetzner converts an hcloud.Server to a Node.
func nodeFromHetzner(s *hcloud.Server) Node {
	node := Node{
		ID:           strconv.FormatInt(s.ID, 10),
		ComputerName: s.Name,
		InstanceName: s.Name,
		PowerState:   powerStateFromHetzner(s.Status),
		OSType:       OSUnknown,
	}
	if s.Image != nil {
		node.OSType = OSLinux
		if strings.EqualFold(s.Image.OSFlavor, "windows") {
			node.OSType = OSWindows
		}
	}
	return node
}

func powerStateFromHetzner(status hcloud.ServerStatus) PowerState {
	switch status {
	case hcloud.ServerStatusInitializing, hcloud.ServerStatusStarting,
		hcloud.ServerStatusRebuilding, hcloud.ServerStatusMigrating:
		return PowerStateStarting
	case hcloud.ServerStatusRunning:
		return PowerStateRunning
	case hcloud.ServerStatusStopping, hcloud.ServerStatusDeleting:
		return PowerStateDeallocating
	case hcloud.ServerStatusOff:
		return PowerStateStopped
	default:
		return PowerStateUnknown
	}
}

// Compile-time interface check.
var _ Fleet = (*HetznerFleet)(nil)
