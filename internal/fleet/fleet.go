// Package fleet provides abstractions over the compute provider that owns a
// scale set: listing its member nodes and removing individual nodes.
package fleet

import (
	"context"
	"fmt"
	"strings"
)

// PowerState is the provider-reported lifecycle state of a node.
type PowerState int

const (
	PowerStateUnknown PowerState = iota
	PowerStateRunning
	PowerStateStarting
	PowerStateStopped
	PowerStateDeallocating
	PowerStateDeallocated
)

var powerStateNames = map[PowerState]string{
	PowerStateUnknown:      "unknown",
	PowerStateRunning:      "running",
	PowerStateStarting:     "starting",
	PowerStateStopped:      "stopped",
	PowerStateDeallocating: "deallocating",
	PowerStateDeallocated:  "deallocated",
}

// String returns the state name.
func (p PowerState) String() string {
	if name, ok := powerStateNames[p]; ok {
		return name
	}
	return "unknown"
}

// ParsePowerState parses a state name. Unrecognized names map to Unknown.
func ParsePowerState(s string) PowerState {
	for state, name := range powerStateNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return state
		}
	}
	return PowerStateUnknown
}

func (p PowerState) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *PowerState) UnmarshalText(b []byte) error {
	*p = ParsePowerState(string(b))
	return nil
}

// OSType is the guest operating system family of a node.
type OSType int

const (
	OSUnknown OSType = iota
	OSLinux
	OSWindows
)

// String returns the OS name.
func (o OSType) String() string {
	switch o {
	case OSLinux:
		return "linux"
	case OSWindows:
		return "windows"
	default:
		return "unknown"
	}
}

func (o OSType) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *OSType) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "linux":
		*o = OSLinux
	case "windows":
		*o = OSWindows
	case "", "unknown":
		*o = OSUnknown
	default:
		return fmt.Errorf("fleet: unknown os type %q", string(b))
	}
	return nil
}

// Node is one member of a scale set.
type Node struct {
	// ID is the provider handle passed back to RemoveNode.
	ID string `json:"id"`

	// ComputerName is the guest hostname reported by Linux metric agents.
	ComputerName string `json:"computer_name"`

	// InstanceName is the provider instance name; Windows metric agents
	// report it as the role instance.
	InstanceName string `json:"instance_name"`

	PowerState PowerState `json:"power_state"`
	OSType     OSType     `json:"os_type"`
}

// Fleet is the compute provider surface of a scale set.
type Fleet interface {
	// ListNodes returns a snapshot of the scale set's members.
	ListNodes(ctx context.Context, scaleSetID string) ([]Node, error)

	// RemoveNode submits removal of one node. A nil error means the provider
	// accepted the request, not that the node is gone.
	RemoveNode(ctx context.Context, scaleSetID, nodeID string) error
}
