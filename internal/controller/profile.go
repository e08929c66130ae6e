package controller

import (
	"github.com/softcane/scaledown-agent/internal/fleet"
	"github.com/softcane/scaledown-agent/internal/metrics"
)

// IdentityField selects which sample field names a node.
type IdentityField int

const (
	// IdentityHost uses the guest hostname (Linux agents).
	IdentityHost IdentityField = iota
	// IdentityRoleInstance uses the role instance name (Windows agents).
	IdentityRoleInstance
)

func (f IdentityField) String() string {
	if f == IdentityRoleInstance {
		return "role_instance"
	}
	return "host"
}

// MetricProfile carries the OS-specific counter names and identity field.
type MetricProfile struct {
	Name        string
	CPUCounter  string
	DiskCounter string
	Identity    IdentityField
}

var (
	LinuxProfile = MetricProfile{
		Name:        "linux",
		CPUCounter:  metrics.CounterLinuxCPU,
		DiskCounter: metrics.CounterLinuxDisk,
		Identity:    IdentityHost,
	}

	WindowsProfile = MetricProfile{
		Name:        "windows",
		CPUCounter:  metrics.CounterWindowsCPU,
		DiskCounter: metrics.CounterWindowsDisk,
		Identity:    IdentityRoleInstance,
	}
)

// Counters returns the counter names to query, CPU first.
func (p MetricProfile) Counters() []string {
	return []string{p.CPUCounter, p.DiskCounter}
}

// SampleIdentity returns the node identity a sample reports.
func (p MetricProfile) SampleIdentity(s metrics.Sample) string {
	if p.Identity == IdentityRoleInstance {
		return s.RoleInstance
	}
	return s.Host
}

// NodeIdentity returns the identity under which a fleet node appears in
// samples. Windows agents report the instance name with a leading underscore.
func (p MetricProfile) NodeIdentity(n fleet.Node) string {
	if p.Identity == IdentityRoleInstance {
		return metrics.RoleInstancePrefix + n.InstanceName
	}
	return n.ComputerName
}

// ResolveProfile picks the profile from the first node's OS. An empty list or
// an undetermined OS falls back to Linux.
func ResolveProfile(nodes []fleet.Node) MetricProfile {
	if len(nodes) > 0 && nodes[0].OSType == fleet.OSWindows {
		return WindowsProfile
	}
	return LinuxProfile
}
