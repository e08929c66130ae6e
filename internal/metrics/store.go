package metrics

import (
	"context"
	"errors"
	"time"
)

// Performance counter names as emitted by the guest diagnostics agents.
const (
	CounterLinuxCPU    = "/builtin/processor/percentprocessortime"
	CounterLinuxDisk   = "/builtin/disk/bytespersecond"
	CounterWindowsCPU  = `\Processor(_Total)\% Processor Time`
	CounterWindowsDisk = `\PhysicalDisk(_Total)\Disk Read Bytes/sec`
)

// RoleInstancePrefix is prepended to the instance name in the role instance
// reported by Windows diagnostics agents.
const RoleInstancePrefix = "_"

var (
	// ErrNoMetricTable is returned when no diagnostics table matches the prefix.
	ErrNoMetricTable = errors.New("metrics: no metric table found for prefix")

	// ErrUnknownCounter is returned when a counter has no query mapping.
	ErrUnknownCounter = errors.New("metrics: no query configured for counter")
)

// Sample is one aggregated performance-counter reading for one node.
// Host identifies Linux nodes; RoleInstance identifies Windows nodes.
type Sample struct {
	Host         string    `json:"host"`
	RoleInstance string    `json:"role_instance"`
	CounterName  string    `json:"counter_name"`
	Average      float64   `json:"average"`
	Timestamp    time.Time `json:"timestamp"`
}

// Store is a read-only source of performance-counter samples.
type Store interface {
	// Query returns every sample for resourceID whose counter is in counters
	// and whose timestamp is at or after since.
	Query(ctx context.Context, resourceID string, counters []string, since time.Time) ([]Sample, error)

	Close() error
}
