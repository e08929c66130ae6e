package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
)

// FakeFleet implements Fleet in memory for tests and local e2e harnesses.
// Removal moves a node to Deallocating, which is what providers report while
// the delete is in flight.
type FakeFleet struct {
	mu           sync.Mutex
	sets         map[string][]Node
	removeErrors map[string]error
	listErr      error

	// ListCalls counts ListNodes invocations for assertions.
	ListCalls int
	// RemoveCalls tracks calls to RemoveNode for assertions.
	RemoveCalls []FakeRemoveCall
}

// FakeRemoveCall records one RemoveNode invocation.
type FakeRemoveCall struct {
	ScaleSetID string
	NodeID     string
}

// FakeScenario is the JSON form of a FakeFleet.
type FakeScenario struct {
	ScaleSets    map[string][]Node `json:"scale_sets"`
	RemoveErrors map[string]string `json:"remove_errors,omitempty"`
}

// NewFakeFleet creates an empty fake fleet.
func NewFakeFleet() *FakeFleet {
	return &FakeFleet{
		sets:         make(map[string][]Node),
		removeErrors: make(map[string]error),
	}
}

// NewFakeFleetFromFile loads a fake fleet from a JSON scenario file.
func NewFakeFleetFromFile(path string) (*FakeFleet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fake fleet scenario file %q: %w", path, err)
	}
	return NewFakeFleetFromJSON(raw)
}

// NewFakeFleetFromJSON loads a fake fleet from JSON bytes.
func NewFakeFleetFromJSON(raw []byte) (*FakeFleet, error) {
	var scenario FakeScenario
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("decode fake fleet scenario json: %w", err)
	}
	if len(scenario.ScaleSets) == 0 {
		return nil, fmt.Errorf("fake fleet scenario defines no scale sets")
	}

	f := NewFakeFleet()
	for id, nodes := range scenario.ScaleSets {
		f.AddNodes(id, nodes...)
	}
	for nodeID, msg := range scenario.RemoveErrors {
		f.FailRemoval(nodeID, errors.New(msg))
	}
	return f, nil
}

// AddNodes registers nodes under a scale set, creating it if needed.
func (f *FakeFleet) AddNodes(scaleSetID string, nodes ...Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets[scaleSetID] = append(f.sets[scaleSetID], nodes...)
}

// FailRemoval makes RemoveNode return err for nodeID.
func (f *FakeFleet) FailRemoval(nodeID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeErrors[nodeID] = err
}

// FailList makes ListNodes return err.
func (f *FakeFleet) FailList(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

func (f *FakeFleet) ListNodes(ctx context.Context, scaleSetID string) ([]Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ListCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	nodes, ok := f.sets[scaleSetID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrScaleSetNotFound, scaleSetID)
	}

	// Return copies to avoid data races
	out := make([]Node, len(nodes))
	copy(out, nodes)
	return out, nil
}

func (f *FakeFleet) RemoveNode(ctx context.Context, scaleSetID, nodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.RemoveCalls = append(f.RemoveCalls, FakeRemoveCall{ScaleSetID: scaleSetID, NodeID: nodeID})

	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := f.removeErrors[nodeID]; ok {
		return err
	}
	nodes, ok := f.sets[scaleSetID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrScaleSetNotFound, scaleSetID)
	}
	for i := range nodes {
		if nodes[i].ID == nodeID {
			nodes[i].PowerState = PowerStateDeallocating
			return nil
		}
	}
	return fmt.Errorf("%w: %q in %q", ErrNodeNotFound, nodeID, scaleSetID)
}

// RemovedIDs returns the sorted node IDs passed to RemoveNode.
func (f *FakeFleet) RemovedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, 0, len(f.RemoveCalls))
	for _, c := range f.RemoveCalls {
		ids = append(ids, c.NodeID)
	}
	sort.Strings(ids)
	return ids
}

// Compile-time interface check.
var _ Fleet = (*FakeFleet)(nil)
