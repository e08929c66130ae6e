package controller

import (
	"sort"

	"github.com/softcane/scaledown-agent/internal/fleet"
)

// MinNodeDecision is the result of applying the minimum-node floor.
type MinNodeDecision struct {
	// Targets are the candidates that may be removed, sorted.
	Targets []string
	// Kept are the candidates retained to honor the floor, sorted.
	Kept []string
}

// EnforceMinNodes narrows candidates so that liveCount - len(Targets) >= minNodes.
// Candidates are sorted and the surplus is dropped from the front, so the
// lowest-sorted IDs survive. It never adds IDs and never fails.
func EnforceMinNodes(candidates []string, liveCount, minNodes int) MinNodeDecision {
	sorted := dedupeSorted(candidates)

	if minNodes < 0 {
		minNodes = 0
	}
	allowed := liveCount - minNodes
	if allowed < 0 {
		allowed = 0
	}
	if allowed >= len(sorted) {
		return MinNodeDecision{Targets: sorted, Kept: []string{}}
	}

	cut := len(sorted) - allowed
	return MinNodeDecision{
		Targets: append([]string{}, sorted[cut:]...),
		Kept:    append([]string{}, sorted[:cut]...),
	}
}

// LiveNodeCount counts nodes that still hold capacity: everything except
// stopped, deallocating and deallocated members.
func LiveNodeCount(nodes []fleet.Node) int {
	n := 0
	for _, node := range nodes {
		switch node.PowerState {
		case fleet.PowerStateStopped, fleet.PowerStateDeallocating, fleet.PowerStateDeallocated:
			continue
		}
		n++
	}
	return n
}

// RemovableCandidates checks candidates against a fleet snapshot. Candidates
// present in a removable state are returned sorted; the rest are reported as
// skipped (transitional or already gone) or missing from the snapshot.
func RemovableCandidates(candidates []string, nodes []fleet.Node, profile MetricProfile) (eligible []string, skipped map[string]fleet.PowerState, missing []string) {
	states := make(map[string]fleet.PowerState, len(nodes))
	for _, n := range nodes {
		states[profile.NodeIdentity(n)] = n.PowerState
	}

	eligible = []string{}
	skipped = map[string]fleet.PowerState{}
	missing = []string{}
	for _, id := range dedupeSorted(candidates) {
		state, ok := states[id]
		switch {
		case !ok:
			missing = append(missing, id)
		case removable(state):
			eligible = append(eligible, id)
		default:
			skipped[id] = state
		}
	}
	return eligible, skipped, missing
}

func dedupeSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
