package controller

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/softcane/scaledown-agent/internal/fleet"
)

func TestEnforceMinNodes(t *testing.T) {
	tests := []struct {
		name       string
		candidates []string
		live       int
		min        int
		wantTarget []string
		wantKept   []string
	}{
		{
			name:       "surplus dropped from the front",
			candidates: []string{"C", "A", "B"},
			live:       3,
			min:        2,
			wantTarget: []string{"C"},
			wantKept:   []string{"A", "B"},
		},
		{
			name:       "room for all candidates",
			candidates: []string{"b", "a"},
			live:       10,
			min:        2,
			wantTarget: []string{"a", "b"},
			wantKept:   []string{},
		},
		{
			name:       "exactly at the floor",
			candidates: []string{"a", "b"},
			live:       4,
			min:        2,
			wantTarget: []string{"a", "b"},
			wantKept:   []string{},
		},
		{
			name:       "min equals live",
			candidates: []string{"a"},
			live:       3,
			min:        3,
			wantTarget: []string{},
			wantKept:   []string{"a"},
		},
		{
			name:       "min above live",
			candidates: []string{"a", "b"},
			live:       2,
			min:        5,
			wantTarget: []string{},
			wantKept:   []string{"a", "b"},
		},
		{
			name:       "duplicates collapse",
			candidates: []string{"a", "a", "b"},
			live:       3,
			min:        2,
			wantTarget: []string{"b"},
			wantKept:   []string{"a"},
		},
		{
			name:       "no candidates",
			candidates: nil,
			live:       3,
			min:        0,
			wantTarget: []string{},
			wantKept:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EnforceMinNodes(tt.candidates, tt.live, tt.min)
			if diff := cmp.Diff(tt.wantTarget, got.Targets); diff != "" {
				t.Errorf("targets mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantKept, got.Kept); diff != "" {
				t.Errorf("kept mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEnforceMinNodes_FloorAlwaysHolds(t *testing.T) {
	for live := 0; live <= 8; live++ {
		for n := 0; n <= live; n++ {
			candidates := make([]string, n)
			for i := range candidates {
				candidates[i] = fmt.Sprintf("node-%02d", n-i)
			}
			in := make(map[string]bool, n)
			for _, c := range candidates {
				in[c] = true
			}

			for floor := 0; floor <= live+1; floor++ {
				got := EnforceMinNodes(candidates, live, floor)
				if remaining := live - len(got.Targets); remaining < floor && len(got.Targets) > 0 {
					t.Fatalf("live=%d n=%d min=%d: %d remaining", live, n, floor, remaining)
				}
				if want := max(0, min(n, live-floor)); len(got.Targets) != want {
					t.Fatalf("live=%d n=%d min=%d: got %d targets, want %d", live, n, floor, len(got.Targets), want)
				}
				for _, id := range got.Targets {
					if !in[id] {
						t.Fatalf("live=%d n=%d min=%d: invented target %q", live, n, floor, id)
					}
				}
			}
		}
	}
}

func TestLiveNodeCount(t *testing.T) {
	nodes := []fleet.Node{
		{ID: "1", PowerState: fleet.PowerStateRunning},
		{ID: "2", PowerState: fleet.PowerStateStarting},
		{ID: "3", PowerState: fleet.PowerStateUnknown},
		{ID: "4", PowerState: fleet.PowerStateStopped},
		{ID: "5", PowerState: fleet.PowerStateDeallocating},
		{ID: "6", PowerState: fleet.PowerStateDeallocated},
	}
	if got := LiveNodeCount(nodes); got != 3 {
		t.Errorf("LiveNodeCount() = %d, want 3", got)
	}
}

func TestRemovableCandidates(t *testing.T) {
	nodes := []fleet.Node{
		linuxNode("a", fleet.PowerStateRunning),
		linuxNode("b", fleet.PowerStateStopped),
		linuxNode("c", fleet.PowerStateDeallocating),
		linuxNode("d", fleet.PowerStateStarting),
		linuxNode("e", fleet.PowerStateUnknown),
	}

	eligible, skipped, missing := RemovableCandidates([]string{"e", "d", "c", "b", "a", "x", "a"}, nodes, LinuxProfile)

	if diff := cmp.Diff([]string{"a", "b"}, eligible); diff != "" {
		t.Errorf("eligible mismatch (-want +got):\n%s", diff)
	}
	wantSkipped := map[string]fleet.PowerState{
		"c": fleet.PowerStateDeallocating,
		"d": fleet.PowerStateStarting,
		"e": fleet.PowerStateUnknown,
	}
	if diff := cmp.Diff(wantSkipped, skipped); diff != "" {
		t.Errorf("skipped mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"x"}, missing); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}
}
