package controller

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/softcane/scaledown-agent/internal/fleet"
	"github.com/softcane/scaledown-agent/internal/metrics"
)

func linuxSample(host, counter string, avg float64) metrics.Sample {
	return metrics.Sample{Host: host, RoleInstance: "_" + host, CounterName: counter, Average: avg}
}

func TestSelectCandidates(t *testing.T) {
	th := Thresholds{CPU: 5, Disk: 100}
	cpu, disk := metrics.CounterLinuxCPU, metrics.CounterLinuxDisk

	tests := []struct {
		name    string
		samples []metrics.Sample
		want    []string
	}{
		{
			name: "idle on both counters only",
			samples: []metrics.Sample{
				linuxSample("nodeA", cpu, 2),
				linuxSample("nodeA", disk, 50),
				linuxSample("nodeB", cpu, 80),
				linuxSample("nodeB", disk, 20),
			},
			want: []string{"nodeA"},
		},
		{
			name: "threshold is inclusive",
			samples: []metrics.Sample{
				linuxSample("nodeA", cpu, 5),
				linuxSample("nodeA", disk, 100),
			},
			want: []string{"nodeA"},
		},
		{
			name: "mean of sample averages decides",
			samples: []metrics.Sample{
				linuxSample("nodeA", cpu, 1),
				linuxSample("nodeA", cpu, 10), // mean 5.5
				linuxSample("nodeA", disk, 0),
				linuxSample("nodeB", cpu, 0),
				linuxSample("nodeB", cpu, 9), // mean 4.5
				linuxSample("nodeB", disk, 10),
			},
			want: []string{"nodeB"},
		},
		{
			name: "missing disk samples never qualify",
			samples: []metrics.Sample{
				linuxSample("nodeA", cpu, 0),
			},
			want: []string{},
		},
		{
			name: "idle on disk only is busy",
			samples: []metrics.Sample{
				linuxSample("nodeA", cpu, 50),
				linuxSample("nodeA", disk, 0),
			},
			want: []string{},
		},
		{
			name: "unknown counters and empty identities are ignored",
			samples: []metrics.Sample{
				linuxSample("nodeA", "/builtin/memory/percentusedmemory", 0),
				linuxSample("nodeA", cpu, 1),
				linuxSample("nodeA", disk, 1),
				{CounterName: cpu, Average: 0},
				{CounterName: disk, Average: 0},
			},
			want: []string{"nodeA"},
		},
		{
			name:    "empty input",
			samples: nil,
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectCandidates(tt.samples, th, LinuxProfile)
			if diff := cmp.Diff(tt.want, got.Candidates); diff != "" {
				t.Errorf("candidates mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSelectCandidates_PerCounterSets(t *testing.T) {
	cpu, disk := metrics.CounterLinuxCPU, metrics.CounterLinuxDisk
	samples := []metrics.Sample{
		linuxSample("a", cpu, 1), linuxSample("a", disk, 500),
		linuxSample("b", cpu, 90), linuxSample("b", disk, 1),
		linuxSample("c", cpu, 2), linuxSample("c", disk, 2),
	}

	got := SelectCandidates(samples, Thresholds{CPU: 5, Disk: 100}, LinuxProfile)

	if diff := cmp.Diff([]string{"a", "c"}, got.CPUIdle); diff != "" {
		t.Errorf("cpu idle mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b", "c"}, got.DiskIdle); diff != "" {
		t.Errorf("disk idle mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"c"}, got.Candidates); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
	if got.Means["b"][cpu] != 90 {
		t.Errorf("expected mean cpu 90 for b, got %v", got.Means["b"][cpu])
	}
}

func TestSelectCandidates_SubsetOfInput(t *testing.T) {
	cpu, disk := metrics.CounterLinuxCPU, metrics.CounterLinuxDisk
	var samples []metrics.Sample
	present := map[string]bool{}
	for i, host := range []string{"n1", "n2", "n3", "n4", "n5", "n6"} {
		present[host] = true
		samples = append(samples,
			linuxSample(host, cpu, float64(i*2)),
			linuxSample(host, disk, float64(100-i*30)),
		)
	}

	for _, th := range []Thresholds{{0, 0}, {4, 50}, {10, 100}, {100, 1000}} {
		sel := SelectCandidates(samples, th, LinuxProfile)
		for _, id := range sel.Candidates {
			if !present[id] {
				t.Errorf("thresholds %+v: candidate %q not in input", th, id)
			}
			m := sel.Means[id]
			if m[cpu] > th.CPU || m[disk] > th.Disk {
				t.Errorf("thresholds %+v: candidate %q exceeds a threshold (%v)", th, id, m)
			}
		}
	}
}

func TestSelectCandidates_WindowsProfile(t *testing.T) {
	samples := []metrics.Sample{
		{Host: "WIN0", RoleInstance: "_win_0", CounterName: metrics.CounterWindowsCPU, Average: 1},
		{Host: "WIN0", RoleInstance: "_win_0", CounterName: metrics.CounterWindowsDisk, Average: 1},
		// Linux counter names are not part of the Windows profile.
		{Host: "WIN1", RoleInstance: "_win_1", CounterName: metrics.CounterLinuxCPU, Average: 0},
		{Host: "WIN1", RoleInstance: "_win_1", CounterName: metrics.CounterLinuxDisk, Average: 0},
	}

	got := SelectCandidates(samples, Thresholds{CPU: 5, Disk: 100}, WindowsProfile)
	if diff := cmp.Diff([]string{"_win_0"}, got.Candidates); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}

	// The wrong profile silently finds nothing.
	if got := SelectCandidates(samples[:2], Thresholds{CPU: 5, Disk: 100}, LinuxProfile); len(got.Candidates) != 0 {
		t.Errorf("expected no candidates with the Linux profile, got %v", got.Candidates)
	}
}

func TestResolveProfile(t *testing.T) {
	tests := []struct {
		name  string
		nodes []fleet.Node
		want  MetricProfile
	}{
		{"empty", nil, LinuxProfile},
		{"windows first", []fleet.Node{{OSType: fleet.OSWindows}, {OSType: fleet.OSLinux}}, WindowsProfile},
		{"linux first", []fleet.Node{{OSType: fleet.OSLinux}, {OSType: fleet.OSWindows}}, LinuxProfile},
		{"unknown os", []fleet.Node{{OSType: fleet.OSUnknown}}, LinuxProfile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveProfile(tt.nodes); got != tt.want {
				t.Errorf("ResolveProfile() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMetricProfile_Identity(t *testing.T) {
	node := fleet.Node{ID: "i-1", ComputerName: "web000001", InstanceName: "web_1"}
	if got := LinuxProfile.NodeIdentity(node); got != "web000001" {
		t.Errorf("linux node identity = %q", got)
	}
	if got := WindowsProfile.NodeIdentity(node); got != "_web_1" {
		t.Errorf("windows node identity = %q", got)
	}

	s := metrics.Sample{Host: "web000001", RoleInstance: "_web_1"}
	if got := LinuxProfile.SampleIdentity(s); got != "web000001" {
		t.Errorf("linux sample identity = %q", got)
	}
	if got := WindowsProfile.SampleIdentity(s); got != "_web_1" {
		t.Errorf("windows sample identity = %q", got)
	}
	if diff := cmp.Diff([]string{metrics.CounterWindowsCPU, metrics.CounterWindowsDisk}, WindowsProfile.Counters()); diff != "" {
		t.Errorf("counters mismatch (-want +got):\n%s", diff)
	}
}
