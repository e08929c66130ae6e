package controller

import (
	"testing"
	"time"
)

func TestReport_Message(t *testing.T) {
	tests := []struct {
		name   string
		report Report
		want   string
	}{
		{
			name:   "removed",
			report: Report{Outcome: OutcomeRemoved, Removed: []string{"a", "b"}},
			want:   "Done, number of deallocated instances 2: a, b",
		},
		{
			name:   "removed dry run",
			report: Report{Outcome: OutcomeRemoved, DryRun: true, Removed: []string{"a"}},
			want:   "[dry-run] Done, number of deallocated instances 1: a",
		},
		{
			name:   "nothing removed",
			report: Report{Outcome: OutcomeRemoved},
			want:   "Done, number of deallocated instances 0: ",
		},
		{
			name:   "all candidates in flight",
			report: Report{Outcome: OutcomeInFlight, Skipped: []string{"a"}, Missing: []string{"z"}},
			want:   "Idle instances are already stopping or gone: a, z",
		},
		{
			name:   "missing config",
			report: Report{Outcome: OutcomeMissingConfig},
			want:   "not all init params are set",
		},
		{
			name:   "too early",
			report: Report{Outcome: OutcomeTooEarly, StartupDelay: 15 * time.Minute},
			want:   "too early to start scaling down. Init delay is: 15m0s",
		},
		{
			name:   "all busy",
			report: Report{Outcome: OutcomeAllBusy},
			want:   "All instances are busy",
		},
		{
			name:   "at minimum",
			report: Report{Outcome: OutcomeAtMinimum, Kept: []string{"a", "b"}},
			want:   "Minimum number of nodes reached, idle instances kept: a, b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.report.Message(); got != tt.want {
				t.Errorf("Message() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSweepReport_Message(t *testing.T) {
	r := SweepReport{Removed: []string{"i-1"}}
	if got, want := r.Message(), "Done, number of removed stopped instances 1: i-1"; got != want {
		t.Errorf("Message() = %q, want %q", got, want)
	}
	r.Detail = "skipped"
	if got := r.Message(); got != "skipped" {
		t.Errorf("Message() = %q, want detail", got)
	}
}
