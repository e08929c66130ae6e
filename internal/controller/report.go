package controller

import (
	"fmt"
	"strings"
	"time"
)

// Outcome classifies how an invocation ended.
type Outcome string

const (
	OutcomeRemoved       Outcome = "removed"
	OutcomeTooEarly      Outcome = "too_early"
	OutcomeMissingConfig Outcome = "missing_config"
	OutcomeAllBusy       Outcome = "all_busy"
	OutcomeAtMinimum     Outcome = "at_minimum"
	OutcomeInProgress    Outcome = "in_progress"
	OutcomeInFlight      Outcome = "in_flight"
)

// Report summarizes one control-loop invocation.
type Report struct {
	Outcome    Outcome  `json:"outcome"`
	ScaleSetID string   `json:"scale_set_id,omitempty"`
	Profile    string   `json:"profile,omitempty"`
	DryRun     bool     `json:"dry_run"`
	Candidates []string `json:"candidates,omitempty"`
	Targets    []string `json:"targets,omitempty"`
	Kept       []string `json:"kept,omitempty"`
	Removed    []string `json:"removed"`
	Skipped    []string `json:"skipped,omitempty"`
	Missing    []string `json:"missing,omitempty"`
	Failed     []string `json:"failed,omitempty"`

	// Detail is set for non-action outcomes.
	Detail       string        `json:"detail,omitempty"`
	StartupDelay time.Duration `json:"startup_delay,omitempty"`
}

// Message renders the one-line summary returned to callers.
func (r Report) Message() string {
	switch r.Outcome {
	case OutcomeMissingConfig:
		msg := "not all init params are set"
		if r.Detail != "" {
			msg += ": " + r.Detail
		}
		return msg
	case OutcomeTooEarly:
		return fmt.Sprintf("too early to start scaling down. Init delay is: %s", r.StartupDelay)
	case OutcomeAllBusy:
		return "All instances are busy"
	case OutcomeAtMinimum:
		return fmt.Sprintf("Minimum number of nodes reached, idle instances kept: %s", strings.Join(r.Kept, ", "))
	case OutcomeInProgress:
		return "another scale-down run is in progress"
	case OutcomeInFlight:
		return fmt.Sprintf("Idle instances are already stopping or gone: %s", strings.Join(append(append([]string{}, r.Skipped...), r.Missing...), ", "))
	}

	msg := fmt.Sprintf("Done, number of deallocated instances %d: %s", len(r.Removed), strings.Join(r.Removed, ", "))
	if r.DryRun {
		msg = "[dry-run] " + msg
	}
	return msg
}

// SweepReport summarizes one stopped-node sweep.
type SweepReport struct {
	ScaleSetID string   `json:"scale_set_id,omitempty"`
	DryRun     bool     `json:"dry_run"`
	Removed    []string `json:"removed"`
	Failed     []string `json:"failed,omitempty"`
	Detail     string   `json:"detail,omitempty"`
}

// Message renders the one-line sweep summary.
func (r SweepReport) Message() string {
	if r.Detail != "" {
		return r.Detail
	}
	msg := fmt.Sprintf("Done, number of removed stopped instances %d: %s", len(r.Removed), strings.Join(r.Removed, ", "))
	if r.DryRun {
		msg = "[dry-run] " + msg
	}
	return msg
}
