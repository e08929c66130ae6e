package controller

import (
	"sort"

	"github.com/softcane/scaledown-agent/internal/metrics"
)

// Thresholds are inclusive upper bounds: a node is idle on a counter when
// its mean is <= the threshold.
type Thresholds struct {
	CPU  float64
	Disk float64
}

// Selection is the outcome of candidate selection. All slices are sorted.
type Selection struct {
	CPUIdle    []string
	DiskIdle   []string
	Candidates []string

	// Means holds the per-node mean of each counter, keyed by identity then counter.
	Means map[string]map[string]float64
}

type meanAcc struct {
	sum   float64
	count int
}

// SelectCandidates groups samples by (identity, counter), takes the mean of
// the sample averages and returns the nodes idle on both CPU and disk.
// Samples with no identity or a counter outside the profile are ignored.
func SelectCandidates(samples []metrics.Sample, th Thresholds, profile MetricProfile) Selection {
	acc := make(map[string]map[string]*meanAcc)
	for _, s := range samples {
		if s.CounterName != profile.CPUCounter && s.CounterName != profile.DiskCounter {
			continue
		}
		id := profile.SampleIdentity(s)
		if id == "" {
			continue
		}
		byCounter, ok := acc[id]
		if !ok {
			byCounter = make(map[string]*meanAcc, 2)
			acc[id] = byCounter
		}
		a, ok := byCounter[s.CounterName]
		if !ok {
			a = &meanAcc{}
			byCounter[s.CounterName] = a
		}
		a.sum += s.Average
		a.count++
	}

	sel := Selection{
		CPUIdle:    []string{},
		DiskIdle:   []string{},
		Candidates: []string{},
		Means:      make(map[string]map[string]float64, len(acc)),
	}
	for id, byCounter := range acc {
		means := make(map[string]float64, len(byCounter))
		for counter, a := range byCounter {
			means[counter] = a.sum / float64(a.count)
		}
		sel.Means[id] = means

		cpu, hasCPU := means[profile.CPUCounter]
		disk, hasDisk := means[profile.DiskCounter]
		cpuIdle := hasCPU && cpu <= th.CPU
		diskIdle := hasDisk && disk <= th.Disk
		if cpuIdle {
			sel.CPUIdle = append(sel.CPUIdle, id)
		}
		if diskIdle {
			sel.DiskIdle = append(sel.DiskIdle, id)
		}
		if cpuIdle && diskIdle {
			sel.Candidates = append(sel.Candidates, id)
		}
	}

	sort.Strings(sel.CPUIdle)
	sort.Strings(sel.DiskIdle)
	sort.Strings(sel.Candidates)
	return sel
}
