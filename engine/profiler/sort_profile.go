package profiler

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// Stage names one step of a radix sort. Stage values double as the metric label.
type Stage string

const (
	StageSeeding      Stage = "seeding"
	StageExtract      Stage = "extract"
	StageScanLocal    Stage = "scan_local"
	StageScanGlobal   Stage = "scan_global"
	StageScatter      Stage = "scatter"
	StageGathering    Stage = "gathering"
	StageVerification Stage = "verification"
)

// passStages are the stages run once per key bit, in execution order.
var passStages = []Stage{StageExtract, StageScanLocal, StageScanGlobal, StageScatter}

// PassTiming holds the stage durations of one bit pass.
type PassTiming struct {
	Bit    int
	Stages map[Stage]time.Duration
}

// SortProfile collects the stage durations of one sort.
type SortProfile struct {
	RunID    string
	Elements uint32

	Seeding      time.Duration
	Gathering    time.Duration
	Verification time.Duration
	Passes       []PassTiming
}

// NewSortProfile creates an empty profile.
//
// Parameters:
//   - runID: the run identifier printed in the report
//   - elements: the number of sorted elements
//
// Returns:
//   - *SortProfile: the profile
func NewSortProfile(runID string, elements uint32) *SortProfile {
	return &SortProfile{RunID: runID, Elements: elements}
}

// Record stores the duration of a stage. Bit is ignored for seeding, gathering and verification.
func (sp *SortProfile) Record(stage Stage, bit int, d time.Duration) {
	switch stage {
	case StageSeeding:
		sp.Seeding = d
	case StageGathering:
		sp.Gathering = d
	case StageVerification:
		sp.Verification = d
	default:
		for len(sp.Passes) <= bit {
			sp.Passes = append(sp.Passes, PassTiming{Bit: len(sp.Passes), Stages: make(map[Stage]time.Duration)})
		}
		sp.Passes[bit].Stages[stage] = d
	}
}

// StageTotal sums a stage over every pass.
func (sp *SortProfile) StageTotal(stage Stage) time.Duration {
	switch stage {
	case StageSeeding:
		return sp.Seeding
	case StageGathering:
		return sp.Gathering
	case StageVerification:
		return sp.Verification
	}
	var total time.Duration
	for _, pass := range sp.Passes {
		total += pass.Stages[stage]
	}
	return total
}

// Total is the sum of every recorded stage.
func (sp *SortProfile) Total() time.Duration {
	total := sp.Seeding + sp.Gathering + sp.Verification
	for _, stage := range passStages {
		total += sp.StageTotal(stage)
	}
	return total
}

// Observe feeds every recorded stage duration into the stage histogram.
//
// Parameters:
//   - m: the metrics to observe into; nil is a no-op
func (sp *SortProfile) Observe(m *Metrics) {
	if m == nil {
		return
	}
	m.SortStageSeconds.WithLabelValues(string(StageSeeding)).Observe(sp.Seeding.Seconds())
	for _, pass := range sp.Passes {
		for _, stage := range passStages {
			if d, ok := pass.Stages[stage]; ok {
				m.SortStageSeconds.WithLabelValues(string(stage)).Observe(d.Seconds())
			}
		}
	}
	m.SortStageSeconds.WithLabelValues(string(StageGathering)).Observe(sp.Gathering.Seconds())
	if sp.Verification > 0 {
		m.SortStageSeconds.WithLabelValues(string(StageVerification)).Observe(sp.Verification.Seconds())
	}
}

// Report writes a per-pass table followed by stage totals.
//
// Parameters:
//   - w: the destination
//
// Returns:
//   - error: the first write error
func (sp *SortProfile) Report(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "sort profile\trun %s\telements %d\ttotal %s\t\n", sp.RunID, sp.Elements, sp.Total())
	fmt.Fprintf(tw, "bit\t%s\t%s\t%s\t%s\t\n", StageExtract, StageScanLocal, StageScanGlobal, StageScatter)
	for _, pass := range sp.Passes {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t\n", pass.Bit,
			pass.Stages[StageExtract], pass.Stages[StageScanLocal], pass.Stages[StageScanGlobal], pass.Stages[StageScatter])
	}
	fmt.Fprintf(tw, "sum\t%s\t%s\t%s\t%s\t\n",
		sp.StageTotal(StageExtract), sp.StageTotal(StageScanLocal), sp.StageTotal(StageScanGlobal), sp.StageTotal(StageScatter))
	fmt.Fprintf(tw, "%s\t%s\t\n", StageSeeding, sp.Seeding)
	fmt.Fprintf(tw, "%s\t%s\t\n", StageGathering, sp.Gathering)
	if sp.Verification > 0 {
		fmt.Fprintf(tw, "%s\t%s\t\n", StageVerification, sp.Verification)
	}
	return tw.Flush()
}
