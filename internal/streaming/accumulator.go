// File: internal/streaming/accumulator.go
package streaming

import (
	"github.com/xkilldash9x/bitesense/api/schemas"
)

// Accumulator owns the partial analysis of one run and merges extractor deltas
// into it. It has a single writer and is not safe for concurrent use.
type Accumulator struct {
	state schemas.PartialAnalysis
}

// NewAccumulator starts a partial analysis for an already detected insect type.
func NewAccumulator(insectType string) *Accumulator {
	return &Accumulator{
		state: schemas.PartialAnalysis{
			InsectType:      insectType,
			Characteristics: []string{},
			Treatments:      []string{},
			Timeline:        schemas.Timeline{},
		},
	}
}

// Apply merges a delta. Scalars are set once, lists only grow, timeline phases
// already present before this delta keep their value, and completion flags
// never go back to false.
func (a *Accumulator) Apply(d Delta) {
	if d.Severity != "" && a.state.Severity == "" {
		a.state.Severity = d.Severity
	}
	if d.ExpectedDuration != "" && a.state.ExpectedDuration == "" {
		a.state.ExpectedDuration = d.ExpectedDuration
	}

	a.state.Characteristics = append(a.state.Characteristics, d.Characteristics...)
	a.state.Treatments = append(a.state.Treatments, d.Treatments...)

	if len(d.Timeline) > 0 {
		fresh := make(map[string]bool, len(d.Timeline))
		for _, e := range d.Timeline {
			if a.state.Timeline.Has(e.Phase) && !fresh[e.Phase] {
				continue
			}
			fresh[e.Phase] = true
			a.state.Timeline = a.state.Timeline.Set(e.Phase, e.Description)
		}
	}

	a.state.IsCharacteristicsComplete = a.state.IsCharacteristicsComplete || d.CharacteristicsComplete
	a.state.IsTreatmentsComplete = a.state.IsTreatmentsComplete || d.TreatmentsComplete
	a.state.IsTimelineComplete = a.state.IsTimelineComplete || d.TimelineComplete
	a.state.IsComplete = a.state.IsComplete || d.Complete
}

// Snapshot returns a deep copy of the current state.
func (a *Accumulator) Snapshot() schemas.PartialAnalysis {
	return a.state.Clone()
}
