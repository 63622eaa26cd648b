// File: api/schemas/analysis.go
package schemas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// -- Analysis Schemas --

// BiteAnalysis is the fixed document shape the elaboration prompt asks the model
// to produce. A fully parsed BiteAnalysis is the only value that is persisted.
type BiteAnalysis struct {
	InsectType       string   `json:"insectType"`
	Severity         string   `json:"severity"`
	ExpectedDuration string   `json:"expectedDuration"`
	Characteristics  []string `json:"characteristics"`
	Treatments       []string `json:"treatments"`
	Timeline         Timeline `json:"timeline"`
}

// Clone returns a deep copy of the analysis.
func (a BiteAnalysis) Clone() BiteAnalysis {
	a.Characteristics = slices.Clone(a.Characteristics)
	a.Treatments = slices.Clone(a.Treatments)
	a.Timeline = a.Timeline.Clone()
	return a
}

// PartialAnalysis is the best-known state of an analysis while the model is
// still streaming. Completion flags only ever move from false to true.
type PartialAnalysis struct {
	InsectType       string   `json:"insectType"`
	Severity         string   `json:"severity,omitempty"`
	ExpectedDuration string   `json:"expectedDuration,omitempty"`
	Characteristics  []string `json:"characteristics"`
	Treatments       []string `json:"treatments"`
	Timeline         Timeline `json:"timeline"`

	IsComplete                bool `json:"isComplete"`
	IsCharacteristicsComplete bool `json:"isCharacteristicsComplete"`
	IsTreatmentsComplete      bool `json:"isTreatmentsComplete"`
	IsTimelineComplete        bool `json:"isTimelineComplete"`
}

// Clone returns a deep copy that shares no memory with p.
func (p PartialAnalysis) Clone() PartialAnalysis {
	p.Characteristics = slices.Clone(p.Characteristics)
	p.Treatments = slices.Clone(p.Treatments)
	p.Timeline = p.Timeline.Clone()
	return p
}

// BiteRecord is a persisted analysis. Records are immutable once written.
type BiteRecord struct {
	ID        string       `json:"id"`
	ImageRef  string       `json:"imageRef"`
	CreatedAt time.Time    `json:"createdAt"`
	Analysis  BiteAnalysis `json:"analysis"`
}

// -- Timeline --

// TimelineEntry is one phase of the expected healing timeline.
type TimelineEntry struct {
	Phase       string `json:"phase"`
	Description string `json:"description"`
}

// Timeline is an insertion-ordered mapping of phase label to description.
// It serializes as a JSON object whose key order matches insertion order.
type Timeline []TimelineEntry

// Get returns the description for a phase.
func (t Timeline) Get(phase string) (string, bool) {
	for _, e := range t {
		if e.Phase == phase {
			return e.Description, true
		}
	}
	return "", false
}

// Has reports whether the phase is present.
func (t Timeline) Has(phase string) bool {
	_, ok := t.Get(phase)
	return ok
}

// Set inserts the phase at the end, or replaces its description in place when
// the phase already exists.
func (t Timeline) Set(phase, description string) Timeline {
	for i, e := range t {
		if e.Phase == phase {
			t[i].Description = description
			return t
		}
	}
	return append(t, TimelineEntry{Phase: phase, Description: description})
}

// Clone returns an independent copy of the timeline.
func (t Timeline) Clone() Timeline {
	if t == nil {
		return nil
	}
	return slices.Clone(t)
}

// MarshalJSON writes the timeline as an ordered JSON object.
func (t Timeline) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Phase)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Description)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object while preserving key order. Non-string
// values are kept as their raw JSON text; a JSON null yields an empty timeline.
func (t *Timeline) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*t = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("timeline: expected JSON object, got %v", tok)
	}

	out := Timeline{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("timeline: expected string key, got %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("timeline: value for %q: %w", key, err)
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			value = string(raw)
		}
		out = out.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*t = out
	return nil
}
