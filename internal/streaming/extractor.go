// File: internal/streaming/extractor.go
package streaming

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/xkilldash9x/bitesense/api/schemas"
)

var (
	// Scalar values allow escaped quotes but must be non-empty and closed.
	severityPattern = regexp.MustCompile(`"severity"\s*:\s*"((?:[^"\\]|\\.)+)"`)
	durationPattern = regexp.MustCompile(`"expectedDuration"\s*:\s*"((?:[^"\\]|\\.)+)"`)

	characteristicsOpen = regexp.MustCompile(`"characteristics"\s*:\s*\[`)
	treatmentsOpen      = regexp.MustCompile(`"treatments"\s*:\s*\[`)
	timelineOpen        = regexp.MustCompile(`"timeline"\s*:\s*\{`)
)

// Delta is what a single Feed call discovered. Slices hold only newly found
// items and the completion flags are set only on the call that flips them.
type Delta struct {
	Severity         string
	ExpectedDuration string
	Characteristics  []string
	Treatments       []string
	Timeline         []schemas.TimelineEntry

	CharacteristicsComplete bool
	TreatmentsComplete      bool
	TimelineComplete        bool
	Complete                bool
}

// IsZero reports whether the delta carries no information.
func (d Delta) IsZero() bool {
	return d.Severity == "" &&
		d.ExpectedDuration == "" &&
		len(d.Characteristics) == 0 &&
		len(d.Treatments) == 0 &&
		len(d.Timeline) == 0 &&
		!d.CharacteristicsComplete &&
		!d.TreatmentsComplete &&
		!d.TimelineComplete &&
		!d.Complete
}

// Extractor pulls fields of a bite analysis document out of a JSON response
// while it is still being generated. It is not safe for concurrent use; one
// Extractor serves exactly one generation.
type Extractor struct {
	buf strings.Builder

	severity scalarField
	duration scalarField

	characteristics listField
	treatments      listField
	timeline        objectField

	opens, closes int
	complete      bool
}

// NewExtractor returns an Extractor with an empty buffer.
func NewExtractor() *Extractor {
	return &Extractor{
		severity:        scalarField{pattern: severityPattern},
		duration:        scalarField{pattern: durationPattern},
		characteristics: listField{section: section{open: characteristicsOpen, start: -1}},
		treatments:      listField{section: section{open: treatmentsOpen, start: -1}},
		timeline:        objectField{section: section{open: timelineOpen, start: -1}},
	}
}

// Feed appends a fragment to the buffer and reports anything that became
// visible because of it. The boolean is true when the delta is non-empty.
// Malformed or truncated input never fails; it simply yields nothing yet.
func (e *Extractor) Feed(fragment string) (Delta, bool) {
	e.buf.WriteString(fragment)
	e.opens += strings.Count(fragment, "{")
	e.closes += strings.Count(fragment, "}")

	s := e.buf.String()
	var d Delta

	d.Severity = e.severity.scan(s)
	d.ExpectedDuration = e.duration.scan(s)
	d.Characteristics, d.CharacteristicsComplete = e.characteristics.scan(s)
	d.Treatments, d.TreatmentsComplete = e.treatments.scan(s)
	d.Timeline, d.TimelineComplete = e.timeline.scan(s)

	// Brace counting includes braces inside string values.
	if !e.complete && e.opens > 0 && e.opens == e.closes {
		e.complete = true
		d.Complete = true
	}

	return d, !d.IsZero()
}

// Buffer returns everything fed so far.
func (e *Extractor) Buffer() string {
	return e.buf.String()
}

// Complete reports whether the buffer has balanced, non-zero brace counts.
func (e *Extractor) Complete() bool {
	return e.complete
}

// -- Field State --

type scalarField struct {
	pattern *regexp.Regexp
	found   bool
}

// scan returns the value the first time it matches and "" on every other call.
func (f *scalarField) scan(s string) string {
	if f.found {
		return ""
	}
	m := f.pattern.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	f.found = true
	return decodeString(m[1])
}

// section tracks where a bracketed body starts and how far it has been consumed.
type section struct {
	open     *regexp.Regexp
	start    int // offset just past the opening delimiter, -1 while unseen
	cursor   int // offset where the next scan resumes
	complete bool
}

// locate finds the opening delimiter once. It reports false while unseen.
func (sec *section) locate(s string) bool {
	if sec.start >= 0 {
		return true
	}
	loc := sec.open.FindStringIndex(s)
	if loc == nil {
		return false
	}
	sec.start, sec.cursor = loc[1], loc[1]
	return true
}

type listField struct {
	section
}

func (f *listField) scan(s string) ([]string, bool) {
	if f.complete || !f.locate(s) {
		return nil, false
	}
	items, next, closed := scanList(s, f.cursor)
	f.cursor = next
	f.complete = closed
	return items, closed
}

type objectField struct {
	section
}

func (f *objectField) scan(s string) ([]schemas.TimelineEntry, bool) {
	if f.complete || !f.locate(s) {
		return nil, false
	}
	entries, next, closed := scanObject(s, f.cursor)
	f.cursor = next
	f.complete = closed
	return entries, closed
}

// -- Scanning --

// scanList collects complete string literals from s[from:] until a closing
// bracket outside of a string. next is where a later call should resume; an
// unterminated literal leaves next at its opening quote.
func scanList(s string, from int) (items []string, next int, closed bool) {
	i := from
	for i < len(s) {
		switch s[i] {
		case '"':
			lit, end, ok := readString(s, i)
			if !ok {
				return items, i, false
			}
			if lit != "" {
				items = append(items, lit)
			}
			i = end
		case ']':
			return items, i + 1, true
		default:
			i++
		}
	}
	return items, i, false
}

// scanObject collects "key": "value" pairs from s[from:] until a closing brace
// outside of a string. Pairs are only emitted once both strings are closed.
func scanObject(s string, from int) (entries []schemas.TimelineEntry, next int, closed bool) {
	i := from
	for i < len(s) {
		switch s[i] {
		case '}':
			return entries, i + 1, true
		case '"':
			key, end, ok := readString(s, i)
			if !ok {
				return entries, i, false
			}
			j := skipSpace(s, end)
			if j >= len(s) {
				return entries, i, false
			}
			if s[j] != ':' {
				i = end
				continue
			}
			j = skipSpace(s, j+1)
			if j >= len(s) {
				return entries, i, false
			}
			if s[j] != '"' {
				// Non-string values are not part of the timeline shape.
				i = j
				continue
			}
			value, vend, ok := readString(s, j)
			if !ok {
				return entries, i, false
			}
			if key != "" && value != "" {
				entries = append(entries, schemas.TimelineEntry{Phase: key, Description: value})
			}
			i = vend
		default:
			i++
		}
	}
	return entries, i, false
}

// readString reads the JSON string literal whose opening quote is at s[i]. It
// returns the decoded value and the offset just past the closing quote.
func readString(s string, i int) (string, int, bool) {
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '"':
			return decodeString(s[i+1 : j]), j + 1, true
		}
	}
	return "", i, false
}

// decodeString resolves JSON escapes in the body of a string literal. Bodies
// with invalid escapes are returned as they appear.
func decodeString(body string) string {
	if !strings.ContainsRune(body, '\\') {
		return body
	}
	var out string
	if err := json.Unmarshal([]byte(`"`+body+`"`), &out); err != nil {
		return body
	}
	return out
}

func skipSpace(s string, i int) int {
	for i < len(s) {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}
