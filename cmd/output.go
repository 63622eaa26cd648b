package cmd

import (
	"fmt"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/bitesense/api/schemas"
)

var jsonOut = jsoniter.ConfigCompatibleWithStandardLibrary

func printJSON(w io.Writer, v any) error {
	enc := jsonOut.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printAnalysis(w io.Writer, a schemas.BiteAnalysis) {
	fmt.Fprintf(w, "%s bite (%s severity)\n", schemas.DisplayName(a.InsectType), schemas.ParseSeverity(a.Severity))
	if a.Severity != "" {
		fmt.Fprintf(w, "Severity:          %s\n", a.Severity)
	}
	if a.ExpectedDuration != "" {
		fmt.Fprintf(w, "Expected duration: %s\n", a.ExpectedDuration)
	}
	printList(w, "Characteristics", a.Characteristics)
	printList(w, "Treatments", a.Treatments)
	if len(a.Timeline) > 0 {
		fmt.Fprintln(w, "\nTimeline:")
		for _, e := range a.Timeline {
			fmt.Fprintf(w, "  %s: %s\n", e.Phase, e.Description)
		}
	}
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(w, "  - %s\n", it)
	}
}

func printRecordHeader(w io.Writer, rec schemas.BiteRecord) {
	fmt.Fprintf(w, "Record:  %s\n", rec.ID)
	fmt.Fprintf(w, "Created: %s\n", rec.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
	if rec.ImageRef != "" {
		fmt.Fprintf(w, "Image:   %s\n", rec.ImageRef)
	}
	fmt.Fprintln(w)
}

func printHistory(w io.Writer, records []schemas.BiteRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No bites analyzed yet.")
		return
	}
	fmt.Fprintf(w, "%-36s  %-16s  %-6s  %s\n", "ID", "INSECT", "LEVEL", "CREATED")
	for _, r := range records {
		fmt.Fprintf(w, "%-36s  %-16s  %-6s  %s\n",
			r.ID,
			schemas.DisplayName(r.Analysis.InsectType),
			schemas.ParseSeverity(r.Analysis.Severity),
			r.CreatedAt.UTC().Format("2006-01-02 15:04"))
	}
}

// progressLine describes how far a streaming analysis has got.
func progressLine(p schemas.PartialAnalysis) string {
	var done []string
	if p.Severity != "" {
		done = append(done, "severity")
	}
	if p.IsCharacteristicsComplete {
		done = append(done, "characteristics")
	}
	if p.IsTreatmentsComplete {
		done = append(done, "treatments")
	}
	if p.IsTimelineComplete {
		done = append(done, "timeline")
	}
	if len(done) == 0 {
		return "Elaborating..."
	}
	return "Elaborating... " + strings.Join(done, ", ")
}
