package telegram

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xkilldash9x/bitesense/api/schemas"
)

// Telegram rejects messages longer than this many characters.
const maxMessageLen = 4096

const (
	textStart = "Hi! I'm BiteSense. Send me a photo of an insect bite and I'll identify it and suggest treatments.\n" +
		"Commands: /history, /clear"
	textAnalyzing   = "Analyzing your bite photo..."
	textNoBites     = "I couldn't identify an insect bite in this photo. Try a clearer, closer picture."
	textBadImage    = "I couldn't read that image. Please send a JPEG or PNG photo."
	textCleared     = "Bite history cleared."
	textNoHistory   = "No bites analyzed yet."
	textSendPhoto   = "Send me a photo of the bite to analyze it."
	textUnknownCmd  = "Unknown command. Try /start."
	textAskFollowUp = "Ask me anything about this bite."
)

// RenderDetected is shown while the elaboration runs.
func RenderDetected(insectType string) string {
	return fmt.Sprintf("Looks like a %s bite. Preparing details...", schemas.DisplayName(insectType))
}

// RenderPartial renders an in-progress analysis. Sections appear as soon as
// they have content.
func RenderPartial(p schemas.PartialAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s bite", schemas.DisplayName(p.InsectType))
	if p.Severity != "" {
		fmt.Fprintf(&b, "\nSeverity: %s", p.Severity)
	}
	if p.ExpectedDuration != "" {
		fmt.Fprintf(&b, "\nExpected duration: %s", p.ExpectedDuration)
	}
	writeList(&b, "Characteristics", p.Characteristics)
	writeList(&b, "Treatments", p.Treatments)
	writeTimeline(&b, p.Timeline)
	if !p.IsComplete {
		b.WriteString("\n\n...")
	}
	return truncate(b.String())
}

// RenderAnalysis renders a finished analysis.
func RenderAnalysis(a schemas.BiteAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s bite (%s severity)", schemas.DisplayName(a.InsectType), schemas.ParseSeverity(a.Severity))
	if a.Severity != "" {
		fmt.Fprintf(&b, "\nSeverity: %s", a.Severity)
	}
	if a.ExpectedDuration != "" {
		fmt.Fprintf(&b, "\nExpected duration: %s", a.ExpectedDuration)
	}
	writeList(&b, "Characteristics", a.Characteristics)
	writeList(&b, "Treatments", a.Treatments)
	writeTimeline(&b, a.Timeline)
	return truncate(b.String())
}

// RenderHistory lists records newest first.
func RenderHistory(records []schemas.BiteRecord) string {
	if len(records) == 0 {
		return textNoHistory
	}
	var b strings.Builder
	b.WriteString("Recent bites:")
	for i, r := range records {
		fmt.Fprintf(&b, "\n%d. %s, %s severity, %s",
			i+1,
			schemas.DisplayName(r.Analysis.InsectType),
			schemas.ParseSeverity(r.Analysis.Severity),
			r.CreatedAt.UTC().Format("2006-01-02 15:04"))
	}
	return truncate(b.String())
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n\n%s:", title)
	for _, it := range items {
		fmt.Fprintf(b, "\n- %s", it)
	}
}

func writeTimeline(b *strings.Builder, t schemas.Timeline) {
	if len(t) == 0 {
		return
	}
	b.WriteString("\n\nTimeline:")
	for _, e := range t {
		fmt.Fprintf(b, "\n- %s: %s", e.Phase, e.Description)
	}
}

// truncate keeps s within the message limit without splitting a rune.
func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxMessageLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxMessageLen-1]) + "…"
}
