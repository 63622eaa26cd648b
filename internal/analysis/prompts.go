// internal/analysis/prompts.go
package analysis

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/bitesense/api/schemas"
)

// categoryHints describes how each bite typically presents on skin.
var categoryHints = map[schemas.Category]string{
	schemas.CategoryMosquitos: `Soft, round, puffy bumps that rise within minutes; often show a pinpoint center; produce intense itching that eases after a couple of days.`,
	schemas.CategoryBedBugs:   `Multiple itchy red bumps arranged in a straight or zig-zag line ("breakfast-lunch-dinner" pattern); each lesion may show a tiny dark dot in the middle.`,
	schemas.CategoryChiggers:  `Bright-red bumps or small blisters with a firm yellowish cap; found where clothing presses the skin (waistband, sock line); itching becomes severe within hours.`,
	schemas.CategorySpider:    `One or a few swollen red plaques with two closely spaced puncture marks; may expand outward or form a blister or dark center over time.`,
	schemas.CategoryFleas:     `Groups of red bumps each surrounded by a pale halo; commonly located on ankles and lower legs in clusters of three or four; very itchy.`,
	schemas.CategoryTick:      `Firm red bump at the bite site; the tick itself may still be attached; days later, watch for a slowly enlarging ring or "bull's-eye" pattern.`,
	schemas.CategoryAnts:      `Red, itchy bumps that may blister; often found on exposed skin like hands or feet; can be painful and itchy.`,
}

// DetectionPrompt is the fixed classification prompt sent with the image.
// Both backends get the same text so their answers share one vocabulary.
var DetectionPrompt = buildDetectionPrompt()

func buildDetectionPrompt() string {
	var sb strings.Builder
	sb.WriteString("Analyze the provided insect-bite image and identify which insect caused it.\n")
	sb.WriteString("Use the quick-reference table of characteristic skin findings to help choose the correct insect type.\n\n")
	sb.WriteString("Insect (enum value) | Distinctive skin presentation without relying on exact size measurements\n")

	names := make([]string, 0, len(schemas.Categories))
	for _, c := range schemas.Categories {
		fmt.Fprintf(&sb, "%s : %s\n", c, categoryHints[c])
		names = append(names, string(c))
	}

	fmt.Fprintf(&sb, "\nReturn one of: %s\n\n", strings.Join(names, " | "))
	fmt.Fprintf(&sb, "If no bite is visible or you cannot determine, return: %s\n\n", schemas.NoBites)
	sb.WriteString("Return ONLY the insect name, nothing else.")
	return sb.String()
}

const elaborationTemplate = `Generate a detailed medical analysis for a %[1]s bite.

Respond ONLY with a complete JSON object that matches the schema below.
Focus on typical characteristics, treatments, and timeline specific to %[1]s bites.
Make sure to provide VALID JSON without any additional text.
{
  "insectType": "%[1]s",
  "severity": "String(either Low or Moderate or High)",
  "expectedDuration": "String(3–5 days, 1–2 weeks, etc.)",
  "characteristics": ["typical %[1]s bite characteristic 1", "characteristic 2", "..."],
  "treatments": ["treatment 1", "treatment 2", "..."],
  "timeline": {
    "Day 1-2": "brief description",
    "Day 3-4": "brief description",
    "...": "..."
  }
}`

// ElaborationPrompt asks for the structured analysis of a known insect type.
func ElaborationPrompt(insectType string) string {
	return fmt.Sprintf(elaborationTemplate, insectType)
}
