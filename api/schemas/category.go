// File: api/schemas/category.go
package schemas

import (
	"strings"
)

// Category is one of the insect types the detector may return.
type Category string

const (
	CategoryMosquitos Category = "mosquitos"
	CategoryBedBugs   Category = "bed bugs"
	CategoryChiggers  Category = "chiggers"
	CategorySpider    Category = "spider"
	CategoryFleas     Category = "fleas"
	CategoryTick      Category = "tick"
	CategoryAnts      Category = "ants"
)

// NoBites is reported when no supported bite could be identified.
const NoBites = "no_bites"

// Categories lists every supported category in prompt order.
var Categories = []Category{
	CategoryMosquitos,
	CategoryBedBugs,
	CategoryChiggers,
	CategorySpider,
	CategoryFleas,
	CategoryTick,
	CategoryAnts,
}

// displayNames maps lowercase insect labels to their singular display form.
var displayNames = map[string]string{
	"mosquitos": "Mosquito",
	"mosquito":  "Mosquito",
	"bed bugs":  "Bed Bug",
	"bed bug":   "Bed Bug",
	"chiggers":  "Chigger",
	"chigger":   "Chigger",
	"spider":    "Spider",
	"spiders":   "Spider",
	"fleas":     "Flea",
	"flea":      "Flea",
	"tick":      "Tick",
	"ticks":     "Tick",
	"ants":      "Ant",
	"ant":       "Ant",
}

// ParseCategory normalizes a raw detector answer. Only an exact match against
// the canonical set, after trimming and lowercasing, is accepted.
func ParseCategory(raw string) (Category, bool) {
	normalized := Category(strings.ToLower(strings.TrimSpace(raw)))
	for _, c := range Categories {
		if c == normalized {
			return c, true
		}
	}
	return "", false
}

// Title returns the capitalized label used in prompts, e.g. "Bed Bugs".
func (c Category) Title() string {
	return titleCase(string(c))
}

// DisplayName formats an insect label for people, e.g. "bed bugs" becomes "Bed Bug".
// Unknown labels are title-cased.
func DisplayName(insectType string) string {
	key := strings.ToLower(strings.TrimSpace(insectType))
	if name, ok := displayNames[key]; ok {
		return name
	}
	if key == "" || key == NoBites {
		return "Unknown"
	}
	return titleCase(key)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// -- Severity --

// SeverityLevel is the bucket a free-text severity falls into.
type SeverityLevel string

const (
	SeverityLow      SeverityLevel = "Low"
	SeverityModerate SeverityLevel = "Moderate"
	SeverityHigh     SeverityLevel = "High"
)

// ParseSeverity buckets a model-provided severity string. Anything that is not
// recognizably high or moderate is treated as low.
func ParseSeverity(s string) SeverityLevel {
	switch v := strings.ToLower(strings.TrimSpace(s)); {
	case strings.Contains(v, "high"), strings.Contains(v, "severe"):
		return SeverityHigh
	case strings.Contains(v, "moderate"), strings.Contains(v, "medium"):
		return SeverityModerate
	default:
		return SeverityLow
	}
}
