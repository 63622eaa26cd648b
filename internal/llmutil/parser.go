// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// \x60 is a backtick; Go raw strings cannot contain one.

	// fencedJSONRegex extracts an object wrapped in a markdown code fence.
	fencedJSONRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?\\s*(\\{.*\\})\\s*\x60\x60\x60")
	// fenceRegex matches any fenced block so its markers can be removed.
	fenceRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60")
	// emphasisRegex matches bold or heading markers models add despite instructions.
	emphasisRegex = regexp.MustCompile(`(?m)(\*\*|__|^#{1,6}\s+)`)
)

// ExtractJSONObject returns the text between the first '{' and the last '}'
// of a model response, unwrapping a markdown fence first if present. It
// reports false when no such span exists.
func ExtractJSONObject(response string) (string, bool) {
	response = strings.TrimSpace(response)
	if m := fencedJSONRegex.FindStringSubmatch(response); len(m) > 1 {
		response = m[1]
	}
	first := strings.Index(response, "{")
	last := strings.LastIndex(response, "}")
	if first == -1 || last <= first {
		return "", false
	}
	return response[first : last+1], true
}

// ParseJSONResponse decodes the JSON object embedded in a model response into T.
func ParseJSONResponse[T any](response string) (*T, error) {
	raw, ok := ExtractJSONObject(response)
	if !ok {
		return nil, fmt.Errorf("no JSON object found in model response (truncated): %s", truncateString(response, 200))
	}

	var result T
	if err := json.UnmarshalFromString(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(raw, 500))
	}
	return &result, nil
}

// PlainText strips markdown fences and emphasis from a conversational reply.
func PlainText(reply string) string {
	reply = fenceRegex.ReplaceAllString(reply, "$1")
	reply = emphasisRegex.ReplaceAllString(reply, "")
	return strings.TrimSpace(reply)
}

// truncateString truncates s to at most maxLen bytes.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
