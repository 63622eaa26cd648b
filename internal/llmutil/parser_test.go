package llmutil

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Severity string   `json:"severity"`
	Items    []string `json:"items"`
}

func TestParseJSONResponse(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		response string
		want     *sample
		wantErr  string
	}{
		{
			name:     "bare object",
			response: `{"severity":"High","items":["a"]}`,
			want:     &sample{Severity: "High", Items: []string{"a"}},
		},
		{
			name:     "markdown fence",
			response: "```json\n{\"severity\": \"Low\"}\n```",
			want:     &sample{Severity: "Low"},
		},
		{
			name:     "conversational wrapper",
			response: "Here is your analysis:\n{\"severity\": \"Moderate\"}\nStay safe!",
			want:     &sample{Severity: "Moderate"},
		},
		{
			name:     "nested braces stay within the outer span",
			response: `prefix {"severity":"Low","items":["{x}"]} suffix`,
			want:     &sample{Severity: "Low", Items: []string{"{x}"}},
		},
		{
			name:     "no object",
			response: "I cannot help with that.",
			wantErr:  "no JSON object found",
		},
		{
			name:     "truncated object",
			response: `{"severity": "High", "items": ["a"`,
			wantErr:  "no JSON object found",
		},
		{
			name:     "invalid json",
			response: `{"severity": High}`,
			wantErr:  "failed to unmarshal",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseJSONResponse[sample](tc.response)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

// shout upper-cases a JSON string through its own decoder.
type shout string

func (s *shout) UnmarshalJSON(data []byte) error {
	v, err := strconv.Unquote(string(data))
	if err != nil {
		return err
	}
	*s = shout(strings.ToUpper(v))
	return nil
}

func TestParseJSONResponse_CustomUnmarshaler(t *testing.T) {
	t.Parallel()

	type loud struct {
		Phase shout  `json:"phase"`
		Note  string `json:"note"`
	}

	got, err := ParseJSONResponse[loud]("Result:\n```json\n{\"phase\": \"day 1\", \"note\": \"ok\", \"extra\": 1}\n```")
	require.NoError(t, err)
	assert.Equal(t, &loud{Phase: "DAY 1", Note: "ok"}, got)

	_, err = ParseJSONResponse[loud](`{"phase": 7}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal")
}

func TestPlainText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Keep it clean.", PlainText("**Keep** it clean."))
	assert.Equal(t, "Ice helps.", PlainText("## Ice helps."))
	assert.Equal(t, "wash daily", PlainText("```\nwash daily\n```"))
	assert.Equal(t, "no change", PlainText("  no change  "))
}

func TestTruncateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", truncateString("abc", 5))
	assert.Equal(t, "ab...", truncateString("abcdef", 2))
	assert.Equal(t, "", truncateString("abc", 0))
}
