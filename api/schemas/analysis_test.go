package schemas_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/bitesense/api/schemas"
)

// -- Timeline --

func TestTimeline_JSONPreservesOrder(t *testing.T) {
	t.Parallel()

	input := `{"Day 5-7":"fades","Day 1-2":"bump appears","Day 3-4":"itching peaks"}`

	var tl schemas.Timeline
	require.NoError(t, json.Unmarshal([]byte(input), &tl))

	require.Len(t, tl, 3)
	assert.Equal(t, "Day 5-7", tl[0].Phase)
	assert.Equal(t, "Day 1-2", tl[1].Phase)
	assert.Equal(t, "Day 3-4", tl[2].Phase)

	out, err := json.Marshal(tl)
	require.NoError(t, err)
	assert.Equal(t, input, string(out), "round trip should keep the original key order")
}

func TestTimeline_Unmarshal(t *testing.T) {
	t.Parallel()

	t.Run("should keep the last value of a duplicate key in its first position", func(t *testing.T) {
		var tl schemas.Timeline
		require.NoError(t, json.Unmarshal([]byte(`{"a":"1","b":"2","a":"3"}`), &tl))
		assert.Equal(t, schemas.Timeline{{"a", "3"}, {"b", "2"}}, tl)
	})

	t.Run("should keep non-string values as raw JSON", func(t *testing.T) {
		var tl schemas.Timeline
		require.NoError(t, json.Unmarshal([]byte(`{"Week 1": 7}`), &tl))
		desc, ok := tl.Get("Week 1")
		require.True(t, ok)
		assert.Equal(t, "7", desc)
	})

	t.Run("should treat null as empty", func(t *testing.T) {
		tl := schemas.Timeline{{"x", "y"}}
		require.NoError(t, json.Unmarshal([]byte(`null`), &tl))
		assert.Empty(t, tl)
	})

	t.Run("should reject arrays", func(t *testing.T) {
		var tl schemas.Timeline
		assert.Error(t, json.Unmarshal([]byte(`["Day 1"]`), &tl))
	})
}

func TestTimeline_SetAndClone(t *testing.T) {
	t.Parallel()

	var tl schemas.Timeline
	tl = tl.Set("Day 1", "red")
	tl = tl.Set("Day 2", "itchy")
	tl = tl.Set("Day 1", "swollen")

	assert.Equal(t, schemas.Timeline{{"Day 1", "swollen"}, {"Day 2", "itchy"}}, tl)
	assert.True(t, tl.Has("Day 2"))
	assert.False(t, tl.Has("Day 3"))

	clone := tl.Clone()
	clone[0].Description = "changed"
	assert.Equal(t, "swollen", tl[0].Description, "clone must not alias the original")

	var empty schemas.Timeline
	assert.Nil(t, empty.Clone())
}

// -- Analysis Documents --

func TestBiteAnalysis_UnmarshalModelOutput(t *testing.T) {
	t.Parallel()

	raw := `{
		"insectType": "Tick",
		"severity": "Moderate",
		"expectedDuration": "1-2 weeks",
		"characteristics": ["firm red bump", "bull's-eye rash"],
		"treatments": ["remove the tick", "clean area"],
		"timeline": {"Day 1-2": "bump appears", "Week 1-2": "watch for rash"}
	}`

	var a schemas.BiteAnalysis
	require.NoError(t, json.Unmarshal([]byte(raw), &a))

	assert.Equal(t, "Tick", a.InsectType)
	assert.Equal(t, "Moderate", a.Severity)
	assert.Equal(t, "1-2 weeks", a.ExpectedDuration)
	assert.Equal(t, []string{"firm red bump", "bull's-eye rash"}, a.Characteristics)
	assert.Equal(t, []string{"remove the tick", "clean area"}, a.Treatments)
	assert.Equal(t, schemas.Timeline{{"Day 1-2", "bump appears"}, {"Week 1-2", "watch for rash"}}, a.Timeline)
}

func TestPartialAnalysis_CloneIsDeep(t *testing.T) {
	t.Parallel()

	p := schemas.PartialAnalysis{
		InsectType:      "Fleas",
		Characteristics: []string{"clusters"},
		Treatments:      []string{"wash"},
		Timeline:        schemas.Timeline{{"Day 1", "itchy"}},
	}
	c := p.Clone()
	c.Characteristics[0] = "mutated"
	c.Treatments = append(c.Treatments, "extra")
	c.Timeline[0].Description = "mutated"

	assert.Equal(t, []string{"clusters"}, p.Characteristics)
	assert.Equal(t, []string{"wash"}, p.Treatments)
	assert.Equal(t, "itchy", p.Timeline[0].Description)
}

func TestBiteRecord_JSON(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	rec := schemas.BiteRecord{
		ID:        "3f0c",
		ImageRef:  "file:///tmp/bite.jpg",
		CreatedAt: ts,
		Analysis: schemas.BiteAnalysis{
			InsectType: "Spider",
			Severity:   "High",
			Timeline:   schemas.Timeline{{"Day 1", "swelling"}},
		},
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"timeline":{"Day 1":"swelling"}`)

	var decoded schemas.BiteRecord
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, rec.ID, decoded.ID)
	assert.True(t, ts.Equal(decoded.CreatedAt))
	assert.Equal(t, rec.Analysis.Timeline, decoded.Analysis.Timeline)
}
