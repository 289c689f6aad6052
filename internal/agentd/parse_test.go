package agentd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCodePrefersLastFence(t *testing.T) {
	text := "Here is the old version:\n```python\nold = 1\n```\nAnd the fix:\n```python\nnew = 2\n```"
	assert.Equal(t, "new = 2", extractCode(text))
}

func TestExtractCodeHandlesBareFence(t *testing.T) {
	assert.Equal(t, "x = 1", extractCode("```\nx = 1\n```"))
}

func TestExtractCodeWithoutFenceTakesEverything(t *testing.T) {
	assert.Equal(t, "import bpy", extractCode("  import bpy\n"))
}

func TestExtractRationale(t *testing.T) {
	text := "Moved the light closer.\n```python\nx\n```"
	assert.Equal(t, "Moved the light closer.", extractRationale(text))
	assert.Empty(t, extractRationale("```python\nx\n```"))
}

func TestParseVerdictFromJSONFence(t *testing.T) {
	result, err := parseVerdict("Reasoning here.\n```json\n{\"match\": false, \"critique\": \"too dark\", \"score\": 0.4}\n```")
	require.NoError(t, err)
	assert.False(t, result.Match)
	assert.Equal(t, "too dark", result.Critique)
	require.NotNil(t, result.Score)
	assert.Equal(t, 0.4, *result.Score)
}

func TestParseVerdictFromBareJSON(t *testing.T) {
	result, err := parseVerdict(`The verdict: {"match": true} is final.`)
	require.NoError(t, err)
	assert.True(t, result.Match)
}

func TestParseVerdictWithInvestigateDirectives(t *testing.T) {
	result, err := parseVerdict("```json\n" +
		`{"match": false, "critique": "occluded", "investigate": [{"op": "focus", "target": "cube"}, {"op": "zoom", "direction": "in"}]}` +
		"\n```")
	require.NoError(t, err)
	require.Len(t, result.Investigate, 2)
	assert.Equal(t, "cube", result.Investigate[0].Target)
	assert.Equal(t, "in", result.Investigate[1].Direction)
}

func TestParseVerdictRejectsProse(t *testing.T) {
	_, err := parseVerdict("it looks fine to me")
	require.Error(t, err)
}
