package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairJSON_ValidJSON(t *testing.T) {
	valid := `{"threads": [{"category": "troubleshooting", "message_indices": [0, 1]}]}`

	repaired, stats, err := RepairJSON(valid)
	require.NoError(t, err)
	assert.False(t, stats.WasRepaired)
	assert.Equal(t, valid, repaired)
	assert.Equal(t, len(valid), stats.RepairedBytes)
}

func TestRepairJSON_TrailingCommas(t *testing.T) {
	repaired, stats, err := RepairJSON(`{"threads": [{"summary": "x", "message_indices": [0,1,],},]}`)
	require.NoError(t, err)
	assert.True(t, stats.WasRepaired)
	assert.Equal(t, []string{"trailing_commas"}, stats.Strategies)
	assert.JSONEq(t, `{"threads": [{"summary": "x", "message_indices": [0,1]}]}`, repaired)
}

func TestRepairJSON_TruncatedResponse(t *testing.T) {
	repaired, stats, err := RepairJSON(`{"page": "docs/validators.md", "suggested_text": "Restart the {validator`)
	require.NoError(t, err)
	assert.Contains(t, stats.Strategies, "completion")

	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(repaired), &out))
	assert.Equal(t, "Restart the {validator", out["suggested_text"])
}

func TestRepairJSON_LibraryFallback(t *testing.T) {
	repaired, stats, err := RepairJSON(`{page: 'docs/a.md', update_type: 'UPDATE'}`)
	require.NoError(t, err)
	assert.Contains(t, stats.Strategies, "jsonrepair_library")
	assert.JSONEq(t, `{"page": "docs/a.md", "update_type": "UPDATE"}`, repaired)
}

func TestCompleteJSONIgnoresBracketsInStrings(t *testing.T) {
	assert.Equal(t, `{"a": "[x"}`, completeJSON(`{"a": "[x"`))
	assert.Equal(t, `{"a": [1, {"b": 2}]}`, completeJSON(`{"a": [1, {"b": 2`))
}
