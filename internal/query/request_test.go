package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestDecode(t *testing.T) {
	raw := `{
		"filters": [{"p": "<p>", "o": "<c>"}, {"p": "<p>", "o": "<b>", "op": "and"}],
		"aggregates": ["properties", "<type>"],
		"paths": ["<broader>"],
		"size": 10,
		"start": 20,
		"exclude_properties": ["<boring>"],
		"use_cache": false
	}`
	var req Request
	require.NoError(t, json.Unmarshal([]byte(raw), &req))
	require.Len(t, req.Filters, 2)
	assert.Equal(t, "and", req.Filters[1].Op)
	assert.Equal(t, []string{"properties", "<type>"}, req.Aggregates)
	assert.Equal(t, 10, req.Size)
	require.NotNil(t, req.UseCache)
	assert.False(t, *req.UseCache)
}

func TestOrderRulesAcceptAllShapes(t *testing.T) {
	var single, flat, nested OrderRules
	require.NoError(t, json.Unmarshal([]byte(`{"by":"label"}`), &single))
	require.NoError(t, json.Unmarshal([]byte(`[{"by":"label"},{"by":"property","prop":"<p>"}]`), &flat))
	require.NoError(t, json.Unmarshal([]byte(`[[{"by":"object_label","via":"<p>"}]]`), &nested))
	require.Len(t, single, 1)
	require.Len(t, flat, 2)
	require.Len(t, nested, 1)
	assert.Equal(t, "label", single[0].By)
	assert.Equal(t, "<p>", flat[1].Prop)
	assert.Equal(t, "object_label", nested[0].By)
}

func TestOrderRulesNull(t *testing.T) {
	var rules OrderRules
	require.NoError(t, json.Unmarshal([]byte(`null`), &rules))
	assert.Empty(t, rules)
}

func TestAggregateRowJSON(t *testing.T) {
	row := AggregateRow{Count: 3, Value: "<type>"}
	raw, err := json.Marshal(row)
	require.NoError(t, err)
	assert.JSONEq(t, `[3, "<type>"]`, string(raw))

	var back AggregateRow
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, row, back)
}

func TestResponseJSONShape(t *testing.T) {
	resp := Response{
		Results: map[string]Entity{
			"<a>": {"id": "<a>", "<p>": []string{"<b>"}, "graph": []string{}},
		},
		Total: 1, Size: 999, Start: 0,
		Aggregates: map[string][]AggregateRow{"properties": {{Count: 1, Value: "<p>"}}},
	}
	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"total":1`)
	// encoding/json escapes < and > in strings
	assert.Contains(t, string(raw), "\"aggregates\":{\"properties\":[[1,\"\\u003cp\\u003e\"]]}")
}
