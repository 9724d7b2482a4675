package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantJSON string
	}{
		{
			name:     "plain JSON object",
			input:    `{"key": "value"}`,
			wantJSON: `{"key": "value"}`,
		},
		{
			name:     "JSON with markdown code block",
			input:    "```json\n{\"key\": \"value\"}\n```",
			wantJSON: `{"key": "value"}`,
		},
		{
			name:     "fence on the same line",
			input:    "```json {\"key\": \"value\"}```",
			wantJSON: `{"key": "value"}`,
		},
		{
			name:     "JSON with surrounding text",
			input:    "Here is the JSON:\n{\"key\": \"value\"}\nHope this helps!",
			wantJSON: `{"key": "value"}`,
		},
		{
			name:     "braces inside strings are ignored",
			input:    `{"text": "a } b { c"} trailing`,
			wantJSON: `{"text": "a } b { c"}`,
		},
		{
			name:     "escaped quotes in string",
			input:    `{"text": "He said \"hi}\""}`,
			wantJSON: `{"text": "He said \"hi}\""}`,
		},
		{
			name:     "nested arrays and objects",
			input:    `noise {"a": [{"b": [1, 2]}]} more`,
			wantJSON: `{"a": [{"b": [1, 2]}]}`,
		},
		{
			name:     "top-level array",
			input:    `result: [1, 2, 3]`,
			wantJSON: `[1, 2, 3]`,
		},
		{
			name:     "no JSON present",
			input:    "just some text without json",
			wantJSON: "",
		},
		{
			name:     "unterminated object returns remainder",
			input:    `{"a": {"b": 1}`,
			wantJSON: `{"a": {"b": 1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantJSON, ExtractJSON(tt.input))
		})
	}
}

func TestParseJSON(t *testing.T) {
	t.Run("object with prose", func(t *testing.T) {
		v, err := ParseJSON("Sure! Here you go:\n```json\n{\"facts\": [{\"value\": \"x\"}]}\n```\nLet me know.")
		require.NoError(t, err)
		obj, ok := v.(map[string]any)
		require.True(t, ok)
		assert.Len(t, obj["facts"], 1)
	})

	t.Run("trailing commas are repaired", func(t *testing.T) {
		v, err := ParseJSON(`{"preferences": [{"value": "tea",},], "facts": [],}`)
		require.NoError(t, err)
		assert.Contains(t, v.(map[string]any), "preferences")
	})

	t.Run("commas inside strings survive repair", func(t *testing.T) {
		v, err := ParseJSON(`{"a": "x, }", "b": [1,],}`)
		require.NoError(t, err)
		assert.Equal(t, "x, }", v.(map[string]any)["a"])
	})

	t.Run("skips a bogus leading brace", func(t *testing.T) {
		v, err := ParseJSON(`I noticed {stuff}. Result: {"facts": []}`)
		require.NoError(t, err)
		assert.Contains(t, v.(map[string]any), "facts")
	})

	t.Run("bracketed references in prose are skipped", func(t *testing.T) {
		v, err := ParseJSON("Based on messages [1] and [3], here is the profile:\n{\"facts\": [{\"value\": \"x\"}]}")
		require.NoError(t, err)
		obj, ok := v.(map[string]any)
		require.True(t, ok)
		assert.Len(t, obj["facts"], 1)
	})

	t.Run("non-object returned when no object follows", func(t *testing.T) {
		v, err := ParseJSON(`See [1] then ["a", "b"]`)
		require.NoError(t, err)
		assert.Equal(t, []any{float64(1)}, v)
	})

	t.Run("array top level decodes", func(t *testing.T) {
		v, err := ParseJSON(`[{"a": 1}]`)
		require.NoError(t, err)
		assert.IsType(t, []any{}, v)
	})

	t.Run("no JSON", func(t *testing.T) {
		_, err := ParseJSON("I cannot help with that.")
		var pe *ParseError
		require.True(t, errors.As(err, &pe))
		assert.Contains(t, pe.Reason, "no JSON")
	})

	t.Run("truncated JSON", func(t *testing.T) {
		_, err := ParseJSON(`{"preferences": [{"value": "hik`)
		var pe *ParseError
		require.True(t, errors.As(err, &pe))
		assert.Contains(t, pe.Reason, "truncated")
	})
}

func TestRemoveTrailingCommas(t *testing.T) {
	assert.Equal(t, `{"a":[1,2]}`, removeTrailingCommas(`{"a":[1,2,]}`))
	assert.Equal(t, "{\"a\":1\n}", removeTrailingCommas("{\"a\":1,\n}"))
	assert.Equal(t, `{"a":"[1,]"}`, removeTrailingCommas(`{"a":"[1,]"}`))
}
